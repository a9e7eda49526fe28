package orchestrator

import (
	"sort"
	"time"
)

// applyScheduling assigns scheduled dates to every project task
// according to the project's scheduling mode.
func (o *Orchestrator) applyScheduling() {
	switch o.project.Scheduling.Mode {
	case ScheduleSameDay:
		o.scheduleSameDay()
	case ScheduleCompressed:
		o.compressTimeline()
	case ScheduleDistributed:
		o.distributeTimeline()
	}
}

// scheduleSameDay packs every task onto the start date at 30-minute
// intervals, ignoring dependencies; readiness still enforces them at
// execution time.
func (o *Orchestrator) scheduleSameDay() {
	current := o.project.Scheduling.StartDate
	for _, task := range o.project.Tasks {
		t := current
		task.ScheduledDate = &t
		current = current.Add(30 * time.Minute)
	}
}

// compressTimeline schedules dependency waves at 2-hour intervals:
// every task whose dependencies are already scheduled lands in the
// current wave.
func (o *Orchestrator) compressTimeline() {
	scheduled := make(map[string]bool, len(o.project.Tasks))
	current := o.project.Scheduling.StartDate

	for len(scheduled) < len(o.project.Tasks) {
		var wave []*TaskDefinition
		for _, task := range o.project.Tasks {
			if !scheduled[task.ID] && task.DependenciesMet(scheduled) {
				wave = append(wave, task)
			}
		}
		if len(wave) == 0 {
			// Dependency cycle; leave the remainder unscheduled.
			return
		}
		for _, task := range wave {
			t := current
			task.ScheduledDate = &t
			scheduled[task.ID] = true
		}
		current = current.Add(2 * time.Hour)
	}
}

// distributeTimeline spreads tasks over a realistic timeline: tasks are
// grouped by dependency level, meetings land on business-hour slots,
// individual tasks stack by estimated duration, and a one-day buffer
// separates levels.
func (o *Orchestrator) distributeTimeline() {
	levels := o.dependencyLevels()
	order := make([]int, 0, len(levels))
	for level := range levels {
		order = append(order, level)
	}
	sort.Ints(order)

	current := o.project.Scheduling.StartDate
	for _, level := range order {
		for _, task := range levels[level] {
			if task.MeetingRequired {
				slot := nextMeetingSlot(current)
				task.ScheduledDate = &slot
				if end := slot.Add(task.EstimatedDuration()); end.After(current) {
					current = end
				}
			} else {
				t := current
				task.ScheduledDate = &t
				current = current.Add(task.EstimatedDuration())
			}
		}
		current = current.AddDate(0, 0, 1)
	}
}

// dependencyLevels maps each task to the depth of its longest
// dependency chain.
func (o *Orchestrator) dependencyLevels() map[int][]*TaskDefinition {
	memo := make(map[string]int, len(o.tasks))
	var levelOf func(id string) int
	levelOf = func(id string) int {
		if lvl, ok := memo[id]; ok {
			return lvl
		}
		// Mark before recursing so a cycle terminates at level 0.
		memo[id] = 0
		task, ok := o.tasks[id]
		if !ok || len(task.Dependencies) == 0 {
			return 0
		}
		max := 0
		for _, dep := range task.Dependencies {
			if l := levelOf(dep); l >= max {
				max = l + 1
			}
		}
		memo[id] = max
		return max
	}

	levels := make(map[int][]*TaskDefinition)
	for _, task := range o.project.Tasks {
		lvl := levelOf(task.ID)
		levels[lvl] = append(levels[lvl], task)
	}
	return levels
}

// nextMeetingSlot clamps a time into business hours (09:00-17:00),
// rolling past-17:00 starts to 09:00 the next day.
func nextMeetingSlot(start time.Time) time.Time {
	nineAM := time.Date(start.Year(), start.Month(), start.Day(), 9, 0, 0, 0, start.Location())
	switch {
	case start.Hour() >= 17:
		return nineAM.AddDate(0, 0, 1)
	case start.Hour() < 9:
		return nineAM
	default:
		return start
	}
}
