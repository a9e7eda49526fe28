package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go-virtual-company/internal/statestore"
)

// TaskSummary counts task outcomes for the report.
type TaskSummary struct {
	Total     int `json:"total_tasks"`
	Completed int `json:"completed_tasks"`
	Failed    int `json:"failed_tasks"`
	Spawned   int `json:"spawned_tasks"`
}

// AgentDevelopment captures one agent's growth over the run.
type AgentDevelopment struct {
	FinalSkills      map[string]float64 `json:"final_skills"`
	TasksCompleted   int                `json:"tasks_completed"`
	MeetingsAttended int                `json:"meetings_attended"`
}

// Report is the final project completion report.
type Report struct {
	ProjectID        string                      `json:"project_id"`
	Title            string                      `json:"title"`
	ExecutionMode    ExecutionMode               `json:"execution_mode"`
	SchedulingMode   SchedulingMode              `json:"scheduling_mode"`
	Duration         string                      `json:"duration,omitempty"`
	Statistics       Stats                       `json:"statistics"`
	Tasks            TaskSummary                 `json:"task_summary"`
	AgentDevelopment map[string]AgentDevelopment `json:"agent_development"`
}

// GenerateReport summarises the run so far. Callable mid-run for the
// status surface as well as at completion.
func (o *Orchestrator) GenerateReport() *Report {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := &Report{
		ProjectID:        o.project.ProjectID,
		Title:            o.project.Title,
		ExecutionMode:    o.project.ExecutionMode,
		SchedulingMode:   o.project.Scheduling.Mode,
		Statistics:       o.stats,
		AgentDevelopment: make(map[string]AgentDevelopment, len(o.agents)),
	}
	if o.stats.StartTime != nil && o.stats.EndTime != nil {
		report.Duration = o.stats.EndTime.Sub(*o.stats.StartTime).String()
	}
	for _, task := range o.project.Tasks {
		report.Tasks.Total++
		switch task.Status {
		case StatusCompleted:
			report.Tasks.Completed++
		case StatusFailed:
			report.Tasks.Failed++
		}
		report.Tasks.Spawned += len(task.SpawnedTasks)
	}
	for id, profile := range o.agents {
		dev := AgentDevelopment{FinalSkills: copyFloatMap(profile.Skills)}
		for _, rec := range profile.PerformanceHistory {
			if rec.Type == "meeting" {
				dev.MeetingsAttended++
			} else {
				dev.TasksCompleted++
			}
		}
		report.AgentDevelopment[id] = dev
	}
	return report
}

// savedState is the persisted snapshot of a run.
type savedState struct {
	ProjectID      string                        `json:"project_id"`
	CurrentTime    time.Time                     `json:"current_time"`
	CompletedTasks []string                      `json:"completed_tasks"`
	Stats          Stats                         `json:"stats"`
	Tasks          map[string]*TaskDefinition    `json:"tasks"`
	AgentSkills    map[string]map[string]float64 `json:"agent_skills"`
}

// SaveState checkpoints the run into the state store. A nil store makes
// this a no-op so in-memory runs need no persistence setup.
func (o *Orchestrator) SaveState(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	o.mu.Lock()
	state := savedState{
		ProjectID:   o.project.ProjectID,
		CurrentTime: o.currentTime,
		Stats:       o.stats,
		Tasks:       make(map[string]*TaskDefinition, len(o.tasks)),
		AgentSkills: make(map[string]map[string]float64, len(o.agents)),
	}
	for id := range o.completed {
		state.CompletedTasks = append(state.CompletedTasks, id)
	}
	for id, task := range o.tasks {
		state.Tasks[id] = task
	}
	for id, profile := range o.agents {
		state.AgentSkills[id] = copyFloatMap(profile.Skills)
	}
	key := o.runKeyLocked()
	o.mu.Unlock()

	ver, err := o.store.Put(ctx, key, state, 0)
	if err != nil {
		return fmt.Errorf("save project state: %w", err)
	}
	o.logger.Printf("orchestrator: state saved (version %d)", ver)
	return nil
}

// LoadState restores clock, completed set and counters from the state
// store. Task and agent objects already loaded keep their identities;
// only their recorded progress is overwritten.
func (o *Orchestrator) LoadState(ctx context.Context) error {
	if o.store == nil {
		return fmt.Errorf("no state store configured")
	}
	o.mu.Lock()
	key := o.runKeyLocked()
	o.mu.Unlock()

	var state savedState
	if _, err := o.store.Get(ctx, key, &state); err != nil {
		return fmt.Errorf("load project state: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.currentTime = state.CurrentTime
	o.stats = state.Stats
	o.completed = make(map[string]bool, len(state.CompletedTasks))
	for _, id := range state.CompletedTasks {
		o.completed[id] = true
		if task, ok := o.tasks[id]; ok {
			task.Status = StatusCompleted
		}
	}
	for id, skills := range state.AgentSkills {
		if profile, ok := o.agents[id]; ok {
			profile.Skills = copyFloatMap(skills)
		}
	}
	o.logger.Printf("orchestrator: state restored (%d tasks completed)", len(o.completed))
	return nil
}

// ArchiveReport stores the final report alongside the run state so
// completed runs remain inspectable after the process exits. No-op
// without a store.
func (o *Orchestrator) ArchiveReport(ctx context.Context, report *Report) error {
	if o.store == nil {
		return nil
	}
	if _, err := o.store.Put(ctx, statestore.ReportKey(report.ProjectID), report, 0); err != nil {
		return fmt.Errorf("archive report: %w", err)
	}
	return nil
}

func (o *Orchestrator) runKeyLocked() string {
	return statestore.RunKey(o.project.ProjectID)
}
