package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go-virtual-company/internal/agent"
	"go-virtual-company/internal/core"
	"go-virtual-company/internal/directive"
	"go-virtual-company/internal/eventbus"
	"go-virtual-company/internal/extraction"
	"go-virtual-company/internal/persona"
	"go-virtual-company/internal/statestore"
	"go-virtual-company/internal/world"
)

const (
	// meetingRounds is how many world steps a meeting runs for.
	meetingRounds = 6
	// workloadPenalty scales how strongly current workload counts
	// against a candidate during assignment.
	workloadPenalty = 0.5
	// statusMeetingInterval spawns a management status meeting after
	// this many completed tasks in simulation mode.
	statusMeetingInterval = 5
	// batchYield bounds worst-case interrupt latency between batches.
	batchYield = 100 * time.Millisecond
	// pausePoll is how often the run loop re-checks a paused project.
	pausePoll = 250 * time.Millisecond
)

// Options configures an Orchestrator. Bus, Extractor and Factory are
// required for meaningful runs; Store is optional persistence.
type Options struct {
	Bus         eventbus.Bus
	Extractor   extraction.Extractor
	Factory     persona.RespondentFactory
	Store       statestore.Store
	Pool        *agent.Pool
	Logger      *log.Logger
	AutoApprove bool
}

// Stats tracks run-level counters for the final report.
type Stats struct {
	TasksCompleted    int        `json:"tasks_completed"`
	MeetingsHeld      int        `json:"meetings_held"`
	TasksSpawned      int        `json:"tasks_spawned"`
	SkillImprovements int        `json:"skill_improvements"`
	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
}

// Orchestrator is the sole writer of its task registry, completed set
// and agent profiles. Task executions within a batch run concurrently,
// but every shared-map mutation goes through the orchestrator's lock.
type Orchestrator struct {
	bus       eventbus.Bus
	extractor extraction.Extractor
	factory   persona.RespondentFactory
	store     statestore.Store
	pool      *agent.Pool
	logger    *log.Logger

	mu          sync.Mutex
	project     *ProjectDefinition
	agents      map[string]*AgentProfile
	tasks       map[string]*TaskDefinition
	completed   map[string]bool
	currentTime time.Time
	paused      bool
	stats       Stats

	autoApprove bool
	approvals   chan struct{}
	sub         *eventbus.Subscription
}

// New builds an Orchestrator and subscribes it to CEO interrupts.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	pool := opts.Pool
	if pool == nil {
		pool = agent.NewPool(0)
	}
	o := &Orchestrator{
		bus:         opts.Bus,
		extractor:   opts.Extractor,
		factory:     opts.Factory,
		store:       opts.Store,
		pool:        pool,
		logger:      logger,
		agents:      make(map[string]*AgentProfile),
		tasks:       make(map[string]*TaskDefinition),
		completed:   make(map[string]bool),
		currentTime: time.Now(),
		autoApprove: opts.AutoApprove,
		approvals:   make(chan struct{}, 1),
	}
	if o.bus != nil {
		o.sub = o.bus.Subscribe(core.EventCEOInterrupt, o.onCEOInterrupt)
	}
	return o
}

// RegisterAgent adds a live agent with its skill and preference maps.
func (o *Orchestrator) RegisterAgent(a *agent.Async, skills map[string]float64, preferences map[string]int) {
	profile := &AgentProfile{
		AgentID:         a.Name(),
		Instance:        a,
		Skills:          copyFloatMap(skills),
		Preferences:     copyIntMap(preferences),
		Available:       true,
		DevelopmentRate: 0.1,
		LastActive:      time.Now(),
	}
	o.mu.Lock()
	o.agents[a.Name()] = profile
	o.mu.Unlock()
	o.logger.Printf("orchestrator: registered agent %s with skills %v", a.Name(), skills)
}

// LoadProject reads a project file and prepares it for execution.
func (o *Orchestrator) LoadProject(path string) error {
	p, err := LoadProject(path)
	if err != nil {
		return err
	}
	return o.UseProject(p)
}

// UseProject adopts an already parsed project: registers its tasks,
// spawns any project-defined agents not yet registered, and applies the
// scheduling mode.
func (o *Orchestrator) UseProject(p *ProjectDefinition) error {
	o.mu.Lock()
	o.project = p
	o.currentTime = p.Scheduling.StartDate
	for _, task := range p.Tasks {
		o.tasks[task.ID] = task
	}
	o.mu.Unlock()

	if err := o.createProjectAgents(); err != nil {
		return err
	}

	o.mu.Lock()
	o.applyScheduling()
	o.mu.Unlock()
	o.logger.Printf("orchestrator: loaded project %q with %d tasks", p.Title, len(p.Tasks))
	return nil
}

func (o *Orchestrator) createProjectAgents() error {
	if o.factory == nil {
		if len(o.project.Agents) > 0 {
			return fmt.Errorf("project defines agents but no factory is configured")
		}
		return nil
	}
	for _, def := range o.project.Agents {
		o.mu.Lock()
		_, exists := o.agents[def.AgentID]
		o.mu.Unlock()
		if exists {
			continue
		}
		respondent, err := o.factory.Create(persona.EmployeeRecord{
			Name:        def.AgentID,
			Role:        def.Occupation,
			Persona:     def.Name,
			Preferences: def.Preferences,
		})
		if err != nil {
			return fmt.Errorf("create agent %s: %w", def.AgentID, err)
		}
		o.RegisterAgent(agent.NewAsync(respondent, o.bus, o.pool, o.logger), def.SkillLevels, def.Preferences)
	}
	return nil
}

// CurrentTime returns the orchestrator's simulated clock.
func (o *Orchestrator) CurrentTime() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentTime
}

// Paused reports whether a CEO pause is in effect.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// Task looks up a task by id.
func (o *Orchestrator) Task(id string) (*TaskDefinition, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	return t, ok
}

// Profile looks up an agent profile by id.
func (o *Orchestrator) Profile(id string) (*AgentProfile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.agents[id]
	return p, ok
}

// ReadyTasks returns pending tasks whose dependencies are completed and
// whose scheduled time has arrived, ordered by (priority desc,
// scheduled asc, id asc).
func (o *Orchestrator) ReadyTasks() []*TaskDefinition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.readyTasksLocked()
}

func (o *Orchestrator) readyTasksLocked() []*TaskDefinition {
	var ready []*TaskDefinition
	for _, task := range o.project.Tasks {
		if task.Status != StatusPending {
			continue
		}
		if !task.DependenciesMet(o.completed) {
			continue
		}
		if task.ScheduledDate != nil && task.ScheduledDate.After(o.currentTime) {
			continue
		}
		ready = append(ready, task)
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		si, sj := scheduledOrZero(ready[i]), scheduledOrZero(ready[j])
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

func scheduledOrZero(t *TaskDefinition) time.Time {
	if t.ScheduledDate == nil {
		return time.Time{}
	}
	return *t.ScheduledDate
}

// Run executes the loaded project to completion using its execution
// mode and returns the final report. Only unexpected failures abort the
// run; individual task failures are recorded and skipped past.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.mu.Lock()
	if o.project == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("no project loaded")
	}
	mode := o.project.ExecutionMode
	now := time.Now()
	o.stats.StartTime = &now
	o.mu.Unlock()

	o.logger.Printf("orchestrator: starting %s execution of %q", mode, o.project.Title)
	err := o.runLoop(ctx, mode)
	end := time.Now()
	o.mu.Lock()
	o.stats.EndTime = &end
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	o.logger.Printf("orchestrator: project %q completed", o.project.Title)
	report := o.GenerateReport()
	if err := o.ArchiveReport(ctx, report); err != nil {
		o.logger.Printf("orchestrator: %v", err)
	}
	return report, nil
}

func (o *Orchestrator) runLoop(ctx context.Context, mode ExecutionMode) error {
	for !o.isComplete() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.Paused() {
			select {
			case <-time.After(pausePoll):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		ready := o.ReadyTasks()
		if len(ready) == 0 {
			o.advanceTime()
		} else {
			o.executeBatch(ctx, ready)

			switch mode {
			case ModeIncremental:
				if batchHasMeeting(ready) {
					if err := o.checkpoint(ctx); err != nil {
						return err
					}
				}
			case ModeSimulation:
				o.spawnManagementMeetings()
				o.createAdaptiveTasks()
			}
		}

		// Yield so queued CEO interrupts are observed between batches.
		select {
		case <-time.After(batchYield):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func batchHasMeeting(tasks []*TaskDefinition) bool {
	for _, t := range tasks {
		if t.MeetingRequired {
			return true
		}
	}
	return false
}

func (o *Orchestrator) isComplete() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, task := range o.project.Tasks {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// executeBatch runs individual tasks concurrently and meetings strictly
// one at a time, since a meeting monopolizes its attendees.
func (o *Orchestrator) executeBatch(ctx context.Context, tasks []*TaskDefinition) {
	var individual, meetings []*TaskDefinition
	for _, t := range tasks {
		if t.MeetingRequired {
			meetings = append(meetings, t)
		} else {
			individual = append(individual, t)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range individual {
		task := task
		g.Go(func() error {
			o.executeIndividualTask(gctx, task)
			return nil
		})
	}
	_ = g.Wait()

	for _, task := range meetings {
		o.executeMeetingTask(ctx, task)
	}
}

// assignBestAgent atomically picks and claims the best candidate so two
// tasks in the same batch cannot double-book one agent.
func (o *Orchestrator) assignBestAgent(task *TaskDefinition) *AgentProfile {
	o.mu.Lock()
	defer o.mu.Unlock()

	var best *AgentProfile
	bestScore := 0.0
	for _, profile := range o.agents {
		if !profile.Available || !profile.MeetsRequirements(task.RequiredSkills) {
			continue
		}
		score := o.scoreAgentLocked(profile, task)
		if best == nil || score > bestScore {
			best, bestScore = profile, score
		}
	}
	if best == nil {
		return nil
	}
	task.Status = StatusAssigned
	task.AssignedAgents = []string{best.AgentID}
	best.Available = false
	best.CurrentWorkload++
	return best
}

// scoreAgentLocked is (average required-skill level) + (preference for
// the task's leading word, neutral 5 when unseen) - (workload penalty).
func (o *Orchestrator) scoreAgentLocked(profile *AgentProfile, task *TaskDefinition) float64 {
	skillScore := 0.0
	if len(task.RequiredSkills) > 0 {
		for skill := range task.RequiredSkills {
			skillScore += profile.Skills[skill]
		}
		skillScore /= float64(len(task.RequiredSkills))
	}
	preference := 5.0
	if words := strings.Fields(strings.ToLower(task.Description)); len(words) > 0 {
		if p, ok := profile.Preferences[words[0]]; ok {
			preference = float64(p)
		}
	}
	return skillScore + preference - float64(profile.CurrentWorkload)*workloadPenalty
}

func (o *Orchestrator) executeIndividualTask(ctx context.Context, task *TaskDefinition) {
	profile := o.assignBestAgent(task)
	if profile == nil {
		// Busy candidates leave the task pending for a later batch; a
		// task no registered agent can ever satisfy fails outright so
		// the run can terminate.
		if !o.anyAgentQualifies(task) {
			o.failTask(task, "no registered agent meets the skill requirements")
			return
		}
		o.logger.Printf("orchestrator: all suitable agents busy for task %s, deferring", task.ID)
		return
	}
	defer func() {
		o.mu.Lock()
		profile.Available = true
		profile.CurrentWorkload--
		profile.LastActive = o.currentTime
		o.mu.Unlock()
	}()

	o.logger.Printf("orchestrator: executing task %s with agent %s", task.ID, profile.AgentID)
	o.setTaskStatus(task, StatusInProgress)
	_, err := profile.Instance.ListenAndAct(ctx,
		"Please work on the following task: "+task.Description, core.ActOptions{UntilDone: true})
	if err != nil {
		o.failTask(task, fmt.Sprintf("agent turn failed: %v", err))
		return
	}

	o.completeTask(task)
	o.updateProfileFromTask(profile, task)
	o.spawnFollowUpTasks(task)
}

func (o *Orchestrator) anyAgentQualifies(task *TaskDefinition) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, profile := range o.agents {
		if profile.MeetsRequirements(task.RequiredSkills) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) executeMeetingTask(ctx context.Context, task *TaskDefinition) {
	attendees := o.claimAttendees(task)
	if len(attendees) == 0 {
		o.failTask(task, "no registered attendees for meeting")
		return
	}
	// Availability is restored unconditionally so a mid-meeting failure
	// cannot leave attendees blocked forever.
	defer func() {
		o.mu.Lock()
		for _, p := range attendees {
			p.Available = true
			p.CurrentWorkload--
			p.LastActive = o.currentTime
		}
		o.mu.Unlock()
	}()

	names := make([]string, len(attendees))
	members := make([]world.Member, len(attendees))
	for i, p := range attendees {
		names[i] = p.AgentID
		members[i] = p.Instance
	}
	o.logger.Printf("orchestrator: meeting %s with attendees %v", task.ID, names)

	meeting := world.New(o.bus, world.Options{
		Name:               "Meeting: " + task.ID,
		InitialTime:        o.CurrentTime(),
		IsMeeting:          true,
		EnableCEOInterrupt: true,
		Logger:             o.logger,
	}, members...)
	defer meeting.Shutdown()

	agenda := fmt.Sprintf("Meeting agenda: %s. Participants: %s.", task.Description, strings.Join(names, ", "))
	for _, p := range attendees {
		if err := p.Instance.Inner().Listen(agenda, "facilitator", 0); err != nil {
			o.logger.Printf("orchestrator: brief attendee %s: %v", p.AgentID, err)
		}
	}

	o.setTaskStatus(task, StatusInProgress)
	if _, err := meeting.Run(ctx, meetingRounds, 10*time.Minute, false); err != nil {
		o.failTask(task, fmt.Sprintf("meeting run failed: %v", err))
		return
	}

	results, err := o.extractor.ExtractFromWorld(ctx, meeting,
		"Extract key decisions, action items, and insights from meeting about: "+task.Description,
		[]string{"decisions", "action_items", "insights", "next_steps"}, nil)
	if err != nil {
		o.failTask(task, fmt.Sprintf("extraction failed: %v", err))
		return
	}

	o.mu.Lock()
	task.MeetingResults = results
	o.mu.Unlock()
	o.completeTask(task)
	o.mu.Lock()
	o.stats.MeetingsHeld++
	o.mu.Unlock()

	o.updateProfilesFromMeeting(attendees)
	o.spawnTasksFromMeeting(task, results)
	o.spawnFollowUpTasks(task)
}

func (o *Orchestrator) claimAttendees(task *TaskDefinition) []*AgentProfile {
	o.mu.Lock()
	defer o.mu.Unlock()
	var attendees []*AgentProfile
	for _, id := range task.Attendees {
		if p, ok := o.agents[id]; ok {
			attendees = append(attendees, p)
		}
	}
	for _, p := range attendees {
		p.Available = false
		p.CurrentWorkload++
	}
	return attendees
}

func (o *Orchestrator) setTaskStatus(task *TaskDefinition, status TaskStatus) {
	o.mu.Lock()
	task.Status = status
	o.mu.Unlock()
}

func (o *Orchestrator) completeTask(task *TaskDefinition) {
	o.mu.Lock()
	task.Status = StatusCompleted
	t := o.currentTime
	task.CompletionDate = &t
	o.completed[task.ID] = true
	o.stats.TasksCompleted++
	o.mu.Unlock()
}

func (o *Orchestrator) failTask(task *TaskDefinition, note string) {
	o.logger.Printf("orchestrator: task %s failed: %s", task.ID, note)
	o.mu.Lock()
	task.Status = StatusFailed
	task.FailureNote = note
	o.mu.Unlock()
}

func (o *Orchestrator) updateProfileFromTask(profile *AgentProfile, task *TaskDefinition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	skills := make([]string, 0, len(task.RequiredSkills))
	for skill := range task.RequiredSkills {
		improvement := 0.2
		if task.Status == StatusCompleted {
			improvement *= 1.5
		}
		profile.UpdateSkill(skill, improvement)
		o.stats.SkillImprovements++
		skills = append(skills, skill)
	}
	profile.PerformanceHistory = append(profile.PerformanceHistory, PerformanceRecord{
		TaskID:     task.ID,
		Type:       "task",
		Status:     task.Status,
		Date:       o.currentTime,
		SkillsUsed: skills,
	})
}

func (o *Orchestrator) updateProfilesFromMeeting(attendees []*AgentProfile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range attendees {
		p.UpdateSkill("communication", 0.3)
		p.UpdateSkill("collaboration", 0.2)
		p.PerformanceHistory = append(p.PerformanceHistory, PerformanceRecord{
			Type: "meeting",
			Date: o.currentTime,
		})
		o.stats.SkillImprovements++
	}
}

// spawnFollowUpTasks schedules the completed task's declared follow-ups
// an hour out if they have no date of their own.
func (o *Orchestrator) spawnFollowUpTasks(task *TaskDefinition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range task.FollowUpTasks {
		followUp, ok := o.tasks[id]
		if !ok || followUp.Status != StatusPending {
			continue
		}
		if followUp.ScheduledDate == nil {
			t := o.currentTime.Add(time.Hour)
			followUp.ScheduledDate = &t
		}
		task.SpawnedTasks = append(task.SpawnedTasks, id)
		o.stats.TasksSpawned++
	}
}

// spawnTasksFromMeeting turns each well-formed extracted action item
// into a new task, with skills inferred from the item's wording.
func (o *Orchestrator) spawnTasksFromMeeting(meetingTask *TaskDefinition, results map[string]any) {
	actionItems := extraction.StringSlice(results["action_items"])

	o.mu.Lock()
	defer o.mu.Unlock()
	for i, item := range actionItems {
		if len(item) <= 10 {
			continue
		}
		id := fmt.Sprintf("%s_action_%d", meetingTask.ID, i+1)
		scheduled := o.currentTime.AddDate(0, 0, 1)
		newTask := &TaskDefinition{
			ID:             id,
			Description:    item,
			RequiredSkills: directive.InferSkills(item),
			Priority:       meetingTask.Priority - 1,
			ScheduledDate:  &scheduled,
			Status:         StatusPending,
		}
		o.tasks[id] = newTask
		o.project.Tasks = append(o.project.Tasks, newTask)
		meetingTask.SpawnedTasks = append(meetingTask.SpawnedTasks, id)
		o.stats.TasksSpawned++
		o.logger.Printf("orchestrator: spawned task %s from meeting %s", id, meetingTask.ID)
	}
}

// spawnManagementMeetings creates a status review every
// statusMeetingInterval completions, capped at four attendees.
func (o *Orchestrator) spawnManagementMeetings() {
	o.mu.Lock()
	defer o.mu.Unlock()
	done := len(o.completed)
	if done == 0 || done%statusMeetingInterval != 0 {
		return
	}
	id := fmt.Sprintf("status_meeting_%d", done/statusMeetingInterval)
	if _, exists := o.tasks[id]; exists {
		return
	}
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 4 {
		names = names[:4]
	}
	scheduled := o.currentTime.Add(2 * time.Hour)
	task := &TaskDefinition{
		ID:              id,
		Description:     fmt.Sprintf("Project status review - completed %d tasks", done),
		RequiredSkills:  map[string]int{"project_management": 6, "communication": 5},
		Priority:        3,
		ScheduledDate:   &scheduled,
		MeetingRequired: true,
		Attendees:       names,
		Status:          StatusPending,
	}
	o.tasks[id] = task
	o.project.Tasks = append(o.project.Tasks, task)
	o.stats.TasksSpawned++
	o.logger.Printf("orchestrator: spawned status meeting %s", id)
}

// createAdaptiveTasks scans recent meeting insights for risk language
// and creates mitigation tasks; long concerns get their own meeting.
func (o *Orchestrator) createAdaptiveTasks() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, task := range o.project.Tasks {
		if !task.MeetingRequired || task.Status != StatusCompleted || task.CompletionDate == nil {
			continue
		}
		if o.currentTime.Sub(*task.CompletionDate) >= 48*time.Hour {
			continue
		}
		for _, insight := range extraction.StringSlice(task.MeetingResults["insights"]) {
			lower := strings.ToLower(insight)
			if !strings.Contains(lower, "risk") && !strings.Contains(lower, "concern") {
				continue
			}
			if o.riskTaskExistsLocked(insight) {
				continue
			}
			id := "risk_mitigation_" + uuid.NewString()[:8]
			scheduled := o.currentTime.Add(4 * time.Hour)
			risk := &TaskDefinition{
				ID:              id,
				Description:     "Address risk/concern: " + insight,
				RequiredSkills:  map[string]int{"risk_management": 6, "analysis": 5},
				Priority:        4,
				ScheduledDate:   &scheduled,
				MeetingRequired: len(insight) > 100,
				Status:          StatusPending,
			}
			o.tasks[id] = risk
			o.project.Tasks = append(o.project.Tasks, risk)
			o.stats.TasksSpawned++
			o.logger.Printf("orchestrator: created adaptive risk task %s", id)
		}
	}
}

func (o *Orchestrator) riskTaskExistsLocked(insight string) bool {
	desc := "Address risk/concern: " + insight
	for _, task := range o.project.Tasks {
		if task.Description == desc {
			return true
		}
	}
	return false
}

// advanceTime jumps the simulated clock to the nearest future scheduled
// task, or one hour forward when nothing is scheduled.
func (o *Orchestrator) advanceTime() {
	o.mu.Lock()
	defer o.mu.Unlock()
	var next *time.Time
	for _, task := range o.project.Tasks {
		if task.Status != StatusPending || task.ScheduledDate == nil {
			continue
		}
		if !task.ScheduledDate.After(o.currentTime) {
			continue
		}
		if next == nil || task.ScheduledDate.Before(*next) {
			next = task.ScheduledDate
		}
	}
	if next != nil {
		o.currentTime = *next
	} else {
		o.currentTime = o.currentTime.Add(time.Hour)
	}
}

// onCEOInterrupt steers the run: pause/resume flip the batch-loop flag,
// status logs a summary, adjust bumps priorities or compresses the
// timeline. Parsing failures are logged, never fatal.
func (o *Orchestrator) onCEOInterrupt(_ context.Context, ev core.Event) error {
	msg := strings.ToLower(ev.InterruptMessage())
	o.logger.Printf("orchestrator: CEO interrupt received: %s", msg)

	switch {
	case strings.Contains(msg, "pause"):
		o.mu.Lock()
		o.paused = true
		o.mu.Unlock()
		o.logger.Println("orchestrator: execution paused by CEO")
	case strings.Contains(msg, "resume"):
		o.mu.Lock()
		o.paused = false
		o.mu.Unlock()
		o.logger.Println("orchestrator: execution resumed by CEO")
	case strings.Contains(msg, "status"):
		o.logger.Printf("orchestrator: status: %v", o.Status())
	case strings.Contains(msg, "adjust"), strings.Contains(msg, "change"):
		o.handleAdjustment(msg)
	}
	return nil
}

func (o *Orchestrator) handleAdjustment(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case strings.Contains(msg, "priority"):
		for _, task := range o.project.Tasks {
			if task.Status == StatusPending {
				task.Priority++
			}
		}
		o.logger.Println("orchestrator: task priorities adjusted by CEO")
	case strings.Contains(msg, "timeline"):
		o.compressTimeline()
		o.logger.Println("orchestrator: timeline compressed by CEO")
	}
}

// Status summarises run progress for the CEO surface.
func (o *Orchestrator) Status() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return map[string]any{
		"project":        o.project.Title,
		"progress":       fmt.Sprintf("%d/%d tasks completed", len(o.completed), len(o.project.Tasks)),
		"current_time":   o.currentTime.Format(time.RFC3339),
		"execution_mode": string(o.project.ExecutionMode),
		"paused":         o.paused,
	}
}

// ApproveCheckpoint releases an incremental run waiting at a checkpoint.
func (o *Orchestrator) ApproveCheckpoint() {
	select {
	case o.approvals <- struct{}{}:
	default:
	}
}

// checkpoint snapshots run state and, unless auto-approval is on, waits
// for an approval signal before continuing.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	o.logger.Printf("orchestrator: checkpoint: %d/%d tasks completed", len(o.completed), len(o.project.Tasks))
	if err := o.SaveState(ctx); err != nil {
		o.logger.Printf("orchestrator: checkpoint save: %v", err)
	}
	if o.autoApprove {
		return nil
	}
	o.logger.Println("orchestrator: waiting for checkpoint approval")
	select {
	case <-o.approvals:
		o.logger.Println("orchestrator: checkpoint approved, continuing")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown detaches the orchestrator from the bus.
func (o *Orchestrator) Shutdown() {
	if o.bus != nil && o.sub != nil {
		o.bus.Unsubscribe(o.sub)
		o.sub = nil
	}
}

func copyFloatMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyIntMap(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
