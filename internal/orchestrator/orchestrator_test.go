package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-virtual-company/internal/agent"
	"go-virtual-company/internal/core"
	"go-virtual-company/internal/extraction"
	"go-virtual-company/internal/persona"
	"go-virtual-company/internal/statestore"
)

// scriptedWorker is a Respondent whose turns complete instantly.
type scriptedWorker struct {
	mu    sync.Mutex
	name  string
	turns []string
}

func (s *scriptedWorker) Name() string { return s.name }

func (s *scriptedWorker) Listen(stimulus, _ string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, stimulus)
	return nil
}

func (s *scriptedWorker) Act(_ core.ActOptions) ([]core.Action, error) {
	return []core.Action{{Type: core.ActionDone}}, nil
}

func (s *scriptedWorker) ListenAndAct(stimulus string, opts core.ActOptions) ([]core.Action, error) {
	if err := s.Listen(stimulus, "", 0); err != nil {
		return nil, err
	}
	return s.Act(opts)
}

func (s *scriptedWorker) turnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

var _ core.Respondent = (*scriptedWorker)(nil)

func scriptedFactory() persona.RespondentFactory {
	return persona.FactoryFunc(func(rec persona.EmployeeRecord) (core.Respondent, error) {
		return &scriptedWorker{name: rec.Name}, nil
	})
}

func newTestOrchestrator(t *testing.T, results map[string]any) (*Orchestrator, *extraction.Mock) {
	t.Helper()
	mock := &extraction.Mock{Result: results}
	o := New(Options{Extractor: mock, Factory: scriptedFactory(), AutoApprove: true})
	t.Cleanup(o.Shutdown)
	return o, mock
}

func registerWorker(o *Orchestrator, name string, skills map[string]float64) *scriptedWorker {
	worker := &scriptedWorker{name: name}
	o.RegisterAgent(agent.NewAsync(worker, nil, nil, nil), skills, nil)
	return worker
}

func dateAt(hour int) time.Time {
	return time.Date(2025, 6, 2, hour, 0, 0, 0, time.UTC)
}

func simpleProject(mode ExecutionMode, sched SchedulingMode, tasks ...*TaskDefinition) *ProjectDefinition {
	return &ProjectDefinition{
		ProjectID:     "proj-1",
		Title:         "Test Project",
		ExecutionMode: mode,
		Scheduling:    schedulingSection{Mode: sched, StartDate: dateAt(9)},
		Tasks:         tasks,
	}
}

func task(id string, priority int, deps ...string) *TaskDefinition {
	return &TaskDefinition{
		ID:             id,
		Description:    "implement the " + id + " component",
		RequiredSkills: map[string]int{"development": 5},
		Priority:       priority,
		Dependencies:   deps,
		Status:         StatusPending,
	}
}

func TestReadinessMonotonicWithDependencies(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	registerWorker(o, "dev", map[string]float64{"development": 8})

	a := task("a", 5)
	b := task("b", 5, "a")
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, a, b)))

	// b never appears while its dependency is incomplete.
	o.mu.Lock()
	o.currentTime = dateAt(12)
	o.mu.Unlock()
	ready := o.ReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)

	o.completeTask(a)
	ids := make([]string, 0)
	for _, r := range o.ReadyTasks() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b"}, ids, "b becomes ready in the very next readiness pass")
}

func TestReadyTasksOrderedByPriorityThenSchedule(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	low := task("low", 1)
	high := task("high", 9)
	mid := task("mid", 5)
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, low, high, mid)))

	o.mu.Lock()
	o.currentTime = dateAt(12)
	o.mu.Unlock()
	ready := o.ReadyTasks()
	require.Len(t, ready, 3)
	assert.Equal(t, "high", ready[0].ID)
	assert.Equal(t, "mid", ready[1].ID)
	assert.Equal(t, "low", ready[2].ID)
}

func TestSkillBasedAssignment(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	registerWorker(o, "developer", map[string]float64{"development": 9})
	registerWorker(o, "designer", map[string]float64{"design": 8})

	tk := &TaskDefinition{
		ID:             "t1",
		Description:    "build the ingestion service",
		RequiredSkills: map[string]int{"development": 7},
		Priority:       5,
		Status:         StatusPending,
	}
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, tk)))

	profile := o.assignBestAgent(tk)
	require.NotNil(t, profile)
	assert.Equal(t, "developer", profile.AgentID)
	assert.Equal(t, StatusAssigned, tk.Status)
	assert.False(t, profile.Available)
}

func TestWorkloadPenaltyBreaksTies(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	registerWorker(o, "busy", map[string]float64{"development": 7})
	registerWorker(o, "idle", map[string]float64{"development": 7})

	busy, _ := o.Profile("busy")
	o.mu.Lock()
	busy.CurrentWorkload = 3
	o.mu.Unlock()

	tk := task("t1", 5)
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, tk)))

	profile := o.assignBestAgent(tk)
	require.NotNil(t, profile)
	assert.Equal(t, "idle", profile.AgentID)
}

func TestAssignmentDoesNotDoubleBookWithinBatch(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	registerWorker(o, "solo", map[string]float64{"development": 9})

	t1 := task("t1", 5)
	t2 := task("t2", 5)
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, t1, t2)))

	first := o.assignBestAgent(t1)
	require.NotNil(t, first)
	second := o.assignBestAgent(t2)
	assert.Nil(t, second, "a claimed agent is unavailable to the rest of the batch")
}

func TestSameDaySchedulingKeepsCalendarDate(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	a := task("a", 5)
	b := task("b", 5, "a")
	c := task("c", 5, "b")
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, a, b, c)))

	start := dateAt(9)
	for _, tk := range []*TaskDefinition{a, b, c} {
		require.NotNil(t, tk.ScheduledDate)
		y, m, d := tk.ScheduledDate.Date()
		sy, sm, sd := start.Date()
		assert.Equal(t, [3]int{sy, int(sm), sd}, [3]int{y, int(m), d},
			"task %s scheduled off the start date", tk.ID)
	}
	assert.Equal(t, 30*time.Minute, b.ScheduledDate.Sub(*a.ScheduledDate))
}

func TestCompressedSchedulingRespectsDependencyWaves(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	a := task("a", 5)
	b := task("b", 5, "a")
	c := task("c", 5)
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleCompressed, a, b, c)))

	assert.Equal(t, *a.ScheduledDate, *c.ScheduledDate, "independent tasks share a wave")
	assert.Equal(t, 2*time.Hour, b.ScheduledDate.Sub(*a.ScheduledDate))
}

func TestDistributedSchedulingClampsMeetingsToBusinessHours(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	meeting := &TaskDefinition{
		ID:              "kickoff",
		Description:     "project kickoff",
		Priority:        5,
		MeetingRequired: true,
		Attendees:       []string{"dev"},
		Status:          StatusPending,
	}
	p := simpleProject(ModeFullyAutomated, ScheduleDistributed, meeting)
	p.Scheduling.StartDate = time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)
	require.NoError(t, o.UseProject(p))

	require.NotNil(t, meeting.ScheduledDate)
	assert.Equal(t, 9, meeting.ScheduledDate.Hour())
	assert.Equal(t, 3, meeting.ScheduledDate.Day(), "after-hours start rolls to next morning")
}

func TestFullyAutomatedRunCompletesProject(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	worker := registerWorker(o, "dev", map[string]float64{"development": 8})

	a := task("a", 5)
	b := task("b", 3, "a")
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, a, b)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := o.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Tasks.Completed)
	assert.Equal(t, 0, report.Tasks.Failed)
	assert.Equal(t, 2, worker.turnCount(), "each task produced one agent turn")
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, StatusCompleted, b.Status)
}

func TestUnsatisfiableTaskFailsInsteadOfHanging(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	registerWorker(o, "dev", map[string]float64{"development": 8})

	impossible := &TaskDefinition{
		ID:             "quantum",
		Description:    "solve the halting problem",
		RequiredSkills: map[string]int{"quantum_computing": 10},
		Priority:       5,
		Status:         StatusPending,
	}
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, impossible)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Tasks.Failed)
	assert.Contains(t, impossible.FailureNote, "skill requirements")
}

func TestMeetingSpawnsTasksFromActionItems(t *testing.T) {
	o, mock := newTestOrchestrator(t, map[string]any{
		"action_items": []any{
			"implement the audit logging backend",
			"design the compliance review workflow",
			"coordinate the rollout with support staff",
		},
		"decisions": []any{"ship in Q3"},
	})
	registerWorker(o, "alice", map[string]float64{"development": 8})
	registerWorker(o, "bob", map[string]float64{"development": 6})

	meeting := &TaskDefinition{
		ID:              "planning",
		Description:     "plan the compliance project",
		Priority:        5,
		MeetingRequired: true,
		Attendees:       []string{"alice", "bob"},
		Status:          StatusPending,
	}
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, meeting)))

	o.executeMeetingTask(context.Background(), meeting)

	require.Equal(t, StatusCompleted, meeting.Status)
	assert.Equal(t, 1, mock.Calls)
	require.Len(t, meeting.SpawnedTasks, 3)
	for _, id := range meeting.SpawnedTasks {
		spawned, ok := o.Task(id)
		require.True(t, ok, "spawned task %s registered", id)
		assert.Equal(t, meeting.Priority-1, spawned.Priority)
		assert.NotEmpty(t, spawned.RequiredSkills)
	}

	// Skill inference keyed off the action item wording.
	first, _ := o.Task(meeting.SpawnedTasks[0])
	assert.Contains(t, first.RequiredSkills, "development")

	// Attendees picked up communication and collaboration improvements.
	alice, _ := o.Profile("alice")
	assert.Greater(t, alice.Skills["communication"], 0.0)
	assert.Greater(t, alice.Skills["collaboration"], 0.0)
	assert.True(t, alice.Available, "availability restored after the meeting")
}

func TestShortActionItemsAreNotSpawned(t *testing.T) {
	o, _ := newTestOrchestrator(t, map[string]any{
		"action_items": []any{"fix it", "write the deployment runbook now"},
	})
	registerWorker(o, "alice", map[string]float64{})

	meeting := &TaskDefinition{
		ID:              "m1",
		Description:     "retro",
		Priority:        3,
		MeetingRequired: true,
		Attendees:       []string{"alice"},
		Status:          StatusPending,
	}
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, meeting)))

	o.executeMeetingTask(context.Background(), meeting)
	assert.Len(t, meeting.SpawnedTasks, 1)
}

func TestExtractionFailureFailsMeetingButRestoresAttendees(t *testing.T) {
	o, mock := newTestOrchestrator(t, nil)
	mock.Err = fmt.Errorf("model unavailable")
	registerWorker(o, "alice", map[string]float64{})

	meeting := &TaskDefinition{
		ID:              "m1",
		Description:     "retro",
		Priority:        3,
		MeetingRequired: true,
		Attendees:       []string{"alice"},
		Status:          StatusPending,
	}
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, meeting)))

	o.executeMeetingTask(context.Background(), meeting)

	assert.Equal(t, StatusFailed, meeting.Status)
	alice, _ := o.Profile("alice")
	assert.True(t, alice.Available)
	assert.Equal(t, 0, alice.CurrentWorkload)
}

func TestAdvanceTimeJumpsToNextScheduledTask(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	later := dateAt(15)
	tk := task("later", 5)
	tk.ScheduledDate = &later
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleDistributed, tk)))

	o.mu.Lock()
	o.currentTime = dateAt(9)
	tk.ScheduledDate = &later
	o.mu.Unlock()

	o.advanceTime()
	assert.Equal(t, later, o.CurrentTime(), "clock jumps to the next scheduled task, not a fixed tick")
}

func TestCEOAdjustPriorityBumpsPendingTasks(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	a := task("a", 5)
	done := task("b", 5)
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, a, done)))
	o.completeTask(done)

	require.NoError(t, o.onCEOInterrupt(context.Background(), core.NewCEOInterrupt("adjust priority for the release", false, core.ResumeContinue)))
	assert.Equal(t, 6, a.Priority)
	assert.Equal(t, 5, done.Priority, "terminal tasks are untouched")
}

func TestCEOPauseAndResume(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay)))

	require.NoError(t, o.onCEOInterrupt(context.Background(), core.NewCEOInterrupt("pause the project", false, core.ResumeContinue)))
	assert.True(t, o.Paused())
	require.NoError(t, o.onCEOInterrupt(context.Background(), core.NewCEOInterrupt("resume the project", false, core.ResumeContinue)))
	assert.False(t, o.Paused())
}

func TestSimulationModeSpawnsStatusMeetings(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	for i := 0; i < 6; i++ {
		registerWorker(o, fmt.Sprintf("agent-%d", i), map[string]float64{"development": 8})
	}
	var tasks []*TaskDefinition
	for i := 0; i < 5; i++ {
		tasks = append(tasks, task(fmt.Sprintf("t%d", i), 5))
	}
	require.NoError(t, o.UseProject(simpleProject(ModeSimulation, ScheduleSameDay, tasks...)))
	for _, tk := range tasks {
		o.completeTask(tk)
	}

	o.spawnManagementMeetings()

	status, ok := o.Task("status_meeting_1")
	require.True(t, ok)
	assert.True(t, status.MeetingRequired)
	assert.Len(t, status.Attendees, 4, "status meetings cap attendees")
}

func TestAdaptiveRiskTasksFromInsights(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	now := dateAt(12)
	meeting := &TaskDefinition{
		ID:              "m1",
		Description:     "architecture review",
		Priority:        5,
		MeetingRequired: true,
		Status:          StatusCompleted,
		CompletionDate:  &now,
		MeetingResults: map[string]any{
			"insights": []any{
				"there is a significant security risk in the token flow",
				"everyone liked the new dashboard",
			},
		},
	}
	require.NoError(t, o.UseProject(simpleProject(ModeSimulation, ScheduleSameDay, meeting)))
	o.mu.Lock()
	o.currentTime = now
	o.mu.Unlock()

	o.createAdaptiveTasks()

	var risks []*TaskDefinition
	o.mu.Lock()
	for _, tk := range o.project.Tasks {
		if tk != meeting {
			risks = append(risks, tk)
		}
	}
	o.mu.Unlock()
	require.Len(t, risks, 1, "only the risk-flavored insight spawns a task")
	assert.Contains(t, risks[0].Description, "security risk")
	assert.False(t, risks[0].MeetingRequired, "short concerns do not need a meeting")

	// A second pass must not duplicate the mitigation task.
	o.createAdaptiveTasks()
	o.mu.Lock()
	total := len(o.project.Tasks)
	o.mu.Unlock()
	assert.Equal(t, 2, total)
}

func TestGenerateReportCountsOutcomes(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	ok := task("ok", 5)
	bad := task("bad", 5)
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, ok, bad)))
	o.completeTask(ok)
	o.failTask(bad, "boom")

	report := o.GenerateReport()
	assert.Equal(t, 2, report.Tasks.Total)
	assert.Equal(t, 1, report.Tasks.Completed)
	assert.Equal(t, 1, report.Tasks.Failed)
}

func TestProjectValidation(t *testing.T) {
	_, err := ParseProject([]byte(`
project_id: p1
execution_mode: fully_automated
scheduling:
  mode: same_day
  start_date: 2025-06-02T09:00:00Z
tasks:
  - task_id: a
    description: first
  - task_id: b
    description: second
    dependencies: [missing]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}

func TestParseProjectDefaults(t *testing.T) {
	p, err := ParseProject([]byte(`
project_id: p1
tasks:
  - task_id: a
    description: only task
`))
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, p.ExecutionMode)
	assert.Equal(t, ScheduleDistributed, p.Scheduling.Mode)
	assert.Equal(t, "p1", p.Title)
	assert.Equal(t, 1, p.Tasks[0].Priority)
	assert.Equal(t, StatusPending, p.Tasks[0].Status)
}

func TestStatePersistenceRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	store := statestore.NewRedisStore(&redis.Options{Addr: mr.Addr()}, nil)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	first := New(Options{Extractor: &extraction.Mock{}, Factory: scriptedFactory(), Store: store, AutoApprove: true})
	t.Cleanup(first.Shutdown)
	registerWorker(first, "dev", map[string]float64{"development": 8})
	a := task("a", 5)
	b := task("b", 5, "a")
	require.NoError(t, first.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, a, b)))
	first.completeTask(a)
	require.NoError(t, first.SaveState(ctx))

	second := New(Options{Extractor: &extraction.Mock{}, Factory: scriptedFactory(), Store: store, AutoApprove: true})
	t.Cleanup(second.Shutdown)
	registerWorker(second, "dev", map[string]float64{"development": 8})
	require.NoError(t, second.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, task("a", 5), task("b", 5, "a"))))
	require.NoError(t, second.LoadState(ctx))

	second.mu.Lock()
	completed := second.completed["a"]
	status := second.tasks["a"].Status
	second.mu.Unlock()
	assert.True(t, completed)
	assert.Equal(t, StatusCompleted, status)
}

func TestArchiveReportStoresFinalReport(t *testing.T) {
	mr := miniredis.RunT(t)
	store := statestore.NewRedisStore(&redis.Options{Addr: mr.Addr()}, nil)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	o := New(Options{Extractor: &extraction.Mock{}, Factory: scriptedFactory(), Store: store, AutoApprove: true})
	t.Cleanup(o.Shutdown)
	a := task("a", 5)
	require.NoError(t, o.UseProject(simpleProject(ModeFullyAutomated, ScheduleSameDay, a)))
	o.completeTask(a)

	require.NoError(t, o.ArchiveReport(ctx, o.GenerateReport()))

	var archived Report
	_, err := store.Get(ctx, statestore.ReportKey("proj-1"), &archived)
	require.NoError(t, err)
	assert.Equal(t, 1, archived.Tasks.Completed)
	assert.Equal(t, "Test Project", archived.Title)
}
