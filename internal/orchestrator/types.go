// Package orchestrator schedules a dependency graph of tasks and
// meetings over a population of agents, reacts to CEO interrupts, spawns
// follow-up work from meeting outcomes and produces a run report.
package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"go-virtual-company/internal/agent"
)

// ExecutionMode selects the outer control loop behavior.
type ExecutionMode string

const (
	ModeFullyAutomated ExecutionMode = "fully_automated"
	ModeIncremental    ExecutionMode = "incremental"
	ModeSimulation     ExecutionMode = "simulation"
)

// SchedulingMode selects how scheduled dates are assigned at load time.
type SchedulingMode string

const (
	ScheduleSameDay     SchedulingMode = "same_day"
	ScheduleDistributed SchedulingMode = "distributed"
	ScheduleCompressed  SchedulingMode = "compressed"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskDefinition is one unit of orchestrated work.
type TaskDefinition struct {
	ID              string         `yaml:"task_id" json:"task_id"`
	Description     string         `yaml:"description" json:"description"`
	RequiredSkills  map[string]int `yaml:"required_skills" json:"required_skills"`
	Priority        int            `yaml:"priority" json:"priority"`
	ScheduledDate   *time.Time     `yaml:"scheduled_date" json:"scheduled_date"`
	MeetingRequired bool           `yaml:"meeting_required" json:"meeting_required"`
	Attendees       []string       `yaml:"attendees" json:"attendees"`
	Dependencies    []string       `yaml:"dependencies" json:"dependencies"`
	FollowUpTasks   []string       `yaml:"follow_up_tasks" json:"follow_up_tasks"`
	EstimatedHours  float64        `yaml:"estimated_hours" json:"estimated_hours"`

	Status         TaskStatus     `yaml:"-" json:"status"`
	AssignedAgents []string       `yaml:"-" json:"assigned_agents"`
	CompletionDate *time.Time     `yaml:"-" json:"completion_date"`
	MeetingResults map[string]any `yaml:"-" json:"meeting_results"`
	SpawnedTasks   []string       `yaml:"-" json:"spawned_tasks"`
	FailureNote    string         `yaml:"-" json:"failure_note,omitempty"`
}

// EstimatedDuration converts the hour estimate, defaulting to one hour.
func (t *TaskDefinition) EstimatedDuration() time.Duration {
	if t.EstimatedHours <= 0 {
		return time.Hour
	}
	return time.Duration(t.EstimatedHours * float64(time.Hour))
}

// DependenciesMet reports whether every dependency is in completed.
func (t *TaskDefinition) DependenciesMet(completed map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// AgentProfile wraps a live agent with orchestration metadata. Skills
// only increase, bounded at 10, through UpdateSkill.
type AgentProfile struct {
	AgentID            string
	Instance           *agent.Async
	Skills             map[string]float64
	Preferences        map[string]int
	Available          bool
	CurrentWorkload    int
	DevelopmentRate    float64
	PerformanceHistory []PerformanceRecord
	LastActive         time.Time
}

// PerformanceRecord captures one completed task or attended meeting.
type PerformanceRecord struct {
	TaskID     string     `json:"task_id,omitempty"`
	Type       string     `json:"type"`
	Status     TaskStatus `json:"status,omitempty"`
	Date       time.Time  `json:"date"`
	SkillsUsed []string   `json:"skills_used,omitempty"`
}

// UpdateSkill applies a development-rate-scaled improvement, capped
// at level 10.
func (p *AgentProfile) UpdateSkill(name string, improvement float64) {
	rate := p.DevelopmentRate
	if rate <= 0 {
		rate = 0.1
	}
	level := p.Skills[name] + improvement*rate
	if level > 10 {
		level = 10
	}
	p.Skills[name] = level
}

// MeetsRequirements reports whether the profile satisfies every
// (skill, minimum level) pair.
func (p *AgentProfile) MeetsRequirements(required map[string]int) bool {
	for skill, min := range required {
		if p.Skills[skill] < float64(min) {
			return false
		}
	}
	return true
}

// AgentDefinition is the project-file shape of one agent.
type AgentDefinition struct {
	AgentID     string             `yaml:"agent_id" json:"agent_id"`
	Name        string             `yaml:"name" json:"name"`
	Occupation  string             `yaml:"occupation" json:"occupation"`
	SkillLevels map[string]float64 `yaml:"skill_levels" json:"skill_levels"`
	Preferences map[string]int     `yaml:"preferences" json:"preferences"`
}

type schedulingSection struct {
	Mode             SchedulingMode `yaml:"mode" json:"mode"`
	StartDate        time.Time      `yaml:"start_date" json:"start_date"`
	CompressTimeline bool           `yaml:"compress_timeline" json:"compress_timeline"`
	AutoAdjustDates  *bool          `yaml:"auto_adjust_dates" json:"auto_adjust_dates"`
}

// ProjectDefinition is the top-level run configuration.
type ProjectDefinition struct {
	ProjectID     string            `yaml:"project_id" json:"project_id"`
	Title         string            `yaml:"title" json:"title"`
	Description   string            `yaml:"description" json:"description"`
	ExecutionMode ExecutionMode     `yaml:"execution_mode" json:"execution_mode"`
	Scheduling    schedulingSection `yaml:"scheduling" json:"scheduling"`
	Agents        []AgentDefinition `yaml:"agents" json:"agents"`
	Tasks         []*TaskDefinition `yaml:"tasks" json:"tasks"`
}

// LoadProject reads and validates a project file. YAML is a superset of
// JSON, so JSON project documents load through the same path.
func LoadProject(path string) (*ProjectDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	return ParseProject(data)
}

// ParseProject decodes and validates a project document.
func ParseProject(data []byte) (*ProjectDefinition, error) {
	var p ProjectDefinition
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse project: %w", err)
	}
	if p.ExecutionMode == "" {
		p.ExecutionMode = ModeIncremental
	}
	if p.Scheduling.Mode == "" {
		p.Scheduling.Mode = ScheduleDistributed
	}
	if p.Scheduling.StartDate.IsZero() {
		p.Scheduling.StartDate = time.Now()
	}
	if p.Title == "" {
		p.Title = p.ProjectID
	}
	for _, task := range p.Tasks {
		task.Status = StatusPending
		if task.Priority == 0 {
			task.Priority = 1
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks structural invariants of the loaded project.
func (p *ProjectDefinition) Validate() error {
	if p.ProjectID == "" {
		return fmt.Errorf("project: missing project_id")
	}
	switch p.ExecutionMode {
	case ModeFullyAutomated, ModeIncremental, ModeSimulation:
	default:
		return fmt.Errorf("project %s: unknown execution_mode %q", p.ProjectID, p.ExecutionMode)
	}
	switch p.Scheduling.Mode {
	case ScheduleSameDay, ScheduleDistributed, ScheduleCompressed:
	default:
		return fmt.Errorf("project %s: unknown scheduling mode %q", p.ProjectID, p.Scheduling.Mode)
	}
	ids := make(map[string]bool, len(p.Tasks))
	for _, task := range p.Tasks {
		if task.ID == "" {
			return fmt.Errorf("project %s: task with empty task_id", p.ProjectID)
		}
		if ids[task.ID] {
			return fmt.Errorf("project %s: duplicate task_id %q", p.ProjectID, task.ID)
		}
		ids[task.ID] = true
	}
	for _, task := range p.Tasks {
		for _, dep := range task.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("project %s: task %s depends on unknown task %q", p.ProjectID, task.ID, dep)
			}
		}
	}
	return nil
}
