package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes messages exchanged over the event bus.
type EventType string

const (
	EventCEOInterrupt     EventType = "ceo_interrupt"
	EventAgentMessage     EventType = "agent_message"
	EventSimulationPause  EventType = "simulation_pause"
	EventSimulationResume EventType = "simulation_resume"
	EventSimulationEnd    EventType = "simulation_end"
	EventAgentStateChange EventType = "agent_state_change"
)

// PriorityCEOInterrupt is the fixed priority attached to CEO interrupts.
// It is higher than anything regular publishers use, so an interrupt is
// always the next event dequeued relative to lower-priority backlog.
const PriorityCEOInterrupt = 100

// ResumeAction tells interrupted components what to do after the
// interrupt has been processed.
type ResumeAction string

const (
	ResumeContinue ResumeAction = "continue"
	ResumeSteer    ResumeAction = "steer"
	ResumeEnd      ResumeAction = "end"
)

// Event is a message on the bus. Events are immutable once published.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Priority  int            `json:"priority"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(t EventType, source string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
	}
}

// Data keys carried by CEO interrupt events.
const (
	KeyMessage         = "message"
	KeyOverrideContext = "override_context"
	KeyResumeAction    = "resume_action"
)

// NewCEOInterrupt builds the highest-priority interrupt event carrying a
// human directive, an override flag and a resume action tag.
func NewCEOInterrupt(message string, overrideContext bool, resume ResumeAction) Event {
	ev := NewEvent(EventCEOInterrupt, "CEO", map[string]any{
		KeyMessage:         message,
		KeyOverrideContext: overrideContext,
		KeyResumeAction:    string(resume),
	})
	ev.Priority = PriorityCEOInterrupt
	return ev
}

// InterruptMessage extracts the directive text from an interrupt event.
func (e Event) InterruptMessage() string {
	s, _ := e.Data[KeyMessage].(string)
	return s
}

// OverrideContext reports whether the interrupt should override the
// receiving agent's working context.
func (e Event) OverrideContext() bool {
	b, _ := e.Data[KeyOverrideContext].(bool)
	return b
}

// Resume returns the resume action tag, defaulting to ResumeContinue.
func (e Event) Resume() ResumeAction {
	if s, ok := e.Data[KeyResumeAction].(string); ok && s != "" {
		return ResumeAction(s)
	}
	return ResumeContinue
}

// ToRecord converts the event to a plain mapping suitable for JSON
// serialization, used by the bus audit log export.
func (e Event) ToRecord() map[string]any {
	return map[string]any{
		"event_type": string(e.Type),
		"timestamp":  e.Timestamp.Format(time.RFC3339Nano),
		"data":       e.Data,
		"source":     e.Source,
		"target":     e.Target,
		"priority":   e.Priority,
	}
}
