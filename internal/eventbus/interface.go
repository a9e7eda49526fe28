package eventbus

import (
	"context"
	"time"

	"go-virtual-company/internal/core"
)

// Handler consumes a delivered event. Handlers run concurrently with each
// other; a handler error is logged and never reaches other subscribers.
type Handler func(ctx context.Context, ev core.Event) error

// Subscription identifies one registered handler so it can be removed
// again (functions are not comparable in Go).
type Subscription struct {
	id   uint64
	kind core.EventType
}

// Kind returns the event type the subscription is registered for.
func (s *Subscription) Kind() core.EventType { return s.kind }

// Bus defines priority-ordered publish/subscribe semantics for events.
type Bus interface {
	Subscribe(kind core.EventType, h Handler) *Subscription
	Unsubscribe(sub *Subscription)

	// Publish enqueues the event and appends it to the audit log. It
	// never blocks on delivery; delivery happens on the background
	// dispatch loop in (priority desc, enqueue order asc) order.
	Publish(ev core.Event) error

	// PublishCEOInterrupt is a convenience wrapper constructing the
	// highest-priority interrupt event from source "CEO".
	PublishCEOInterrupt(message string, overrideContext bool, resume core.ResumeAction) error

	// Start and Stop are idempotent. A publish to a stopped bus still
	// enqueues; delivery resumes once started.
	Start()
	Stop()

	// WaitForEvent subscribes, waits for the next event of the given
	// kind, and unsubscribes. It returns nil on timeout.
	WaitForEvent(ctx context.Context, kind core.EventType, timeout time.Duration) *core.Event

	// EventLog exports the bounded audit log as serializable records.
	EventLog() []map[string]any
	ClearEventLog()
}
