// Package agent provides the asynchronous execution wrapper around the
// synchronous Respondent capability surface. The wrapper is purely an
// additive concurrency layer: the wrapped Respondent stays independently
// callable, while Async adds state tracking, CEO interrupt handling and
// off-loading of blocking calls to a bounded worker pool.
package agent

import (
	"context"
	"log"
	"sync"
	"time"

	"go-virtual-company/internal/core"
	"go-virtual-company/internal/eventbus"
)

// Async wraps a Respondent with asynchronous execution semantics.
//
// Exactly one operation (Listen/Act/ListenAndAct) runs per agent at a
// time, enforced by a context-aware exclusive lock; different agents
// proceed fully in parallel. A CEO interrupt cancels the in-flight
// operation and is processed at the next operation boundary.
type Async struct {
	inner  core.Respondent
	bus    eventbus.Bus
	pool   *Pool
	logger *log.Logger

	opLock chan struct{}

	mu             sync.Mutex
	state          core.AgentState
	pending        bool
	interrupt      core.InterruptContext
	lastInterrupt  string
	cancelInFlight context.CancelFunc
	inFlightDone   chan struct{}
	sub            *eventbus.Subscription
}

// NewAsync wraps inner and subscribes it to CEO interrupts on bus.
func NewAsync(inner core.Respondent, bus eventbus.Bus, pool *Pool, logger *log.Logger) *Async {
	if logger == nil {
		logger = log.Default()
	}
	if pool == nil {
		pool = NewPool(0)
	}
	a := &Async{
		inner:  inner,
		bus:    bus,
		pool:   pool,
		logger: logger,
		opLock: make(chan struct{}, 1),
		state:  core.StateIdle,
	}
	if bus != nil {
		a.sub = bus.Subscribe(core.EventCEOInterrupt, a.onCEOInterrupt)
	}
	return a
}

// Name returns the wrapped Respondent's name.
func (a *Async) Name() string { return a.inner.Name() }

// Inner exposes the wrapped Respondent for synchronous use.
func (a *Async) Inner() core.Respondent { return a.inner }

// State returns the current execution state.
func (a *Async) State() core.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastInterruptMessage returns the directive of the most recently
// processed interrupt.
func (a *Async) LastInterruptMessage() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastInterrupt
}

// InterruptPending reports whether a received interrupt awaits processing.
func (a *Async) InterruptPending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

func (a *Async) acquire(ctx context.Context) error {
	select {
	case a.opLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) release() { <-a.opLock }

func (a *Async) setState(s core.AgentState) core.AgentState {
	a.mu.Lock()
	prev := a.state
	a.state = s
	a.mu.Unlock()
	return prev
}

// beginOp registers a cancelable in-flight operation so interrupt intake
// and WaitForCompletion can reach it. The returned finish func must run
// before the operation lock is released.
func (a *Async) beginOp(ctx context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.mu.Lock()
	a.cancelInFlight = cancel
	a.inFlightDone = done
	a.mu.Unlock()
	return opCtx, func() {
		cancel()
		a.mu.Lock()
		if a.inFlightDone == done {
			a.cancelInFlight = nil
			a.inFlightDone = nil
		}
		a.mu.Unlock()
		close(done)
	}
}

// Listen runs the wrapped Listen capability off the caller's goroutine
// pool-bounded, publishing an activity event on success. A pending
// interrupt is processed first. State is restored before the operation
// lock is released, even on failure.
func (a *Async) Listen(ctx context.Context, stimulus, source string, maxContentLength int) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	defer a.release()
	prev := a.setState(core.StateListening)
	defer a.setState(prev)

	if a.InterruptPending() {
		a.processInterrupt(ctx)
	}

	opCtx, finish := a.beginOp(ctx)
	defer finish()

	err := a.pool.Run(opCtx, func() error {
		return a.inner.Listen(stimulus, source, maxContentLength)
	})
	if err != nil {
		a.logger.Printf("agent %s: listen failed: %v", a.Name(), err)
		return err
	}

	a.publishActivity(ctx, "message_received", map[string]any{
		"stimulus": stimulus,
		"from":     source,
	})
	return nil
}

// Act runs the wrapped Act capability. If an interrupt is pending it is
// processed and the call short-circuits to an empty action list.
func (a *Async) Act(ctx context.Context, opts core.ActOptions) ([]core.Action, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	prev := a.setState(core.StateActing)
	defer a.setState(prev)

	if a.InterruptPending() {
		a.processInterrupt(ctx)
		return nil, nil
	}

	opCtx, finish := a.beginOp(ctx)
	defer finish()

	var actions []core.Action
	err := a.pool.Run(opCtx, func() error {
		var innerErr error
		actions, innerErr = a.inner.Act(opts)
		return innerErr
	})
	if err != nil {
		a.logger.Printf("agent %s: act failed: %v", a.Name(), err)
		return nil, err
	}

	a.publishActivity(ctx, "action_performed", map[string]any{
		"actions":       len(actions),
		"current_round": opts.CurrentRound,
		"total_rounds":  opts.TotalRounds,
	})
	return actions, nil
}

// ListenAndAct composes Listen and Act as one logical turn under a
// single acquisition of the operation lock.
func (a *Async) ListenAndAct(ctx context.Context, stimulus string, opts core.ActOptions) ([]core.Action, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	prev := a.setState(core.StateListening)
	defer a.setState(prev)

	if a.InterruptPending() {
		a.processInterrupt(ctx)
		return nil, nil
	}

	opCtx, finish := a.beginOp(ctx)
	defer finish()

	var actions []core.Action
	err := a.pool.Run(opCtx, func() error {
		var innerErr error
		actions, innerErr = a.inner.ListenAndAct(stimulus, opts)
		return innerErr
	})
	if err != nil {
		a.logger.Printf("agent %s: listen_and_act failed: %v", a.Name(), err)
		return nil, err
	}

	a.publishActivity(ctx, "listen_and_act_performed", map[string]any{
		"stimulus": stimulus,
	})
	return actions, nil
}

// onCEOInterrupt is the bus callback: it records the interrupt context,
// raises the pending flag and cancels whatever operation is in flight so
// the interrupt takes precedence over stale work.
func (a *Async) onCEOInterrupt(_ context.Context, ev core.Event) error {
	a.HandleCEOInterrupt(ev)
	return nil
}

// HandleCEOInterrupt applies interrupt intake for a delivered event.
// Worlds call this directly when broadcasting steer directives.
func (a *Async) HandleCEOInterrupt(ev core.Event) {
	a.mu.Lock()
	a.interrupt = core.InterruptContext{
		Message:         ev.InterruptMessage(),
		OverrideContext: ev.OverrideContext(),
		Resume:          ev.Resume(),
		TimestampISO:    ev.Timestamp.Format(time.RFC3339Nano),
	}
	a.pending = true
	cancel := a.cancelInFlight
	a.mu.Unlock()

	a.logger.Printf("agent %s: CEO interrupt received: %s", a.Name(), ev.InterruptMessage())
	if cancel != nil {
		cancel()
	}
}

// ProcessPendingInterrupt processes the stored interrupt outside any
// operation, for callers that want the agent consistent before its next
// turn. Calling it with nothing pending is a logged no-op.
func (a *Async) ProcessPendingInterrupt(ctx context.Context) {
	if err := a.acquire(ctx); err != nil {
		return
	}
	defer a.release()
	a.processInterrupt(ctx)
}

// processInterrupt transitions through InterruptHandling and always
// clears the pending flag, so an agent can never stay stuck reacting to
// a stale interrupt.
func (a *Async) processInterrupt(ctx context.Context) {
	a.mu.Lock()
	if !a.pending {
		a.mu.Unlock()
		a.logger.Printf("agent %s: interrupt processing requested but none pending", a.Name())
		return
	}
	ic := a.interrupt
	prev := a.state
	a.state = core.StateInterruptHandling
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.pending = false
		a.interrupt = core.InterruptContext{}
		if a.state == core.StateInterruptHandling {
			a.state = prev
		}
		a.mu.Unlock()
	}()

	if ic.OverrideContext && ic.Message != "" {
		if dr, ok := a.inner.(core.DirectiveReceiver); ok {
			dr.ApplyDirective(ic.Message)
		}
		a.mu.Lock()
		a.lastInterrupt = ic.Message
		a.mu.Unlock()
	}

	a.publishActivity(ctx, "ceo_interrupt_processed", map[string]any{
		"message":        ic.Message,
		"previous_state": string(prev),
		"resume_action":  string(ic.Resume),
	})
	a.logger.Printf("agent %s: CEO interrupt processed", a.Name())
}

func (a *Async) publishActivity(_ context.Context, action string, data map[string]any) {
	if a.bus == nil {
		return
	}
	payload := map[string]any{
		"action":      action,
		"agent_state": string(a.State()),
	}
	for k, v := range data {
		payload[k] = v
	}
	if err := a.bus.Publish(core.NewEvent(core.EventAgentMessage, a.Name(), payload)); err != nil {
		a.logger.Printf("agent %s: publish activity: %v", a.Name(), err)
	}
}

// WaitForCompletion blocks until the in-flight operation finishes. A
// timeout cancels the operation instead of leaving it running.
func (a *Async) WaitForCompletion(timeout time.Duration) {
	a.mu.Lock()
	done := a.inFlightDone
	cancel := a.cancelInFlight
	a.mu.Unlock()
	if done == nil {
		return
	}
	if timeout <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
		a.logger.Printf("agent %s: timeout waiting for operation, cancelling", a.Name())
		if cancel != nil {
			cancel()
		}
	}
}

// CancelOperations cancels the in-flight operation, if any, and waits
// for it to unwind.
func (a *Async) CancelOperations() {
	a.mu.Lock()
	done := a.inFlightDone
	cancel := a.cancelInFlight
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Shutdown cancels outstanding work and detaches the agent from the bus.
func (a *Async) Shutdown() {
	a.CancelOperations()
	if a.bus != nil && a.sub != nil {
		a.bus.Unsubscribe(a.sub)
		a.sub = nil
	}
}

// LastInterrupt returns a copy of the pending interrupt context, mostly
// for observability.
func (a *Async) LastInterrupt() core.InterruptContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interrupt
}
