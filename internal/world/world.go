// Package world owns a heterogeneous population of agents and advances a
// shared simulated clock. Async-capable members run their turns
// concurrently within a step; legacy synchronous members run after them,
// in order. The world also routes CEO interrupts to pause, resume, stop
// or steer the run.
package world

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go-virtual-company/internal/agent"
	"go-virtual-company/internal/core"
	"go-virtual-company/internal/directive"
	"go-virtual-company/internal/eventbus"
)

// interruptYield bounds worst-case interrupt latency between steps.
const interruptYield = 10 * time.Millisecond

// Member is anything that can live in a World: a plain core.Respondent
// or an *agent.Async wrapper.
type Member interface {
	Name() string
}

// TranscriptEntry records one action as it was merged into the world.
type TranscriptEntry struct {
	Round     int         `json:"round"`
	Agent     string      `json:"agent"`
	Action    core.Action `json:"action"`
	Timestamp time.Time   `json:"timestamp"`
}

// Options configures a World.
type Options struct {
	Name                string
	InitialTime         time.Time
	IsMeeting           bool
	BroadcastIfNoTarget bool
	EnableCEOInterrupt  bool
	Logger              *log.Logger
}

// World is a named container over agents and a simulated clock.
type World struct {
	name                string
	bus                 eventbus.Bus
	logger              *log.Logger
	isMeeting           bool
	broadcastIfNoTarget bool
	enableCEO           bool

	pause *gate

	mu         sync.Mutex
	members    []Member
	now        time.Time
	running    bool
	round      int
	transcript []TranscriptEntry
	sub        *eventbus.Subscription
	monitoring bool
}

// New creates a World over the given bus and members.
func New(bus eventbus.Bus, opts Options, members ...Member) *World {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.InitialTime
	if now.IsZero() {
		now = time.Now()
	}
	name := opts.Name
	if name == "" {
		name = "world"
	}
	return &World{
		name:                name,
		bus:                 bus,
		logger:              logger,
		isMeeting:           opts.IsMeeting,
		broadcastIfNoTarget: opts.BroadcastIfNoTarget,
		enableCEO:           opts.EnableCEOInterrupt,
		pause:               newGate(),
		members:             members,
		now:                 now,
	}
}

// Name returns the world's name.
func (w *World) Name() string { return w.name }

// Now returns the current simulated time.
func (w *World) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

// AddMember appends an agent to the population.
func (w *World) AddMember(m Member) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.members = append(w.members, m)
}

// Members returns the ordered population.
func (w *World) Members() []Member {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Member(nil), w.members...)
}

// IsMeeting reports whether TALK actions fan out to every attendee.
func (w *World) IsMeeting() bool { return w.isMeeting }

// IsRunning reports whether a Run loop is active.
func (w *World) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// IsPaused reports the pause flag.
func (w *World) IsPaused() bool { return w.pause.isPaused() }

// Transcript returns the merged action history so far.
func (w *World) Transcript() []TranscriptEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]TranscriptEntry(nil), w.transcript...)
}

// partition splits the population into async and legacy members. The
// type branch lives here and nowhere else.
func (w *World) partition() (asyncMembers []*agent.Async, syncMembers []core.Respondent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.members {
		switch v := m.(type) {
		case *agent.Async:
			asyncMembers = append(asyncMembers, v)
		case core.Respondent:
			syncMembers = append(syncMembers, v)
		}
	}
	return asyncMembers, syncMembers
}

// Step advances the clock by delta and runs every member's turn: async
// members concurrently, then legacy members in list order. One bad turn
// is logged per agent and does not abort the others. Returns the actions
// each agent produced this step.
func (w *World) Step(ctx context.Context, delta time.Duration, currentRound, totalRounds int) map[string][]core.Action {
	w.mu.Lock()
	w.now = w.now.Add(delta)
	w.round = currentRound
	w.mu.Unlock()

	asyncMembers, syncMembers := w.partition()
	opts := core.ActOptions{
		UntilDone:     true,
		ReturnActions: true,
		CurrentRound:  currentRound,
		TotalRounds:   totalRounds,
	}

	results := make(map[string][]core.Action)
	var resMu sync.Mutex

	var wg sync.WaitGroup
	for _, m := range asyncMembers {
		wg.Add(1)
		go func(m *agent.Async) {
			defer wg.Done()
			actions, err := w.asyncTurn(ctx, m, opts)
			if err != nil {
				w.logger.Printf("[%s] agent %s turn failed: %v", w.name, m.Name(), err)
			}
			resMu.Lock()
			results[m.Name()] = actions
			resMu.Unlock()
		}(m)
	}
	wg.Wait()

	// Merge async results in member order for deterministic handling.
	for _, m := range asyncMembers {
		w.handleActions(m.Name(), currentRound, results[m.Name()])
	}

	for _, m := range syncMembers {
		actions, err := m.Act(opts)
		if err != nil {
			w.logger.Printf("[%s] agent %s turn failed: %v", w.name, m.Name(), err)
			results[m.Name()] = nil
			continue
		}
		results[m.Name()] = actions
		w.handleActions(m.Name(), currentRound, actions)
	}
	return results
}

func (w *World) asyncTurn(ctx context.Context, m *agent.Async, opts core.ActOptions) ([]core.Action, error) {
	if err := w.pause.wait(ctx); err != nil {
		return nil, err
	}
	if m.InterruptPending() {
		m.ProcessPendingInterrupt(ctx)
	}
	actions, err := m.Act(ctx, opts)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// The agent's own operation was cancelled by an interrupt; the
		// step carries on with an empty turn.
		return nil, nil
	}
	return actions, err
}

// handleActions merges one agent's actions into the world: transcript
// recording plus TALK delivery. Meetings broadcast every TALK to all
// other attendees; otherwise delivery is targeted, with an optional
// broadcast fallback.
func (w *World) handleActions(source string, round int, actions []core.Action) {
	for _, act := range actions {
		w.mu.Lock()
		w.transcript = append(w.transcript, TranscriptEntry{
			Round:     round,
			Agent:     source,
			Action:    act,
			Timestamp: w.now,
		})
		w.mu.Unlock()

		if act.Type != core.ActionTalk {
			continue
		}
		switch {
		case w.isMeeting:
			w.broadcast(source, act.Content)
		case act.Target != "":
			if m := w.findMember(act.Target); m != nil {
				w.deliver(m, act.Content, source)
			} else if w.broadcastIfNoTarget {
				w.broadcast(source, act.Content)
			}
		case w.broadcastIfNoTarget:
			w.broadcast(source, act.Content)
		}
	}
}

func (w *World) findMember(name string) Member {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.members {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

func (w *World) broadcast(source, content string) {
	for _, m := range w.Members() {
		if m.Name() == source {
			continue
		}
		w.deliver(m, content, source)
	}
}

// deliver feeds a stimulus to a member through its synchronous Listen
// capability. Stimulus delivery inside a step is sequential; only the
// acting turns run concurrently.
func (w *World) deliver(m Member, content, source string) {
	var err error
	switch v := m.(type) {
	case *agent.Async:
		err = v.Inner().Listen(content, source, 0)
	case core.Respondent:
		err = v.Listen(content, source, 0)
	}
	if err != nil {
		w.logger.Printf("[%s] deliver to %s failed: %v", w.name, m.Name(), err)
	}
}

// RunResult collects per-step actions when requested.
type RunResult struct {
	StepActions []map[string][]core.Action
}

// Run executes the given number of steps, optionally starting CEO
// monitoring first and always tearing it down afterwards. Between steps
// it yields briefly so pending interrupts are observed. A stop command
// ends the loop early without error.
func (w *World) Run(ctx context.Context, steps int, delta time.Duration, returnActions bool) (*RunResult, error) {
	if w.enableCEO {
		w.StartCEOMonitoring()
	}
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		if w.enableCEO {
			w.StopCEOMonitoring()
		}
	}()

	res := &RunResult{}
	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := w.pause.wait(ctx); err != nil {
			return res, err
		}
		// Re-check after the gate: a stop command also reopens it.
		if !w.IsRunning() {
			w.logger.Printf("[%s] run stopped at round %d/%d", w.name, i, steps)
			break
		}
		w.logger.Printf("[%s] running step %d of %d", w.name, i, steps)
		actions := w.Step(ctx, delta, i, steps)
		if returnActions {
			res.StepActions = append(res.StepActions, actions)
		}
		// Give queued interrupts a delivery window before the next step.
		select {
		case <-time.After(interruptYield):
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
	return res, nil
}

// RunSync is the legacy stepping loop for worlds without async members.
// Worlds holding async members should use Run.
func (w *World) RunSync(steps int, delta time.Duration) map[string][]core.Action {
	asyncMembers, syncMembers := w.partition()
	if len(asyncMembers) > 0 {
		res, err := w.Run(context.Background(), steps, delta, true)
		if err == nil && len(res.StepActions) > 0 {
			return res.StepActions[len(res.StepActions)-1]
		}
		w.logger.Printf("[%s] async run failed, falling back to sync stepping: %v", w.name, err)
	}

	var last map[string][]core.Action
	for i := 1; i <= steps; i++ {
		w.mu.Lock()
		w.now = w.now.Add(delta)
		w.mu.Unlock()
		last = make(map[string][]core.Action)
		for _, m := range syncMembers {
			actions, err := m.Act(core.ActOptions{UntilDone: true, ReturnActions: true, CurrentRound: i, TotalRounds: steps})
			if err != nil {
				w.logger.Printf("[%s] agent %s turn failed: %v", w.name, m.Name(), err)
				continue
			}
			last[m.Name()] = actions
			w.handleActions(m.Name(), i, actions)
		}
	}
	return last
}

// StartCEOMonitoring subscribes the world to the interrupt channel.
func (w *World) StartCEOMonitoring() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.monitoring || w.bus == nil {
		return
	}
	w.sub = w.bus.Subscribe(core.EventCEOInterrupt, w.onCEOInterrupt)
	w.monitoring = true
	w.logger.Printf("[%s] CEO interrupt monitoring started", w.name)
}

// StopCEOMonitoring removes the interrupt subscription.
func (w *World) StopCEOMonitoring() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.monitoring {
		return
	}
	if w.bus != nil && w.sub != nil {
		w.bus.Unsubscribe(w.sub)
	}
	w.sub = nil
	w.monitoring = false
	w.logger.Printf("[%s] CEO interrupt monitoring stopped", w.name)
}

// onCEOInterrupt routes a directive to the matching world action.
// Steering and unrecognized directives are forwarded unchanged to every
// async member so agent-level context override can happen.
func (w *World) onCEOInterrupt(_ context.Context, ev core.Event) error {
	msg := ev.InterruptMessage()
	w.logger.Printf("[%s] CEO interrupt received: %s", w.name, msg)

	if ev.Resume() == core.ResumeEnd {
		w.StopRun()
		return nil
	}
	switch directive.Classify(msg) {
	case directive.KindPause:
		w.Pause()
	case directive.KindResume:
		w.Resume()
	case directive.KindStop:
		w.StopRun()
	default:
		asyncMembers, _ := w.partition()
		for _, m := range asyncMembers {
			m.HandleCEOInterrupt(ev)
		}
	}
	return nil
}

// Pause closes the pause gate and publishes a lifecycle event.
func (w *World) Pause() {
	w.pause.pause()
	w.logger.Printf("[%s] simulation paused", w.name)
	w.publishLifecycle(core.EventSimulationPause, nil)
}

// Resume reopens the pause gate and publishes a lifecycle event.
func (w *World) Resume() {
	w.pause.resume()
	w.logger.Printf("[%s] simulation resumed", w.name)
	w.publishLifecycle(core.EventSimulationResume, nil)
}

// StopRun ends the stepping loop at the next round boundary.
func (w *World) StopRun() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()
	// A paused world must still be able to stop.
	w.pause.resume()
	if wasRunning {
		w.logger.Printf("[%s] simulation stopped", w.name)
	}
	w.publishLifecycle(core.EventSimulationEnd, map[string]any{"reason": "ceo_interrupt"})
}

func (w *World) publishLifecycle(t core.EventType, data map[string]any) {
	if w.bus == nil {
		return
	}
	if err := w.bus.Publish(core.NewEvent(t, w.name, data)); err != nil {
		w.logger.Printf("[%s] publish lifecycle: %v", w.name, err)
	}
}

// Shutdown stops the run, the CEO monitoring and every async member's
// outstanding operations.
func (w *World) Shutdown() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.pause.resume()
	w.StopCEOMonitoring()

	asyncMembers, _ := w.partition()
	for _, m := range asyncMembers {
		m.Shutdown()
	}
	w.logger.Printf("[%s] shut down", w.name)
}
