package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-virtual-company/internal/core"
)

// collector gathers delivered events and signals when enough arrived.
type collector struct {
	mu     sync.Mutex
	events []core.Event
	want   int
	done   chan struct{}
}

func newCollector(want int) *collector {
	return &collector{want: want, done: make(chan struct{})}
}

func (c *collector) handle(_ context.Context, ev core.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	if len(c.events) == c.want {
		close(c.done)
	}
	return nil
}

func (c *collector) wait(t *testing.T) []core.Event {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for events")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Event(nil), c.events...)
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(0, nil)
	c := newCollector(1)
	bus.Subscribe(core.EventAgentMessage, c.handle)

	require.NoError(t, bus.Publish(core.NewEvent(core.EventAgentMessage, "alice", map[string]any{
		"action":  "speaking",
		"message": "hi",
	})))
	bus.Start()
	defer bus.Stop()

	got := c.wait(t)
	require.Len(t, got, 1)
	assert.Equal(t, "speaking", got[0].Data["action"])
	assert.Equal(t, "hi", got[0].Data["message"])
	assert.Equal(t, "alice", got[0].Source)
}

func TestPriorityOrdering(t *testing.T) {
	bus := NewMemoryBus(0, nil)
	c := newCollector(3)
	bus.Subscribe(core.EventAgentMessage, c.handle)

	// Enqueue before the processor drains so ordering is observable.
	for _, p := range []int{1, 100, 50} {
		ev := core.NewEvent(core.EventAgentMessage, "t", nil)
		ev.Priority = p
		require.NoError(t, bus.Publish(ev))
	}
	bus.Start()
	defer bus.Stop()

	got := c.wait(t)
	priorities := []int{got[0].Priority, got[1].Priority, got[2].Priority}
	assert.Equal(t, []int{100, 50, 1}, priorities)
}

func TestSamePriorityKeepsPublishOrder(t *testing.T) {
	bus := NewMemoryBus(0, nil)
	c := newCollector(3)
	bus.Subscribe(core.EventAgentMessage, c.handle)

	for i := 0; i < 3; i++ {
		ev := core.NewEvent(core.EventAgentMessage, "t", map[string]any{"n": i})
		require.NoError(t, bus.Publish(ev))
	}
	bus.Start()
	defer bus.Stop()

	got := c.wait(t)
	for i := 0; i < 3; i++ {
		assert.Equal(t, i, got[i].Data["n"])
	}
}

func TestFailingSubscriberDoesNotStarveOthers(t *testing.T) {
	bus := NewMemoryBus(0, nil)
	bus.Subscribe(core.EventAgentMessage, func(context.Context, core.Event) error {
		return errors.New("always broken")
	})
	c := newCollector(5)
	bus.Subscribe(core.EventAgentMessage, c.handle)

	bus.Start()
	defer bus.Stop()
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(core.NewEvent(core.EventAgentMessage, "t", map[string]any{"n": i})))
	}

	got := c.wait(t)
	assert.Len(t, got, 5)
}

func TestCEOInterruptConvenience(t *testing.T) {
	bus := NewMemoryBus(0, nil)
	c := newCollector(1)
	bus.Subscribe(core.EventCEOInterrupt, c.handle)
	bus.Start()
	defer bus.Stop()

	require.NoError(t, bus.PublishCEOInterrupt("wrap it up", true, core.ResumeEnd))

	got := c.wait(t)
	ev := got[0]
	assert.Equal(t, core.PriorityCEOInterrupt, ev.Priority)
	assert.Equal(t, "CEO", ev.Source)
	assert.Equal(t, "wrap it up", ev.InterruptMessage())
	assert.True(t, ev.OverrideContext())
	assert.Equal(t, core.ResumeEnd, ev.Resume())
}

func TestEventLogRingEviction(t *testing.T) {
	bus := NewMemoryBus(3, nil)
	for i := 0; i < 5; i++ {
		ev := core.NewEvent(core.EventAgentMessage, fmt.Sprintf("src-%d", i), nil)
		require.NoError(t, bus.Publish(ev))
	}

	logEntries := bus.EventLog()
	require.Len(t, logEntries, 3)
	// Oldest entries evicted first.
	assert.Equal(t, "src-2", logEntries[0]["source"])
	assert.Equal(t, "src-4", logEntries[2]["source"])

	bus.ClearEventLog()
	assert.Empty(t, bus.EventLog())
}

func TestWaitForEvent(t *testing.T) {
	bus := NewMemoryBus(0, nil)
	bus.Start()
	defer bus.Stop()

	// Timeout path.
	ev := bus.WaitForEvent(context.Background(), core.EventSimulationEnd, 50*time.Millisecond)
	assert.Nil(t, ev)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = bus.Publish(core.NewEvent(core.EventSimulationEnd, "world", nil))
	}()
	ev = bus.WaitForEvent(context.Background(), core.EventSimulationEnd, time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, "world", ev.Source)
}

func TestStartStopIdempotent(t *testing.T) {
	bus := NewMemoryBus(0, nil)
	bus.Start()
	bus.Start()
	bus.Stop()
	bus.Stop()

	// Publishing to a stopped bus still enqueues; delivery resumes on start.
	c := newCollector(1)
	bus.Subscribe(core.EventAgentMessage, c.handle)
	require.NoError(t, bus.Publish(core.NewEvent(core.EventAgentMessage, "t", nil)))
	bus.Start()
	defer bus.Stop()
	assert.Len(t, c.wait(t), 1)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(0, nil)
	removed := newCollector(1)
	sub := bus.Subscribe(core.EventAgentMessage, removed.handle)
	bus.Unsubscribe(sub)
	kept := newCollector(1)
	bus.Subscribe(core.EventAgentMessage, kept.handle)
	bus.Start()
	defer bus.Stop()

	require.NoError(t, bus.Publish(core.NewEvent(core.EventAgentMessage, "t", nil)))
	// The kept handler sees the event; the removed handler must not.
	kept.wait(t)
	removed.mu.Lock()
	defer removed.mu.Unlock()
	assert.Empty(t, removed.events)
}
