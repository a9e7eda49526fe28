package eventbus

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"go-virtual-company/internal/core"
)

const (
	// DefaultLogCapacity bounds the audit log ring.
	DefaultLogCapacity = 1000

	// pollInterval is how often the dispatch loop wakes to check for
	// shutdown even when no publish signal arrives.
	pollInterval = 250 * time.Millisecond
)

// queued pairs an event with its enqueue sequence number so equal
// priorities dequeue in publish order.
type queued struct {
	ev  core.Event
	seq uint64
}

// eventHeap is a max-heap over (priority desc, seq asc).
type eventHeap []queued

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].ev.Priority != h[j].ev.Priority {
		return h[i].ev.Priority > h[j].ev.Priority
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(queued)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryBus is the in-process priority event bus. Publishing enqueues on
// a priority queue and appends to a bounded audit log; a background loop
// dequeues and fans events out concurrently to subscribers.
type MemoryBus struct {
	mu      sync.Mutex
	subs    map[core.EventType]map[uint64]Handler
	nextSub uint64
	queue   eventHeap
	seq     uint64
	logRing []core.Event
	logCap  int

	running bool
	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	logger  *log.Logger
}

// NewMemoryBus creates a bus with the given audit log capacity
// (DefaultLogCapacity when maxLogSize <= 0).
func NewMemoryBus(maxLogSize int, logger *log.Logger) *MemoryBus {
	if logger == nil {
		logger = log.Default()
	}
	if maxLogSize <= 0 {
		maxLogSize = DefaultLogCapacity
	}
	return &MemoryBus{
		subs:   make(map[core.EventType]map[uint64]Handler),
		logCap: maxLogSize,
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Subscribe registers a handler for an event kind. Subscribing to a kind
// nobody published yet is fine.
func (b *MemoryBus) Subscribe(kind core.EventType, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]Handler)
	}
	b.nextSub++
	b.subs[kind][b.nextSub] = h
	return &Subscription{id: b.nextSub, kind: kind}
}

// Unsubscribe removes a previously registered handler. Removing an
// unknown subscription is a no-op.
func (b *MemoryBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if hs, ok := b.subs[sub.kind]; ok {
		delete(hs, sub.id)
	}
}

// Publish appends the event to the audit log and enqueues it for
// delivery. The caller is never blocked on subscriber execution; a
// stopped bus accumulates events until started.
func (b *MemoryBus) Publish(ev core.Event) error {
	b.mu.Lock()
	if len(b.logRing) == b.logCap {
		copy(b.logRing, b.logRing[1:])
		b.logRing[len(b.logRing)-1] = ev
	} else {
		b.logRing = append(b.logRing, ev)
	}
	b.seq++
	heap.Push(&b.queue, queued{ev: ev, seq: b.seq})
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// PublishCEOInterrupt publishes the highest-priority interrupt event.
func (b *MemoryBus) PublishCEOInterrupt(message string, overrideContext bool, resume core.ResumeAction) error {
	return b.Publish(core.NewCEOInterrupt(message, overrideContext, resume))
}

// Start spins up the background dispatch loop. Idempotent.
func (b *MemoryBus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	go b.process(b.stopCh, b.done)
	b.logger.Println("eventbus: started")
}

// Stop cancels the dispatch loop and waits for it to exit. Idempotent.
func (b *MemoryBus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stop, done := b.stopCh, b.done
	b.mu.Unlock()

	close(stop)
	<-done
	b.logger.Println("eventbus: stopped")
}

func (b *MemoryBus) process(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if ev, ok := b.pop(); ok {
			b.deliver(ev)
			continue
		}
		select {
		case <-stop:
			return
		case <-b.wake:
		case <-ticker.C:
		}
	}
}

func (b *MemoryBus) pop() (core.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return core.Event{}, false
	}
	item := heap.Pop(&b.queue).(queued)
	return item.ev, true
}

// deliver fans one event out to every subscriber of its kind
// concurrently and waits for all of them. Handler failures are logged
// per handler and never suppress delivery to the others. No subscribers
// is a no-op.
func (b *MemoryBus) deliver(ev core.Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[ev.Type]))
	for _, h := range b.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Printf("eventbus: handler panic for %s: %v", ev.Type, r)
				}
			}()
			if err := h(context.Background(), ev); err != nil {
				b.logger.Printf("eventbus: handler error for %s: %v", ev.Type, err)
			}
		}(h)
	}
	wg.Wait()
}

// WaitForEvent returns the next event of the given kind, or nil once the
// timeout or context expires. A timeout <= 0 waits on the context alone.
func (b *MemoryBus) WaitForEvent(ctx context.Context, kind core.EventType, timeout time.Duration) *core.Event {
	ch := make(chan core.Event, 1)
	sub := b.Subscribe(kind, func(_ context.Context, ev core.Event) error {
		select {
		case ch <- ev:
		default:
		}
		return nil
	})
	defer b.Unsubscribe(sub)

	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case ev := <-ch:
		return &ev
	case <-expire:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// EventLog exports the retained audit log, oldest first.
func (b *MemoryBus) EventLog() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, 0, len(b.logRing))
	for _, ev := range b.logRing {
		out = append(out, ev.ToRecord())
	}
	return out
}

// ClearEventLog drops all retained audit entries.
func (b *MemoryBus) ClearEventLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logRing = b.logRing[:0]
}

var _ Bus = (*MemoryBus)(nil)
