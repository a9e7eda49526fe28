// Package ceo reads executive directives from a line-oriented input
// stream and turns them into interrupt events on the bus. Reading from
// an io.Reader keeps the console fully testable; production wires stdin.
package ceo

import (
	"bufio"
	"context"
	"io"
	"log"
	"strings"
	"sync"

	"go-virtual-company/internal/core"
	"go-virtual-company/internal/directive"
	"go-virtual-company/internal/eventbus"
)

// Console monitors an input stream for CEO directives.
type Console struct {
	bus    eventbus.Bus
	in     io.Reader
	logger *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConsole builds a console over the given input stream.
func NewConsole(bus eventbus.Bus, in io.Reader, logger *log.Logger) *Console {
	if logger == nil {
		logger = log.Default()
	}
	return &Console{bus: bus, in: in, logger: logger}
}

// Start begins reading lines until the input ends or Stop is called.
func (c *Console) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop(ctx)
	c.logger.Println("ceo console: monitoring started")
}

// Stop ends monitoring. Reads already in flight finish with the stream.
func (c *Console) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Println("ceo console: monitoring stopped")
}

// Done is closed when the read loop exits, including on EOF.
func (c *Console) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Console) loop(ctx context.Context) {
	defer close(c.done)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.Submit(line)
		}
	}
}

// Submit publishes one directive line as an interrupt. Blank lines are
// ignored. Exposed so programmatic callers can bypass the stream.
func (c *Console) Submit(line string) {
	text := strings.TrimSpace(line)
	if text == "" {
		return
	}

	kind := directive.Classify(text)
	resume := core.ResumeContinue
	override := false
	switch kind {
	case directive.KindStop:
		resume = core.ResumeEnd
	case directive.KindSteer:
		resume = core.ResumeSteer
		override = true
	case directive.KindAdjust, directive.KindUnknown:
		override = true
	}

	if err := c.bus.PublishCEOInterrupt(text, override, resume); err != nil {
		c.logger.Printf("ceo console: publish directive: %v", err)
		return
	}
	c.logger.Printf("ceo console: directive published (%s): %s", kind, text)
}
