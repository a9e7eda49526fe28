package eventbus

import (
	"log"
	"sync"
)

// The process-wide default bus has an explicit lifecycle: Initialize
// starts it, Shutdown stops it and resets the reference so a fresh
// instance is created next time. Components should still prefer an
// injected Bus; the default exists for wiring convenience at the edges.
var (
	defaultMu  sync.Mutex
	defaultBus *MemoryBus
)

// Default returns the process-wide bus, creating (but not starting) it
// on first use.
func Default() Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBus == nil {
		defaultBus = NewMemoryBus(DefaultLogCapacity, log.Default())
	}
	return defaultBus
}

// Initialize creates the default bus if needed and starts it.
func Initialize() Bus {
	b := Default()
	b.Start()
	return b
}

// Shutdown stops the default bus and clears the reference.
func Shutdown() {
	defaultMu.Lock()
	b := defaultBus
	defaultBus = nil
	defaultMu.Unlock()
	if b != nil {
		b.Stop()
	}
}
