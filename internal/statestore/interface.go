// Package statestore persists orchestrator run state so long simulations
// can be checkpointed and resumed across processes.
package statestore

import (
	"context"
	"time"
)

// Update is a change notification emitted when a key is written.
type Update struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Store defines the versioned persistence operations the orchestrator
// relies on. Every write bumps the key's version.
type Store interface {
	Put(ctx context.Context, key string, value any, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string, out any) (int64, error)
	Txn(ctx context.Context, values map[string]any, ttl time.Duration) error
	Watch(ctx context.Context, pattern string) (<-chan Update, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// RunKey names the checkpoint slot for one orchestrator run.
func RunKey(runID string) string { return "vcomp:run:" + runID }

// ReportKey names the archived final report for one orchestrator run.
func ReportKey(runID string) string { return "vcomp:report:" + runID }
