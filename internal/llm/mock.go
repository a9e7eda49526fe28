package llm

import (
	"context"
	"sync"
)

// Mock is a scripted Completer for tests. Responses are returned in
// order; the last one repeats once the script runs out.
type Mock struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Requests  []CompletionRequest
}

func (m *Mock) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &CompletionResponse{Content: ""}, nil
	}
	idx := len(m.Requests) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return &CompletionResponse{Content: m.Responses[idx]}, nil
}

// Calls returns how many completions have been requested.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

var _ Completer = (*Mock)(nil)
