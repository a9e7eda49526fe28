// Package extraction pulls structured results out of a finished world:
// meeting outcomes, action items, decisions. The language model does the
// reading; this package owns the contract and the transcript rendering.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"go-virtual-company/internal/llm"
	"go-virtual-company/internal/world"
)

// Extractor turns a world transcript into a structured result keyed by
// the requested fields.
type Extractor interface {
	ExtractFromWorld(ctx context.Context, w *world.World, objective string, fields []string, hints map[string]string) (map[string]any, error)
}

// LLMExtractor is the production Extractor.
type LLMExtractor struct {
	completer llm.Completer
	logger    *log.Logger
}

// NewLLMExtractor builds an Extractor over the given completer.
func NewLLMExtractor(completer llm.Completer, logger *log.Logger) *LLMExtractor {
	if logger == nil {
		logger = log.Default()
	}
	return &LLMExtractor{completer: completer, logger: logger}
}

// ExtractFromWorld renders the transcript and asks the model for a JSON
// object containing exactly the requested fields.
func (x *LLMExtractor) ExtractFromWorld(ctx context.Context, w *world.World, objective string, fields []string, hints map[string]string) (map[string]any, error) {
	transcript := renderTranscript(w)
	if transcript == "" {
		x.logger.Printf("extraction: world %s has an empty transcript", w.Name())
	}

	resp, err := x.completer.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: buildPrompt(objective, fields, hints)},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract from world %s: %w", w.Name(), err)
	}

	result, err := parseResult(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("extract from world %s: %w", w.Name(), err)
	}
	// Missing fields come back empty rather than absent so callers can
	// range over what they asked for.
	for _, f := range fields {
		if _, ok := result[f]; !ok {
			result[f] = nil
		}
	}
	return result, nil
}

func buildPrompt(objective string, fields []string, hints map[string]string) string {
	var b strings.Builder
	b.WriteString("You are reading the transcript of a workplace discussion. ")
	b.WriteString("Extraction objective: " + objective + ". ")
	b.WriteString("Answer with a single JSON object with exactly these keys: ")
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f)
		if hint, ok := hints[f]; ok {
			fmt.Fprintf(&b, " (%s)", hint)
		}
	}
	b.WriteString(". No other text.")
	return b.String()
}

func renderTranscript(w *world.World) string {
	var b strings.Builder
	for _, entry := range w.Transcript() {
		if entry.Action.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "[round %d] %s (%s): %s\n", entry.Round, entry.Agent, entry.Action.Type, entry.Action.Content)
	}
	return b.String()
}

func parseResult(content string) (map[string]any, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("parse extraction result %q: %w", content, err)
	}
	return result, nil
}

// Mock is a canned Extractor for tests.
type Mock struct {
	Result map[string]any
	Err    error
	Calls  int
}

func (m *Mock) ExtractFromWorld(_ context.Context, _ *world.World, _ string, _ []string, _ map[string]string) (map[string]any, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

var (
	_ Extractor = (*LLMExtractor)(nil)
	_ Extractor = (*Mock)(nil)
)

// StringSlice coerces an extraction field to []string, tolerating the
// mixed types JSON decoding produces.
func StringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	default:
		return nil
	}
}
