package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Scalar is a structured answer: the coerced value plus the model's
// reasoning and self-assessed confidence.
type Scalar struct {
	Value         any     `json:"value"`
	Justification string  `json:"justification"`
	Confidence    float64 `json:"confidence"`
}

const scalarInstruction = `Answer with a single JSON object of the form
{"value": <answer>, "justification": "<one sentence>", "confidence": <0.0-1.0>}
and nothing else.`

// askScalar appends the structured-answer instruction, completes, and
// parses the JSON envelope.
func askScalar(ctx context.Context, c Completer, req CompletionRequest) (Scalar, error) {
	req.Messages = append(append([]Message{}, req.Messages...), Message{
		Role:    "system",
		Content: scalarInstruction,
	})
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return Scalar{}, err
	}
	var s Scalar
	text := stripFences(resp.Content)
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return Scalar{}, fmt.Errorf("parse scalar answer %q: %w", resp.Content, err)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		s.Confidence = math.Max(0, math.Min(1, s.Confidence))
	}
	return s, nil
}

// CompleteBool coerces the answer to a boolean. Accepts JSON booleans
// and yes/no or true/false strings.
func CompleteBool(ctx context.Context, c Completer, req CompletionRequest) (Scalar, error) {
	s, err := askScalar(ctx, c, req)
	if err != nil {
		return Scalar{}, err
	}
	switch v := s.Value.(type) {
	case bool:
		return s, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			s.Value = true
			return s, nil
		case "false", "no":
			s.Value = false
			return s, nil
		}
	}
	return Scalar{}, fmt.Errorf("cannot coerce %v to bool", s.Value)
}

// CompleteInt coerces the answer to an int.
func CompleteInt(ctx context.Context, c Completer, req CompletionRequest) (Scalar, error) {
	s, err := askScalar(ctx, c, req)
	if err != nil {
		return Scalar{}, err
	}
	switch v := s.Value.(type) {
	case float64:
		s.Value = int(v)
		return s, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			s.Value = n
			return s, nil
		}
	}
	return Scalar{}, fmt.Errorf("cannot coerce %v to int", s.Value)
}

// CompleteFloat coerces the answer to a float64.
func CompleteFloat(ctx context.Context, c Completer, req CompletionRequest) (Scalar, error) {
	s, err := askScalar(ctx, c, req)
	if err != nil {
		return Scalar{}, err
	}
	switch v := s.Value.(type) {
	case float64:
		return s, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			s.Value = f
			return s, nil
		}
	}
	return Scalar{}, fmt.Errorf("cannot coerce %v to float", s.Value)
}

// CompleteEnum coerces the answer to one of the allowed options,
// matching case-insensitively.
func CompleteEnum(ctx context.Context, c Completer, req CompletionRequest, options []string) (Scalar, error) {
	s, err := askScalar(ctx, c, req)
	if err != nil {
		return Scalar{}, err
	}
	raw, ok := s.Value.(string)
	if !ok {
		return Scalar{}, fmt.Errorf("cannot coerce %v to enum", s.Value)
	}
	for _, opt := range options {
		if strings.EqualFold(strings.TrimSpace(raw), opt) {
			s.Value = opt
			return s, nil
		}
	}
	return Scalar{}, fmt.Errorf("value %q not among options %v", raw, options)
}

// stripFences removes a markdown code fence wrapper if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
