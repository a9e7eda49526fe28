// Package persona models the company population: employee records, an
// organizational directory, and the language-model-backed Respondent
// that gives each record a voice.
package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"go-virtual-company/internal/core"
	"go-virtual-company/internal/llm"
)

// EmployeeRecord is the static definition of one employee.
type EmployeeRecord struct {
	Name        string         `yaml:"name" json:"name"`
	Role        string         `yaml:"role" json:"role"`
	Department  string         `yaml:"department" json:"department"`
	Manager     string         `yaml:"manager,omitempty" json:"manager,omitempty"`
	Persona     string         `yaml:"persona,omitempty" json:"persona,omitempty"`
	Skills      map[string]int `yaml:"skills,omitempty" json:"skills,omitempty"`
	Preferences map[string]int `yaml:"preferences,omitempty" json:"preferences,omitempty"`
}

// Employee is an LLM-backed Respondent. Listen accumulates stimuli into
// the conversation; Act asks the model for the next action. A CEO
// directive applied through ApplyDirective is injected into the system
// prompt until replaced.
type Employee struct {
	mu        sync.Mutex
	record    EmployeeRecord
	completer llm.Completer
	logger    *log.Logger
	history   []llm.Message
	directive string
}

// NewEmployee builds the Respondent for a record.
func NewEmployee(record EmployeeRecord, completer llm.Completer, logger *log.Logger) *Employee {
	if logger == nil {
		logger = log.Default()
	}
	return &Employee{record: record, completer: completer, logger: logger}
}

// Name returns the employee's name.
func (e *Employee) Name() string { return e.record.Name }

// Record returns a copy of the employee's static definition.
func (e *Employee) Record() EmployeeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record
}

// ApplyDirective replaces the active CEO directive.
func (e *Employee) ApplyDirective(d string) {
	e.mu.Lock()
	e.directive = d
	e.mu.Unlock()
	e.logger.Printf("employee %s: directive applied: %s", e.record.Name, d)
}

// Listen records a stimulus in the conversation history.
func (e *Employee) Listen(stimulus, source string, maxContentLength int) error {
	if maxContentLength > 0 && len(stimulus) > maxContentLength {
		stimulus = stimulus[:maxContentLength]
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := ""
	if source != "" {
		prefix = source + ": "
	}
	e.history = append(e.history, llm.Message{Role: "user", Content: prefix + stimulus})
	return nil
}

// actionEnvelope is the JSON shape the model is asked to answer with.
type actionEnvelope struct {
	Action struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Target  string `json:"target"`
	} `json:"action"`
}

const actFormat = `Respond with a JSON object {"action": {"type": "TALK"|"WORK"|"DONE", "content": "...", "target": "..."}} and nothing else. Use DONE when you have nothing further to contribute.`

// Act asks the model for actions until it signals DONE or the round
// budget runs out.
func (e *Employee) Act(opts core.ActOptions) ([]core.Action, error) {
	limit := opts.N
	if opts.UntilDone || limit <= 0 {
		limit = 6
	}
	var actions []core.Action
	for i := 0; i < limit; i++ {
		act, err := e.nextAction(opts)
		if err != nil {
			return actions, err
		}
		actions = append(actions, act)
		e.remember(act)
		if act.Type == core.ActionDone || !opts.UntilDone {
			break
		}
	}
	if opts.ReturnActions {
		return actions, nil
	}
	return nil, nil
}

// ListenAndAct composes Listen and Act as one turn.
func (e *Employee) ListenAndAct(stimulus string, opts core.ActOptions) ([]core.Action, error) {
	if err := e.Listen(stimulus, "", opts.MaxContentLength); err != nil {
		return nil, err
	}
	return e.Act(opts)
}

func (e *Employee) nextAction(opts core.ActOptions) (core.Action, error) {
	e.mu.Lock()
	messages := make([]llm.Message, 0, len(e.history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: e.systemPrompt(opts)})
	messages = append(messages, e.history...)
	e.mu.Unlock()

	resp, err := e.completer.Complete(context.Background(), llm.CompletionRequest{Messages: messages})
	if err != nil {
		return core.Action{}, fmt.Errorf("employee %s: %w", e.record.Name, err)
	}
	return parseAction(resp.Content), nil
}

func (e *Employee) systemPrompt(opts core.ActOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s in the %s department.", e.record.Name, e.record.Role, e.record.Department)
	if e.record.Persona != "" {
		b.WriteString(" " + e.record.Persona)
	}
	if e.directive != "" {
		fmt.Fprintf(&b, " PRIORITY DIRECTIVE FROM THE CEO: %s", e.directive)
	}
	if opts.TotalRounds > 0 {
		fmt.Fprintf(&b, " This is round %d of %d.", opts.CurrentRound, opts.TotalRounds)
		if opts.CurrentRound >= opts.TotalRounds-1 && opts.TotalRounds > 1 {
			b.WriteString(" The discussion is wrapping up: state conclusions and concrete action items, do not open new threads.")
		}
	}
	b.WriteString(" " + actFormat)
	return b.String()
}

func (e *Employee) remember(act core.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, llm.Message{
		Role:    "assistant",
		Content: fmt.Sprintf("[%s] %s", act.Type, act.Content),
	})
}

// parseAction decodes the action envelope, tolerating code fences and
// falling back to treating the raw text as a TALK.
func parseAction(content string) core.Action {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	var env actionEnvelope
	if err := json.Unmarshal([]byte(text), &env); err == nil && env.Action.Type != "" {
		return core.Action{
			Type:    strings.ToUpper(env.Action.Type),
			Content: env.Action.Content,
			Target:  env.Action.Target,
		}
	}
	if strings.EqualFold(text, "DONE") {
		return core.Action{Type: core.ActionDone}
	}
	return core.Action{Type: core.ActionTalk, Content: text}
}

var (
	_ core.Respondent        = (*Employee)(nil)
	_ core.DirectiveReceiver = (*Employee)(nil)
)
