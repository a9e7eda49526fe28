package core

// Action is one unit of behavior produced by an agent during its turn.
type Action struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Target  string `json:"target,omitempty"`
}

// Well-known action types.
const (
	ActionTalk = "TALK"
	ActionDone = "DONE"
	ActionWork = "WORK"
)

// ActOptions carries the parameters of a single acting turn.
type ActOptions struct {
	UntilDone        bool
	N                int
	ReturnActions    bool
	MaxContentLength int
	CurrentRound     int
	TotalRounds      int
}

// Respondent is the synchronous capability surface every agent exposes:
// receive a stimulus, produce actions, or do both as one logical turn.
// Any object implementing it can join a World; the async execution layer
// wraps a Respondent without replacing it.
type Respondent interface {
	Name() string
	Listen(stimulus, source string, maxContentLength int) error
	Act(opts ActOptions) ([]Action, error)
	ListenAndAct(stimulus string, opts ActOptions) ([]Action, error)
}

// DirectiveReceiver is optionally implemented by Respondents whose working
// context can be overridden by a CEO directive mid-run.
type DirectiveReceiver interface {
	ApplyDirective(directive string)
}
