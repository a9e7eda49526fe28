package core

// AgentState is the execution state of an agent's async wrapper. It is
// owned exclusively by the agent and only mutated inside its own
// operation lock.
type AgentState string

const (
	StateIdle              AgentState = "IDLE"
	StateListening         AgentState = "LISTENING"
	StateActing            AgentState = "ACTING"
	StateInterruptHandling AgentState = "INTERRUPT_HANDLING"
)

// InterruptContext is the transient record an agent keeps between
// receiving a CEO interrupt and processing it.
type InterruptContext struct {
	Message         string
	OverrideContext bool
	Resume          ResumeAction
	TimestampISO    string
}
