package agent

import "github.com/agentsmithy/agentsmithy/internal/providers"

// OutcomeKind tags how a loop run ended. The caller decides what to emit
// from the tag instead of parsing error strings.
type OutcomeKind int

const (
	// OutcomeCompleted: the model produced a terminal text answer with no
	// tool calls left to run.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeStreamFailed: the LLM stream itself raised (network, 4xx/5xx,
	// context window). Terminal for this turn.
	OutcomeStreamFailed
	// OutcomeErrorBudgetExhausted: too many consecutive recoverable tool
	// errors. Terminal for this turn.
	OutcomeErrorBudgetExhausted
	// OutcomeCanceled: the run context was canceled (client disconnect or
	// server shutdown).
	OutcomeCanceled
)

// Outcome is the result of one Run. Content is the final accumulated
// assistant text; Err is set for the failure kinds.
type Outcome struct {
	Kind       OutcomeKind
	Content    string
	Err        error
	Iterations int
	Usage      *providers.Usage // last usage snapshot seen, if any
	// AssistantPersisted is true when the loop itself wrote assistant
	// messages (tool-call carriers) to history during the run.
	AssistantPersisted bool
}
