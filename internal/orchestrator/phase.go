package orchestrator

import "fmt"

// Phase is the top-level state of a project session.
type Phase string

const (
	PhaseForm       Phase = "form"
	PhaseGenerating Phase = "generating"
	PhaseReview     Phase = "review"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
)

// isValidTransition enforces the allowed phase machine edges.
func isValidTransition(from, to Phase) bool {
	switch from {
	case PhaseForm:
		return to == PhaseGenerating
	case PhaseGenerating:
		return to == PhaseReview || to == PhaseForm
	case PhaseReview:
		return to == PhaseFinalizing
	case PhaseFinalizing:
		return to == PhaseDone
	default:
		return false
	}
}

type transitionError struct {
	from, to Phase
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("invalid phase transition: %s -> %s", e.from, e.to)
}
