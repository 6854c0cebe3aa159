package variation

import "github.com/Conceptual-Machines/magda-variations/internal/models"

// transitions is the complete table of legal status edges.
// Terminal states have no entry.
var transitions = map[models.Status][]models.Status{
	models.StatusCreated: {
		models.StatusStreaming,
		models.StatusDiscarded,
		models.StatusFailed,
		models.StatusExpired,
	},
	models.StatusStreaming: {
		models.StatusReady,
		models.StatusDiscarded,
		models.StatusFailed,
		models.StatusExpired,
	},
	models.StatusReady: {
		models.StatusCommitted,
		models.StatusDiscarded,
		models.StatusFailed,
		models.StatusExpired,
	},
}

// ValidateTransition returns an *InvalidTransitionError unless current -> next is a legal edge.
func ValidateTransition(current, next models.Status) error {
	for _, allowed := range transitions[current] {
		if allowed == next {
			return nil
		}
	}
	return &InvalidTransitionError{From: current, To: next}
}
