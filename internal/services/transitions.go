package services

import (
	"errors"
	"fmt"
	"slices"

	"github.com/diewo77/go-heatcrm/internal/models"
)

var ErrInvalidTransition = errors.New("invalid quote transition")

// quoteTransitions lists the moves allowed in strict mode. Accepted, rejected
// and expired are terminal.
var quoteTransitions = map[models.QuoteStatus][]models.QuoteStatus{
	models.QuoteDraft:  {models.QuoteSent},
	models.QuoteSent:   {models.QuoteViewed, models.QuoteAccepted, models.QuoteRejected, models.QuoteExpired},
	models.QuoteViewed: {models.QuoteAccepted, models.QuoteRejected, models.QuoteExpired},
}

func CanTransition(from, to models.QuoteStatus) bool {
	return slices.Contains(quoteTransitions[from], to)
}

type TransitionError struct {
	From, To models.QuoteStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("quote cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
