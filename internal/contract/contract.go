// Package contract validates the terms a market is created with: the
// question, its two outcome labels and the betting deadline.
package contract

import (
	"fmt"
	"time"

	"github.com/wagerproto/wager-engine/internal/model"
)

// Storage bounds for market text, in bytes.
const (
	MaxQuestionLen = 200
	MaxOutcomeLen  = 50
)

// Terms are the creator-supplied parameters of a market.
type Terms struct {
	Question string    `json:"question"`
	Outcomes []string  `json:"outcomes"`
	EndTime  time.Time `json:"end_time"`
}

// Validate checks terms against the bounds and the current time. The
// returned labels are the two outcomes in order.
func (t Terms) Validate(now time.Time) ([model.NumOutcomes]string, error) {
	var labels [model.NumOutcomes]string

	if len(t.Outcomes) != model.NumOutcomes {
		return labels, fmt.Errorf("%w: got %d", model.ErrInvalidOutcomes, len(t.Outcomes))
	}
	if !t.EndTime.After(now) {
		return labels, fmt.Errorf("%w: %s", model.ErrInvalidEndTime, t.EndTime.UTC().Format(time.RFC3339))
	}

	if len(t.Question) > MaxQuestionLen {
		return labels, fmt.Errorf("%w: longer than %d bytes", model.ErrInvalidQuestion, MaxQuestionLen)
	}

	// Labels are stored as given; nothing requires them to be distinct.
	for i, o := range t.Outcomes {
		if len(o) > MaxOutcomeLen {
			return labels, fmt.Errorf("%w: outcome %d longer than %d bytes", model.ErrInvalidOutcomeLabel, i, MaxOutcomeLen)
		}
		labels[i] = o
	}
	return labels, nil
}
