package contract

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wagerproto/wager-engine/internal/model"
)

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestValidate_Valid(t *testing.T) {
	terms := Terms{
		Question: "  Will it rain in Lisbon on Oct 20?  ",
		Outcomes: []string{"Yes", " No "},
		EndTime:  now.Add(24 * time.Hour),
	}
	labels, err := terms.Validate(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if labels[0] != "Yes" || labels[1] != " No " {
		t.Errorf("expected labels stored as given, got %q", labels)
	}
}

func TestValidate_AcceptsUnconstrainedText(t *testing.T) {
	tests := []struct {
		name  string
		terms Terms
	}{
		{"identical labels", Terms{"Heads or heads?", []string{"Yes", "Yes"}, now.Add(time.Hour)}},
		{"empty question", Terms{"", []string{"a", "b"}, now.Add(time.Hour)}},
		{"empty labels", Terms{"q?", []string{"", ""}, now.Add(time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, err := tt.terms.Validate(now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if labels[0] != tt.terms.Outcomes[0] || labels[1] != tt.terms.Outcomes[1] {
				t.Errorf("expected labels %q, got %q", tt.terms.Outcomes, labels)
			}
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	future := now.Add(time.Hour)
	tests := []struct {
		name  string
		terms Terms
		want  error
	}{
		{"one outcome", Terms{"q?", []string{"Yes"}, future}, model.ErrInvalidOutcomes},
		{"three outcomes", Terms{"q?", []string{"a", "b", "c"}, future}, model.ErrInvalidOutcomes},
		{"end time now", Terms{"q?", []string{"a", "b"}, now}, model.ErrInvalidEndTime},
		{"end time past", Terms{"q?", []string{"a", "b"}, now.Add(-time.Second)}, model.ErrInvalidEndTime},
		{"long question", Terms{strings.Repeat("x", MaxQuestionLen+1), []string{"a", "b"}, future}, model.ErrInvalidQuestion},
		{"long label", Terms{"q?", []string{strings.Repeat("y", MaxOutcomeLen+1), "b"}, future}, model.ErrInvalidOutcomeLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.terms.Validate(now)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_BoundaryLengths(t *testing.T) {
	terms := Terms{
		Question: strings.Repeat("q", MaxQuestionLen),
		Outcomes: []string{strings.Repeat("a", MaxOutcomeLen), "b"},
		EndTime:  now.Add(time.Nanosecond),
	}
	if _, err := terms.Validate(now); err != nil {
		t.Errorf("max-length terms should be valid: %v", err)
	}
}
