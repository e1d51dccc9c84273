package waitflow

import (
	"time"
)

// CalculateBackoff calculates the backoff delay for a retry attempt.
// It supports three strategies:
//   - EXPONENTIAL: baseDelay * 2^(attempt-1)
//   - LINEAR: baseDelay * attempt
//   - NONE: no backoff delay
//
// attempt is the 0-based attempt about to run; attempt 0 never waits.
func CalculateBackoff(baseDelayMs int, attempt int, strategy BackoffStrategy) time.Duration {
	if attempt <= 0 {
		return 0
	}

	baseDelay := time.Duration(baseDelayMs) * time.Millisecond

	switch strategy {
	case BackoffExponential:
		multiplier := 1 << (attempt - 1)
		return baseDelay * time.Duration(multiplier)
	case BackoffLinear:
		return baseDelay * time.Duration(attempt)
	case BackoffNone:
		return 0
	default:
		return baseDelay * time.Duration(attempt)
	}
}

// ReplayHistory folds a history into the status and current step it ends
// in. Each entry carries the values after its transition, so the last entry
// decides; an empty history is a freshly created instance.
func ReplayHistory(history []HistoryEntry) (Status, string) {
	status, step := StatusCreated, ""
	for _, h := range history {
		status = h.Status
		step = h.CurrentStep
	}
	return status, step
}

// Transitions returns the (status, currentStep) sequence recorded in a
// history, collapsing consecutive duplicates
func Transitions(history []HistoryEntry) []HistoryEntry {
	var out []HistoryEntry
	for _, h := range history {
		if n := len(out); n > 0 && out[n-1].Status == h.Status && out[n-1].CurrentStep == h.CurrentStep {
			continue
		}
		out = append(out, HistoryEntry{Status: h.Status, CurrentStep: h.CurrentStep})
	}
	return out
}
