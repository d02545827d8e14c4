package reminder

import "strings"

// Raw provider call statuses the engine interprets. Anything else is treated
// as an unclassified signal and recorded for audit only.
const (
	CallStatusCompleted = "completed"
	CallStatusNoAnswer  = "no-answer"
	CallStatusBusy      = "busy"
	CallStatusFailed    = "failed"
	CallStatusCanceled  = "canceled"
)

const (
	confirmDigit = "1"
	snoozeDigit  = "2"
)

// IsMissedStatus reports whether a raw call status means the contact was not
// reached.
func IsMissedStatus(raw string) bool {
	switch raw {
	case CallStatusNoAnswer, CallStatusBusy, CallStatusFailed, CallStatusCanceled:
		return true
	}

	return false
}

// ClassifyGather maps gathered DTMF digits and/or a speech transcript to an
// Intent. Digits are checked first; either signal alone is definitive.
func ClassifyGather(digits, speech string) Intent {
	digits = normalizeInput(digits)
	speech = normalizeInput(speech)

	switch {
	case digits == confirmDigit, strings.Contains(speech, "confirm"), speech == "yes":
		return IntentConfirm
	case digits == snoozeDigit, strings.Contains(speech, "snooze"), strings.Contains(speech, "call me in an hour"):
		return IntentSnooze
	}

	return IntentUnknown
}

func normalizeInput(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
