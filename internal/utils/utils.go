package utils

import (
	"strings"
	"time"
)

const (
	maskedPhoneSuffixLen = 4
	shortIDLen           = 6
)

// MaskPhone hides all but the last four digits of a phone number for logging.
func MaskPhone(phone string) string {
	if phone == "" {
		return "n/a"
	}

	suffix := phone
	if len(phone) > maskedPhoneSuffixLen {
		suffix = phone[len(phone)-maskedPhoneSuffixLen:]
	}

	if strings.HasPrefix(phone, "+") {
		return "+***" + suffix
	}

	return "***" + suffix
}

// ShortID returns the identifier's last six characters for compact log lines.
func ShortID(id string) string {
	if id == "" {
		return "n/a"
	}

	if len(id) <= shortIDLen {
		return id
	}

	return id[len(id)-shortIDLen:]
}

// Truncate caps a string at max runes, ellipsis included when cut.
func Truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}

	if max < 1 {
		return ""
	}

	return string(runes[:max-1]) + "…"
}

func TimeToString(t *time.Time) string {
	if t == nil {
		return ""
	}

	return t.Format(time.RFC3339)
}
