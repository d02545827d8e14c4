package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMaskPhone(t *testing.T) {
	require.Equal(t, "+***0001", MaskPhone("+15550000001"))
	require.Equal(t, "***6789", MaskPhone("123456789"))
	require.Equal(t, "***123", MaskPhone("123"))
	require.Equal(t, "n/a", MaskPhone(""))
}

func TestShortID(t *testing.T) {
	require.Equal(t, "f4d2aa", ShortID("3f9c1b7e-0000-4000-8000-9a81f7f4d2aa"))
	require.Equal(t, "abc", ShortID("abc"))
	require.Equal(t, "n/a", ShortID(""))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "exact", Truncate("exact", 5))

	cut := Truncate("abcdefghij", 5)
	require.Equal(t, "abcd…", cut)
	require.Len(t, []rune(cut), 5)

	// Rune-safe on multibyte input.
	cut = Truncate("héllö wörld", 6)
	require.Len(t, []rune(cut), 6)

	require.Equal(t, "", Truncate("anything", 0))
}

func TestTimeToString(t *testing.T) {
	require.Equal(t, "", TimeToString(nil))

	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	require.Equal(t, "2025-06-01T12:30:00Z", TimeToString(&ts))
}
