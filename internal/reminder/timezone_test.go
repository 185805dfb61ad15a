package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTimezone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"America/New_York", "America/New_York"},
		{"EST", "America/New_York"},
		{"est", "America/New_York"},
		{"PST", "America/Los_Angeles"},
		{"GMT", "Europe/London"},
		{"BST", "Europe/London"},
		{"UTC", "UTC"},
		{" Europe/Berlin ", "Europe/Berlin"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeTimezone(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNormalizeTimezone_Invalid(t *testing.T) {
	for _, input := range []string{"", "Not/AZone", "XYZ"} {
		_, err := NormalizeTimezone(input)
		assert.Error(t, err, input)
	}
}

func TestDueAt(t *testing.T) {
	// 09:00 New York winter time is 14:00 UTC.
	due, err := DueAt("2026-01-15 09:00", "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC), due)

	// The same wall clock in summer is 13:00 UTC: DST applies.
	due, err = DueAt("2026-07-15 09:00", "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 15, 13, 0, 0, 0, time.UTC), due)
}

func TestDueAt_Invalid(t *testing.T) {
	_, err := DueAt("not a time", "UTC")
	assert.Error(t, err)

	_, err = DueAt("2026-01-15 09:00", "Not/AZone")
	assert.Error(t, err)
}
