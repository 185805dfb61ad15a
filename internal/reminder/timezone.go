package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Wall-clock layout for stored reminder times.
const TimeLayout = "2006-01-02 15:04"

// abbreviationZones maps common timezone abbreviations to IANA zone ids.
// Abbreviations are ambiguous in general; these pick the zones owners of this
// system actually mean.
var abbreviationZones = map[string]string{
	"GMT": "Europe/London",
	"BST": "Europe/London",
	"EST": "America/New_York",
	"EDT": "America/New_York",
	"CST": "America/Chicago",
	"CDT": "America/Chicago",
	"MST": "America/Denver",
	"MDT": "America/Denver",
	"PST": "America/Los_Angeles",
	"PDT": "America/Los_Angeles",
	"UTC": "UTC",
}

// NormalizeTimezone resolves a user-supplied zone to a loadable IANA id.
// Accepts abbreviations like "EST" as well as full ids.
func NormalizeTimezone(tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return "", fmt.Errorf("timezone cannot be empty")
	}
	if mapped, ok := abbreviationZones[strings.ToUpper(tz)]; ok {
		tz = mapped
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	return tz, nil
}

// DueAt converts a stored wall-clock time and zone to the UTC instant it
// represents today. The conversion happens on every check so a zone's DST
// rules apply as of now, not as of creation.
func DueAt(scheduledTime, timezoneID string) (time.Time, error) {
	loc, err := time.LoadLocation(timezoneID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load timezone %q: %w", timezoneID, err)
	}
	local, err := time.ParseInLocation(TimeLayout, scheduledTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse scheduled time %q: %w", scheduledTime, err)
	}
	return local.UTC(), nil
}
