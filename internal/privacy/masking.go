package privacy

import (
	"strings"

	"chatcourier/internal/constants"
)

// MaskOwnerID masks an owner identifier showing only the last 4 characters.
// Example: "+1234567890" -> "+******7890", "owner123456" -> "*******3456"
func MaskOwnerID(ownerID string) string {
	if ownerID == "" {
		return ""
	}

	if strings.HasPrefix(ownerID, "+") {
		if len(ownerID) <= constants.DefaultOwnerMaskLength+1 {
			return "+" + strings.Repeat("*", len(ownerID)-1)
		}
		return "+" + strings.Repeat("*", len(ownerID)-constants.DefaultOwnerMaskLength-1) +
			ownerID[len(ownerID)-constants.DefaultOwnerMaskLength:]
	}

	return maskString(ownerID, constants.DefaultOwnerMaskLength)
}

// MaskEventID masks an inbound event id while preserving enough for log
// correlation.
func MaskEventID(eventID string) string {
	return maskString(eventID, 8)
}

// maskString masks a string showing only the last n characters.
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
