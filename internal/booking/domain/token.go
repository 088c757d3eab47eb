package domain

import (
	"strings"

	"github.com/google/uuid"
)

const (
	claimTokenTake = "take"
	tokenSeparator = "|"
)

// ClaimToken encodes the callback payload attached to the driver channel
// button. It carries only the booking id so fanned-out messages never hold
// contact data. Telegram limits callback data to 64 bytes; the token is 41.
func ClaimToken(id uuid.UUID) string {
	return claimTokenTake + tokenSeparator + id.String()
}

// ParseClaimToken extracts the booking id from a take token.
func ParseClaimToken(data string) (uuid.UUID, bool) {
	kind, rest, ok := strings.Cut(data, tokenSeparator)
	if !ok || kind != claimTokenTake {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// IsClaimToken reports whether data carries the take marker, well formed or not.
func IsClaimToken(data string) bool {
	return strings.HasPrefix(data, claimTokenTake+tokenSeparator)
}
