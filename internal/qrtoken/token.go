package qrtoken

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Namespace prefixes every attendance code.
	Namespace = "GYMBLE_ATTENDANCE"
	// Delimiter separates the code fields. Gym ids may not contain it.
	Delimiter = ":"
)

var (
	// ErrMalformedToken is returned when a presented code cannot be parsed.
	ErrMalformedToken = errors.New("malformed attendance code")
	// ErrTokenNotCurrent is returned for a well formed code issued for another gym or outside the replay window.
	ErrTokenNotCurrent = errors.New("attendance code is not current")
	// ErrInvalidGymID is returned when a gym id cannot be embedded in a code.
	ErrInvalidGymID = errors.New("invalid gym id")
)

// Token is the decoded form of an attendance code.
type Token struct {
	GymID string
	Slot  int64
}

// String renders the wire form of the token.
func (t Token) String() string {
	return Namespace + Delimiter + t.GymID + Delimiter + strconv.FormatInt(t.Slot, 10)
}

// Parse decodes a presented code. It never panics.
func Parse(raw string) (Token, error) {
	parts := strings.Split(raw, Delimiter)
	if len(parts) != 3 || parts[0] != Namespace {
		return Token{}, ErrMalformedToken
	}
	slot, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: slot %q", ErrMalformedToken, parts[2])
	}
	tok := Token{GymID: parts[1], Slot: slot}
	// Only the exact form String produces is accepted: no sign, no leading zeros.
	if tok.String() != raw {
		return Token{}, fmt.Errorf("%w: slot %q is not in canonical form", ErrMalformedToken, parts[2])
	}
	return tok, nil
}

// CheckGymID reports whether id can be embedded in a code.
func CheckGymID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidGymID)
	}
	if strings.Contains(id, Delimiter) {
		return fmt.Errorf("%w: contains %q", ErrInvalidGymID, Delimiter)
	}
	return nil
}
