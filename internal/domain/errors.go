package domain

import "errors"

var (
	// ErrUnauthorized is returned when the actor's role does not allow the operation.
	ErrUnauthorized = errors.New("operation not permitted for role")
	// ErrNoGym is returned when the actor is not associated with a gym.
	ErrNoGym = errors.New("no gym associated with user")
	// ErrInvalidToken wraps qrtoken.ErrMalformedToken and qrtoken.ErrTokenNotCurrent.
	ErrInvalidToken = errors.New("invalid or expired attendance code")
	// ErrMemberNotFound is returned when no member profile exists for the actor.
	ErrMemberNotFound = errors.New("member record not found")
	// ErrMembershipInactive is returned when the member's membership is not active.
	ErrMembershipInactive = errors.New("membership is not active")
	// ErrConcurrentSession is returned when another transition for the same member and day won the race.
	ErrConcurrentSession = errors.New("concurrent attendance update")
	// ErrInvalidRange is returned for unusable report ranges.
	ErrInvalidRange = errors.New("invalid report range")
)
