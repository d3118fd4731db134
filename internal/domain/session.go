package domain

import (
	"context"
	"fmt"
	"time"
)

// SessionState is the attendance state of one member on one day.
//
//	NoSession --scan--> Open --scan--> Closed --scan--> Open (new record)
//
// A new day starts again at NoSession.
type SessionState string

const (
	SessionNone   SessionState = "not_checked_in"
	SessionOpen   SessionState = "checked_in"
	SessionClosed SessionState = "checked_out"
)

// Transition is the action a scan resolves to.
type Transition string

const (
	TransitionCheckIn  Transition = "check_in"
	TransitionCheckOut Transition = "check_out"
)

// StateOf derives the day state from the member's latest record of the day.
func StateOf(latest *AttendanceRecord) SessionState {
	switch {
	case latest == nil:
		return SessionNone
	case latest.IsOpen():
		return SessionOpen
	default:
		return SessionClosed
	}
}

// Next returns the transition a scan triggers from s.
func (s SessionState) Next() Transition {
	if s == SessionOpen {
		return TransitionCheckOut
	}
	return TransitionCheckIn
}

// SessionKey scopes the at-most-one-open-session rule.
type SessionKey struct {
	GymID    string
	MemberID string
	Day      Day
}

// String is a stable identifier for locking.
func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.GymID, k.MemberID, k.Day.Key())
}

// Presentation is one accepted scan by a member.
type Presentation struct {
	Member Member
	Token  string
	Client ClientMetadata
	At     time.Time
}

// SessionChange is the outcome of applying a presentation.
type SessionChange struct {
	Transition Transition
	Record     AttendanceRecord
}

// SessionMutator computes the change for a key given its open record, if any.
// Stores call it while holding exclusive access to the key.
type SessionMutator func(open *AttendanceRecord) (SessionChange, error)

// SessionStore runs a mutator atomically for one key: the open-record lookup
// and the resulting insert or close must not interleave with another
// mutation of the same key. A store that detects a lost race returns
// ErrConcurrentSession and persists nothing.
type SessionStore interface {
	ApplySession(ctx context.Context, key SessionKey, mutate SessionMutator) (SessionChange, error)
}

// Advance applies p to the open record of its day. With no open record a new
// one is created; otherwise the open one is closed.
func Advance(open *AttendanceRecord, p Presentation, newID func() string) SessionChange {
	if open == nil || !open.IsOpen() {
		return SessionChange{
			Transition: TransitionCheckIn,
			Record: AttendanceRecord{
				ID:          newID(),
				GymID:       p.Member.GymID,
				MemberID:    p.Member.ID,
				MemberName:  p.Member.Name,
				CheckInTime: p.At,
				Token:       p.Token,
				Client:      p.Client,
			},
		}
	}

	closed := *open
	out := p.At
	minutes := DurationMinutes(open.CheckInTime, out)
	closed.CheckOutTime = &out
	closed.DurationMinutes = &minutes
	return SessionChange{Transition: TransitionCheckOut, Record: closed}
}

// DurationMinutes returns whole minutes between in and out, truncated; never negative.
func DurationMinutes(in, out time.Time) int {
	d := out.Sub(in)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
