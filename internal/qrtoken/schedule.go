// Package qrtoken produces and checks the rotating attendance codes a gym
// displays for members to scan.
//
// A code is a predictable value derived from the gym id and the current
// rotation slot. It carries no secret; freshness comes from rotation.
package qrtoken

import "time"

const (
	// DefaultWindow is the rotation period of a displayed code.
	DefaultWindow = 300 * time.Second
	// DefaultAcceptedSlots covers the current slot and the one before it.
	DefaultAcceptedSlots = 2
)

// Schedule describes how codes rotate and how long they stay acceptable.
type Schedule struct {
	Window        time.Duration
	AcceptedSlots int
}

// DefaultSchedule returns the five minute rotation with a two slot replay window.
func DefaultSchedule() Schedule {
	return Schedule{Window: DefaultWindow, AcceptedSlots: DefaultAcceptedSlots}
}

func (s Schedule) normalize() Schedule {
	if s.Window < time.Second {
		s.Window = DefaultWindow
	}
	if s.AcceptedSlots <= 0 {
		s.AcceptedSlots = DefaultAcceptedSlots
	}
	return s
}

func (s Schedule) windowSeconds() int64 {
	return int64(s.normalize().Window / time.Second)
}

// SlotAt returns the start of the slot containing now, in epoch seconds.
func (s Schedule) SlotAt(now time.Time) int64 {
	w := s.windowSeconds()
	unix := now.Unix()
	slot := unix / w * w
	if unix < 0 && unix%w != 0 {
		slot -= w
	}
	return slot
}

// Expiry is the instant the given slot stops being the current one.
func (s Schedule) Expiry(slot int64) time.Time {
	return time.Unix(slot+s.windowSeconds(), 0).UTC()
}

// Accepts reports whether slot is inside the replay window at now.
func (s Schedule) Accepts(slot int64, now time.Time) bool {
	s = s.normalize()
	w := s.windowSeconds()
	current := s.SlotAt(now)
	for i := 0; i < s.AcceptedSlots; i++ {
		if slot == current-int64(i)*w {
			return true
		}
	}
	return false
}
