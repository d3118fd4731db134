package qrtoken

import (
	"fmt"
	"time"
)

// Validator decides whether a presented code is acceptable for a gym.
type Validator struct {
	schedule Schedule
}

// NewValidator constructs a Validator.
func NewValidator(schedule Schedule) *Validator {
	return &Validator{schedule: schedule.normalize()}
}

// Validate returns nil when raw is acceptable for gymID at now, otherwise
// ErrMalformedToken or ErrTokenNotCurrent.
func (v *Validator) Validate(raw, gymID string, now time.Time) error {
	tok, err := Parse(raw)
	if err != nil {
		return err
	}
	if gymID == "" || tok.GymID != gymID {
		return fmt.Errorf("%w: issued for another gym", ErrTokenNotCurrent)
	}
	if !v.schedule.Accepts(tok.Slot, now) {
		return fmt.Errorf("%w: slot %d outside replay window", ErrTokenNotCurrent, tok.Slot)
	}
	return nil
}

// Accept is the boolean form of Validate.
func (v *Validator) Accept(raw, gymID string, now time.Time) bool {
	return v.Validate(raw, gymID, now) == nil
}
