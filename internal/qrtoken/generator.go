package qrtoken

import (
	"encoding/base64"
	"time"
)

// Renderer turns a code into a scannable image.
type Renderer interface {
	Render(value string) ([]byte, error)
}

// Code is what a display shows: the raw value, its image and when it rotates.
type Code struct {
	Token     Token
	Value     string
	Image     string // base64 PNG
	ExpiresAt time.Time
}

// Generator issues the current code for a gym.
type Generator struct {
	schedule Schedule
	renderer Renderer
}

// NewGenerator constructs a Generator.
func NewGenerator(schedule Schedule, renderer Renderer) *Generator {
	if renderer == nil {
		renderer = NewPNGRenderer(0)
	}
	return &Generator{schedule: schedule.normalize(), renderer: renderer}
}

// Schedule exposes the rotation settings.
func (g *Generator) Schedule() Schedule {
	return g.schedule
}

// Token returns the code value for gymID at now. Calls within the same slot
// return identical tokens.
func (g *Generator) Token(gymID string, now time.Time) (Token, error) {
	if err := CheckGymID(gymID); err != nil {
		return Token{}, err
	}
	return Token{GymID: gymID, Slot: g.schedule.SlotAt(now)}, nil
}

// Image renders tok as a PNG.
func (g *Generator) Image(tok Token) ([]byte, error) {
	return g.renderer.Render(tok.String())
}

// Code assembles the display payload from a token and its rendered image.
func (g *Generator) Code(tok Token, png []byte) Code {
	return Code{
		Token:     tok,
		Value:     tok.String(),
		Image:     base64.StdEncoding.EncodeToString(png),
		ExpiresAt: g.schedule.Expiry(tok.Slot),
	}
}

// Generate returns the current code for gymID including its image.
func (g *Generator) Generate(gymID string, now time.Time) (Code, error) {
	tok, err := g.Token(gymID, now)
	if err != nil {
		return Code{}, err
	}
	png, err := g.Image(tok)
	if err != nil {
		return Code{}, err
	}
	return g.Code(tok, png), nil
}
