package qrtoken

import qrcode "github.com/skip2/go-qrcode"

// DefaultImageSize matches a version 1 code at ten pixels per module with a four module border.
const DefaultImageSize = 290

// PNGRenderer encodes codes as QR PNG images with low error correction.
type PNGRenderer struct {
	size  int
	level qrcode.RecoveryLevel
}

// NewPNGRenderer builds a renderer producing size x size images.
func NewPNGRenderer(size int) *PNGRenderer {
	if size <= 0 {
		size = DefaultImageSize
	}
	return &PNGRenderer{size: size, level: qrcode.Low}
}

// Render implements Renderer.
func (r *PNGRenderer) Render(value string) ([]byte, error) {
	return qrcode.Encode(value, r.level, r.size)
}
