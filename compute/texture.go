package compute

import (
	"fmt"
	"math"

	"simfinder/types"
)

// Texture is an RGBA8 image uploaded to the device
type Texture struct {
	Width  int
	Height int
	pix    []byte
}

// NewTexture validates and wraps RGBA pixel data. The slice is not copied.
func (d *Device) NewTexture(rgba []byte, width, height int) (*Texture, error) {
	if !d.Available() {
		return nil, fmt.Errorf("%w: %s is closed", types.ErrDeviceUnavailable, d.name)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", types.ErrTextureAllocation, width, height)
	}

	size := int64(width) * int64(height) * 4
	if size > d.maxTextureBytes {
		return nil, fmt.Errorf("%w: %dx%d needs %d bytes, limit %d",
			types.ErrTextureAllocation, width, height, size, d.maxTextureBytes)
	}
	if int64(len(rgba)) != size {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d RGBA",
			types.ErrTextureAllocation, len(rgba), width, height)
	}

	return &Texture{Width: width, Height: height, pix: rgba}, nil
}

// Bytes returns the texture size in bytes
func (t *Texture) Bytes() int64 {
	return int64(len(t.pix))
}

func (t *Texture) clamp(x, y int) (int, int) {
	if x < 0 {
		x = 0
	} else if x >= t.Width {
		x = t.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= t.Height {
		y = t.Height - 1
	}
	return x, y
}

// RGB samples normalized channels with clamp-to-edge addressing
func (t *Texture) RGB(x, y int) (r, g, b float32) {
	x, y = t.clamp(x, y)
	i := (y*t.Width + x) * 4
	return float32(t.pix[i]) / 255, float32(t.pix[i+1]) / 255, float32(t.pix[i+2]) / 255
}

// Luma returns Rec.601 luma in [0, 1]
func (t *Texture) Luma(x, y int) float32 {
	r, g, b := t.RGB(x, y)
	return 0.299*r + 0.587*g + 0.114*b
}

// LumaAt samples the nearest texel to a fractional position
func (t *Texture) LumaAt(fx, fy float64) float32 {
	return t.Luma(int(math.Round(fx)), int(math.Round(fy)))
}
