package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/tunnel"
)

// Glyph is the symbol drawn inside the tray shield.
type Glyph int

const (
	GlyphLock Glyph = iota
	GlyphCheck
	GlyphDots
)

// IconConfig defines the configuration for icon generation.
type IconConfig struct {
	Size        int
	FillColor   color.RGBA
	BorderColor color.RGBA
	AccentColor color.RGBA
	SymbolColor color.RGBA
	Glyph       Glyph
}

// ActiveIconConfig is used while the current tunnel is up.
func ActiveIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{56, 142, 60, 255},
		BorderColor: color.RGBA{76, 175, 80, 255},
		AccentColor: color.RGBA{200, 230, 201, 255},
		SymbolColor: color.RGBA{255, 255, 255, 255},
		Glyph:       GlyphCheck,
	}
}

// BusyIconConfig is used while a tunnel is changing state.
func BusyIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{239, 108, 0, 255},
		BorderColor: color.RGBA{255, 167, 38, 255},
		AccentColor: color.RGBA{255, 224, 178, 255},
		SymbolColor: color.RGBA{255, 255, 255, 255},
		Glyph:       GlyphDots,
	}
}

// InactiveIconConfig is used when no tunnel is in operation.
func InactiveIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{117, 117, 117, 255},
		BorderColor: color.RGBA{158, 158, 158, 255},
		AccentColor: color.RGBA{189, 189, 189, 255},
		SymbolColor: color.RGBA{255, 255, 255, 255},
		Glyph:       GlyphLock,
	}
}

// IconGenerator generates PNG icons for the system tray.
type IconGenerator struct {
	config IconConfig
}

// NewIconGenerator creates a new icon generator with the given config.
func NewIconGenerator(config IconConfig) *IconGenerator {
	return &IconGenerator{config: config}
}

// Image draws the icon.
func (g *IconGenerator) Image() *image.RGBA {
	size := g.config.Size
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	g.drawShield(img)
	switch g.config.Glyph {
	case GlyphCheck:
		g.drawCheckmark(img)
	case GlyphDots:
		g.drawDots(img)
	default:
		g.drawLock(img)
	}
	return img
}

// Generate encodes the icon as PNG.
func (g *IconGenerator) Generate() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, g.Image()); err != nil {
		common.LogWarn("Failed to encode tray icon: %v", err)
		return nil
	}
	return buf.Bytes()
}

func (g *IconGenerator) drawShield(img *image.RGBA) {
	size := g.config.Size
	centerX := float64(size) / 2
	topY := 1.0
	bottomY := float64(size) - 2
	shieldWidth := float64(size) - 4

	inside := func(x, y float64) bool {
		relY := (y - topY) / (bottomY - topY)
		if relY < 0 || relY > 1 {
			return false
		}

		var halfWidth float64
		if relY < 0.5 {
			halfWidth = shieldWidth/2 - relY*0.5
		} else {
			progress := (relY - 0.5) * 2
			halfWidth = (shieldWidth/2 - 0.25) * (1 - progress*progress)
		}
		return x >= centerX-halfWidth && x <= centerX+halfWidth
	}

	for y := range size {
		for x := range size {
			fx, fy := float64(x)+0.5, float64(y)+0.5
			if !inside(fx, fy) {
				continue
			}
			switch {
			case !inside(fx-1, fy) || !inside(fx+1, fy) || !inside(fx, fy-1) || !inside(fx, fy+1):
				img.Set(x, y, g.config.BorderColor)
			case float64(y)/float64(size) < 0.3:
				img.Set(x, y, g.config.AccentColor)
			default:
				img.Set(x, y, g.config.FillColor)
			}
		}
	}
}

func (g *IconGenerator) set(img *image.RGBA, x, y int) {
	if x >= 0 && x < g.config.Size && y >= 0 && y < g.config.Size {
		img.Set(x, y, g.config.SymbolColor)
	}
}

func (g *IconGenerator) drawCheckmark(img *image.RGBA) {
	points := [][2]int{
		{6, 11}, {7, 11}, {7, 12}, {8, 12}, {8, 13}, {9, 13},
		{9, 12}, {10, 12}, {10, 11}, {11, 11}, {11, 10}, {12, 10},
		{12, 9}, {13, 9}, {13, 8}, {14, 8},
	}
	for _, p := range points {
		g.set(img, p[0], p[1])
	}
}

// drawDots draws three 2x2 dots across the middle of the shield.
func (g *IconGenerator) drawDots(img *image.RGBA) {
	y := g.config.Size / 2
	for _, x := range []int{6, 10, 14} {
		for dy := range 2 {
			for dx := range 2 {
				g.set(img, x+dx, y+dy)
			}
		}
	}
}

func (g *IconGenerator) drawLock(img *image.RGBA) {
	// body
	for y := 10; y <= 15; y++ {
		for x := 8; x <= 14; x++ {
			if y == 10 || y == 15 || x == 8 || x == 14 {
				g.set(img, x, y)
			}
		}
	}
	// shackle
	for y := 6; y <= 8; y++ {
		g.set(img, 9, y)
		g.set(img, 13, y)
	}
	for x := 9; x <= 13; x++ {
		g.set(img, x, 6)
	}
}

var (
	activeIcon   = sync.OnceValue(func() []byte { return NewIconGenerator(ActiveIconConfig()).Generate() })
	busyIcon     = sync.OnceValue(func() []byte { return NewIconGenerator(BusyIconConfig()).Generate() })
	inactiveIcon = sync.OnceValue(func() []byte { return NewIconGenerator(InactiveIconConfig()).Generate() })
)

// IconFor returns the tray icon for the current tunnel's status.
func IconFor(s tunnel.Status) []byte {
	switch s {
	case tunnel.StatusActive:
		return activeIcon()
	case tunnel.StatusInactive:
		return inactiveIcon()
	default:
		return busyIcon()
	}
}
