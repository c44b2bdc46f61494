package scene

import (
	"fmt"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Kind tags an entity with the telemetry type it was built from. It is also
// the identifier namespace prefix.
type Kind string

const (
	KindAircraft  Kind = "aircraft"
	KindSatellite Kind = "satellite"
)

// EntityID returns the namespaced identifier for a record of the given kind,
// e.g. "aircraft-4b1805".
func EntityID(kind Kind, id string) string {
	return string(kind) + "-" + id
}

// ScreenPosition is a pointer location in canvas pixels, origin top-left.
type ScreenPosition struct {
	X, Y float64
}

// Entity is a renderable object placed on the globe. Exactly one of
// Billboard or Point is set.
//
// Entities are owned by the scene once added; callers must not keep or
// mutate them afterwards.
type Entity struct {
	ID       string
	Kind     Kind
	Position Cartesian3

	Billboard *Billboard
	Point     *Point

	// Properties carries the originating record's fields for inspection,
	// e.g. by a details panel after selection.
	Properties map[string]any
}

// Billboard is a camera-facing raster symbol.
type Billboard struct {
	Image       []byte // PNG
	Rotation    float64
	AlignedAxis Cartesian3
	Width       int
	Height      int

	ScaleByDistance        NearFarScalar
	TranslucencyByDistance NearFarScalar
}

// Point is a round marker drawn in screen space.
type Point struct {
	PixelSize    int
	Color        RGBA
	OutlineColor RGBA
	OutlineWidth int

	ScaleByDistance NearFarScalar
}

// RGBA is a straight (non-premultiplied) colour with components in [0, 1].
type RGBA struct {
	R, G, B, A float64
}

// ParseColor parses a CSS hex colour such as "#00ff9d".
func ParseColor(css string) (RGBA, error) {
	c, err := colorful.Hex(css)
	if err != nil {
		return RGBA{}, fmt.Errorf("parse colour %q: %w", css, err)
	}
	return RGBA{R: c.R, G: c.G, B: c.B, A: 1}, nil
}

// MustParseColor is ParseColor for compile-time constants.
func MustParseColor(css string) RGBA {
	c, err := ParseColor(css)
	if err != nil {
		panic(err)
	}
	return c
}

// WithAlpha returns a copy of c with the given opacity.
func (c RGBA) WithAlpha(a float64) RGBA {
	c.A = a
	return c
}

// NRGBA converts c to an 8-bit image colour.
func (c RGBA) NRGBA() color.NRGBA {
	return color.NRGBA{
		R: to8(c.R),
		G: to8(c.G),
		B: to8(c.B),
		A: to8(c.A),
	}
}

func to8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}

// footprint returns the half extents, in pixels, of the entity's symbol.
func (e *Entity) footprint() (halfW, halfH float64) {
	switch {
	case e.Billboard != nil:
		return float64(e.Billboard.Width) / 2, float64(e.Billboard.Height) / 2
	case e.Point != nil:
		r := float64(e.Point.PixelSize)/2 + float64(e.Point.OutlineWidth)
		return r, r
	default:
		return 0, 0
	}
}
