// Package sprite rasterises the billboard symbols drawn for aircraft.
package sprite

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/anthonynsimon/bild/blur"
	lru "github.com/hashicorp/golang-lru/v2"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/vector"
)

// Size is the edge length of a symbol in pixels.
const Size = 32

// glowRadius approximates a 2D canvas shadowBlur of 6.
const glowRadius = 3.0

// DefaultCacheSize holds every category colour with plenty of headroom.
const DefaultCacheSize = 64

type point struct{ x, y float32 }

var (
	wing = []point{{16, 2}, {22, 20}, {16, 16}, {10, 20}}
	tail = []point{{16, 16}, {19, 28}, {16, 24}, {13, 28}}
)

// CacheRecorder receives cache hit/miss notifications.
type CacheRecorder interface {
	SpriteCacheHit()
	SpriteCacheMiss()
}

// Factory produces aircraft symbols and caches them by colour. It is safe
// for concurrent use.
type Factory struct {
	cache   *lru.Cache[string, []byte]
	metrics CacheRecorder
}

// Option customises a Factory.
type Option func(*Factory)

// WithCacheRecorder attaches a recorder for cache hits and misses.
func WithCacheRecorder(r CacheRecorder) Option {
	return func(f *Factory) {
		f.metrics = r
	}
}

// NewFactory constructs a factory with room for cacheSize colours.
// Non-positive sizes use DefaultCacheSize.
func NewFactory(cacheSize int, opts ...Option) (*Factory, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create sprite cache: %w", err)
	}
	f := &Factory{cache: cache}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// AircraftSymbol returns the PNG-encoded aircraft silhouette in the given
// CSS hex colour. Identical colours yield byte-identical output; the
// returned slice is shared and must not be modified.
func (f *Factory) AircraftSymbol(css string) ([]byte, error) {
	c, err := colorful.Hex(css)
	if err != nil {
		return nil, fmt.Errorf("aircraft symbol: invalid colour %q: %w", css, err)
	}
	key := c.Hex()

	if img, ok := f.cache.Get(key); ok {
		if f.metrics != nil {
			f.metrics.SpriteCacheHit()
		}
		return img, nil
	}
	if f.metrics != nil {
		f.metrics.SpriteCacheMiss()
	}

	img, err := encode(c)
	if err != nil {
		return nil, err
	}
	f.cache.Add(key, img)
	return img, nil
}

// Len returns the number of cached symbols.
func (f *Factory) Len() int {
	return f.cache.Len()
}

// Render draws the aircraft symbol without touching any cache.
func Render(css string) (*image.RGBA, error) {
	c, err := colorful.Hex(css)
	if err != nil {
		return nil, fmt.Errorf("aircraft symbol: invalid colour %q: %w", css, err)
	}
	return render(c), nil
}

func encode(c colorful.Color) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, render(c)); err != nil {
		return nil, fmt.Errorf("encode aircraft symbol: %w", err)
	}
	return buf.Bytes(), nil
}

func render(c colorful.Color) *image.RGBA {
	r, g, b := c.RGB255()
	fill := image.NewUniform(color.NRGBA{R: r, G: g, B: b, A: 0xff})
	bounds := image.Rect(0, 0, Size, Size)

	mask := image.NewAlpha(bounds)
	z := vector.NewRasterizer(Size, Size)
	for _, poly := range [][]point{wing, tail} {
		z.Reset(Size, Size)
		z.MoveTo(poly[0].x, poly[0].y)
		for _, p := range poly[1:] {
			z.LineTo(p.x, p.y)
		}
		z.ClosePath()
		z.Draw(mask, bounds, image.Opaque, image.Point{})
	}

	shape := image.NewRGBA(bounds)
	draw.DrawMask(shape, bounds, fill, image.Point{}, mask, image.Point{}, draw.Over)

	out := blur.Gaussian(shape, glowRadius)
	draw.DrawMask(out, bounds, fill, image.Point{}, mask, image.Point{}, draw.Over)
	return out
}
