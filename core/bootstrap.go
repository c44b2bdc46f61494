package core

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/globe-overlay/internal/imagery"
	"github.com/signalsfoundry/globe-overlay/internal/logging"
	"github.com/signalsfoundry/globe-overlay/internal/observability"
	"github.com/signalsfoundry/globe-overlay/internal/scene"
)

// Imagery source labels reported to metrics.
const (
	ImageryPreferred = "preferred"
	ImageryFallback  = "fallback"
)

// Static scene parameters applied on mount.
var (
	DefaultSkyAtmosphere = scene.SkyAtmosphere{BrightnessShift: 0.1, HueShift: 0.0}
	DefaultLighting      = scene.Lighting{
		Enabled:                  true,
		AtmosphereLightIntensity: 10.0,
		ShowGroundAtmosphere:     true,
		NightFadeOutDistance:     5e7,
		NightFadeInDistance:      1e7,
	}
	// DefaultCamera looks straight down from 20,000 km over the prime
	// meridian.
	DefaultCamera = scene.CameraPose{
		Destination: scene.FromDegrees(0, 20, 2e7),
		Heading:     0,
		Pitch:       -math.Pi / 2,
		Roll:        0,
	}
)

// Dispatcher runs continuations on the event loop. timectrl.Loop satisfies
// it.
type Dispatcher interface {
	Post(fn func()) bool
}

// ImageryRecorder records the imagery source chosen at startup.
type ImageryRecorder interface {
	ImagerySourceSelected(source string)
}

// Bootstrapper performs the one-time setup of the globe surface and owns its
// teardown. The preferred imagery load runs in the background; its
// continuation is posted to the dispatcher and becomes a no-op once the
// bootstrapper is unmounted.
type Bootstrapper struct {
	surface   scene.Surface
	loader    imagery.Loader
	fallback  imagery.Fallback
	selection *SelectionHandler
	dispatch  Dispatcher
	log       logging.Logger
	metrics   ImageryRecorder

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	cancel    context.CancelFunc
	release   func()

	done     chan struct{}
	doneOnce sync.Once
}

// BootstrapOption customises Bootstrapper construction.
type BootstrapOption func(*Bootstrapper)

// WithImageryLoader sets the preferred tileset loader. Without one, mount
// goes straight to the fallback.
func WithImageryLoader(l imagery.Loader) BootstrapOption {
	return func(b *Bootstrapper) { b.loader = l }
}

// WithFallback overrides the fallback terrain and imagery.
func WithFallback(f imagery.Fallback) BootstrapOption {
	return func(b *Bootstrapper) { b.fallback = f }
}

// WithSelectionHandler registers h as the surface's click listener.
func WithSelectionHandler(h *SelectionHandler) BootstrapOption {
	return func(b *Bootstrapper) { b.selection = h }
}

// WithDispatcher posts the imagery continuation to d, normally the
// timectrl.Loop that owns the surface. Without a dispatcher the
// continuation runs on the loader goroutine, so surface writes then race
// with the caller's own; only single-goroutine tests should omit it.
func WithDispatcher(d Dispatcher) BootstrapOption {
	return func(b *Bootstrapper) { b.dispatch = d }
}

// WithBootstrapLogger attaches a structured logger.
func WithBootstrapLogger(l logging.Logger) BootstrapOption {
	return func(b *Bootstrapper) {
		if l != nil {
			b.log = l
		}
	}
}

// WithImageryMetrics attaches a recorder for the chosen imagery source.
func WithImageryMetrics(m ImageryRecorder) BootstrapOption {
	return func(b *Bootstrapper) { b.metrics = m }
}

// NewBootstrapper constructs a bootstrapper for surface.
func NewBootstrapper(surface scene.Surface, opts ...BootstrapOption) *Bootstrapper {
	b := &Bootstrapper{
		surface:  surface,
		fallback: imagery.DefaultFallback(""),
		log:      logging.Noop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Mount configures the surface, starts the imagery load and registers the
// click listener. Only the first call has any effect.
func (b *Bootstrapper) Mount(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mounted {
		return nil
	}
	if b.unmounted || b.surface.IsDestroyed() {
		return fmt.Errorf("mount: %w", scene.ErrDestroyed)
	}
	b.mounted = true

	b.surface.SetSkyAtmosphere(DefaultSkyAtmosphere)
	b.surface.SetLighting(DefaultLighting)
	b.surface.SetDepthTestAgainstTerrain(true)
	b.surface.SetShadowsEnabled(false)
	b.surface.SetCamera(DefaultCamera)

	// The load outlives the caller's context but not the bootstrapper.
	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	go b.loadImagery(loadCtx)

	if b.selection != nil {
		b.release = b.surface.OnClick(b.selection.HandleClick)
	}

	b.log.Info(ctx, "scene mounted")
	return nil
}

// Unmount releases the click listener, abandons a pending imagery load and
// destroys the surface. It is safe to call more than once, and before
// Mount.
func (b *Bootstrapper) Unmount() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unmounted {
		return
	}
	b.unmounted = true

	if b.cancel != nil {
		b.cancel()
	}
	if b.release != nil {
		b.release()
		b.release = nil
	}
	if !b.surface.IsDestroyed() {
		b.surface.Destroy()
	}
	if !b.mounted {
		b.finish()
	}
}

// Wait blocks until the imagery continuation has run (or was dropped) or ctx
// ends.
func (b *Bootstrapper) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bootstrapper) finish() {
	b.doneOnce.Do(func() { close(b.done) })
}

func (b *Bootstrapper) loadImagery(ctx context.Context) {
	ctx, span := observability.Tracer().Start(ctx, "imagery.load")
	defer span.End()

	var (
		ts  scene.Tileset
		err = imagery.ErrMissingCredential
	)
	if b.loader != nil {
		ts, err = b.loader.Load(ctx)
	}
	if err != nil {
		span.RecordError(err)
	}

	apply := func() {
		defer b.finish()
		b.applyImagery(ctx, ts, err)
	}
	if b.dispatch == nil {
		apply()
		return
	}
	if !b.dispatch.Post(apply) {
		b.log.Debug(ctx, "event loop closed; imagery continuation dropped")
		b.finish()
	}
}

func (b *Bootstrapper) applyImagery(ctx context.Context, ts scene.Tileset, loadErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unmounted || ctx.Err() != nil || b.surface.IsDestroyed() {
		b.log.Debug(ctx, "scene torn down before imagery resolved; ignoring")
		return
	}

	if loadErr == nil {
		if err := b.surface.AddTileset(ts); err != nil {
			loadErr = fmt.Errorf("attach tileset: %w", err)
		} else {
			b.surface.SetGlobeVisible(false)
			b.record(ImageryPreferred)
			b.log.Info(ctx, "preferred 3D tileset loaded")
			return
		}
	}

	b.log.Warn(ctx, "preferred imagery unavailable; using fallback terrain and imagery",
		logging.Error(loadErr),
		logging.String("terrain", b.fallback.Terrain.Name),
		logging.String("imagery", b.fallback.Imagery.Name),
	)
	b.surface.SetTerrainProvider(b.fallback.Terrain)
	if err := b.surface.AddImageryProvider(b.fallback.Imagery); err != nil {
		b.log.Warn(ctx, "attach fallback imagery failed", logging.Error(err))
		return
	}
	b.record(ImageryFallback)
}

func (b *Bootstrapper) record(source string) {
	if b.metrics != nil {
		b.metrics.ImagerySourceSelected(source)
	}
}
