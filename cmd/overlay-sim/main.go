// overlay-sim runs the globe overlay headlessly against an in-memory scene.
// Telemetry comes from a replay recording and/or SGP4-propagated TLEs; the
// consumed snapshots can be re-recorded with --record.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/globe-overlay/core"
	"github.com/signalsfoundry/globe-overlay/internal/config"
	"github.com/signalsfoundry/globe-overlay/internal/imagery"
	"github.com/signalsfoundry/globe-overlay/internal/logging"
	"github.com/signalsfoundry/globe-overlay/internal/observability"
	"github.com/signalsfoundry/globe-overlay/internal/replay"
	"github.com/signalsfoundry/globe-overlay/internal/scene"
	"github.com/signalsfoundry/globe-overlay/internal/sprite"
	"github.com/signalsfoundry/globe-overlay/kb"
	"github.com/signalsfoundry/globe-overlay/timectrl"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, log, prometheus.NewRegistry())
	if err != nil {
		log.Error(ctx, "failed to initialise overlay", logging.Error(err))
		os.Exit(1)
	}
	if err := a.run(ctx); err != nil {
		log.Error(ctx, "overlay exited", logging.Error(err))
		os.Exit(1)
	}
}

// parseFlags loads the config file named by --config (or OVERLAY_CONFIG)
// and applies explicitly set flags on top.
func parseFlags(args []string) (*config.Config, error) {
	fs := pflag.NewFlagSet("overlay-sim", pflag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(config.EnvConfigPath), "path to a YAML config file")
	metricsAddr := fs.String("metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	replayPath := fs.String("replay", "", "recording to play back")
	recordPath := fs.String("record", "", "write consumed snapshots to this recording")
	speed := fs.Float64("speed", 1, "replay speed multiplier; 0 plays without delays")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	hideAircraft := fs.Bool("hide-aircraft", false, "start with the aircraft layer hidden")
	hideSatellites := fs.Bool("hide-satellites", false, "start with the satellite layer hidden")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddr
	}
	if fs.Changed("replay") {
		cfg.Replay.Path = *replayPath
	}
	if fs.Changed("record") {
		cfg.Replay.Record = *recordPath
	}
	if fs.Changed("speed") {
		cfg.Replay.Speed = *speed
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}
	if *hideAircraft {
		cfg.Layers.Aircraft = false
	}
	if *hideSatellites {
		cfg.Layers.Satellites = false
	}
	return cfg, cfg.Validate()
}

// app is one wired overlay instance.
type app struct {
	cfg *config.Config
	log logging.Logger

	collector *observability.OverlayCollector
	surface   *scene.Memory
	state     *kb.KnowledgeBase
	loop      *timectrl.Loop
	overlay   *core.Overlay
	bootstrap *core.Bootstrapper
	ephemeris *core.Ephemeris
}

func newApp(cfg *config.Config, log logging.Logger, reg prometheus.Registerer) (*app, error) {
	collector, err := observability.NewOverlayCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	symbols, err := sprite.NewFactory(cfg.SpriteCacheSize, sprite.WithCacheRecorder(collector))
	if err != nil {
		return nil, err
	}

	var eph *core.Ephemeris
	if len(cfg.Satellites) > 0 {
		if eph, err = core.NewEphemeris(cfg.Satellites); err != nil {
			return nil, fmt.Errorf("satellites: %w", err)
		}
	}

	surface := scene.NewMemory(cfg.Viewport.Width, cfg.Viewport.Height)
	state := kb.NewKnowledgeBase(kb.LayerVisibility{
		Aircraft:   cfg.Layers.Aircraft,
		Satellites: cfg.Layers.Satellites,
	})

	loop := timectrl.NewLoop(cfg.Tick)
	loop.OnPanic = func(r any) {
		log.Error(context.Background(), "event loop callback panicked", logging.Any("panic", r))
	}

	reconciler := core.NewReconciler(symbols,
		core.WithClassifier(core.NewClassifier(cfg.Aircraft.MilitaryPrefixes)),
		core.WithMaxAircraft(cfg.Aircraft.MaxEntities),
		core.WithReconcileLogger(log),
		core.WithReconcileMetrics(collector),
	)

	loader := imagery.NewTilesetLoader(cfg.Imagery.GoogleMapsAPIKey)
	loader.RootURL = cfg.Imagery.TilesetURL
	loader.Client.Timeout = cfg.Imagery.Timeout

	bootstrap := core.NewBootstrapper(surface,
		core.WithImageryLoader(loader),
		core.WithFallback(imagery.DefaultFallback(cfg.Imagery.IonToken)),
		core.WithSelectionHandler(core.NewSelectionHandler(surface, state, log, collector)),
		core.WithDispatcher(loop),
		core.WithBootstrapLogger(log),
		core.WithImageryMetrics(collector),
	)

	// Every KB writer runs on the loop, so passes run inline with the write.
	overlay := core.NewOverlay(state, surface, reconciler, nil, log)

	return &app{
		cfg:       cfg,
		log:       log,
		collector: collector,
		surface:   surface,
		state:     state,
		loop:      loop,
		overlay:   overlay,
		bootstrap: bootstrap,
		ephemeris: eph,
	}, nil
}

// run drives the overlay until ctx ends, or until the replay finishes when
// there is no other telemetry source.
func (a *app) run(ctx context.Context) error {
	shutdownTracing, err := observability.InitTracing(ctx, a.cfg.Tracing, a.log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, a.log)

	metricsSrv := a.serveMetrics()
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	var recorder *replay.Recorder
	if a.cfg.Replay.Record != "" {
		if recorder, err = replay.Create(a.cfg.Replay.Record); err != nil {
			return err
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				a.log.Warn(ctx, "closing recording failed", logging.Error(err))
			}
		}()
	}
	unsubscribe := a.state.Subscribe(a.observe(ctx, recorder))
	defer unsubscribe()

	stopOverlay := a.overlay.Start(ctx)
	defer stopOverlay()

	if err := a.bootstrap.Mount(ctx); err != nil {
		return err
	}
	defer a.bootstrap.Unmount()

	if a.ephemeris != nil {
		a.loop.AddListener(a.propagate)
		a.loop.Post(func() { a.propagate(time.Now()) })
	}

	playCtx, cancelPlay := context.WithCancel(ctx)
	defer cancelPlay()
	playDone := make(chan struct{})
	if a.cfg.Replay.Path != "" {
		player, err := replay.Open(a.cfg.Replay.Path)
		if err != nil {
			return err
		}
		go func() {
			defer close(playDone)
			defer player.Close()
			a.play(playCtx, player)
		}()
	} else {
		close(playDone)
	}

	a.log.Info(ctx, "overlay running",
		logging.Bool("aircraft_layer", a.cfg.Layers.Aircraft),
		logging.Bool("satellite_layer", a.cfg.Layers.Satellites),
		logging.Int("satellites", len(a.cfg.Satellites)),
		logging.String("replay", a.cfg.Replay.Path),
	)

	err = a.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	cancelPlay()
	<-playDone
	a.log.Info(context.Background(), "overlay stopped",
		logging.Int("aircraft", len(a.state.Aircraft())),
		logging.Int("satellites", len(a.state.Satellites())),
	)
	return err
}

func (a *app) propagate(now time.Time) {
	a.state.SetSatellites(a.ephemeris.Snapshot(now))
}

func (a *app) play(ctx context.Context, player *replay.Player) {
	err := player.Play(ctx, a.cfg.Replay.Speed, func(f replay.Frame) {
		a.loop.Post(func() { a.apply(f) })
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn(ctx, "replay stopped", logging.Error(err))
	}
	a.log.Info(ctx, "replay finished", logging.String("path", a.cfg.Replay.Path))
	if a.ephemeris == nil {
		// Queued after the last frame, so every frame is applied first.
		a.loop.Post(a.loop.Close)
	}
}

func (a *app) apply(f replay.Frame) {
	switch f.Kind {
	case scene.KindAircraft:
		a.state.SetAircraft(f.Aircraft)
	case scene.KindSatellite:
		a.state.SetSatellites(f.Satellites)
	default:
		a.log.Warn(context.Background(), "skipping replay frame of unknown kind", logging.String("kind", string(f.Kind)))
	}
}

// observe logs selection changes and, when recorder is non-nil, writes each
// snapshot arrival to it. KB events fire on the loop goroutine.
func (a *app) observe(ctx context.Context, recorder *replay.Recorder) func(kb.Event) {
	return func(ev kb.Event) {
		var frame *replay.Frame
		switch ev.Type {
		case kb.EventSelectionChanged:
			a.logSelection(ctx, ev.Selection)
		case kb.EventAircraftUpdated:
			frame = &replay.Frame{At: time.Now().UTC(), Kind: scene.KindAircraft, Aircraft: a.state.Aircraft()}
		case kb.EventSatellitesUpdated:
			frame = &replay.Frame{At: time.Now().UTC(), Kind: scene.KindSatellite, Satellites: a.state.Satellites()}
		}
		if frame == nil || recorder == nil {
			return
		}
		if err := recorder.Write(*frame); err != nil {
			a.log.Warn(ctx, "recording frame failed", logging.Error(err))
		}
	}
}

func (a *app) logSelection(ctx context.Context, id string) {
	if id == kb.NoSelection {
		a.log.Info(ctx, "selection cleared")
		return
	}
	fields := []logging.Field{logging.String("id", id)}
	if e := a.surface.Entity(id); e != nil {
		for _, k := range []string{"callsign", "name", "altitude", "velocity"} {
			if v, ok := e.Properties[k]; ok {
				fields = append(fields, logging.Any(k, v))
			}
		}
	}
	a.log.Info(ctx, "entity selected", fields...)
}

func (a *app) serveMetrics() *http.Server {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.collector.Handler())

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn(context.Background(), "metrics server exited", logging.Error(err))
		}
	}()

	a.log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", a.cfg.MetricsAddr))
	return srv
}
