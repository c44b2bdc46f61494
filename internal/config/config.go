// Package config loads settings for the overlay runner.
//
// Settings come from three layers applied in order: built-in defaults, an
// optional YAML file, then environment variables. Flags parsed by the
// command override the result last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/globe-overlay/core"
	"github.com/signalsfoundry/globe-overlay/internal/imagery"
	"github.com/signalsfoundry/globe-overlay/internal/logging"
	"github.com/signalsfoundry/globe-overlay/internal/observability"
	"github.com/signalsfoundry/globe-overlay/internal/scene"
	"github.com/signalsfoundry/globe-overlay/internal/sprite"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "OVERLAY_CONFIG"

// Config is the complete runner configuration.
type Config struct {
	Logging     logging.Config              `yaml:"logging"`
	MetricsAddr string                      `yaml:"metrics_addr"`
	Tracing     observability.TracingConfig `yaml:"tracing"`

	Imagery  ImageryConfig  `yaml:"imagery"`
	Layers   LayersConfig   `yaml:"layers"`
	Aircraft AircraftConfig `yaml:"aircraft"`
	Viewport ViewportConfig `yaml:"viewport"`
	Replay   ReplayConfig   `yaml:"replay"`

	// SpriteCacheSize bounds the number of cached aircraft symbols.
	SpriteCacheSize int `yaml:"sprite_cache_size"`

	// Tick is the satellite propagation interval.
	Tick time.Duration `yaml:"tick"`

	Satellites []core.TLE `yaml:"satellites"`
}

// ImageryConfig holds imagery credentials.
type ImageryConfig struct {
	GoogleMapsAPIKey string        `yaml:"google_maps_api_key"`
	IonToken         string        `yaml:"ion_token"`
	TilesetURL       string        `yaml:"tileset_url"`
	Timeout          time.Duration `yaml:"timeout"`
}

// LayersConfig is the initial layer visibility.
type LayersConfig struct {
	Aircraft   bool `yaml:"aircraft"`
	Satellites bool `yaml:"satellites"`
}

// AircraftConfig tunes the aircraft layer.
type AircraftConfig struct {
	MaxEntities      int      `yaml:"max_entities"`
	MilitaryPrefixes []string `yaml:"military_prefixes"`
}

// ViewportConfig is the size of the in-memory scene, in pixels.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ReplayConfig points at recorded telemetry.
type ReplayConfig struct {
	// Path is a recording to play back; empty disables playback.
	Path string `yaml:"path"`
	// Record, when set, writes every consumed frame to this path.
	Record string `yaml:"record"`
	// Speed scales the recorded inter-frame delays; 0 plays as fast as
	// possible.
	Speed float64 `yaml:"speed"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging:     logging.Config{Level: "info", Format: "text"},
		MetricsAddr: ":9090",
		Tracing:     observability.DefaultTracingConfig(),
		Imagery: ImageryConfig{
			TilesetURL: imagery.GoogleTilesRootURL,
			Timeout:    15 * time.Second,
		},
		Layers: LayersConfig{Aircraft: true, Satellites: true},
		Aircraft: AircraftConfig{
			MaxEntities:      core.MaxAircraft,
			MilitaryPrefixes: append([]string(nil), core.DefaultMilitaryPrefixes...),
		},
		Viewport:        ViewportConfig{Width: scene.DefaultViewportWidth, Height: scene.DefaultViewportHeight},
		Replay:          ReplayConfig{Speed: 1},
		SpriteCacheSize: sprite.DefaultCacheSize,
		Tick:            time.Second,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment. Malformed values are
// ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("OVERLAY_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("GOOGLE_MAPS_API_KEY"); v != "" {
		c.Imagery.GoogleMapsAPIKey = v
	}
	if v := os.Getenv("CESIUM_ION_TOKEN"); v != "" {
		c.Imagery.IonToken = v
	}
	if v := os.Getenv("OVERLAY_MAX_AIRCRAFT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Aircraft.MaxEntities = n
		}
	}
	if v := os.Getenv("OVERLAY_MILITARY_PREFIXES"); v != "" {
		c.Aircraft.MilitaryPrefixes = splitList(v)
	}
	if v := os.Getenv("OVERLAY_SHOW_AIRCRAFT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Layers.Aircraft = b
		}
	}
	if v := os.Getenv("OVERLAY_SHOW_SATELLITES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Layers.Satellites = b
		}
	}
	if v := os.Getenv("OVERLAY_REPLAY"); v != "" {
		c.Replay.Path = v
	}
	c.Tracing.ApplyEnv()
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Aircraft.MaxEntities <= 0 || c.Aircraft.MaxEntities > core.MaxAircraft {
		errs = append(errs, fmt.Errorf("aircraft.max_entities must be within [1,%d], got %d", core.MaxAircraft, c.Aircraft.MaxEntities))
	}
	if c.SpriteCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("sprite_cache_size must be positive, got %d", c.SpriteCacheSize))
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", c.Tick))
	}
	if c.Replay.Speed < 0 {
		errs = append(errs, fmt.Errorf("replay.speed must not be negative, got %v", c.Replay.Speed))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be within [0,1], got %v", c.Tracing.SampleRatio))
	}
	for i, tle := range c.Satellites {
		if tle.Line1 == "" || tle.Line2 == "" {
			errs = append(errs, fmt.Errorf("satellites[%d]: both TLE lines are required", i))
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
