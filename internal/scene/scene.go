// Package scene defines the narrow boundary between the overlay engine and
// the globe renderer, plus an in-process implementation of it.
package scene

import "errors"

var (
	// ErrDuplicateEntity indicates an entity with the same ID is already in
	// the scene.
	ErrDuplicateEntity = errors.New("entity already exists")
	// ErrDestroyed indicates the scene surface was torn down.
	ErrDestroyed = errors.New("scene destroyed")
)

// EntityStore adds and removes entities by identifier.
type EntityStore interface {
	// Add places e in the scene. It returns ErrDuplicateEntity if the ID is
	// taken and ErrDestroyed after teardown.
	Add(e *Entity) error
	// Remove deletes the entity with the given ID and reports whether it
	// existed.
	Remove(id string) bool
	// Entities returns the current entities in insertion order. The slice is
	// a copy; the entities themselves are read-only.
	Entities() []*Entity
}

// Picker hit-tests screen positions against rendered entities.
type Picker interface {
	// Pick returns the ID of the topmost entity under pos.
	Pick(pos ScreenPosition) (id string, ok bool)
}

// SkyAtmosphere tunes the atmosphere shell drawn around the globe.
type SkyAtmosphere struct {
	BrightnessShift float64
	HueShift        float64
}

// Lighting controls sun lighting and the day/night transition.
type Lighting struct {
	Enabled                  bool
	AtmosphereLightIntensity float64
	ShowGroundAtmosphere     bool
	NightFadeOutDistance     float64
	NightFadeInDistance      float64
}

// CameraPose is a camera destination plus orientation in radians.
type CameraPose struct {
	Destination Cartesian3
	Heading     float64
	Pitch       float64
	Roll        float64
}

// Tileset is a streamed 3D tile imagery source.
type Tileset struct {
	URL  string
	Root []byte
}

// ImageryProvider is a 2D imagery layer draped on the globe surface.
type ImageryProvider struct {
	Name        string
	AssetID     int
	AccessToken string
}

// TerrainProvider supplies globe surface elevation.
type TerrainProvider struct {
	Name        string
	AssetID     int
	AccessToken string
}

// Surface is the rendering surface configured once by the bootstrapper.
type Surface interface {
	SetSkyAtmosphere(SkyAtmosphere)
	SetLighting(Lighting)
	SetShadowsEnabled(bool)
	SetDepthTestAgainstTerrain(bool)
	SetCamera(CameraPose)

	AddTileset(Tileset) error
	SetGlobeVisible(bool)
	AddImageryProvider(ImageryProvider) error
	SetTerrainProvider(TerrainProvider)

	// OnClick registers a primary-button click listener. The returned
	// function releases it and is safe to call more than once.
	OnClick(fn func(ScreenPosition)) (release func())

	// Destroy tears the surface down. Calling it twice is a no-op.
	Destroy()
	IsDestroyed() bool
}

// Scene is the full renderer boundary.
type Scene interface {
	EntityStore
	Picker
	Surface
}
