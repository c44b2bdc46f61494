package scene

import (
	"fmt"
	"math"
	"slices"
	"sync"
)

// Default viewport of a Memory scene.
const (
	DefaultViewportWidth  = 1920
	DefaultViewportHeight = 1080
)

var _ Scene = (*Memory)(nil)

// Memory is an in-process Scene. It keeps entities in insertion order,
// records every surface setting, and hit-tests with an equirectangular
// projection of the whole globe onto the viewport. It backs headless runs
// and tests.
type Memory struct {
	mu sync.RWMutex

	width, height float64

	entities map[string]*Entity
	order    []string

	sky          SkyAtmosphere
	lighting     Lighting
	shadows      bool
	depthTest    bool
	camera       CameraPose
	tilesets     []Tileset
	globeVisible bool
	imagery      []ImageryProvider
	terrain      TerrainProvider

	listeners    map[int]func(ScreenPosition)
	nextListener int

	destroyed bool
}

// NewMemory constructs an empty scene with the given viewport size in
// pixels. Non-positive sizes fall back to the defaults.
func NewMemory(width, height int) *Memory {
	if width <= 0 {
		width = DefaultViewportWidth
	}
	if height <= 0 {
		height = DefaultViewportHeight
	}
	return &Memory{
		width:        float64(width),
		height:       float64(height),
		entities:     make(map[string]*Entity),
		globeVisible: true,
		listeners:    make(map[int]func(ScreenPosition)),
	}
}

// Add implements EntityStore.
func (m *Memory) Add(e *Entity) error {
	if e == nil {
		return fmt.Errorf("add entity: nil entity")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return ErrDestroyed
	}
	if _, exists := m.entities[e.ID]; exists {
		return fmt.Errorf("add entity %q: %w", e.ID, ErrDuplicateEntity)
	}
	m.entities[e.ID] = e
	m.order = append(m.order, e.ID)
	return nil
}

// Remove implements EntityStore.
func (m *Memory) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[id]; !ok {
		return false
	}
	delete(m.entities, id)
	if i := slices.Index(m.order, id); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	return true
}

// Entities implements EntityStore.
func (m *Memory) Entities() []*Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]*Entity, 0, len(m.order))
	for _, id := range m.order {
		res = append(res, m.entities[id])
	}
	return res
}

// Entity returns the entity with the given ID, or nil.
func (m *Memory) Entity(id string) *Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entities[id]
}

// Len returns the number of entities in the scene.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

// Project maps a position to viewport pixels. ok is false for non-finite
// positions.
func (m *Memory) Project(p Cartesian3) (ScreenPosition, bool) {
	if !p.IsFinite() || p.Norm() == 0 {
		return ScreenPosition{}, false
	}
	lon, lat, _ := p.ToDegrees()
	return ScreenPosition{
		X: (lon + 180) / 360 * m.width,
		Y: (90 - lat) / 180 * m.height,
	}, true
}

// Pick implements Picker. Later entities are drawn on top, so they win
// overlapping hits.
func (m *Memory) Pick(pos ScreenPosition) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return "", false
	}
	for i := len(m.order) - 1; i >= 0; i-- {
		e := m.entities[m.order[i]]
		sp, ok := m.Project(e.Position)
		if !ok {
			continue
		}
		halfW, halfH := e.footprint()
		if math.Abs(pos.X-sp.X) <= halfW && math.Abs(pos.Y-sp.Y) <= halfH {
			return e.ID, true
		}
	}
	return "", false
}

// SetSkyAtmosphere implements Surface.
func (m *Memory) SetSkyAtmosphere(s SkyAtmosphere) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sky = s
}

// SetLighting implements Surface.
func (m *Memory) SetLighting(l Lighting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lighting = l
}

// SetShadowsEnabled implements Surface.
func (m *Memory) SetShadowsEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadows = enabled
}

// SetDepthTestAgainstTerrain implements Surface.
func (m *Memory) SetDepthTestAgainstTerrain(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depthTest = enabled
}

// SetCamera implements Surface.
func (m *Memory) SetCamera(p CameraPose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera = p
}

// AddTileset implements Surface.
func (m *Memory) AddTileset(t Tileset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	m.tilesets = append(m.tilesets, t)
	return nil
}

// SetGlobeVisible implements Surface.
func (m *Memory) SetGlobeVisible(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globeVisible = visible
}

// AddImageryProvider implements Surface.
func (m *Memory) AddImageryProvider(p ImageryProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	m.imagery = append(m.imagery, p)
	return nil
}

// SetTerrainProvider implements Surface.
func (m *Memory) SetTerrainProvider(t TerrainProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terrain = t
}

// OnClick implements Surface.
func (m *Memory) OnClick(fn func(ScreenPosition)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Click delivers a click to every registered listener, the way the host
// input system would.
func (m *Memory) Click(pos ScreenPosition) {
	m.mu.RLock()
	fns := make([]func(ScreenPosition), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	// Listeners call back into the scene (Pick), so run them unlocked.
	for _, fn := range fns {
		fn(pos)
	}
}

// Destroy implements Surface. Entities are dropped with the surface.
func (m *Memory) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.entities = make(map[string]*Entity)
	m.order = nil
}

// IsDestroyed implements Surface.
func (m *Memory) IsDestroyed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.destroyed
}

// SkyAtmosphere returns the configured atmosphere.
func (m *Memory) SkyAtmosphere() SkyAtmosphere {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sky
}

// Lighting returns the configured lighting.
func (m *Memory) Lighting() Lighting {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lighting
}

// ShadowsEnabled reports whether the shadow map is on.
func (m *Memory) ShadowsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shadows
}

// DepthTestAgainstTerrain reports the terrain depth-test setting.
func (m *Memory) DepthTestAgainstTerrain() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.depthTest
}

// Camera returns the last camera pose.
func (m *Memory) Camera() CameraPose {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.camera
}

// Tilesets returns the attached tilesets.
func (m *Memory) Tilesets() []Tileset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.tilesets)
}

// GlobeVisible reports whether the default globe surface is drawn.
func (m *Memory) GlobeVisible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globeVisible
}

// ImageryProviders returns the attached imagery layers.
func (m *Memory) ImageryProviders() []ImageryProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.imagery)
}

// TerrainProvider returns the configured terrain source.
func (m *Memory) TerrainProvider() TerrainProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terrain
}

// ListenerCount returns the number of registered click listeners.
func (m *Memory) ListenerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}
