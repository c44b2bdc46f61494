package model

import "github.com/signalsfoundry/globe-overlay/internal/scene"

// SatelliteRecord is one satellite from the latest snapshot. Position is
// already resolved to scene coordinates; nil means the feed could not
// resolve it for this snapshot.
type SatelliteRecord struct {
	ID       string            `msgpack:"id"`
	Name     string            `msgpack:"name"`
	Position *scene.Cartesian3 `msgpack:"pos"`
	Altitude float64           `msgpack:"alt"` // km above the ellipsoid
	Velocity float64           `msgpack:"vel"` // km/s
}
