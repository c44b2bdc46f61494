package core

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/globe-overlay/internal/scene"
	"github.com/signalsfoundry/globe-overlay/model"
)

const kmToM = 1000.0

// Bounds on a sane SGP4 position magnitude, km from the Earth's centre.
const (
	minOrbitRadiusKm = 6200.0
	maxOrbitRadiusKm = 50000.0
)

// TLE is a named two-line element set.
type TLE struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Line1 string `yaml:"line1"`
	Line2 string `yaml:"line2"`
}

// orbit is one propagator plus the identity it reports under.
type orbit struct {
	id, name string
	sat      satellite.Satellite
}

// Ephemeris propagates a catalogue of satellites with SGP4 and produces
// satellite snapshots in scene coordinates.
type Ephemeris struct {
	orbits []orbit
}

// NewEphemeris parses every TLE. Malformed sets fail the whole catalogue;
// go-satellite exits the process on unparsable input, so lines are checked
// first.
func NewEphemeris(tles []TLE) (*Ephemeris, error) {
	e := &Ephemeris{orbits: make([]orbit, 0, len(tles))}
	for _, t := range tles {
		if err := validateTLE(t.Line1, t.Line2); err != nil {
			return nil, fmt.Errorf("tle %q: %w", t.ID, err)
		}
		line1, line2 := strings.TrimSpace(t.Line1), strings.TrimSpace(t.Line2)
		sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
		if sat.Error != 0 {
			return nil, fmt.Errorf("tle %q: sgp4 init failed: code=%d %s", t.ID, sat.Error, sat.ErrorStr)
		}
		id := t.ID
		if id == "" {
			id = strings.TrimSpace(line1[2:7])
		}
		e.orbits = append(e.orbits, orbit{id: id, name: t.Name, sat: sat})
	}
	return e, nil
}

// Len returns the number of satellites in the catalogue.
func (e *Ephemeris) Len() int { return len(e.orbits) }

// Snapshot propagates every satellite to at. Satellites whose propagation
// fails are returned with a nil Position so the overlay skips them.
func (e *Ephemeris) Snapshot(at time.Time) []model.SatelliteRecord {
	at = at.UTC()
	year, month, day := at.Date()
	hour, min, sec := at.Clock()
	gmst := satellite.GSTimeFromDate(year, int(month), day, hour, min, sec)

	out := make([]model.SatelliteRecord, 0, len(e.orbits))
	for _, o := range e.orbits {
		rec := model.SatelliteRecord{ID: o.id, Name: o.name}

		posECI, velECI := satellite.Propagate(o.sat, year, int(month), day, hour, min, sec)
		if validOrbit(posECI) {
			ecef := satellite.ECIToECEF(posECI, gmst)
			pos := scene.Cartesian3{X: ecef.X * kmToM, Y: ecef.Y * kmToM, Z: ecef.Z * kmToM}
			_, _, height := pos.ToDegrees()

			rec.Position = &pos
			rec.Altitude = height / kmToM
			rec.Velocity = math.Sqrt(velECI.X*velECI.X + velECI.Y*velECI.Y + velECI.Z*velECI.Z)
		}
		out = append(out, rec)
	}
	return out
}

func validOrbit(v satellite.Vector3) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	r := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	return r >= minOrbitRadiusKm && r <= maxOrbitRadiusKm
}

func validateTLE(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got %q", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got %q", line2[0])
	}
	return nil
}
