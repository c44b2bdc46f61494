package model

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// Positions of the fields this module reads from a state-vector row. Other
// columns (origin country, timestamps, on-ground, squawk, ...) are ignored.
const (
	svICAO24       = 0
	svCallsign     = 1
	svLongitude    = 5
	svLatitude     = 6
	svBaroAltitude = 7
	svVelocity     = 9
	svHeading      = 10
)

// AircraftRecord is one aircraft from the latest snapshot. Optional fields
// are nil when the feed did not report them.
type AircraftRecord struct {
	ICAO24   string  `msgpack:"icao24"`
	Callsign *string `msgpack:"callsign"`

	Longitude    *float64 `msgpack:"lon"` // degrees
	Latitude     *float64 `msgpack:"lat"` // degrees
	BaroAltitude *float64 `msgpack:"alt"` // metres
	Velocity     *float64 `msgpack:"vel"` // m/s over ground
	Heading      *float64 `msgpack:"hdg"` // degrees clockwise from north
}

// HasPosition reports whether both latitude and longitude are present and
// finite.
func (a AircraftRecord) HasPosition() bool {
	return finite(a.Latitude) && finite(a.Longitude)
}

// AircraftSnapshot is the document shape of the state-vector feed.
type AircraftSnapshot struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// ParseStateVector decodes one positional row. Missing, null or mistyped
// columns are left nil or empty; ok is false when the row has no usable
// identifier.
func ParseStateVector(row []any) (rec AircraftRecord, ok bool) {
	id, _ := stringAt(row, svICAO24)
	rec.ICAO24 = id
	if cs, ok := stringAt(row, svCallsign); ok {
		rec.Callsign = &cs
	}
	rec.Longitude = floatAt(row, svLongitude)
	rec.Latitude = floatAt(row, svLatitude)
	rec.BaroAltitude = floatAt(row, svBaroAltitude)
	rec.Velocity = floatAt(row, svVelocity)
	rec.Heading = floatAt(row, svHeading)
	return rec, id != ""
}

// ParseStateVectors decodes every row in order, one record per row. Rows
// without an identifier keep a blank ICAO24 so positional limits still count
// them; the reconciler skips them.
func ParseStateVectors(rows [][]any) []AircraftRecord {
	res := make([]AircraftRecord, 0, len(rows))
	for _, row := range rows {
		rec, _ := ParseStateVector(row)
		res = append(res, rec)
	}
	return res
}

// DecodeAircraftSnapshot reads a state-vector JSON document.
func DecodeAircraftSnapshot(r io.Reader) ([]AircraftRecord, error) {
	var doc AircraftSnapshot
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode aircraft snapshot: %w", err)
	}
	return ParseStateVectors(doc.States), nil
}

func stringAt(row []any, i int) (string, bool) {
	if i >= len(row) {
		return "", false
	}
	s, ok := row[i].(string)
	return s, ok
}

func floatAt(row []any, i int) *float64 {
	if i >= len(row) {
		return nil
	}
	var v float64
	switch n := row[i].(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		v = f
	default:
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// Float returns a pointer to v, for building records by hand.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s, for building records by hand.
func String(s string) *string { return &s }
