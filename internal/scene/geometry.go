package scene

import "math"

// WGS84 ellipsoid radii in metres.
const (
	wgs84A = 6378137.0
	wgs84B = 6356752.3142451793
)

// Cartesian3 is an Earth-fixed position in metres, the coordinate space the
// globe renderer places entities in.
type Cartesian3 struct {
	X, Y, Z float64
}

// UnitZ is the Earth rotation axis, used as the aligned axis of billboards
// that rotate with heading.
var UnitZ = Cartesian3{Z: 1}

// FromDegrees converts a geodetic longitude/latitude (degrees) and ellipsoid
// height (metres) to Earth-fixed coordinates on the WGS84 ellipsoid.
func FromDegrees(lon, lat, height float64) Cartesian3 {
	lonR := lon * math.Pi / 180
	latR := lat * math.Pi / 180

	cosLat := math.Cos(latR)
	n := Cartesian3{
		X: cosLat * math.Cos(lonR),
		Y: cosLat * math.Sin(lonR),
		Z: math.Sin(latR),
	}.Normalize()

	k := Cartesian3{
		X: wgs84A * wgs84A * n.X,
		Y: wgs84A * wgs84A * n.Y,
		Z: wgs84B * wgs84B * n.Z,
	}
	gamma := math.Sqrt(n.Dot(k))
	k = k.Scale(1 / gamma)

	return k.Add(n.Scale(height))
}

// ToDegrees converts an Earth-fixed position back to geodetic longitude,
// latitude (degrees) and ellipsoid height (metres).
func (v Cartesian3) ToDegrees() (lon, lat, height float64) {
	e2 := 1 - (wgs84B*wgs84B)/(wgs84A*wgs84A)
	p := math.Hypot(v.X, v.Y)
	lonR := math.Atan2(v.Y, v.X)

	if p == 0 {
		lat = 90
		if v.Z < 0 {
			lat = -90
		}
		return lonR * 180 / math.Pi, lat, math.Abs(v.Z) - wgs84B
	}

	latR := math.Atan2(v.Z, p*(1-e2))
	var n float64
	for range 5 {
		sinLat := math.Sin(latR)
		n = wgs84A / math.Sqrt(1-e2*sinLat*sinLat)
		height = p/math.Cos(latR) - n
		latR = math.Atan2(v.Z, p*(1-e2*n/(n+height)))
	}
	return lonR * 180 / math.Pi, latR * 180 / math.Pi, height
}

// Add returns v + other.
func (v Cartesian3) Add(other Cartesian3) Cartesian3 {
	return Cartesian3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Cartesian3) Sub(other Cartesian3) Cartesian3 {
	return Cartesian3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale returns v * s.
func (v Cartesian3) Scale(s float64) Cartesian3 {
	return Cartesian3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Dot returns the dot product of two vectors.
func (v Cartesian3) Dot(other Cartesian3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Norm returns the Euclidean norm of the vector.
func (v Cartesian3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalize returns the unit vector in the direction of v. The zero vector
// is returned unchanged.
func (v Cartesian3) Normalize() Cartesian3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// DistanceTo returns the straight-line distance between two points.
func (v Cartesian3) DistanceTo(other Cartesian3) float64 {
	return v.Sub(other).Norm()
}

// IsFinite reports whether all components are finite numbers.
func (v Cartesian3) IsFinite() bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// NearFarScalar describes a value that ramps linearly from NearValue at
// camera distance Near to FarValue at Far, clamped outside that range.
type NearFarScalar struct {
	Near      float64
	NearValue float64
	Far       float64
	FarValue  float64
}

// Evaluate returns the scalar for the given camera distance in metres.
func (s NearFarScalar) Evaluate(distance float64) float64 {
	if distance <= s.Near || s.Far <= s.Near {
		return s.NearValue
	}
	if distance >= s.Far {
		return s.FarValue
	}
	t := (distance - s.Near) / (s.Far - s.Near)
	return s.NearValue + t*(s.FarValue-s.NearValue)
}
