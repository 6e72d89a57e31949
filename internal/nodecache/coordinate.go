package nodecache

import (
	"fmt"
	"math"
)

// Scale is the number of coordinate units per degree.
const Scale = 10_000_000

// Coordinate is a latitude/longitude pair in units of 1e-7 degrees.
type Coordinate struct {
	Lat int32
	Lon int32
}

// Sentinel is the value of a record that was never written. It is also a
// legitimate coordinate (equator, prime meridian); width-8 caches cannot
// tell the two apart.
var Sentinel = Coordinate{}

// FromNano converts nanodegrees, as decoded from a container, rounding to
// the nearest unit.
func FromNano(lat, lon int64) Coordinate {
	return Coordinate{Lat: roundNano(lat), Lon: roundNano(lon)}
}

func roundNano(v int64) int32 {
	if v >= 0 {
		return int32((v + 50) / 100)
	}
	return int32((v - 50) / 100)
}

// FromDegrees converts floating point degrees.
func FromDegrees(lat, lon float64) Coordinate {
	return Coordinate{
		Lat: int32(math.Round(lat * Scale)),
		Lon: int32(math.Round(lon * Scale)),
	}
}

// LatDegrees returns the latitude in degrees.
func (c Coordinate) LatDegrees() float64 { return float64(c.Lat) / Scale }

// LonDegrees returns the longitude in degrees.
func (c Coordinate) LonDegrees() float64 { return float64(c.Lon) / Scale }

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.7f, %.7f)", c.LatDegrees(), c.LonDegrees())
}
