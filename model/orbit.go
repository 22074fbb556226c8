package model

import (
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// EarthRadiusM is the mean Earth radius in metres, used for all simple
// orbit-to-ground geometry.
const EarthRadiusM = 6371000.0

// OrbitGeometry is the viewing geometry a pushbroom sensor inherits from
// its orbit: how high it flies and how fast its footprint moves over the
// ground. Both feed directly into SensorConfig for callers that start from
// a TLE rather than measured values.
type OrbitGeometry struct {
	// AltitudeM is the height above the mean Earth sphere in metres.
	AltitudeM float64
	// GroundSpeedMS is the sub-satellite ground track speed in m/s.
	GroundSpeedMS float64
}

// GeometryFromTLE propagates a two-line element set with SGP4 to the given
// time and derives the sensor geometry. The ground speed is the orbital
// speed projected onto the Earth surface (v * Re / (Re + h)), which is
// adequate for the near-circular low Earth orbits imaging missions fly.
func GeometryFromTLE(line1, line2 string, at time.Time) (OrbitGeometry, error) {
	if line1 == "" || line2 == "" {
		return OrbitGeometry{}, fmt.Errorf("orbit geometry: empty TLE line")
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)

	year, month, day := at.Date()
	hour, min, sec := at.Clock()
	pos, vel := satellite.Propagate(sat, year, int(month), day, hour, min, sec)

	const kmToM = 1000.0
	r := math.Sqrt(pos.X*pos.X+pos.Y*pos.Y+pos.Z*pos.Z) * kmToM
	if r == 0 || math.IsNaN(r) {
		return OrbitGeometry{}, fmt.Errorf("orbit geometry: propagation produced invalid position")
	}
	v := math.Sqrt(vel.X*vel.X+vel.Y*vel.Y+vel.Z*vel.Z) * kmToM

	alt := r - EarthRadiusM
	if alt <= 0 {
		return OrbitGeometry{}, fmt.Errorf("orbit geometry: altitude %.0f m is not above the surface", alt)
	}

	return OrbitGeometry{
		AltitudeM:     alt,
		GroundSpeedMS: v * EarthRadiusM / r,
	}, nil
}
