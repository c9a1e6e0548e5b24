package transform

import (
	"math"

	"github.com/star/orbitlab/internal/orbit"
)

// WGS-84 ellipsoid in kilometres.
const (
	wgs84A  = 6378.137
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// Geodetic is a latitude/longitude in degrees and altitude in km.
type Geodetic struct {
	LatDeg float64 `json:"lat_deg" yaml:"lat_deg"`
	LonDeg float64 `json:"lon_deg" yaml:"lon_deg"`
	AltKm  float64 `json:"alt_km" yaml:"alt_km"`
}

// Observer is a ground site with its Earth-fixed position precomputed.
type Observer struct {
	Geodetic
	latRad, lonRad float64
	fixed          orbit.Vec3
}

// LookAngles are azimuth (clockwise from north), elevation and range.
type LookAngles struct {
	AzimuthDeg   float64 `json:"azimuth_deg"`
	ElevationDeg float64 `json:"elevation_deg"`
	RangeKm      float64 `json:"range_km"`
}

// NewObserver builds an observer from geodetic coordinates.
func NewObserver(latDeg, lonDeg, altKm float64) Observer {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0
	return Observer{
		Geodetic: Geodetic{LatDeg: latDeg, LonDeg: lonDeg, AltKm: altKm},
		latRad:   lat,
		lonRad:   lon,
		fixed:    GeodeticToFixed(lat, lon, altKm),
	}
}

// Fixed returns the observer's Earth-fixed position.
func (o Observer) Fixed() orbit.Vec3 {
	return o.fixed
}

// GeodeticToFixed converts radians and km to an Earth-fixed position.
func GeodeticToFixed(latRad, lonRad, altKm float64) orbit.Vec3 {
	sinLat, cosLat := math.Sincos(latRad)
	sinLon, cosLon := math.Sincos(lonRad)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return orbit.Vec3{
		X: (n + altKm) * cosLat * cosLon,
		Y: (n + altKm) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + altKm) * sinLat,
	}
}

// FixedToGeodetic converts an Earth-fixed position with Bowring's iteration.
func FixedToGeodetic(p orbit.Vec3) Geodetic {
	lon := math.Atan2(p.Y, p.X)
	rho := math.Hypot(p.X, p.Y)
	lat := math.Atan2(p.Z, rho*(1-wgs84E2))

	for i := 0; i < 5; i++ {
		s := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*s*s)
		lat = math.Atan2(p.Z+wgs84E2*n*s, rho)
	}

	sinLat, cosLat := math.Sincos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = rho/cosLat - n
	} else {
		alt = math.Abs(p.Z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return Geodetic{
		LatDeg: lat * 180.0 / math.Pi,
		LonDeg: lon * 180.0 / math.Pi,
		AltKm:  alt,
	}
}

// Look computes the look angles from o to an Earth-fixed target using the
// south-east-zenith rotation.
func (o Observer) Look(target orbit.Vec3) LookAngles {
	r := target.Sub(o.fixed)

	sinLat, cosLat := math.Sincos(o.latRad)
	sinLon, cosLon := math.Sincos(o.lonRad)

	south := sinLat*cosLon*r.X + sinLat*sinLon*r.Y - cosLat*r.Z
	east := -sinLon*r.X + cosLon*r.Y
	zenith := cosLat*cosLon*r.X + cosLat*sinLon*r.Y + sinLat*r.Z

	rng := math.Sqrt(south*south + east*east + zenith*zenith)
	el := math.Asin(zenith / rng)
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * 180.0 / math.Pi,
		ElevationDeg: el * 180.0 / math.Pi,
		RangeKm:      rng,
	}
}
