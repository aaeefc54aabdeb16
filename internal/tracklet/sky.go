package tracklet

import "math"

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// NormalizeRA maps an angle in degrees into [0, 360).
func NormalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 360.0)
	if ra < 0 {
		ra += 360.0
	}
	// -1e-17 + 360 rounds to 360
	if ra >= 360.0 {
		ra = 0
	}
	return ra
}

// WrapDelta maps an angular difference in degrees into [-180, 180).
func WrapDelta(d float64) float64 {
	d = math.Mod(d+180.0, 360.0)
	if d < 0 {
		d += 360.0
	}
	return d - 180.0
}

// AngularSeparation returns the great-circle distance in degrees between two
// sky positions given in degrees. The haversine form stays accurate at the
// sub-arcsecond separations typical of tracklets.
func AngularSeparation(ra1, dec1, ra2, dec2 float64) float64 {
	phi1 := dec1 * degToRad
	phi2 := dec2 * degToRad
	dPhi := (dec2 - dec1) * degToRad
	dLambda := WrapDelta(ra2-ra1) * degToRad

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	if h > 1 {
		h = 1
	}
	return 2 * math.Asin(math.Sqrt(h)) * radToDeg
}
