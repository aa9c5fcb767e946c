// Package crimeintel enriches assessments with neighborhood crime context:
// incidents near the home are folded into a decayed, normalized crime index
// that the spatial reasoning layer uses as a risk multiplier.
package crimeintel

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// WGS84 coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BoundingBox is a coarse lat/lon rectangle used to prefilter incidents
// before the exact haversine check.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoxAround returns the bounding box covering radiusKm around a point. The
// longitude span widens toward the poles; at the poles it covers the full
// range.
func BoxAround(lat, lon, radiusKm float64) BoundingBox {
	dLat := radiusKm / 111.0
	cosLat := math.Cos(lat * math.Pi / 180.0)
	dLon := 180.0
	if cosLat > 1e-6 {
		dLon = radiusKm / (111.0 * cosLat)
	}
	return BoundingBox{
		MinLat: lat - dLat,
		MaxLat: lat + dLat,
		MinLon: lon - dLon,
		MaxLon: lon + dLon,
	}
}

// Contains reports whether the point falls inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}
