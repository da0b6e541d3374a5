package geospatial

import "math"

const earthRadiusKm = 6371.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// GeodesicRMSE is the root mean square great-circle distance, in meters,
// between each fitted source and its target. Targets are lon/lat degrees.
func GeodesicRMSE(pairs []PointPair, m Similarity) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pairs {
		q := m.Apply(p.Source)
		d := Haversine(q.Lat(), q.Lon(), p.Target.Lat(), p.Target.Lon())
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(pairs)))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
