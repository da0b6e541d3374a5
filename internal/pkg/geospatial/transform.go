package geospatial

import "github.com/paulmach/orb"

// MapGeometry returns a copy of g with every coordinate moved through m.
// Ring order, hole membership and child order are preserved.
//
// Only Point, LineString, Polygon, MultiPolygon and MultiLineString are
// mapped. Any other kind is returned unchanged with ok == false so callers
// can report it instead of silently shipping un-georeferenced output.
func MapGeometry(g orb.Geometry, m Similarity) (out orb.Geometry, ok bool) {
	switch g := g.(type) {
	case nil:
		return nil, true
	case orb.Point:
		return m.Apply(g), true
	case orb.LineString:
		return orb.LineString(mapPoints(g, m)), true
	case orb.Polygon:
		return mapPolygon(g, m), true
	case orb.MultiPolygon:
		mp := make(orb.MultiPolygon, len(g))
		for i, p := range g {
			mp[i] = mapPolygon(p, m)
		}
		return mp, true
	case orb.MultiLineString:
		mls := make(orb.MultiLineString, len(g))
		for i, ls := range g {
			mls[i] = orb.LineString(mapPoints(ls, m))
		}
		return mls, true
	default:
		return g, false
	}
}

// KindOf names a geometry the way GeoJSON does, "Null" for nil.
func KindOf(g orb.Geometry) string {
	if g == nil {
		return "Null"
	}
	return g.GeoJSONType()
}

func mapPolygon(p orb.Polygon, m Similarity) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, ring := range p {
		out[i] = orb.Ring(mapPoints(ring, m))
	}
	return out
}

func mapPoints(pts []orb.Point, m Similarity) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		out[i] = m.Apply(p)
	}
	return out
}
