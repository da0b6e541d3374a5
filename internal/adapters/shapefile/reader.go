package shapefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/samirrijal/georef/internal/core/domain"
)

// readFile decodes one .shp with its .dbf and .prj sidecars.
func readFile(path string) (*domain.FeatureCollection, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidArchive, filepath.Base(path), err)
	}
	defer r.Close()

	fields := r.Fields()
	fc := &domain.FeatureCollection{
		Name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Columns: make([]string, len(fields)),
		Frame:   readFrame(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"),
	}
	for i, f := range fields {
		fc.Columns[i] = fieldName(f)
	}

	for r.Next() {
		row, shape := r.Shape()
		attrs := make(map[string]any, len(fields))
		for i, f := range fields {
			attrs[fc.Columns[i]] = parseAttribute(f, r.ReadAttribute(row, i))
		}
		fc.Records = append(fc.Records, domain.FeatureRecord{
			Attributes: attrs,
			Geometry:   toGeometry(shape),
		})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, filepath.Base(path), err)
	}
	return fc, nil
}

func fieldName(f shp.Field) string {
	return strings.TrimRight(string(f.Name[:]), "\x00 ")
}

// parseAttribute types a DBF value by its field type. Blank numbers are nil.
func parseAttribute(f shp.Field, raw string) any {
	v := strings.TrimSpace(strings.Trim(raw, "\x00"))
	switch f.Fieldtype {
	case 'N':
		if v == "" {
			return nil
		}
		if f.Precision == 0 {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			return x
		}
		return v
	case 'F':
		if v == "" {
			return nil
		}
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			return x
		}
		return v
	case 'L':
		switch strings.ToUpper(v) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		default:
			return nil
		}
	default:
		return v
	}
}

func toGeometry(s shp.Shape) orb.Geometry {
	switch s := s.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.PointM:
		return orb.Point{s.X, s.Y}
	case *shp.PolyLine:
		return lines(s.Parts, s.Points)
	case *shp.PolyLineZ:
		return lines(s.Parts, s.Points)
	case *shp.PolyLineM:
		return lines(s.Parts, s.Points)
	case *shp.Polygon:
		return polygons(s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygons(s.Parts, s.Points)
	case *shp.PolygonM:
		return polygons(s.Parts, s.Points)
	case *shp.MultiPoint:
		return multiPoint(s.Points)
	case *shp.MultiPointZ:
		return multiPoint(s.Points)
	case *shp.MultiPointM:
		return multiPoint(s.Points)
	default:
		return nil
	}
}

func splitParts(parts []int32, pts []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(pts) {
			continue
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range pts[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out
}

func lines(parts []int32, pts []shp.Point) orb.Geometry {
	split := splitParts(parts, pts)
	switch len(split) {
	case 0:
		return nil
	case 1:
		return orb.LineString(split[0])
	}
	mls := make(orb.MultiLineString, len(split))
	for i, p := range split {
		mls[i] = orb.LineString(p)
	}
	return mls
}

// polygons groups rings by orientation: clockwise rings open a new
// polygon, counter-clockwise rings are holes of the polygon before them.
func polygons(parts []int32, pts []shp.Point) orb.Geometry {
	var mp orb.MultiPolygon
	for _, part := range splitParts(parts, pts) {
		if len(part) == 0 {
			continue
		}
		ring := orb.Ring(part)
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
			continue
		}
		mp = append(mp, orb.Polygon{ring})
	}
	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	}
	return mp
}

func multiPoint(pts []shp.Point) orb.Geometry {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

// readFrame recognises the two frames the service tags by default.
func readFrame(prjPath string) string {
	b, err := os.ReadFile(prjPath)
	if err != nil {
		return ""
	}
	wkt := strings.ToUpper(string(b))
	switch {
	case strings.Contains(wkt, "PSEUDO_MERCATOR"), strings.Contains(wkt, "PSEUDO-MERCATOR"),
		strings.Contains(wkt, "WEB_MERCATOR"):
		return "EPSG:3857"
	case strings.HasPrefix(strings.TrimSpace(wkt), "GEOGCS") && strings.Contains(wkt, "WGS") && strings.Contains(wkt, "84"):
		return "EPSG:4326"
	default:
		return ""
	}
}
