package shapefile

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/samirrijal/georef/internal/core/domain"
)

const (
	maxFieldName   = 10
	maxStringField = 254
	floatPrecision = 8
)

const (
	wktWGS84       = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	wktWebMercator = `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Mercator_Auxiliary_Sphere"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",0.0],PARAMETER["Standard_Parallel_1",0.0],PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`
)

// shapeFamily picks the single shapefile type able to hold every record.
func shapeFamily(records []domain.FeatureRecord) (shp.ShapeType, error) {
	family := shp.NULL
	for i, r := range records {
		var t shp.ShapeType
		switch r.Geometry.(type) {
		case nil:
			continue
		case orb.Point:
			t = shp.POINT
		case orb.MultiPoint:
			t = shp.MULTIPOINT
		case orb.LineString, orb.MultiLineString:
			t = shp.POLYLINE
		case orb.Polygon, orb.MultiPolygon:
			t = shp.POLYGON
		default:
			return 0, fmt.Errorf("%w: record %d is a %s", ErrUnsupportedGeometry, i, r.Geometry.GeoJSONType())
		}
		if family == shp.NULL {
			family = t
		} else if family != t {
			return 0, fmt.Errorf("%w: record %d breaks a %s layer", ErrMixedGeometry, i, r.Geometry.GeoJSONType())
		}
	}
	if family == shp.NULL {
		family = shp.POINT
	}
	return family, nil
}

// writeFile writes fc as <dir>/<name>.{shp,shx,dbf,cpg,prj}.
func writeFile(dir, name string, fc *domain.FeatureCollection) error {
	family, err := shapeFamily(fc.Records)
	if err != nil {
		return err
	}
	fields, kinds := buildFields(fc)

	base := filepath.Join(dir, name)
	w, err := shp.Create(base+".shp", family)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return fmt.Errorf("set fields: %w", err)
	}

	for _, r := range fc.Records {
		row := int(w.Write(toShape(r.Geometry)))
		for i, col := range fc.Columns {
			if err := w.WriteAttribute(row, i, attributeValue(kinds[i], r.Attributes[col])); err != nil {
				w.Close()
				return fmt.Errorf("write attribute %s: %w", col, err)
			}
		}
	}
	w.Close()

	if err := os.WriteFile(base+".cpg", []byte("UTF-8"), 0o644); err != nil {
		return err
	}
	if wkt := frameWKT(fc.Frame); wkt != "" {
		if err := os.WriteFile(base+".prj", []byte(wkt), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func frameWKT(frame string) string {
	switch frame {
	case "EPSG:4326":
		return wktWGS84
	case "EPSG:3857":
		return wktWebMercator
	default:
		return ""
	}
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
	kindBool
)

// buildFields infers one DBF field per column from the values it holds.
func buildFields(fc *domain.FeatureCollection) ([]shp.Field, []fieldKind) {
	fields := make([]shp.Field, len(fc.Columns))
	kinds := make([]fieldKind, len(fc.Columns))
	names := fieldNames(fc.Columns)
	for i, col := range fc.Columns {
		kind, width := inferKind(fc.Records, col)
		name := names[i]
		switch kind {
		case kindInt:
			fields[i] = shp.NumberField(name, 18)
		case kindFloat:
			fields[i] = shp.FloatField(name, 24, floatPrecision)
		case kindBool:
			f := shp.StringField(name, 1)
			f.Fieldtype = 'L'
			fields[i] = f
		default:
			fields[i] = shp.StringField(name, uint8(width))
		}
		kinds[i] = kind
	}
	return fields, kinds
}

func inferKind(records []domain.FeatureRecord, col string) (fieldKind, int) {
	kind := fieldKind(-1)
	width := 1
	merge := func(k fieldKind) {
		switch {
		case kind == -1:
			kind = k
		case kind == k:
		case (kind == kindInt && k == kindFloat) || (kind == kindFloat && k == kindInt):
			kind = kindFloat
		default:
			kind = kindString
		}
	}
	for _, r := range records {
		v, ok := r.Attributes[col]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case int, int32, int64:
			merge(kindInt)
		case float32, float64:
			merge(kindFloat)
		case bool:
			merge(kindBool)
		default:
			merge(kindString)
		}
		if n := len(domain.FormatValue(v)); n > width {
			width = n
		}
	}
	if kind == -1 {
		kind = kindString
	}
	if width > maxStringField {
		width = maxStringField
	}
	return kind, width
}

// attributeValue converts v to one of the types go-shp can write.
func attributeValue(kind fieldKind, v any) any {
	if v == nil {
		return ""
	}
	switch kind {
	case kindInt:
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		}
	case kindFloat:
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return ""
			}
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		case int32:
			return float64(n)
		case int64:
			return float64(n)
		}
	case kindBool:
		if b, ok := v.(bool); ok {
			if b {
				return "T"
			}
			return "F"
		}
	}
	return truncateUTF8(domain.FormatValue(v), maxStringField)
}

// fieldNames fits column names into DBF's ten bytes. A name that collides
// with an earlier one after truncation gets a numeric suffix.
func fieldNames(cols []string) []string {
	names := make([]string, len(cols))
	used := make(map[string]bool, len(cols))
	for i, col := range cols {
		name := truncateUTF8(col, maxFieldName)
		for n := 1; used[name]; n++ {
			suffix := "_" + strconv.Itoa(n)
			name = truncateUTF8(col, maxFieldName-len(suffix)) + suffix
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func toShape(g orb.Geometry) shp.Shape {
	switch g := g.(type) {
	case orb.Point:
		return &shp.Point{X: g[0], Y: g[1]}
	case orb.MultiPoint:
		pts := shpPoints(g)
		return &shp.MultiPoint{Box: shp.BBoxFromPoints(pts), NumPoints: int32(len(pts)), Points: pts}
	case orb.LineString:
		return shp.NewPolyLine([][]shp.Point{shpPoints(g)})
	case orb.MultiLineString:
		parts := make([][]shp.Point, len(g))
		for i, ls := range g {
			parts[i] = shpPoints(ls)
		}
		return shp.NewPolyLine(parts)
	case orb.Polygon:
		return polygonShape(polygonParts(nil, g))
	case orb.MultiPolygon:
		var parts [][]shp.Point
		for _, p := range g {
			parts = polygonParts(parts, p)
		}
		return polygonShape(parts)
	default:
		return &shp.Null{}
	}
}

// polygonParts appends p's rings with the exterior clockwise and holes
// counter-clockwise.
func polygonParts(parts [][]shp.Point, p orb.Polygon) [][]shp.Point {
	for i, ring := range p {
		want := orb.CCW
		if i == 0 {
			want = orb.CW
		}
		r := append(orb.Ring(nil), ring...)
		if r.Orientation() != want {
			r.Reverse()
		}
		parts = append(parts, shpPoints(r))
	}
	return parts
}

func polygonShape(parts [][]shp.Point) shp.Shape {
	p := shp.Polygon(*shp.NewPolyLine(parts))
	return &p
}

func shpPoints[P ~[]orb.Point](pts P) []shp.Point {
	out := make([]shp.Point, len(pts))
	for i, p := range pts {
		out[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return out
}
