package geojsonadapter

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/georef/internal/core/domain"
)

// PlotIDProperty carries the key column's value, rendered as a string, on
// every exported feature.
const PlotIDProperty = "plot_id"

const (
	memberName    = "name"
	memberColumns = "columns"
	memberCRS     = "crs"

	epsgURN = "urn:ogc:def:crs:EPSG::"
	crs84   = "urn:ogc:def:crs:OGC:1.3:CRS84"
)

// Codec implements ports.DatasetCodec over GeoJSON FeatureCollections.
type Codec struct {
	// KeyColumn feeds plot_id. Empty means the collection's first column.
	KeyColumn string
}

// NewCodec creates a GeoJSON codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Decode parses a GeoJSON FeatureCollection.
func (c *Codec) Decode(ctx context.Context, name string, data []byte) (*domain.FeatureCollection, error) {
	gfc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	fc := ToCollection(gfc)
	if fc.Name == "" {
		fc.Name = strings.TrimSuffix(name, ".geojson")
	}
	return fc, nil
}

// Encode writes fc as a GeoJSON FeatureCollection with plot_id set.
func (c *Codec) Encode(ctx context.Context, w io.Writer, fc *domain.FeatureCollection) error {
	key := c.KeyColumn
	if key == "" {
		key = fc.KeyColumn()
	}
	data, err := FromCollection(fc, key).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Marshal encodes fc with plot_id taken from keyCol (the first column when
// empty).
func Marshal(fc *domain.FeatureCollection, keyCol string) ([]byte, error) {
	if keyCol == "" {
		keyCol = fc.KeyColumn()
	}
	return FromCollection(fc, keyCol).MarshalJSON()
}

// FromCollection converts fc. When keyCol is non-empty each feature gets a
// plot_id property holding that column's value as a string.
func FromCollection(fc *domain.FeatureCollection, keyCol string) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for _, r := range fc.Records {
		f := geojson.NewFeature(r.Geometry)
		for k, v := range r.Attributes {
			f.Properties[k] = v
		}
		if keyCol != "" {
			if v, ok := r.Attributes[keyCol]; ok {
				f.Properties[PlotIDProperty] = domain.FormatValue(v)
			}
		}
		out.Append(f)
	}
	if fc.Len() > 0 {
		out.BBox = geojson.NewBBox(fc.Bounds())
	}

	out.ExtraMembers = geojson.Properties{}
	if fc.Name != "" {
		out.ExtraMembers[memberName] = fc.Name
	}
	out.ExtraMembers[memberColumns] = append([]string{}, fc.Columns...)
	if urn := frameURN(fc.Frame); urn != "" {
		out.ExtraMembers[memberCRS] = map[string]any{
			"type":       "name",
			"properties": map[string]any{"name": urn},
		}
	}
	return out
}

// ToCollection converts a parsed GeoJSON collection. Column order comes from
// the columns member when present, otherwise property names sorted.
func ToCollection(gfc *geojson.FeatureCollection) *domain.FeatureCollection {
	fc := &domain.FeatureCollection{
		Records: make([]domain.FeatureRecord, 0, len(gfc.Features)),
	}

	var declared bool
	if gfc.ExtraMembers != nil {
		fc.Name = gfc.ExtraMembers.MustString(memberName, "")
		switch cols := gfc.ExtraMembers[memberColumns].(type) {
		case []any:
			declared = true
			fc.Columns = make([]string, 0, len(cols))
			for _, c := range cols {
				fc.Columns = append(fc.Columns, fmt.Sprint(c))
			}
		case []string:
			declared = true
			fc.Columns = append([]string{}, cols...)
		}
		fc.Frame = parseCRS(gfc.ExtraMembers[memberCRS])
	}

	seen := map[string]bool{}
	for _, f := range gfc.Features {
		attrs := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			attrs[k] = v
			seen[k] = true
		}
		fc.Records = append(fc.Records, domain.FeatureRecord{Attributes: attrs, Geometry: f.Geometry})
	}

	if declared {
		// plot_id is derived on export; drop it unless it is a real column.
		if !fc.HasColumn(PlotIDProperty) {
			for _, r := range fc.Records {
				delete(r.Attributes, PlotIDProperty)
			}
		}
	} else {
		for k := range seen {
			fc.Columns = append(fc.Columns, k)
		}
		sort.Strings(fc.Columns)
	}
	return fc
}

func frameURN(frame string) string {
	code, ok := strings.CutPrefix(frame, "EPSG:")
	if !ok || code == "" {
		return ""
	}
	return epsgURN + code
}

func parseCRS(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := props["name"].(string)
	switch {
	case name == crs84:
		return "EPSG:4326"
	case strings.HasPrefix(name, epsgURN):
		return "EPSG:" + strings.TrimPrefix(name, epsgURN)
	case strings.HasPrefix(name, "EPSG:"):
		return name
	default:
		return ""
	}
}
