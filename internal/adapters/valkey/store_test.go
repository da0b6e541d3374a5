package valkey

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"

	geojsonadapter "github.com/samirrijal/georef/internal/adapters/geojson"
	"github.com/samirrijal/georef/internal/core/domain"
)

func TestKeys(t *testing.T) {
	if got := markerKey("abc"); got != "georef:session:abc" {
		t.Errorf("unexpected marker key %q", got)
	}
	if got := slotKey("abc", domain.SlotReference); got != "georef:session:abc:reference" {
		t.Errorf("unexpected slot key %q", got)
	}
	if sibling(domain.SlotRaw) != domain.SlotReference || sibling(domain.SlotReference) != domain.SlotRaw {
		t.Error("sibling must swap slots")
	}
}

func TestInfoFromHash(t *testing.T) {
	if _, err := infoFromHash("x", map[string]string{}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	info, err := infoFromHash("x", map[string]string{"raw_count": "4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.HasRaw || info.RawCount != 4 || info.HasReference {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestCollectionEncoding(t *testing.T) {
	in := &domain.FeatureCollection{
		Name:    "plots",
		Columns: []string{"id"},
		Frame:   "EPSG:3857",
		Records: []domain.FeatureRecord{
			{Attributes: map[string]any{"id": "p1"}, Geometry: orb.LineString{{0, 0}, {10, 5}}},
		},
	}

	b, err := encodeCollection(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeCollection(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Name != "plots" || out.Frame != "EPSG:3857" || out.Len() != 1 {
		t.Fatalf("unexpected collection %+v", out)
	}
	if _, ok := out.Records[0].Attributes["plot_id"]; ok {
		t.Error("stored datasets must not carry plot_id")
	}
	if !orb.Equal(in.Records[0].Geometry, out.Records[0].Geometry) {
		t.Errorf("geometry changed: %v", out.Records[0].Geometry)
	}
}

func TestCollectionEncoding_IntegerColumns(t *testing.T) {
	in := &domain.FeatureCollection{
		Name:    "parcels",
		Columns: []string{"parcel_id", "big", "area", "owner"},
		Frame:   "EPSG:3857",
		Records: []domain.FeatureRecord{
			{
				Attributes: map[string]any{"parcel_id": int64(12345678), "big": int64(9007199254740993), "area": 2.0, "owner": "Ana"},
				Geometry:   orb.Point{1, 2},
			},
			{
				Attributes: map[string]any{"parcel_id": int64(12345679), "big": nil, "area": 3.5, "owner": "Ion"},
				Geometry:   orb.Point{3, 4},
			},
		},
	}

	b, err := encodeCollection(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeCollection(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got := out.Records[0].Attributes["parcel_id"]; got != int64(12345678) {
		t.Errorf("parcel_id = %#v, want int64(12345678)", got)
	}
	if got := out.Records[0].Attributes["big"]; got != int64(9007199254740993) {
		t.Errorf("big = %#v, want exact int64", got)
	}
	if got := out.Records[1].Attributes["big"]; got != nil {
		t.Errorf("null integer should stay nil, got %#v", got)
	}
	if got, ok := out.Records[0].Attributes["area"].(float64); !ok || got != 2.0 {
		t.Errorf("area = %#v, want float64(2)", out.Records[0].Attributes["area"])
	}

	r, err := out.FindByKey("parcel_id", "12345678")
	if err != nil {
		t.Fatalf("lookup after round trip: %v", err)
	}
	if r.Attributes["owner"] != "Ana" {
		t.Errorf("found wrong record %v", r.Attributes)
	}

	plot := geojsonadapter.FromCollection(out, "parcel_id").Features[1].Properties[geojsonadapter.PlotIDProperty]
	if plot != "12345679" {
		t.Errorf("plot_id = %#v, want \"12345679\"", plot)
	}
}
