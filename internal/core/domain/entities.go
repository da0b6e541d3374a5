package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

// Slot names one of the two datasets a session can hold.
type Slot string

const (
	SlotRaw       Slot = "raw"
	SlotReference Slot = "reference"
)

// ParseSlot accepts "raw", "reference" and the short form "ref".
func ParseSlot(s string) (Slot, error) {
	switch s {
	case "raw":
		return SlotRaw, nil
	case "reference", "ref":
		return SlotReference, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSlot, s)
	}
}

// FeatureRecord is one row of a vector dataset. Attributes are shared
// between a record and its reprojected copies and must not be mutated.
type FeatureRecord struct {
	Attributes map[string]any `json:"properties"`
	Geometry   orb.Geometry   `json:"-"`
}

// FeatureCollection is an ordered set of records tagged with the
// reference frame its coordinates are expressed in (e.g. "EPSG:4326").
type FeatureCollection struct {
	Name    string          `json:"name"`
	Columns []string        `json:"columns"`
	Records []FeatureRecord `json:"-"`
	Frame   string          `json:"frame"`
}

// Len returns the number of records.
func (fc *FeatureCollection) Len() int {
	return len(fc.Records)
}

// KeyColumn is the attribute used to identify features when the caller
// does not name one: the first column.
func (fc *FeatureCollection) KeyColumn() string {
	if len(fc.Columns) == 0 {
		return ""
	}
	return fc.Columns[0]
}

// HasColumn reports whether name is one of the collection's attributes.
func (fc *FeatureCollection) HasColumn(name string) bool {
	for _, c := range fc.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Bounds is the union of every member geometry's bounding box.
func (fc *FeatureCollection) Bounds() orb.Bound {
	var b orb.Bound
	seen := false
	for _, r := range fc.Records {
		if r.Geometry == nil {
			continue
		}
		gb := r.Geometry.Bound()
		if !seen {
			b, seen = gb, true
			continue
		}
		b = b.Union(gb)
	}
	return b
}

// BoundsSlice returns Bounds as [minx, miny, maxx, maxy].
func (fc *FeatureCollection) BoundsSlice() []float64 {
	b := fc.Bounds()
	return []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

// FindByKey returns the first record whose key attribute renders as id.
func (fc *FeatureCollection) FindByKey(key, id string) (*FeatureRecord, error) {
	for i := range fc.Records {
		v, ok := fc.Records[i].Attributes[key]
		if ok && v != nil && FormatValue(v) == id {
			return &fc.Records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s=%s", ErrFeatureNotFound, key, id)
}

// FormatValue renders an attribute value the way it appears in plot_id,
// feature ids and text DBF fields. Floats never use exponent notation.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// ProjectionReport summarises a dataset reprojection.
type ProjectionReport struct {
	Transformed  int            `json:"transformed"`
	Skipped      int            `json:"skipped"`
	SkippedKinds map[string]int `json:"skipped_kinds,omitempty"`
}

// SessionInfo describes what a session currently holds.
type SessionInfo struct {
	ID             string `json:"session_id"`
	HasRaw         bool   `json:"has_raw"`
	HasReference   bool   `json:"has_ref"`
	RawCount       int    `json:"raw_count"`
	ReferenceCount int    `json:"ref_count"`
}

// SessionEvent is published whenever a session changes.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"` // uploaded | transformed | deleted
	Slot      Slot      `json:"slot,omitempty"`
	Count     int       `json:"count,omitempty"`
	Scale     float64   `json:"scale,omitempty"`
	Rotation  float64   `json:"rotation_deg,omitempty"`
	RMSE      float64   `json:"rmse,omitempty"`
	Skipped   int       `json:"skipped,omitempty"`
	Time      time.Time `json:"time"`
}

const (
	EventUploaded    = "uploaded"
	EventTransformed = "transformed"
	EventDeleted     = "deleted"
)
