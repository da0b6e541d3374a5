package valkey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/valkey-io/valkey-go"

	geojsonadapter "github.com/samirrijal/georef/internal/adapters/geojson"
	"github.com/samirrijal/georef/internal/core/domain"
)

const keyPrefix = "georef:session:"

// putScript stores a slot payload and refreshes the session TTL in one
// step. With ARGV[5] == "1" it refuses to create the session.
//
// KEYS: marker hash, slot key, sibling slot key
// ARGV: payload, ttl seconds, count field, count, require existing
var putScript = valkey.NewLuaScript(`
if ARGV[5] == "1" and redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[2], ARGV[1], "EX", ARGV[2])
redis.call("HSET", KEYS[1], ARGV[3], ARGV[4])
redis.call("EXPIRE", KEYS[1], ARGV[2])
redis.call("EXPIRE", KEYS[3], ARGV[2])
return 1
`)

// Store implements ports.SessionStore on Valkey. Each slot is a
// GeoJSON-encoded string key next to a marker hash holding the counts;
// every key of a session shares one TTL.
type Store struct {
	client valkey.Client
	ttl    time.Duration
}

// New creates a new Valkey session store.
func New(addr string, ttl time.Duration) (*Store, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{client: client, ttl: ttl}, nil
}

func markerKey(id string) string { return keyPrefix + id }

func slotKey(id string, slot domain.Slot) string { return keyPrefix + id + ":" + string(slot) }

func countField(slot domain.Slot) string { return string(slot) + "_count" }

func sibling(slot domain.Slot) domain.Slot {
	if slot == domain.SlotRaw {
		return domain.SlotReference
	}
	return domain.SlotRaw
}

// Put stores fc in slot. Only the raw slot may create a session.
func (s *Store) Put(ctx context.Context, key string, slot domain.Slot, fc *domain.FeatureCollection) error {
	if slot != domain.SlotRaw && slot != domain.SlotReference {
		return domain.ErrInvalidSlot
	}
	payload, err := encodeCollection(fc)
	if err != nil {
		return err
	}

	requireExisting := "0"
	if slot == domain.SlotReference {
		requireExisting = "1"
	}
	n, err := putScript.Exec(ctx, s.client,
		[]string{markerKey(key), slotKey(key, slot), slotKey(key, sibling(slot))},
		[]string{
			string(payload),
			strconv.FormatInt(int64(s.ttl/time.Second), 10),
			countField(slot),
			strconv.Itoa(fc.Len()),
			requireExisting,
		},
	).AsInt64()
	if err != nil {
		return fmt.Errorf("valkey put %s: %w", slot, err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Get loads and decodes the dataset held in slot.
func (s *Store) Get(ctx context.Context, key string, slot domain.Slot) (*domain.FeatureCollection, error) {
	if slot != domain.SlotRaw && slot != domain.SlotReference {
		return nil, domain.ErrInvalidSlot
	}
	b, err := s.client.Do(ctx, s.client.B().Get().Key(slotKey(key, slot)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		exists, err := s.client.Do(ctx, s.client.B().Exists().Key(markerKey(key)).Build()).AsInt64()
		if err != nil {
			return nil, fmt.Errorf("valkey exists: %w", err)
		}
		if exists == 0 {
			return nil, domain.ErrSessionNotFound
		}
		return nil, domain.ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	return decodeCollection(b)
}

// Info reads the session marker hash.
func (s *Store) Info(ctx context.Context, key string) (domain.SessionInfo, error) {
	m, err := s.client.Do(ctx, s.client.B().Hgetall().Key(markerKey(key)).Build()).AsStrMap()
	if err != nil {
		return domain.SessionInfo{}, fmt.Errorf("valkey hgetall: %w", err)
	}
	return infoFromHash(key, m)
}

// Delete removes the marker and both slots.
func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.client.Do(ctx, s.client.B().Del().
		Key(markerKey(key), slotKey(key, domain.SlotRaw), slotKey(key, domain.SlotReference)).
		Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("valkey del: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (s *Store) Close() {
	s.client.Close()
}

func infoFromHash(key string, m map[string]string) (domain.SessionInfo, error) {
	if len(m) == 0 {
		return domain.SessionInfo{}, domain.ErrSessionNotFound
	}
	info := domain.SessionInfo{ID: key}
	if v, ok := m[countField(domain.SlotRaw)]; ok {
		info.HasRaw = true
		info.RawCount, _ = strconv.Atoi(v)
	}
	if v, ok := m[countField(domain.SlotReference)]; ok {
		info.HasReference = true
		info.ReferenceCount, _ = strconv.Atoi(v)
	}
	return info, nil
}

// memberIntColumns lists the columns whose values are all integers. JSON
// numbers decode as float64, so these are restored to int64 on load.
const memberIntColumns = "int_columns"

func encodeCollection(fc *domain.FeatureCollection) ([]byte, error) {
	gfc := geojsonadapter.FromCollection(fc, "")
	if cols := intColumns(fc); len(cols) > 0 {
		gfc.ExtraMembers[memberIntColumns] = cols
	}
	b, err := gfc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode session dataset: %w", err)
	}
	return b, nil
}

func decodeCollection(b []byte) (*domain.FeatureCollection, error) {
	gfc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode session dataset: %w", err)
	}
	fc := geojsonadapter.ToCollection(gfc)

	var cols []string
	if list, ok := gfc.ExtraMembers[memberIntColumns].([]any); ok {
		for _, c := range list {
			if name, ok := c.(string); ok {
				cols = append(cols, name)
			}
		}
	}
	if len(cols) > 0 {
		if err := restoreInts(b, fc, cols); err != nil {
			return nil, fmt.Errorf("decode session dataset: %w", err)
		}
	}
	return fc, nil
}

func intColumns(fc *domain.FeatureCollection) []string {
	var cols []string
	for _, col := range fc.Columns {
		seen := false
		allInt := true
		for _, r := range fc.Records {
			switch r.Attributes[col].(type) {
			case nil:
			case int, int8, int16, int32, int64, uint8, uint16, uint32:
				seen = true
			default:
				allInt = false
			}
			if !allInt {
				break
			}
		}
		if seen && allInt {
			cols = append(cols, col)
		}
	}
	return cols
}

// restoreInts re-reads the feature properties of b with exact number
// decoding and stores cols back as int64.
func restoreInts(b []byte, fc *domain.FeatureCollection, cols []string) error {
	var raw struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if len(raw.Features) != len(fc.Records) {
		return fmt.Errorf("feature count mismatch: %d properties for %d records", len(raw.Features), len(fc.Records))
	}
	for i, f := range raw.Features {
		for _, col := range cols {
			n, ok := f.Properties[col].(json.Number)
			if !ok {
				continue
			}
			v, err := n.Int64()
			if err != nil {
				return fmt.Errorf("column %s: %w", col, err)
			}
			fc.Records[i].Attributes[col] = v
		}
	}
	return nil
}
