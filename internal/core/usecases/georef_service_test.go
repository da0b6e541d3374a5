package usecases_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/paulmach/orb"

	"github.com/samirrijal/georef/internal/core/domain"
	"github.com/samirrijal/georef/internal/core/usecases"
	"github.com/samirrijal/georef/internal/pkg/geospatial"
)

// --- Mock SessionStore ---

type mockStore struct {
	putFn    func(ctx context.Context, key string, slot domain.Slot, fc *domain.FeatureCollection) error
	getFn    func(ctx context.Context, key string, slot domain.Slot) (*domain.FeatureCollection, error)
	infoFn   func(ctx context.Context, key string) (domain.SessionInfo, error)
	deleteFn func(ctx context.Context, key string) error
}

func (m *mockStore) Put(ctx context.Context, key string, slot domain.Slot, fc *domain.FeatureCollection) error {
	if m.putFn != nil {
		return m.putFn(ctx, key, slot, fc)
	}
	return nil
}

func (m *mockStore) Get(ctx context.Context, key string, slot domain.Slot) (*domain.FeatureCollection, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key, slot)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockStore) Info(ctx context.Context, key string) (domain.SessionInfo, error) {
	if m.infoFn != nil {
		return m.infoFn(ctx, key)
	}
	return domain.SessionInfo{}, domain.ErrSessionNotFound
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return nil
}

func (m *mockStore) Ping(ctx context.Context) error { return nil }

// --- Mock DatasetCodec ---

type mockCodec struct {
	decodeFn func(ctx context.Context, name string, data []byte) (*domain.FeatureCollection, error)
	encodeFn func(ctx context.Context, w io.Writer, fc *domain.FeatureCollection) error
}

func (m *mockCodec) Decode(ctx context.Context, name string, data []byte) (*domain.FeatureCollection, error) {
	if m.decodeFn != nil {
		return m.decodeFn(ctx, name, data)
	}
	return &domain.FeatureCollection{Name: name}, nil
}

func (m *mockCodec) Encode(ctx context.Context, w io.Writer, fc *domain.FeatureCollection) error {
	if m.encodeFn != nil {
		return m.encodeFn(ctx, w, fc)
	}
	return nil
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	events []*domain.SessionEvent
	err    error
}

func (m *mockPublisher) PublishSessionEvent(ctx context.Context, event *domain.SessionEvent) error {
	m.events = append(m.events, event)
	return m.err
}

// exactPairs are generated by scale 2, rotation 90 degrees, translation (10, 20).
func exactPairs() []geospatial.PointPair {
	m := geospatial.NewSimilarity(2, 1.5707963267948966, orb.Point{10, 20})
	src := []orb.Point{{0, 0}, {1, 0}, {0, 1}, {3, 5}}
	pairs := make([]geospatial.PointPair, len(src))
	for i, p := range src {
		pairs[i] = geospatial.PointPair{Source: p, Target: m.Apply(p)}
	}
	return pairs
}

// --- Tests ---

func TestGeorefService_UploadRaw(t *testing.T) {
	var storedKey string
	var storedSlot domain.Slot
	store := &mockStore{
		putFn: func(ctx context.Context, key string, slot domain.Slot, fc *domain.FeatureCollection) error {
			storedKey, storedSlot = key, slot
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := usecases.NewGeorefService(store, &mockCodec{}, pub, usecases.Frames{})

	id, fc, err := svc.UploadRaw(context.Background(), "raw.zip", []byte("zip"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" || id != storedKey {
		t.Errorf("expected stored key %q to match session id %q", storedKey, id)
	}
	if storedSlot != domain.SlotRaw {
		t.Errorf("expected raw slot, got %s", storedSlot)
	}
	if fc.Frame != "EPSG:3857" {
		t.Errorf("expected default raw frame EPSG:3857, got %s", fc.Frame)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != domain.EventUploaded {
		t.Errorf("expected one uploaded event, got %+v", pub.events)
	}
}

func TestGeorefService_UploadRaw_DistinctSessions(t *testing.T) {
	svc := usecases.NewGeorefService(&mockStore{}, &mockCodec{}, nil, usecases.Frames{})

	a, _, err := svc.UploadRaw(context.Background(), "a.zip", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _, _ := svc.UploadRaw(context.Background(), "b.zip", nil)
	if a == b {
		t.Error("expected distinct session ids")
	}
}

func TestGeorefService_UploadRaw_DecodeError(t *testing.T) {
	decodeErr := errors.New("bad archive")
	putCalled := false
	store := &mockStore{
		putFn: func(ctx context.Context, key string, slot domain.Slot, fc *domain.FeatureCollection) error {
			putCalled = true
			return nil
		},
	}
	codec := &mockCodec{
		decodeFn: func(ctx context.Context, name string, data []byte) (*domain.FeatureCollection, error) {
			return nil, decodeErr
		},
	}
	svc := usecases.NewGeorefService(store, codec, nil, usecases.Frames{})

	_, _, err := svc.UploadRaw(context.Background(), "raw.zip", nil)
	if !errors.Is(err, decodeErr) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if putCalled {
		t.Error("store must not be written when decoding fails")
	}
}

func TestGeorefService_UploadReference_UnknownSession(t *testing.T) {
	svc := usecases.NewGeorefService(&mockStore{}, &mockCodec{}, nil, usecases.Frames{})

	_, err := svc.UploadReference(context.Background(), "missing", "ref.zip", nil)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGeorefService_UploadReference_KeepsDecodedFrame(t *testing.T) {
	store := &mockStore{
		infoFn: func(ctx context.Context, key string) (domain.SessionInfo, error) {
			return domain.SessionInfo{ID: key, HasRaw: true}, nil
		},
	}
	codec := &mockCodec{
		decodeFn: func(ctx context.Context, name string, data []byte) (*domain.FeatureCollection, error) {
			return &domain.FeatureCollection{Name: name, Frame: "EPSG:25830"}, nil
		},
	}
	svc := usecases.NewGeorefService(store, codec, nil, usecases.Frames{})

	fc, err := svc.UploadReference(context.Background(), "s1", "ref.zip", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.Frame != "EPSG:25830" {
		t.Errorf("expected decoded frame to win, got %s", fc.Frame)
	}
}

func TestGeorefService_Feature_DefaultKeyColumn(t *testing.T) {
	store := &mockStore{
		getFn: func(ctx context.Context, key string, slot domain.Slot) (*domain.FeatureCollection, error) {
			return sampleCollection(), nil
		},
	}
	svc := usecases.NewGeorefService(store, &mockCodec{}, nil, usecases.Frames{})

	rec, err := svc.Feature(context.Background(), "s1", domain.SlotRaw, "", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Attributes["owner"] != "b" {
		t.Errorf("expected owner b, got %v", rec.Attributes["owner"])
	}

	_, err = svc.Feature(context.Background(), "s1", domain.SlotRaw, "owner", "zzz")
	if !errors.Is(err, domain.ErrFeatureNotFound) {
		t.Errorf("expected ErrFeatureNotFound, got %v", err)
	}
}

func TestGeorefService_Fit(t *testing.T) {
	svc := usecases.NewGeorefService(&mockStore{}, &mockCodec{}, nil, usecases.Frames{})

	res, err := svc.Fit(context.Background(), exactPairs(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := res.Model.Scale - 2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected scale 2, got %v", res.Model.Scale)
	}
	if diff := res.Rotation - 90; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected rotation 90, got %v", res.Rotation)
	}
	if res.RMSEMeters == nil {
		t.Error("expected meters RMSE for a WGS84 reference frame")
	}
	if res.Pairs != 4 {
		t.Errorf("expected 4 pairs, got %d", res.Pairs)
	}
}

func TestGeorefService_Fit_ProjectedReferenceHasNoMeters(t *testing.T) {
	svc := usecases.NewGeorefService(&mockStore{}, &mockCodec{}, nil, usecases.Frames{})

	res, err := svc.Fit(context.Background(), exactPairs(), "EPSG:3857")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RMSEMeters != nil {
		t.Errorf("expected no meters RMSE, got %v", *res.RMSEMeters)
	}
}

func TestGeorefService_Fit_InsufficientPoints(t *testing.T) {
	svc := usecases.NewGeorefService(&mockStore{}, &mockCodec{}, nil, usecases.Frames{})

	_, err := svc.Fit(context.Background(), exactPairs()[:2], "")
	if !errors.Is(err, geospatial.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
}

func TestGeorefService_Transform(t *testing.T) {
	store := &mockStore{
		getFn: func(ctx context.Context, key string, slot domain.Slot) (*domain.FeatureCollection, error) {
			if slot == domain.SlotRaw {
				return sampleCollection(), nil
			}
			return nil, domain.ErrDatasetNotFound
		},
	}
	pub := &mockPublisher{err: errors.New("broker down")}
	svc := usecases.NewGeorefService(store, &mockCodec{}, pub, usecases.Frames{})

	res, err := svc.Transform(context.Background(), "s1", exactPairs(), "")
	if err != nil {
		t.Fatalf("publisher failures must not fail the transform: %v", err)
	}
	if res.Collection.Frame != "EPSG:4326" {
		t.Errorf("expected default target frame, got %s", res.Collection.Frame)
	}
	if res.Report.Transformed != 3 || res.Report.Skipped != 1 {
		t.Errorf("unexpected report %+v", res.Report)
	}
	p := res.Collection.Records[0].Geometry.(orb.Point)
	if d := p[0] - 10; d > 1e-9 || d < -1e-9 {
		t.Errorf("expected x=10, got %v", p[0])
	}
	if len(pub.events) != 1 || pub.events[0].Kind != domain.EventTransformed {
		t.Errorf("expected transformed event, got %+v", pub.events)
	}
}

func TestGeorefService_Transform_NoRawDataset(t *testing.T) {
	store := &mockStore{
		getFn: func(ctx context.Context, key string, slot domain.Slot) (*domain.FeatureCollection, error) {
			return nil, domain.ErrDatasetNotFound
		},
	}
	svc := usecases.NewGeorefService(store, &mockCodec{}, nil, usecases.Frames{})

	_, err := svc.Transform(context.Background(), "s1", exactPairs(), "")
	if !errors.Is(err, domain.ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}
}

func TestGeorefService_Delete(t *testing.T) {
	var deleted string
	store := &mockStore{
		deleteFn: func(ctx context.Context, key string) error {
			deleted = key
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := usecases.NewGeorefService(store, &mockCodec{}, pub, usecases.Frames{})

	if err := svc.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != "s1" {
		t.Errorf("expected s1 deleted, got %q", deleted)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != domain.EventDeleted {
		t.Errorf("expected deleted event, got %+v", pub.events)
	}
}
