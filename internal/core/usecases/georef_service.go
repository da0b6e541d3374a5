package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/georef/internal/core/domain"
	"github.com/samirrijal/georef/internal/core/ports"
	"github.com/samirrijal/georef/internal/pkg/geospatial"
	"github.com/samirrijal/georef/internal/pkg/logging"
	"github.com/samirrijal/georef/internal/pkg/metrics"
	"github.com/samirrijal/georef/internal/pkg/telemetry"
)

// FrameWGS84 is the geographic frame whose residuals can be reported in meters.
const FrameWGS84 = "EPSG:4326"

// Frames holds the reference-frame tags applied when a dataset does not
// carry its own.
type Frames struct {
	Raw       string
	Reference string
	Target    string
}

// FitResult is a fitted model together with its control point residuals.
type FitResult struct {
	Model      geospatial.Similarity    `json:"model"`
	Rotation   float64                  `json:"rotation_deg"`
	Residuals  geospatial.ResidualStats `json:"residuals"`
	RMSEMeters *float64                 `json:"rmse_meters,omitempty"`
	Pairs      int                      `json:"pairs"`
}

// TransformResult is the outcome of georeferencing a session's raw dataset.
type TransformResult struct {
	Fit        *FitResult
	Collection *domain.FeatureCollection
	Report     domain.ProjectionReport
}

// GeorefService orchestrates the session store, the solver and the projector.
type GeorefService struct {
	store     ports.SessionStore
	codec     ports.DatasetCodec
	publisher ports.EventPublisher
	frames    Frames
	now       func() time.Time
}

// NewGeorefService creates a new GeorefService. publisher may be nil.
func NewGeorefService(store ports.SessionStore, codec ports.DatasetCodec, publisher ports.EventPublisher, frames Frames) *GeorefService {
	if frames.Raw == "" {
		frames.Raw = "EPSG:3857"
	}
	if frames.Reference == "" {
		frames.Reference = FrameWGS84
	}
	if frames.Target == "" {
		frames.Target = FrameWGS84
	}
	return &GeorefService{store: store, codec: codec, publisher: publisher, frames: frames, now: time.Now}
}

// Frames returns the effective default frames.
func (s *GeorefService) Frames() Frames {
	return s.frames
}

// UploadRaw decodes a raw archive and stores it in a new session.
func (s *GeorefService) UploadRaw(ctx context.Context, filename string, data []byte) (string, *domain.FeatureCollection, error) {
	fc, err := s.decode(ctx, domain.SlotRaw, filename, data, s.frames.Raw)
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	if err := s.store.Put(ctx, id, domain.SlotRaw, fc); err != nil {
		return "", nil, fmt.Errorf("store raw dataset: %w", err)
	}

	metrics.UploadsTotal.WithLabelValues(string(domain.SlotRaw)).Inc()
	logging.FromContext(ctx).Info("raw dataset stored",
		"session_id", id, "features", fc.Len(), "frame", fc.Frame)
	s.publish(ctx, &domain.SessionEvent{SessionID: id, Kind: domain.EventUploaded, Slot: domain.SlotRaw, Count: fc.Len()})
	return id, fc, nil
}

// UploadReference decodes a reference archive into an existing session.
func (s *GeorefService) UploadReference(ctx context.Context, sessionID, filename string, data []byte) (*domain.FeatureCollection, error) {
	if _, err := s.store.Info(ctx, sessionID); err != nil {
		return nil, err
	}

	fc, err := s.decode(ctx, domain.SlotReference, filename, data, s.frames.Reference)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, sessionID, domain.SlotReference, fc); err != nil {
		return nil, fmt.Errorf("store reference dataset: %w", err)
	}

	metrics.UploadsTotal.WithLabelValues(string(domain.SlotReference)).Inc()
	logging.FromContext(ctx).Info("reference dataset stored",
		"session_id", sessionID, "features", fc.Len(), "frame", fc.Frame)
	s.publish(ctx, &domain.SessionEvent{SessionID: sessionID, Kind: domain.EventUploaded, Slot: domain.SlotReference, Count: fc.Len()})
	return fc, nil
}

// Dataset returns the collection stored in a session slot.
func (s *GeorefService) Dataset(ctx context.Context, sessionID string, slot domain.Slot) (*domain.FeatureCollection, error) {
	return s.store.Get(ctx, sessionID, slot)
}

// Feature looks up one record by the value of keyCol. An empty keyCol
// means the dataset's first column.
func (s *GeorefService) Feature(ctx context.Context, sessionID string, slot domain.Slot, keyCol, featureID string) (*domain.FeatureRecord, error) {
	fc, err := s.store.Get(ctx, sessionID, slot)
	if err != nil {
		return nil, err
	}
	if keyCol == "" {
		keyCol = fc.KeyColumn()
	}
	return fc.FindByKey(keyCol, featureID)
}

// Info describes a session.
func (s *GeorefService) Info(ctx context.Context, sessionID string) (domain.SessionInfo, error) {
	return s.store.Info(ctx, sessionID)
}

// Delete drops a session and both of its datasets.
func (s *GeorefService) Delete(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.publish(ctx, &domain.SessionEvent{SessionID: sessionID, Kind: domain.EventDeleted})
	return nil
}

// Fit fits a similarity to the pairs without touching any session.
// Residuals are reported in meters as well when referenceFrame is WGS84.
func (s *GeorefService) Fit(ctx context.Context, pairs []geospatial.PointPair, referenceFrame string) (*FitResult, error) {
	_, span := telemetry.Tracer().Start(ctx, telemetry.SpanFit)
	defer span.End()
	span.SetAttributes(attribute.Int(telemetry.AttrPairs, len(pairs)))

	m, err := geospatial.FitSimilarity(pairs)
	if err != nil {
		metrics.FitsTotal.WithLabelValues(fitOutcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.FromContext(ctx).Warn("similarity fit rejected", "pairs", len(pairs), "error", err)
		return nil, err
	}

	res := &FitResult{
		Model:     m,
		Rotation:  m.Angle() * 180 / math.Pi,
		Residuals: geospatial.Residuals(pairs, m),
		Pairs:     len(pairs),
	}
	if referenceFrame == "" {
		referenceFrame = s.frames.Reference
	}
	if referenceFrame == FrameWGS84 {
		meters := geospatial.GeodesicRMSE(pairs, m)
		res.RMSEMeters = &meters
	}

	metrics.FitsTotal.WithLabelValues("ok").Inc()
	metrics.FitRMSE.Observe(res.Residuals.RMSE)
	span.SetAttributes(attribute.Float64(telemetry.AttrScale, m.Scale))
	logging.FromContext(ctx).Info("similarity fitted",
		"pairs", len(pairs), "scale", m.Scale, "rotation_deg", res.Rotation, "rmse", res.Residuals.RMSE)
	return res, nil
}

// Transform fits the pairs and reprojects the session's raw dataset into
// targetFrame (the configured target frame when empty).
func (s *GeorefService) Transform(ctx context.Context, sessionID string, pairs []geospatial.PointPair, targetFrame string) (*TransformResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanTransform)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrSessionID, sessionID))

	raw, err := s.store.Get(ctx, sessionID, domain.SlotRaw)
	if err != nil {
		return nil, err
	}
	if targetFrame == "" {
		targetFrame = s.frames.Target
	}

	refFrame := s.frames.Reference
	if ref, err := s.store.Get(ctx, sessionID, domain.SlotReference); err == nil {
		refFrame = ref.Frame
	}

	fit, err := s.Fit(ctx, pairs, refFrame)
	if err != nil {
		return nil, err
	}

	_, pspan := telemetry.Tracer().Start(ctx, telemetry.SpanProject)
	start := time.Now()
	out, report := Project(raw, fit.Model, targetFrame)
	metrics.ProjectionDuration.Observe(time.Since(start).Seconds())
	pspan.SetAttributes(
		attribute.Int(telemetry.AttrFeatures, out.Len()),
		attribute.Int(telemetry.AttrSkipped, report.Skipped),
		attribute.String(telemetry.AttrTargetFrame, targetFrame),
	)
	pspan.End()

	log := logging.FromContext(ctx)
	for kind, n := range report.SkippedKinds {
		metrics.GeometriesSkipped.WithLabelValues(kind).Add(float64(n))
	}
	if report.Skipped > 0 {
		log.Warn("geometries left untransformed",
			"session_id", sessionID, "skipped", report.Skipped, "kinds", report.SkippedKinds)
	}
	log.Info("raw dataset georeferenced",
		"session_id", sessionID, "features", out.Len(), "target_frame", targetFrame)

	s.publish(ctx, &domain.SessionEvent{
		SessionID: sessionID,
		Kind:      domain.EventTransformed,
		Count:     report.Transformed,
		Scale:     fit.Model.Scale,
		Rotation:  fit.Rotation,
		RMSE:      fit.Residuals.RMSE,
		Skipped:   report.Skipped,
	})
	return &TransformResult{Fit: fit, Collection: out, Report: report}, nil
}

// Export encodes fc with the service codec.
func (s *GeorefService) Export(ctx context.Context, w io.Writer, fc *domain.FeatureCollection) error {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanEncode)
	defer span.End()
	if err := s.codec.Encode(ctx, w, fc); err != nil {
		span.RecordError(err)
		return fmt.Errorf("encode dataset: %w", err)
	}
	return nil
}

func (s *GeorefService) decode(ctx context.Context, slot domain.Slot, filename string, data []byte, defaultFrame string) (*domain.FeatureCollection, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanDecode)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrSlot, string(slot)))

	fc, err := s.codec.Decode(ctx, filename, data)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if fc.Frame == "" {
		fc.Frame = defaultFrame
	}
	span.SetAttributes(attribute.Int(telemetry.AttrFeatures, fc.Len()))
	return fc, nil
}

// publish is best effort: a broker outage never fails a request.
func (s *GeorefService) publish(ctx context.Context, ev *domain.SessionEvent) {
	if s.publisher == nil {
		return
	}
	ev.Time = s.now().UTC()
	if err := s.publisher.PublishSessionEvent(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("publish session event", "kind", ev.Kind, "error", err)
	}
}

func fitOutcome(err error) string {
	switch {
	case errors.Is(err, geospatial.ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, geospatial.ErrNonFiniteCoordinate):
		return "non_finite"
	case errors.Is(err, geospatial.ErrDegenerateSourceSpread):
		return "degenerate_source_spread"
	case errors.Is(err, geospatial.ErrDegenerateTargetSpread):
		return "degenerate_target_spread"
	default:
		return "failed"
	}
}
