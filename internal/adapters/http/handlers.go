package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb/geojson"

	geojsonadapter "github.com/samirrijal/georef/internal/adapters/geojson"
	"github.com/samirrijal/georef/internal/core/domain"
	"github.com/samirrijal/georef/internal/core/usecases"
	"github.com/samirrijal/georef/internal/pkg/geospatial"
)

// UploadResponse describes a freshly stored dataset.
type UploadResponse struct {
	SessionID    string          `json:"session_id"`
	Columns      []string        `json:"columns"`
	FeatureCount int             `json:"feature_count"`
	Bounds       []float64       `json:"bounds"`
	Frame        string          `json:"frame"`
	GeoJSON      json.RawMessage `json:"geojson"`
}

// FeatureResponse is one record with its geometry in GeoJSON form.
type FeatureResponse struct {
	ID         string            `json:"id,omitempty"`
	Properties map[string]any    `json:"properties"`
	Geometry   *geojson.Geometry `json:"geometry"`
}

// WirePair is one control point pair as [[sx, sy], [tx, ty]].
type WirePair [2][2]float64

// UnmarshalJSON rejects pairs that are not exactly two coordinate pairs.
func (p *WirePair) UnmarshalJSON(data []byte) error {
	var raw [][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 || len(raw[0]) != 2 || len(raw[1]) != 2 {
		return errors.New("each pair must be [[sx, sy], [tx, ty]]")
	}
	*p = WirePair{{raw[0][0], raw[0][1]}, {raw[1][0], raw[1][1]}}
	return nil
}

// FitRequest is the body of POST /v1/fit.
type FitRequest struct {
	Pairs          []WirePair `json:"pairs"`
	ReferenceFrame string     `json:"reference_frame,omitempty"`
}

// TransformRequest is the body of POST /v1/sessions/:id/transform. SessionID
// is only read by the legacy /transform route.
type TransformRequest struct {
	SessionID   string     `json:"session_id,omitempty"`
	Pairs       []WirePair `json:"pairs"`
	TargetFrame string     `json:"target_frame,omitempty"`
	Format      string     `json:"format,omitempty"` // shapefile (default) | geojson
}

func toPointPairs(w []WirePair) []geospatial.PointPair {
	pairs := make([]geospatial.PointPair, len(w))
	for i, p := range w {
		pairs[i] = geospatial.PointPair{Source: p[0], Target: p[1]}
	}
	return pairs
}

// sessionID reads the session from the :id param, falling back to the
// session_id query parameter used by legacy clients.
func sessionID(c *fiber.Ctx) string {
	if id := c.Params("id"); id != "" {
		return id
	}
	return c.Query("session_id")
}

func readUpload(c *fiber.Ctx) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("multipart field 'file' is required")
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}
	return fh.Filename, data, nil
}

func uploadResponse(id string, fc *domain.FeatureCollection) (UploadResponse, error) {
	gj, err := geojsonadapter.Marshal(fc, "")
	if err != nil {
		return UploadResponse{}, err
	}
	return UploadResponse{
		SessionID:    id,
		Columns:      fc.Columns,
		FeatureCount: fc.Len(),
		Bounds:       fc.BoundsSlice(),
		Frame:        fc.Frame,
		GeoJSON:      gj,
	}, nil
}

func featureResponse(r *domain.FeatureRecord, key string) FeatureResponse {
	out := FeatureResponse{Properties: r.Attributes}
	if v, ok := r.Attributes[key]; ok && v != nil {
		out.ID = domain.FormatValue(v)
	}
	if r.Geometry != nil {
		out.Geometry = geojson.NewGeometry(r.Geometry)
	}
	return out
}

// UploadRawHandler stores a raw shapefile archive in a new session.
func UploadRawHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name, data, err := readUpload(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		id, fc, err := deps.Georef.UploadRaw(c.UserContext(), name, data)
		if err != nil {
			return errFromDomain(c, err)
		}

		resp, err := uploadResponse(id, fc)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.Status(201).JSON(resp)
	}
}

// UploadReferenceHandler stores a reference archive in an existing session.
func UploadReferenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := sessionID(c)
		if id == "" {
			return errBadRequest(c, "session id is required")
		}
		name, data, err := readUpload(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		fc, err := deps.Georef.UploadReference(c.UserContext(), id, name, data)
		if err != nil {
			return errFromDomain(c, err)
		}

		resp, err := uploadResponse(id, fc)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(resp)
	}
}

// SessionInfoHandler reports which datasets a session holds.
func SessionInfoHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		info, err := deps.Georef.Info(c.UserContext(), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(info)
	}
}

// DeleteSessionHandler drops a session.
func DeleteSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := deps.Georef.Delete(c.UserContext(), id); err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(fiber.Map{"message": "Session deleted", "session_id": id})
	}
}

func loadDataset(c *fiber.Ctx, deps *Dependencies) (*domain.FeatureCollection, string, error) {
	slot, err := domain.ParseSlot(c.Params("slot"))
	if err != nil {
		return nil, "", err
	}
	fc, err := deps.Georef.Dataset(c.UserContext(), c.Params("id"), slot)
	if err != nil {
		return nil, "", err
	}
	key := c.Query("key_col")
	if key == "" {
		key = fc.KeyColumn()
	} else if !fc.HasColumn(key) {
		return nil, "", fmt.Errorf("%w: unknown key column %q", errUnknownColumn, key)
	}
	return fc, key, nil
}

var errUnknownColumn = errors.New("bad key column")

// GeoJSONHandler returns a slot's dataset as GeoJSON with plot_id set.
func GeoJSONHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fc, key, err := loadDataset(c, deps)
		if errors.Is(err, errUnknownColumn) {
			return errBadRequest(c, err.Error())
		}
		if err != nil {
			return errFromDomain(c, err)
		}

		data, err := geojsonadapter.Marshal(fc, key)
		if err != nil {
			return errInternal(c, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(data)
	}
}

// ListFeaturesHandler pages through a slot's records.
func ListFeaturesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fc, key, err := loadDataset(c, deps)
		if errors.Is(err, errUnknownColumn) {
			return errBadRequest(c, err.Error())
		}
		if err != nil {
			return errFromDomain(c, err)
		}

		offset, limit := pageParams(c)
		pg := Pagination{Offset: offset, Limit: limit, Total: fc.Len()}
		start, end := pageBounds(pg)

		items := make([]FeatureResponse, 0, end-start)
		for i := start; i < end; i++ {
			items = append(items, featureResponse(&fc.Records[i], key))
		}

		extra := ""
		if q := c.Query("key_col"); q != "" {
			extra = "&key_col=" + url.QueryEscape(q)
		}
		SetLinkHeaders(c, pg, extra)
		return c.JSON(PaginatedResponse{Data: items, Pagination: pg})
	}
}

// FeatureHandler returns the record whose key column equals feature_id.
func FeatureHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		featureID := c.Params("feature_id")
		if featureID == "" {
			featureID = c.Query("feature_id")
		}
		if featureID == "" {
			return errBadRequest(c, "feature_id is required")
		}

		fc, key, err := loadDataset(c, deps)
		if errors.Is(err, errUnknownColumn) {
			return errBadRequest(c, err.Error())
		}
		if err != nil {
			return errFromDomain(c, err)
		}

		rec, err := fc.FindByKey(key, featureID)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(featureResponse(rec, key))
	}
}

// FitHandler fits a similarity without touching any session.
func FitHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req FitRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body: "+err.Error())
		}

		res, err := deps.Georef.Fit(c.UserContext(), toPointPairs(req.Pairs), req.ReferenceFrame)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(res)
	}
}

// TransformHandler georeferences a session's raw dataset and returns it as
// a zipped shapefile or GeoJSON.
func TransformHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req TransformRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body: "+err.Error())
		}
		id := c.Params("id")
		if id == "" {
			id = req.SessionID
		}
		if id == "" {
			return errBadRequest(c, "session id is required")
		}
		if req.Format != "" && req.Format != "shapefile" && req.Format != "geojson" {
			return errBadRequest(c, "format must be shapefile or geojson")
		}

		res, err := deps.Georef.Transform(c.UserContext(), id, toPointPairs(req.Pairs), req.TargetFrame)
		if err != nil {
			return errFromDomain(c, err)
		}
		setFitHeaders(c, res)

		if req.Format == "geojson" {
			data, err := geojsonadapter.Marshal(res.Collection, "")
			if err != nil {
				return errInternal(c, err.Error())
			}
			c.Set(fiber.HeaderContentType, "application/geo+json")
			return c.Send(data)
		}

		var buf bytes.Buffer
		if err := deps.Georef.Export(c.UserContext(), &buf, res.Collection); err != nil {
			return errFromDomain(c, err)
		}
		c.Set(fiber.HeaderContentType, "application/zip")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s.zip", deps.outputName()))
		return c.Send(buf.Bytes())
	}
}

func setFitHeaders(c *fiber.Ctx, res *usecases.TransformResult) {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	c.Set("X-Georef-Scale", f(res.Fit.Model.Scale))
	c.Set("X-Georef-Rotation", f(res.Fit.Rotation))
	c.Set("X-Georef-RMSE", f(res.Fit.Residuals.RMSE))
	if res.Fit.RMSEMeters != nil {
		c.Set("X-Georef-RMSE-Meters", f(*res.Fit.RMSEMeters))
	}
	c.Set("X-Georef-Skipped", strconv.Itoa(res.Report.Skipped))
}
