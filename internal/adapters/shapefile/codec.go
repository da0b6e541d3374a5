// Package shapefile reads and writes zipped ESRI shapefiles.
package shapefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samirrijal/georef/internal/core/domain"
)

var (
	ErrInvalidArchive      = errors.New("invalid shapefile archive")
	ErrNoShapefile         = errors.New("archive contains no .shp file")
	ErrMixedGeometry       = errors.New("dataset mixes geometry families")
	ErrUnsupportedGeometry = errors.New("geometry kind cannot be written to a shapefile")
)

// DefaultOutputName names the files inside an encoded archive.
const DefaultOutputName = "georef_final"

// Codec implements ports.DatasetCodec for zipped shapefiles.
type Codec struct {
	OutputName string
	TempDir    string
}

// NewCodec creates a shapefile codec writing <outputName>.* members.
func NewCodec(outputName string) *Codec {
	if outputName == "" {
		outputName = DefaultOutputName
	}
	return &Codec{OutputName: outputName}
}

// Decode extracts the archive and reads its first shapefile.
func (c *Codec) Decode(ctx context.Context, name string, data []byte) (*domain.FeatureCollection, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidArchive)
	}
	dir, err := os.MkdirTemp(c.TempDir, "georef-in-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := extract(data, dir); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := findShapefile(dir)
	if err != nil {
		return nil, err
	}
	return readFile(path)
}

// Encode writes fc as a zip holding .shp, .shx, .dbf, .cpg and, for known
// frames, .prj.
func (c *Codec) Encode(ctx context.Context, w io.Writer, fc *domain.FeatureCollection) error {
	dir, err := os.MkdirTemp(c.TempDir, "georef-out-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := writeFile(dir, c.OutputName, fc); err != nil {
		return err
	}
	return zipDir(w, dir)
}

// EncodeBytes is Encode into memory.
func (c *Codec) EncodeBytes(ctx context.Context, fc *domain.FeatureCollection) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(ctx, &buf, fc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
