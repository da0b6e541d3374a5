package cli

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/samirrijal/georef/internal/pkg/geospatial"
)

// pairsFile is the on-disk control point format:
//
//	pairs:
//	  - source: [x, y]
//	    target: [x, y]
type pairsFile struct {
	Pairs []struct {
		Source []float64 `yaml:"source"`
		Target []float64 `yaml:"target"`
	} `yaml:"pairs"`
}

// LoadPairs reads a YAML control point file.
func LoadPairs(path string) ([]geospatial.PointPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs: %w", err)
	}
	return ParsePairs(data)
}

// ParsePairs decodes the YAML control point format.
func ParsePairs(data []byte) ([]geospatial.PointPair, error) {
	var f pairsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pairs: %w", err)
	}

	pairs := make([]geospatial.PointPair, 0, len(f.Pairs))
	for i, p := range f.Pairs {
		if len(p.Source) != 2 || len(p.Target) != 2 {
			return nil, fmt.Errorf("pair %d: source and target need exactly two coordinates", i)
		}
		pairs = append(pairs, geospatial.PointPair{
			Source: orb.Point{p.Source[0], p.Source[1]},
			Target: orb.Point{p.Target[0], p.Target[1]},
		})
	}
	return pairs, nil
}
