package usecases

import (
	"github.com/samirrijal/georef/internal/core/domain"
	"github.com/samirrijal/georef/internal/pkg/geospatial"
)

// Project maps every record of fc through m and tags the result with
// targetFrame. fc is left untouched; attribute maps are shared.
func Project(fc *domain.FeatureCollection, m geospatial.Similarity, targetFrame string) (*domain.FeatureCollection, domain.ProjectionReport) {
	out := &domain.FeatureCollection{
		Name:    fc.Name,
		Columns: append([]string(nil), fc.Columns...),
		Records: make([]domain.FeatureRecord, len(fc.Records)),
		Frame:   targetFrame,
	}

	var report domain.ProjectionReport
	for i, r := range fc.Records {
		g, ok := geospatial.MapGeometry(r.Geometry, m)
		if ok {
			report.Transformed++
		} else {
			if report.SkippedKinds == nil {
				report.SkippedKinds = make(map[string]int)
			}
			report.Skipped++
			report.SkippedKinds[geospatial.KindOf(r.Geometry)]++
		}
		out.Records[i] = domain.FeatureRecord{Attributes: r.Attributes, Geometry: g}
	}
	return out, report
}
