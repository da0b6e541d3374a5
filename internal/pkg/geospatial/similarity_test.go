package geospatial_test

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/georef/internal/pkg/geospatial"
)

const tol = 1e-9

func pairsThrough(m geospatial.Similarity, src ...orb.Point) []geospatial.PointPair {
	pairs := make([]geospatial.PointPair, len(src))
	for i, p := range src {
		pairs[i] = geospatial.PointPair{Source: p, Target: m.Apply(p)}
	}
	return pairs
}

func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	}
	if d < -math.Pi {
		d += 2 * math.Pi
	}
	return math.Abs(d)
}

func TestFitSimilarity_ConcreteScenario(t *testing.T) {
	pairs := []geospatial.PointPair{
		{Source: orb.Point{0, 0}, Target: orb.Point{5, 5}},
		{Source: orb.Point{1, 0}, Target: orb.Point{6, 5}},
		{Source: orb.Point{0, 1}, Target: orb.Point{5, 6}},
	}

	m, err := geospatial.FitSimilarity(pairs)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, m.Scale, tol)
	assert.InDelta(t, 1.0, m.Rotation[0][0], tol)
	assert.InDelta(t, 0.0, m.Rotation[0][1], tol)
	assert.InDelta(t, 0.0, m.Rotation[1][0], tol)
	assert.InDelta(t, 1.0, m.Rotation[1][1], tol)
	assert.InDelta(t, 5.0, m.Translation[0], tol)
	assert.InDelta(t, 5.0, m.Translation[1], tol)

	p := m.Apply(orb.Point{2, 2})
	assert.InDelta(t, 7.0, p[0], tol)
	assert.InDelta(t, 7.0, p[1], tol)
}

func TestFitSimilarity_ExactRecovery(t *testing.T) {
	cases := []struct {
		name  string
		scale float64
		theta float64
		t     orb.Point
		src   []orb.Point
	}{
		{"quarter turn", 2, math.Pi / 2, orb.Point{10, -3}, []orb.Point{{0, 0}, {4, 1}, {2, 5}}},
		{"small scale", 1e-5, 0.3, orb.Point{-2.93, 43.26}, []orb.Point{{1200, 300}, {1800, 420}, {1500, 900}, {1300, 650}}},
		{"negative angle", 0.75, -2.5, orb.Point{0, 0}, []orb.Point{{-1, -1}, {3, 0}, {0, 7}, {5, 5}, {2, -4}}},
		{"half turn", 3.2, math.Pi, orb.Point{100, 200}, []orb.Point{{1, 2}, {3, 1}, {2, 6}}},
		{"projected units", 0.001, 1.1, orb.Point{500000, 4700000}, []orb.Point{{0, 0}, {250000, 10}, {40, 180000}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want := geospatial.NewSimilarity(tc.scale, tc.theta, tc.t)
			got, err := geospatial.FitSimilarity(pairsThrough(want, tc.src...))
			require.NoError(t, err)

			assert.InEpsilon(t, tc.scale, got.Scale, tol)
			assert.Less(t, angleDiff(tc.theta, got.Angle()), 1e-9)
			assert.InDelta(t, tc.t[0], got.Translation[0], 1e-9*math.Max(1, math.Abs(tc.t[0])))
			assert.InDelta(t, tc.t[1], got.Translation[1], 1e-9*math.Max(1, math.Abs(tc.t[1])))

			stats := geospatial.Residuals(pairsThrough(want, tc.src...), got)
			assert.InDelta(t, 0, stats.RMSE, 1e-6)
		})
	}
}

func TestFitSimilarity_RotationIsOrthonormal(t *testing.T) {
	pairs := []geospatial.PointPair{
		{Source: orb.Point{0, 0}, Target: orb.Point{1.1, 0.2}},
		{Source: orb.Point{10, 0}, Target: orb.Point{9.7, 5.4}},
		{Source: orb.Point{0, 10}, Target: orb.Point{-4.8, 8.9}},
		{Source: orb.Point{7, 7}, Target: orb.Point{2.3, 11.6}},
	}

	m, err := geospatial.FitSimilarity(pairs)
	require.NoError(t, err)

	r := m.Rotation
	assert.InDelta(t, 1, m.Determinant(), tol)
	assert.InDelta(t, 1, r[0][0]*r[0][0]+r[1][0]*r[1][0], tol)
	assert.InDelta(t, 1, r[0][1]*r[0][1]+r[1][1]*r[1][1], tol)
	assert.InDelta(t, 0, r[0][0]*r[0][1]+r[1][0]*r[1][1], tol)
	assert.Greater(t, m.Scale, 0.0)
}

func TestFitSimilarity_ReflectionIsCorrected(t *testing.T) {
	// Targets are the sources mirrored across the x axis.
	src := []orb.Point{{0, 0}, {4, 1}, {1, 3}, {5, 6}}
	pairs := make([]geospatial.PointPair, len(src))
	for i, p := range src {
		pairs[i] = geospatial.PointPair{Source: p, Target: orb.Point{p[0], -p[1]}}
	}

	m, err := geospatial.FitSimilarity(pairs)
	require.NoError(t, err)
	assert.InDelta(t, 1, m.Determinant(), tol)
	assert.Greater(t, m.Scale, 0.0)

	stats := geospatial.Residuals(pairs, m)
	assert.Greater(t, stats.RMSE, 0.0, "a proper rotation cannot reproduce a mirror image")
}

func TestFitSimilarity_InsufficientPoints(t *testing.T) {
	pairs := []geospatial.PointPair{
		{Source: orb.Point{0, 0}, Target: orb.Point{5, 5}},
		{Source: orb.Point{1, 0}, Target: orb.Point{6, 5}},
	}
	_, err := geospatial.FitSimilarity(pairs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, geospatial.ErrInsufficientPoints))

	pairs = append(pairs, geospatial.PointPair{Source: orb.Point{0, 1}, Target: orb.Point{5, 6}})
	_, err = geospatial.FitSimilarity(pairs)
	assert.NoError(t, err)

	_, err = geospatial.FitSimilarity(nil)
	assert.ErrorIs(t, err, geospatial.ErrInsufficientPoints)
}

func TestFitSimilarity_DegenerateSource(t *testing.T) {
	pairs := []geospatial.PointPair{
		{Source: orb.Point{3, 3}, Target: orb.Point{5, 5}},
		{Source: orb.Point{3, 3}, Target: orb.Point{6, 5}},
		{Source: orb.Point{3, 3}, Target: orb.Point{5, 6}},
	}
	_, err := geospatial.FitSimilarity(pairs)
	assert.ErrorIs(t, err, geospatial.ErrDegenerateSourceSpread)
}

func TestFitSimilarity_DegenerateTarget(t *testing.T) {
	pairs := []geospatial.PointPair{
		{Source: orb.Point{0, 0}, Target: orb.Point{5, 5}},
		{Source: orb.Point{1, 0}, Target: orb.Point{5, 5}},
		{Source: orb.Point{0, 1}, Target: orb.Point{5, 5}},
	}
	_, err := geospatial.FitSimilarity(pairs)
	assert.ErrorIs(t, err, geospatial.ErrDegenerateTargetSpread)
}

func TestFitSimilarity_NonFiniteCoordinates(t *testing.T) {
	base := func() []geospatial.PointPair {
		return []geospatial.PointPair{
			{Source: orb.Point{0, 0}, Target: orb.Point{10, 20}},
			{Source: orb.Point{1, 0}, Target: orb.Point{12, 20}},
			{Source: orb.Point{0, 1}, Target: orb.Point{10, 22}},
		}
	}
	for name, v := range map[string]float64{"nan": math.NaN(), "+inf": math.Inf(1), "-inf": math.Inf(-1)} {
		t.Run("source "+name, func(t *testing.T) {
			pairs := base()
			pairs[1].Source[0] = v
			_, err := geospatial.FitSimilarity(pairs)
			assert.ErrorIs(t, err, geospatial.ErrNonFiniteCoordinate)
		})
		t.Run("target "+name, func(t *testing.T) {
			pairs := base()
			pairs[2].Target[1] = v
			_, err := geospatial.FitSimilarity(pairs)
			assert.ErrorIs(t, err, geospatial.ErrNonFiniteCoordinate)
		})
	}
}

func TestFitSimilarity_HugeCoordinates(t *testing.T) {
	want := geospatial.NewSimilarity(1e-198, 0.5, orb.Point{10, 20})
	pairs := pairsThrough(want, orb.Point{1e200, 0}, orb.Point{0, 1e200}, orb.Point{1e200, 1e200}, orb.Point{-3e200, 2e200})

	got, err := geospatial.FitSimilarity(pairs)
	require.NoError(t, err)
	assert.InEpsilon(t, 1e-198, got.Scale, 1e-9)
	assert.Less(t, angleDiff(0.5, got.Angle()), 1e-9)
	assert.InDelta(t, 1, got.Determinant(), tol)
	assert.InDelta(t, 10, got.Translation[0], 1e-6)
	assert.InDelta(t, 20, got.Translation[1], 1e-6)
}

func TestFitSimilarity_OppositeExtremes(t *testing.T) {
	pairs := []geospatial.PointPair{
		{Source: orb.Point{-1.5e308, 0}, Target: orb.Point{0, 0}},
		{Source: orb.Point{1.5e308, 0}, Target: orb.Point{1e10, 0}},
		{Source: orb.Point{0, 1.5e308}, Target: orb.Point{5e9, 5e9}},
	}
	got, err := geospatial.FitSimilarity(pairs)
	require.NoError(t, err)
	assert.Greater(t, got.Scale, 0.0)
	assert.False(t, math.IsNaN(got.Translation[0]) || math.IsNaN(got.Translation[1]))
	assert.InDelta(t, 1, got.Determinant(), tol)
}

func TestFitSimilarity_LeastSquaresWithNoise(t *testing.T) {
	want := geospatial.NewSimilarity(1.5, 0.4, orb.Point{3, -1})
	src := []orb.Point{{0, 0}, {10, 0}, {0, 10}, {10, 10}, {5, 5}}
	noise := []orb.Point{{0.01, -0.02}, {-0.015, 0.01}, {0.02, 0.005}, {-0.01, -0.01}, {0.003, 0.012}}

	pairs := make([]geospatial.PointPair, len(src))
	for i, p := range src {
		q := want.Apply(p)
		pairs[i] = geospatial.PointPair{Source: p, Target: orb.Point{q[0] + noise[i][0], q[1] + noise[i][1]}}
	}

	got, err := geospatial.FitSimilarity(pairs)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, got.Scale, 0.01)
	assert.InDelta(t, 0.4, got.Angle(), 0.01)

	fitted := geospatial.Residuals(pairs, got)
	generating := geospatial.Residuals(pairs, want)
	assert.LessOrEqual(t, fitted.RMSE, generating.RMSE+1e-12)
	assert.Len(t, fitted.Residuals, len(pairs))
	assert.GreaterOrEqual(t, fitted.Max, fitted.RMSE*0.999)
}

func TestResiduals_Empty(t *testing.T) {
	stats := geospatial.Residuals(nil, geospatial.Identity())
	assert.Zero(t, stats.RMSE)
	assert.Empty(t, stats.Residuals)
}

func TestGeodesicRMSE(t *testing.T) {
	m := geospatial.Identity()
	pairs := []geospatial.PointPair{
		{Source: orb.Point{-2.935, 43.263}, Target: orb.Point{-2.935, 43.264}},
	}
	// One thousandth of a degree of latitude is roughly 111 m.
	assert.InDelta(t, 111.2, geospatial.GeodesicRMSE(pairs, m), 0.5)
	assert.Zero(t, geospatial.GeodesicRMSE(nil, m))
}

func TestHaversine_KnownDistance(t *testing.T) {
	// Bilbao Abando to Moyua, roughly 700 m apart.
	d := geospatial.Haversine(43.2609, -2.9275, 43.2630, -2.9357)
	assert.InDelta(t, 700, d, 50)
}
