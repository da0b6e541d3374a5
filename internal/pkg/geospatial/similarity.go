package geospatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
)

// MinControlPoints is the smallest number of pairs FitSimilarity accepts.
const MinControlPoints = 3

// spreadTolerance bounds the largest offset from the centroid, relative to
// the centroid magnitude, below which a point set is treated as coincident.
const spreadTolerance = 1e-10

var (
	ErrInsufficientPoints     = errors.New("insufficient control points")
	ErrDegenerateSourceSpread = errors.New("source control points are coincident")
	ErrDegenerateTargetSpread = errors.New("target control points are coincident")
	ErrFitFailed              = errors.New("similarity fit failed")
	ErrNonFiniteCoordinate    = errors.New("control point coordinate is not finite")
)

// PointPair is one matched control point: Source in the raw dataset's
// units, Target in the reference dataset's units.
type PointPair struct {
	Source orb.Point `json:"source" yaml:"source"`
	Target orb.Point `json:"target" yaml:"target"`
}

// Similarity maps p to Scale*(Rotation*p) + Translation.
type Similarity struct {
	Scale       float64       `json:"scale"`
	Rotation    [2][2]float64 `json:"rotation"`
	Translation orb.Point     `json:"translation"`
}

// Identity returns the similarity that leaves every point in place.
func Identity() Similarity {
	return Similarity{
		Scale:    1,
		Rotation: [2][2]float64{{1, 0}, {0, 1}},
	}
}

// NewSimilarity builds a similarity from a scale, a counter-clockwise
// rotation angle in radians and a translation.
func NewSimilarity(scale, theta float64, t orb.Point) Similarity {
	c, s := math.Cos(theta), math.Sin(theta)
	return Similarity{
		Scale:       scale,
		Rotation:    [2][2]float64{{c, -s}, {s, c}},
		Translation: t,
	}
}

// Apply maps a single point.
func (m Similarity) Apply(p orb.Point) orb.Point {
	r := m.Rotation
	return orb.Point{
		m.Scale*(r[0][0]*p[0]+r[0][1]*p[1]) + m.Translation[0],
		m.Scale*(r[1][0]*p[0]+r[1][1]*p[1]) + m.Translation[1],
	}
}

// Angle returns the rotation angle in radians, in (-pi, pi].
func (m Similarity) Angle() float64 {
	return math.Atan2(m.Rotation[1][0], m.Rotation[0][0])
}

// Determinant returns det(Rotation).
func (m Similarity) Determinant() float64 {
	r := m.Rotation
	return r[0][0]*r[1][1] - r[0][1]*r[1][0]
}

// FitSimilarity computes the least-squares similarity transform taking
// every pair's Source onto its Target. The rotation is always proper:
// a reflection found by the SVD is folded back into a rotation.
func FitSimilarity(pairs []PointPair) (Similarity, error) {
	n := len(pairs)
	if n < MinControlPoints {
		return Similarity{}, fmt.Errorf("%w: need at least %d pairs, got %d", ErrInsufficientPoints, MinControlPoints, n)
	}
	for i, p := range pairs {
		if !finite(p.Source) || !finite(p.Target) {
			return Similarity{}, fmt.Errorf("%w: pair %d", ErrNonFiniteCoordinate, i)
		}
	}

	source := func(p PointPair) orb.Point { return p.Source }
	target := func(p PointPair) orb.Point { return p.Target }

	// Both sets are centred and divided by their largest offset so that
	// neither the spread nor the covariance can overflow.
	srcMean := centroid(pairs, source)
	dstMean := centroid(pairs, target)
	src, srcExtent := normalized(pairs, source, srcMean)
	dst, dstExtent := normalized(pairs, target, dstMean)

	if srcExtent <= spreadTolerance*math.Max(1, maxAbs(srcMean)) {
		return Similarity{}, ErrDegenerateSourceSpread
	}
	if dstExtent <= spreadTolerance*math.Max(1, maxAbs(dstMean)) {
		return Similarity{}, ErrDegenerateTargetSpread
	}

	var cov mat.Dense
	cov.Mul(src.T(), dst)

	var svd mat.SVD
	if ok := svd.Factorize(&cov, mat.SVDFull); !ok {
		return Similarity{}, fmt.Errorf("%w: svd did not converge", ErrFitFailed)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		// Flipping V's last column is flipping the last row of V^T.
		v.Set(0, 1, -v.At(0, 1))
		v.Set(1, 1, -v.At(1, 1))
		r.Mul(&v, u.T())
	}

	var rotated, num mat.Dense
	rotated.Mul(src, r.T())
	num.MulElem(dst, &rotated)
	scale := (dstExtent / srcExtent) * (mat.Sum(&num) / sumSquares(src))
	if !(scale > 0) {
		return Similarity{}, fmt.Errorf("%w: non-positive scale %g", ErrFitFailed, scale)
	}

	m := Similarity{
		Scale: scale,
		Rotation: [2][2]float64{
			{r.At(0, 0), r.At(0, 1)},
			{r.At(1, 0), r.At(1, 1)},
		},
	}
	rc := orb.Point{
		m.Rotation[0][0]*srcMean[0] + m.Rotation[0][1]*srcMean[1],
		m.Rotation[1][0]*srcMean[0] + m.Rotation[1][1]*srcMean[1],
	}
	m.Translation = orb.Point{dstMean[0] - scale*rc[0], dstMean[1] - scale*rc[1]}
	if math.IsInf(m.Scale, 0) || !finite(m.Translation) {
		return Similarity{}, fmt.Errorf("%w: model is not finite", ErrFitFailed)
	}
	return m, nil
}

// ResidualStats summarises how far each fitted source lands from its target.
type ResidualStats struct {
	Residuals []float64 `json:"residuals"`
	RMSE      float64   `json:"rmse"`
	Max       float64   `json:"max"`
}

// Residuals measures the planar distance between m.Apply(Source) and
// Target for every pair.
func Residuals(pairs []PointPair, m Similarity) ResidualStats {
	stats := ResidualStats{Residuals: make([]float64, len(pairs))}
	if len(pairs) == 0 {
		return stats
	}
	var sum float64
	for i, p := range pairs {
		q := m.Apply(p.Source)
		d := math.Hypot(q[0]-p.Target[0], q[1]-p.Target[1])
		stats.Residuals[i] = d
		sum += d * d
		if d > stats.Max {
			stats.Max = d
		}
	}
	stats.RMSE = math.Sqrt(sum / float64(len(pairs)))
	return stats
}

func sumSquares(m *mat.Dense) float64 {
	var sq mat.Dense
	sq.MulElem(m, m)
	return mat.Sum(&sq)
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsInf(p[0], 0) && !math.IsNaN(p[1]) && !math.IsInf(p[1], 0)
}

func maxAbs(p orb.Point) float64 {
	return math.Max(math.Abs(p[0]), math.Abs(p[1]))
}

// centroid is a running mean, which stays finite for any finite input.
func centroid(pairs []PointPair, at func(PointPair) orb.Point) orb.Point {
	var mean orb.Point
	for i, p := range pairs {
		q := at(p)
		k := float64(i + 1)
		mean[0] += q[0]/k - mean[0]/k
		mean[1] += q[1]/k - mean[1]/k
	}
	return mean
}

// normalized returns the points' half offsets from mean, divided by the
// largest absolute half offset, together with that value. Halving keeps the
// difference of opposite extremes finite. The extent is zero when every
// point sits on mean.
func normalized(pairs []PointPair, at func(PointPair) orb.Point, mean orb.Point) (*mat.Dense, float64) {
	m := mat.NewDense(len(pairs), 2, nil)
	var extent float64
	for i, p := range pairs {
		q := at(p)
		dx := q[0]/2 - mean[0]/2
		dy := q[1]/2 - mean[1]/2
		m.Set(i, 0, dx)
		m.Set(i, 1, dy)
		extent = math.Max(extent, math.Max(math.Abs(dx), math.Abs(dy)))
	}
	if extent > 0 {
		m.Scale(1/extent, m)
	}
	return m, extent
}
