package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	assert.Equal(t, 0.0, CosineSimilarity(a, b))
}

func TestNormalizeUnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 1.0, Norm(v), 1e-6)
}

func TestNormalizeZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestEuclideanDistanceSelf(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.Equal(t, 0.0, EuclideanDistance(a, a))
}

func TestDistanceScoreRoundTripCosine(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 1, 0}
	d := Distance(a, b, Cosine)
	s := Score(d, Cosine)
	assert.InDelta(t, CosineSimilarity(a, b), s, 1e-9)
}

func TestDistanceScoreRoundTripDot(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 1, 0}
	d := Distance(a, b, Dot)
	s := Score(d, Dot)
	assert.InDelta(t, DotProduct(a, b), s, 1e-9)
}

func TestBetterEuclideanLowerWins(t *testing.T) {
	assert.True(t, Better(1.0, 2.0, Euclidean))
	assert.False(t, Better(2.0, 1.0, Euclidean))
}

func TestBetterCosineHigherWins(t *testing.T) {
	assert.True(t, Better(0.9, 0.1, Cosine))
	assert.False(t, Better(0.1, 0.9, Cosine))
}

func TestParseMetricRoundTrip(t *testing.T) {
	for _, m := range []Metric{Cosine, Euclidean, Dot} {
		parsed, ok := ParseMetric(m.String())
		assert.True(t, ok)
		assert.Equal(t, m, parsed)
	}
}

func TestParseMetricUnknown(t *testing.T) {
	_, ok := ParseMetric("manhattan")
	assert.False(t, ok)
}

func TestNormMatchesMath(t *testing.T) {
	v := []float32{3, 4}
	assert.InDelta(t, math.Sqrt(25), Norm(v), 1e-9)
}
