package analysis

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavitzkyGolayReproducesCubic(t *testing.T) {
	// An order-3 filter passes cubic polynomials through unchanged.
	data := make([]float64, 50)
	for i := range data {
		x := float64(i)
		data[i] = 0.5*x*x*x - 2*x*x + 3*x - 7
	}

	smoothed := SavitzkyGolay(data, 9, 3)
	require.Len(t, smoothed, len(data))

	for i := 4; i < len(data)-4; i++ {
		assert.InDelta(t, data[i], smoothed[i], 1e-6, "index %d", i)
	}
}

func TestSavitzkyGolayReducesNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := make([]float64, 200)
	for i := range data {
		data[i] = math.Sin(float64(i)/30) + 0.2*rng.NormFloat64()
	}

	smoothed := SavitzkyGolay(data, 9, 3)

	var rough, smooth float64
	for i := 5; i < len(data)-5; i++ {
		clean := math.Sin(float64(i) / 30)
		rough += (data[i] - clean) * (data[i] - clean)
		smooth += (smoothed[i] - clean) * (smoothed[i] - clean)
	}
	assert.Less(t, smooth, rough, "smoothing should reduce deviation from the clean signal")
}

func TestSavitzkyGolayShortInputPassthrough(t *testing.T) {
	data := []float64{1, 2, 3}
	assert.Equal(t, data, SavitzkyGolay(data, 9, 3))
}

func TestSavitzkyGolayDegenerateParams(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	assert.Equal(t, data, SavitzkyGolay(data, 4, 3), "even window is passthrough")
	assert.Equal(t, data, SavitzkyGolay(data, 3, 5), "order >= window is passthrough")
}

func TestSavitzkyGolayDoesNotMutateInput(t *testing.T) {
	data := []float64{5, 1, 4, 2, 3, 5, 1, 4, 2, 3, 5, 1}
	orig := append([]float64(nil), data...)

	SavitzkyGolay(data, 9, 3)
	assert.Equal(t, orig, data)
}
