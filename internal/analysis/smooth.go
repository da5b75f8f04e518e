package analysis

import "gonum.org/v1/gonum/mat"

// SavitzkyGolay smooths data with a least-squares polynomial filter of the
// given odd window length and polynomial order, the same filter the classic
// plotting flow applies before drawing the trace. The first and last
// half-window points are passed through unchanged. Inputs that are too short
// for the window, or degenerate parameters, return an unmodified copy.
func SavitzkyGolay(data []float64, window, order int) []float64 {
	out := make([]float64, len(data))
	copy(out, data)

	if window < 3 || window%2 == 0 || order < 0 || order >= window || len(data) < window {
		return out
	}

	weights := savgolWeights(window, order)
	half := window / 2
	for i := half; i < len(data)-half; i++ {
		var v float64
		for k, w := range weights {
			v += w * data[i-half+k]
		}
		out[i] = v
	}
	return out
}

// savgolWeights returns the convolution weights for the window center: the
// first row of (A^T A)^-1 A^T for the Vandermonde design matrix A over
// offsets -half..half.
func savgolWeights(window, order int) []float64 {
	half := window / 2
	a := mat.NewDense(window, order+1, nil)
	for i := 0; i < window; i++ {
		x := float64(i - half)
		p := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, p)
			p *= x
		}
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		// The Vandermonde normal matrix is nonsingular for order < window;
		// an identity fallback keeps the data untouched if it ever is not.
		weights := make([]float64, window)
		weights[half] = 1
		return weights
	}

	var pinv mat.Dense
	pinv.Mul(&inv, a.T())

	weights := make([]float64, window)
	for k := range weights {
		weights[k] = pinv.At(0, k)
	}
	return weights
}
