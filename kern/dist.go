package kern

import "math"

// scaledDist returns sqrt(Σ ((x_q - y_q) / l_q)²), accumulated with the
// scaled sum of squares used by nrm2 to avoid overflow.
func scaledDist(x, y []float64, l func(q int) float64) float64 {
	scale := 0.0
	sumSquares := 1.0
	for i, xi := range x {
		val := (xi - y[i]) / l(i)
		if val == 0 {
			continue
		}
		absxi := math.Abs(val)
		if scale < absxi {
			sumSquares = 1 + sumSquares*(scale/absxi)*(scale/absxi)
			scale = absxi
		} else {
			sumSquares = sumSquares + (absxi/scale)*(absxi/scale)
		}
	}
	return scale * math.Sqrt(sumSquares)
}
