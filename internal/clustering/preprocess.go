package clustering

import "math"

// standardize scales every dimension to zero mean and unit population
// variance. Dimensions with zero variance are only centered.
// Rows shorter than the first row are zero-padded.
func standardize(rows [][]float32) [][]float64 {
	n := len(rows)
	if n == 0 {
		return nil
	}
	dim := len(rows[0])

	mean := make([]float64, dim)
	for _, r := range rows {
		for j := 0; j < dim && j < len(r); j++ {
			mean[j] += float64(r[j])
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	std := make([]float64, dim)
	for _, r := range rows {
		for j := 0; j < dim; j++ {
			d := value(r, j) - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(n))
	}

	out := make([][]float64, n)
	for i, r := range rows {
		x := make([]float64, dim)
		for j := 0; j < dim; j++ {
			x[j] = value(r, j) - mean[j]
			if std[j] > 0 {
				x[j] /= std[j]
			}
		}
		out[i] = x
	}
	return out
}

func value(r []float32, j int) float64 {
	if j >= len(r) {
		return 0
	}
	return float64(r[j])
}

// cosineDistance returns 1 - cos(a, b). A zero vector is at distance 1 from everything.
func cosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	if d < 0 {
		return 0
	}
	return d
}

func sqDistance(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
