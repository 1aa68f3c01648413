package nn

import (
	"math"
)

// MaxAbsDiff calculates the maximum absolute difference between two slices
func MaxAbsDiff(a, b []float32) float64 {
	n := min(len(a), len(b))
	m := 0.0
	for i := 0; i < n; i++ {
		d := math.Abs(float64(a[i] - b[i]))
		if d > m {
			m = d
		}
	}
	return m
}

// MaxResultDiff returns the largest absolute difference across the head output and every
// branch output of two results with the same shapes.
func MaxResultDiff(a, b *ForwardResult) float64 {
	m := MaxAbsDiff(a.Output.Data, b.Output.Data)
	for i := range a.Branches {
		m = max(m, MaxAbsDiff(a.Branches[i].Data, b.Branches[i].Data))
	}
	return m
}
