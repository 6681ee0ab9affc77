// Package downsample bounds the number of points handed to a renderer
// regardless of activity length. The decimation is uniform-stride: it
// approximates the series' shape but does not guarantee that short spikes
// survive. A peak-preserving simplification (Ramer-Douglas-Peucker over the
// time series) would keep them and remains an open enhancement.
package downsample

import "fittrail/pkg/model"

// DefaultTarget is the point budget used when a caller passes no limit.
const DefaultTarget = 2000

// Samples decimates a sample series to at most target points, always
// keeping the first and last sample. Series already within the budget are
// returned unchanged, so the operation is idempotent.
func Samples(in []model.Sample, target int) []model.Sample {
	idx := strideIndexes(len(in), target)
	if idx == nil {
		return in
	}
	out := make([]model.Sample, len(idx))
	for i, j := range idx {
		out[i] = in[j]
	}
	return out
}

// RoutePoints applies the same decimation to route geometry.
func RoutePoints(in []model.RoutePoint, target int) []model.RoutePoint {
	idx := strideIndexes(len(in), target)
	if idx == nil {
		return in
	}
	out := make([]model.RoutePoint, len(idx))
	for i, j := range idx {
		out[i] = in[j]
	}
	return out
}

// strideIndexes selects evenly spaced indexes with stride ceil(n/target).
// A nil return means the input already fits. The last element replaces the
// final stride pick rather than being appended, keeping the output within
// max(target, 2) points.
func strideIndexes(n, target int) []int {
	if target <= 0 {
		target = DefaultTarget
	}
	if target < 2 {
		// First and last are always kept, so two points is the floor.
		target = 2
	}
	if n <= target || n < 3 {
		return nil
	}
	stride := (n + target - 1) / target
	idx := make([]int, 0, target)
	for i := 0; i < n; i += stride {
		idx = append(idx, i)
	}
	if last := idx[len(idx)-1]; last != n-1 {
		if len(idx) < target {
			idx = append(idx, n-1)
		} else {
			idx[len(idx)-1] = n - 1
		}
	}
	return idx
}
