package downsample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fittrail/pkg/model"
)

func series(n int) []model.Sample {
	out := make([]model.Sample, n)
	for i := range out {
		out[i].ElapsedTimeS = float64(i)
	}
	return out
}

// TestSamplesWithinBudget exercises the size bound across awkward
// length/target combinations: output never exceeds max(target, 2) and the
// endpoints always survive.
func TestSamplesWithinBudget(t *testing.T) {
	cases := []struct {
		n, target int
	}{
		{n: 10, target: 4},
		{n: 1000, target: 100},
		{n: 1001, target: 100},
		{n: 5, target: 2},
		{n: 3, target: 2},
		{n: 100, target: 99},
		{n: 7, target: 3},
	}
	for _, tc := range cases {
		in := series(tc.n)
		out := Samples(in, tc.target)

		bound := tc.target
		if bound < 2 {
			bound = 2
		}
		assert.LessOrEqual(t, len(out), bound, "n=%d target=%d", tc.n, tc.target)
		require.NotEmpty(t, out)
		assert.Equal(t, 0.0, out[0].ElapsedTimeS, "first sample must survive")
		assert.Equal(t, float64(tc.n-1), out[len(out)-1].ElapsedTimeS, "last sample must survive")

		for i := 1; i < len(out); i++ {
			assert.Greater(t, out[i].ElapsedTimeS, out[i-1].ElapsedTimeS, "order must be preserved")
		}
	}
}

// TestSamplesIdentity returns short series untouched, making repeated
// downsampling idempotent.
func TestSamplesIdentity(t *testing.T) {
	in := series(50)
	out := Samples(in, 100)
	assert.Equal(t, len(in), len(out))

	once := Samples(series(1000), 100)
	twice := Samples(once, 100)
	assert.Equal(t, len(once), len(twice))
}

// TestSamplesDefaultTarget applies the default budget when the caller
// passes no usable limit.
func TestSamplesDefaultTarget(t *testing.T) {
	out := Samples(series(10000), 0)
	assert.LessOrEqual(t, len(out), DefaultTarget)
	assert.Greater(t, len(out), DefaultTarget/2)
}

// TestRoutePoints mirrors the sample behavior for geometry.
func TestRoutePoints(t *testing.T) {
	in := make([]model.RoutePoint, 500)
	for i := range in {
		in[i].Sequence = i
	}
	out := RoutePoints(in, 50)
	assert.LessOrEqual(t, len(out), 50)
	assert.Equal(t, 0, out[0].Sequence)
	assert.Equal(t, 499, out[len(out)-1].Sequence)
}

// TestSamplesTinyTarget keeps at least the two endpoints even for a
// degenerate budget of one.
func TestSamplesTinyTarget(t *testing.T) {
	out := Samples(series(100), 1)
	require.Len(t, out, 2)
	assert.Equal(t, 0.0, out[0].ElapsedTimeS)
	assert.Equal(t, 99.0, out[1].ElapsedTimeS)
}
