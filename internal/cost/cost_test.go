package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/lattice"
	"github.com/spatialmodel/windroute/internal/voxel"
	"github.com/spatialmodel/windroute/internal/wind"
)

func smallGrid(t *testing.T) (*lattice.Grid3D, *voxel.Grid) {
	t.Helper()
	bounds := geom3.Bounds{Min: geom3.Vector3{}, Max: geom3.Vector3{X: 20, Y: 0, Z: 0}}
	g := lattice.New(bounds, 10, func(geom3.Vector3) bool { return true })
	vg := voxel.New(bounds, nil, 5)
	return g, vg
}

func uniformWind(t *testing.T, velocity geom3.Vector3) wind.Field {
	t.Helper()
	f, err := wind.New(
		[]geom3.Vector3{{X: 0}, {X: 10}, {X: 20}},
		[]geom3.Vector3{velocity, velocity, velocity},
		nil, wind.CPUBackend)
	require.NoError(t, err)
	return f
}

func TestHeadwindComponentSignsMatchSpec(t *testing.T) {
	start := geom3.Vector3{X: 0}
	end := geom3.Vector3{X: 10}
	distance := start.Distance(end)

	headwind := uniformWind(t, geom3.Vector3{X: -5}) // blowing against travel
	hc := headwindComponent(start, end, headwind, distance)
	assert.Greater(t, hc, 0.0, "headwind should produce positive cost")

	tailwind := uniformWind(t, geom3.Vector3{X: 5}) // blowing with travel
	tc := headwindComponent(start, end, tailwind, distance)
	assert.Less(t, tc, 0.0, "tailwind should produce negative (discount) cost before clamping")
}

func TestTurbulenceComponentBelowThresholdIsZero(t *testing.T) {
	f, err := wind.New(
		[]geom3.Vector3{{X: 0}, {X: 10}},
		[]geom3.Vector3{{}, {}},
		[]float64{0.1, 0.15},
		wind.CPUBackend)
	require.NoError(t, err)
	tc := turbulenceComponent(geom3.Vector3{X: 0}, geom3.Vector3{X: 10}, f, 10)
	assert.Equal(t, 0.0, tc)
}

func TestTurbulenceComponentAboveThresholdScalesWithExcessSquared(t *testing.T) {
	f, err := wind.New(
		[]geom3.Vector3{{X: 0}, {X: 10}},
		[]geom3.Vector3{{}, {}},
		[]float64{0.7, 0.7},
		wind.CPUBackend)
	require.NoError(t, err)
	distance := 10.0
	tc := turbulenceComponent(geom3.Vector3{X: 0}, geom3.Vector3{X: 10}, f, distance)
	expected := (0.7 - TurbulenceThreshold) * (0.7 - TurbulenceThreshold) * distance
	assert.InDelta(t, expected, tc, 1e-9)
}

func TestPrecomputeEdgeCostsAreNonNegative(t *testing.T) {
	// Property 3.
	g, vg := smallGrid(t)
	wf := uniformWind(t, geom3.Vector3{X: 10})
	calc := NewCalculator(SpeedPriority, wf)
	table := calc.Precompute(g, vg)

	require.Greater(t, table.NumEdges(), 0)
	for u, edges := range table.adj {
		for _, e := range edges {
			assert.GreaterOrEqualf(t, e.cost, 0.0, "edge %d->%d has negative cost", u, e.to)
		}
	}
}

func TestPrecomputeCostsAreDirectionallyAsymmetric(t *testing.T) {
	// Property 2.
	g, vg := smallGrid(t)
	wf := uniformWind(t, geom3.Vector3{X: 10})
	calc := NewCalculator(SpeedPriority, wf)
	table := calc.Precompute(g, vg)

	foundAsymmetry := false
	for u, edges := range table.adj {
		for _, e := range edges {
			if reverse, ok := table.Get(e.to, u); ok {
				if reverse != e.cost {
					foundAsymmetry = true
				}
			}
		}
		_ = u
	}
	assert.True(t, foundAsymmetry, "expected at least one directionally asymmetric edge pair")
}

func TestValidEdgeSetMembershipIsSymmetric(t *testing.T) {
	// Property 1.
	g, vg := smallGrid(t)
	set := PrecomputeValidEdgeSet(g, vg, 0, 0)

	require.NotEmpty(t, set.adj)
	for u, neighbors := range set.adj {
		for v := range neighbors {
			assert.True(t, set.Has(v, u), "expected (%d,%d) to imply (%d,%d)", u, v, v, u)
		}
	}
}

func TestDistanceOnlyPresetIgnoresWind(t *testing.T) {
	g, vg := smallGrid(t)
	headwind := uniformWind(t, geom3.Vector3{X: -100})
	calc := NewCalculator(DistanceOnly, headwind)
	table := calc.Precompute(g, vg)

	for _, edges := range table.adj {
		for _, e := range edges {
			assert.Greater(t, e.cost, 0.0)
		}
	}
}

func TestEuclideanLength(t *testing.T) {
	path := []geom3.Vector3{{X: 0}, {X: 3}, {X: 3, Y: 4}}
	assert.InDelta(t, 8.0, EuclideanLength(path), 1e-9)
}

func TestCustomComponentContributesWeightedValue(t *testing.T) {
	g, vg := smallGrid(t)
	wf := uniformWind(t, geom3.Vector3{})
	opt, err := WithCustomComponent("distance * 2", 1.0)
	require.NoError(t, err)
	calc := NewCalculator(DistanceOnly, wf, opt)
	table := calc.Precompute(g, vg)

	require.Greater(t, table.NumEdges(), 0)
	for u, edges := range table.adj {
		for _, e := range edges {
			// DistanceOnly weight contributes `distance`, custom contributes
			// `distance*2`, for a total of 3x the raw edge length.
			length := g.Node(u).Position.Distance(g.Node(e.to).Position)
			assert.InDelta(t, 3*length, e.cost, 1e-9)
		}
	}
}
