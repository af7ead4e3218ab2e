package session

import (
	"context"
	"testing"
	"time"

	"github.com/ctessum/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialmodel/windroute/internal/cost"
	"github.com/spatialmodel/windroute/internal/flight"
	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/lattice"
	"github.com/spatialmodel/windroute/internal/mesh"
	"github.com/spatialmodel/windroute/internal/voxel"
	"github.com/spatialmodel/windroute/internal/wind"
)

type recordingSink struct {
	messages []interface{}
}

func (r *recordingSink) Send(ctx context.Context, msg interface{}) error {
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingSink) routes() []string {
	var routes []string
	for _, m := range r.messages {
		if f, ok := m.(FrameMessage); ok {
			routes = append(routes, f.Route)
		}
	}
	return routes
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	bounds := geom3.Bounds{Min: geom3.Vector3{}, Max: geom3.Vector3{X: 100, Y: 100, Z: 100}}
	m := mesh.New(nil)
	vg := voxel.New(bounds, nil, 5)
	g := lattice.New(bounds, 10, func(p geom3.Vector3) bool { return !vg.PointOccupied(p) })
	wf, err := wind.New(
		[]geom3.Vector3{{X: 0, Y: 50, Z: 0}, {X: 100, Y: 50, Z: 0}},
		[]geom3.Vector3{{X: 8, Y: 0, Z: 3}, {X: -8, Y: 0, Z: -3}},
		nil, wind.CPUBackend)
	require.NoError(t, err)

	calc := cost.NewCalculator(cost.SpeedPriority, wf)
	table := calc.Precompute(g, vg)
	set := cost.PrecomputeValidEdgeSet(g, vg, 0, 0)

	flightCfg := flight.DefaultConfig()
	flightCfg.MaxTime = unit.New(2, unit.Second) // keep the simulation short for tests

	return New(Config{
		Grid:           g,
		VoxelGrid:      vg,
		Mesh:           m,
		WindField:      wf,
		EdgeCostTable:  table,
		ValidEdgeSet:   set,
		FlightConfig:   flightCfg,
		GridResolution: 10,
	})
}

func TestHandleGetSceneSendsBounds(t *testing.T) {
	s := newTestSession(t)
	sink := &recordingSink{}
	require.NoError(t, s.HandleGetScene(context.Background(), sink))
	require.Len(t, sink.messages, 1)
	scene, ok := sink.messages[0].(Scene)
	require.True(t, ok)
	assert.Equal(t, 10.0, scene.GridResolution)
}

func TestHandlePingRespondsPong(t *testing.T) {
	s := newTestSession(t)
	sink := &recordingSink{}
	require.NoError(t, s.HandlePing(context.Background(), sink))
	require.Len(t, sink.messages, 1)
	assert.Equal(t, "pong", sink.messages[0])
}

func TestHandleStartInvalidInputEmitsError(t *testing.T) {
	// Scenario D: start inside occupied space.
	s := newTestSession(t)
	s.cfg.VoxelGrid = voxel.New(s.cfg.Grid.Bounds(), nil, 5)
	// Force the origin to read as occupied without a real mesh, simulating
	// "start inside obstacle".
	occupied := voxel.New(s.cfg.Grid.Bounds(), boxTriangles(geom3.Vector3{X: 0, Y: 0, Z: 0}, geom3.Vector3{X: 20, Y: 20, Z: 20}), 5)
	s.cfg.VoxelGrid = occupied

	sink := &recordingSink{}
	err := s.HandleStart(context.Background(), sink, StartRequest{
		Start:     geom3.Vector3{X: 10, Y: 10, Z: 10},
		End:       geom3.Vector3{X: 90, Y: 50, Z: 90},
		RouteType: RouteBoth,
	})
	require.NoError(t, err)
	require.Len(t, sink.messages, 1)
	_, ok := sink.messages[0].(ErrorMessage)
	assert.True(t, ok, "expected an error message for an occupied start position")
}

func TestHandleStartBothRoutesInterleavesFrames(t *testing.T) {
	s := newTestSession(t)
	sink := &recordingSink{}
	err := s.HandleStart(context.Background(), sink, StartRequest{
		Start:     geom3.Vector3{X: 5, Y: 50, Z: 5},
		End:       geom3.Vector3{X: 95, Y: 50, Z: 95},
		RouteType: RouteBoth,
	})
	require.NoError(t, err)

	var sawPaths, sawComplete bool
	var startCount, endCount int
	for _, m := range sink.messages {
		switch m.(type) {
		case Paths:
			sawPaths = true
		case Complete:
			sawComplete = true
		case SimulationStart:
			startCount++
		case SimulationEnd:
			endCount++
		}
	}
	assert.True(t, sawPaths)
	assert.True(t, sawComplete)
	assert.Equal(t, 2, startCount)
	assert.Equal(t, 2, endCount)

	routes := sink.routes()
	require.NotEmpty(t, routes)
	seen := map[string]bool{}
	for _, r := range routes {
		seen[r] = true
	}
	assert.True(t, seen["naive"])
	assert.True(t, seen["optimized"])
	// Step 0 of both routes is emitted before step 1 of either.
	require.GreaterOrEqual(t, len(routes), 2)
	assert.Equal(t, []string{"naive", "optimized"}, routes[:2])
}

func TestInterleaveRespectsCancellation(t *testing.T) {
	s := newTestSession(t)
	s.cfg.FrameDelay = 50 * time.Millisecond
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.HandleStart(ctx, sink, StartRequest{
		Start:     geom3.Vector3{X: 5, Y: 50, Z: 5},
		End:       geom3.Vector3{X: 95, Y: 50, Z: 95},
		RouteType: RouteOptimized,
	})
	assert.Error(t, err)
}

func boxTriangles(min, max geom3.Vector3) []mesh.Triangle {
	v := func(x, y, z float64) geom3.Vector3 { return geom3.Vector3{X: x, Y: y, Z: z} }
	c := [8]geom3.Vector3{
		v(min.X, min.Y, min.Z), v(max.X, min.Y, min.Z),
		v(max.X, max.Y, min.Z), v(min.X, max.Y, min.Z),
		v(min.X, min.Y, max.Z), v(max.X, min.Y, max.Z),
		v(max.X, max.Y, max.Z), v(min.X, max.Y, max.Z),
	}
	idx := [][4]int{{0, 1, 2, 3}, {5, 4, 7, 6}, {4, 0, 3, 7}, {1, 5, 6, 2}, {4, 5, 1, 0}, {3, 2, 6, 7}}
	var tris []mesh.Triangle
	for _, f := range idx {
		tris = append(tris,
			mesh.Triangle{V0: c[f[0]], V1: c[f[1]], V2: c[f[2]]},
			mesh.Triangle{V0: c[f[0]], V1: c[f[2]], V2: c[f[3]]},
		)
	}
	return tris
}
