package flight

import (
	"math"
	"testing"

	"github.com/ctessum/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/wind"
)

func uniformWind(t *testing.T, velocity geom3.Vector3) wind.Field {
	t.Helper()
	f, err := wind.New(
		[]geom3.Vector3{{X: 0}, {X: 1000}},
		[]geom3.Vector3{velocity, velocity},
		nil, wind.CPUBackend)
	require.NoError(t, err)
	return f
}

func runToCompletion(s *Simulator, maxSteps int) []Frame {
	var frames []Frame
	for i := 0; i < maxSteps; i++ {
		f, ok := s.Step()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	return frames
}

func straightLineWaypoints(length float64) []geom3.Vector3 {
	return []geom3.Vector3{{X: 0, Y: 20, Z: 0}, {X: length, Y: 20, Z: 0}}
}

func TestSimulatorTerminatesWithinMaxFrames(t *testing.T) {
	// Property 9.
	cfg := DefaultConfig()
	wf := uniformWind(t, geom3.Vector3{})
	s := New(straightLineWaypoints(200), wf, cfg)

	maxFrames := s.MaxFrames()
	frames := runToCompletion(s, maxFrames+1)
	assert.LessOrEqual(t, len(frames), maxFrames)
}

func TestMonotoneFrameTime(t *testing.T) {
	// Property 10.
	cfg := DefaultConfig()
	wf := uniformWind(t, geom3.Vector3{X: 5})
	s := New(straightLineWaypoints(200), wf, cfg)

	frames := runToCompletion(s, s.MaxFrames())
	require.NotEmpty(t, frames)
	for i := 1; i < len(frames); i++ {
		assert.InDelta(t, frames[i-1].Time+cfg.Timestep.Value(), frames[i].Time, 1e-9)
	}
}

func TestEffortBounds(t *testing.T) {
	// Property 11.
	cfg := DefaultConfig()
	wf := uniformWind(t, geom3.Vector3{X: -20})
	s := New(straightLineWaypoints(200), wf, cfg)

	frames := runToCompletion(s, s.MaxFrames())
	require.NotEmpty(t, frames)
	for _, f := range frames {
		assert.GreaterOrEqual(t, f.Effort, 0.0)
		assert.LessOrEqual(t, f.Effort, 1.0)
	}
}

func TestCrabAngleBound(t *testing.T) {
	// Property 12.
	cfg := DefaultConfig()
	wf := uniformWind(t, geom3.Vector3{Z: 10})
	waypoints := straightLineWaypoints(200)
	s := New(waypoints, wf, cfg)

	frames := runToCompletion(s, s.MaxFrames())
	require.NotEmpty(t, frames)
	maxCrabRad := (cfg.MaxCrabAngleDeg + 1e-6) * math.Pi / 180
	for _, f := range frames {
		desired := waypoints[f.WaypointIndex].Sub(f.Position).Normalize()
		cosAngle := math.Max(-1, math.Min(1, f.Heading.Dot(desired)))
		angle := math.Acos(cosAngle)
		assert.LessOrEqual(t, angle, maxCrabRad+0.05, "heading deviated beyond crab bound")
	}
}

func TestAirspeedBounds(t *testing.T) {
	// Property 13.
	cfg := DefaultConfig()
	wf := uniformWind(t, geom3.Vector3{X: -30})
	s := New(straightLineWaypoints(200), wf, cfg)

	frames := runToCompletion(s, s.MaxFrames())
	require.NotEmpty(t, frames)
	for _, f := range frames {
		assert.GreaterOrEqual(t, f.Airspeed, cfg.BaseAirspeed.Value()-1e-9)
		assert.LessOrEqual(t, f.Airspeed, cfg.MaxBoostAirspeed.Value()+1e-9)
	}
}

func TestAntiStallNoTinyConsecutiveSteps(t *testing.T) {
	// Property 14.
	cfg := DefaultConfig()
	wf := uniformWind(t, geom3.Vector3{})
	s := New(straightLineWaypoints(200), wf, cfg)

	frames := runToCompletion(s, s.MaxFrames())
	require.NotEmpty(t, frames)
	for i := 1; i < len(frames); i++ {
		step := frames[i].Position.Distance(frames[i-1].Position)
		if step < antiStallThresholdMeters {
			t.Fatalf("frame %d moved only %f m, below the anti-stall threshold", i, step)
		}
	}
}

func TestTailwindCompletesFasterThanHeadwind(t *testing.T) {
	// Scenario F.
	cfg := DefaultConfig()
	tailwindField := uniformWind(t, geom3.Vector3{X: 15})
	headwindField := uniformWind(t, geom3.Vector3{X: -15})

	tailwind := New(straightLineWaypoints(200), tailwindField, cfg)
	headwind := New(straightLineWaypoints(200), headwindField, cfg)

	tailFrames := runToCompletion(tailwind, tailwind.MaxFrames())
	headFrames := runToCompletion(headwind, headwind.MaxFrames())

	require.NotEmpty(t, tailFrames)
	require.NotEmpty(t, headFrames)
	assert.Less(t, len(tailFrames), len(headFrames))

	meanEffort := func(frames []Frame) float64 {
		var sum float64
		for _, f := range frames {
			sum += f.Effort
		}
		return sum / float64(len(frames))
	}
	assert.Greater(t, meanEffort(headFrames), meanEffort(tailFrames))

	var headwindAboveBase bool
	for _, f := range headFrames {
		if f.Airspeed > cfg.BaseAirspeed.Value()+1e-6 {
			headwindAboveBase = true
			break
		}
	}
	assert.True(t, headwindAboveBase, "expected boosted airspeed while flying against the wind")
}

func TestInitialHeadingPointsTowardSecondWaypoint(t *testing.T) {
	cfg := DefaultConfig()
	wf := uniformWind(t, geom3.Vector3{})
	waypoints := []geom3.Vector3{{X: 0}, {X: 10}, {X: 10, Z: 10}}
	s := New(waypoints, wf, cfg)
	assert.True(t, s.drone.Heading.Equal(geom3.Vector3{X: 1}))
}

func TestRotateTowardsAdvancesWhenExactlyAntiparallel(t *testing.T) {
	current := geom3.Vector3{X: 1}
	target := geom3.Vector3{X: -1}
	maxAngleRad := 0.2

	result := rotateTowards(current, target, maxAngleRad)

	assert.False(t, result.Equal(current), "heading must not get stuck on an exact 180 degree turn")
	cosAngle := math.Max(-1, math.Min(1, current.Dot(result)))
	assert.InDelta(t, maxAngleRad, math.Acos(cosAngle), 1e-6, "should rotate by exactly the turn-rate limit")
	assert.InDelta(t, 1.0, result.Length(), 1e-9)
}

func TestRotateTowardsConvergesFromAntipodeOverRepeatedSteps(t *testing.T) {
	current := geom3.Vector3{X: 1}
	target := geom3.Vector3{X: -1}
	maxAngleRad := math.Pi / 8

	for i := 0; i < 8; i++ {
		current = rotateTowards(current, target, maxAngleRad)
	}
	assert.True(t, current.Equal(target), "heading should reach the target after enough turn-rate-limited steps")
}

func TestConfigUnitsResolveToExpectedSIValues(t *testing.T) {
	cfg := Config{
		BaseAirspeed:          unit.New(15, unit.MeterPerSecond),
		MaxBoostAirspeed:      unit.New(200, unit.MeterPerSecond),
		MinDesiredGroundspeed: unit.New(15, unit.MeterPerSecond),
		MaxTurnRateDegPerS:    360,
		WaypointThreshold:     unit.New(5, unit.Meter),
		Timestep:              unit.New(0.1, unit.Second),
		MaxTime:               unit.New(600, unit.Second),
		MinGroundspeedFloor:   unit.New(10, unit.MeterPerSecond),
		MaxCrabAngleDeg:       30,
	}
	r := cfg.resolve()
	assert.Equal(t, 15.0, r.baseAirspeed)
	assert.Equal(t, 0.1, r.timestep)
	assert.Equal(t, 600.0, r.maxTime)
}
