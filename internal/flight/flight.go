// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Package flight implements the closed-loop waypoint-following flight
// simulator: dynamic airspeed, crab-angle wind compensation, turn-rate
// limited heading, and per-timestep frame emission (component C9).
package flight

import (
	"math"

	"github.com/ctessum/unit"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/wind"
)

// Config holds the tunable simulation parameters (§4.9). Speeds and the
// timestep/max-time pair are expressed with ctessum/unit at construction so
// a config loader cannot silently hand the simulator a value in the wrong
// unit system; Value() unwraps them once, here, rather than inside the
// per-step hot loop.
type Config struct {
	BaseAirspeed         *unit.Unit // m/s
	MaxBoostAirspeed     *unit.Unit // m/s
	MinDesiredGroundspeed *unit.Unit // m/s
	MaxTurnRateDegPerS   float64
	WaypointThreshold    *unit.Unit // m
	Timestep             *unit.Unit // s
	MaxTime              *unit.Unit // s
	MinGroundspeedFloor  *unit.Unit // m/s
	MaxCrabAngleDeg      float64
}

// DefaultConfig returns the §4.9 default parameter set.
func DefaultConfig() Config {
	return Config{
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
}

// resolved is Config with every *unit.Unit unwrapped to a plain float64,
// computed once at simulator construction.
type resolved struct {
	baseAirspeed          float64
	maxBoostAirspeed      float64
	minDesiredGroundspeed float64
	maxTurnRateDegPerS    float64
	waypointThreshold     float64
	timestep              float64
	maxTime               float64
	minGroundspeedFloor   float64
	maxCrabAngleDeg       float64
}

func (c Config) resolve() resolved {
	return resolved{
		baseAirspeed:          c.BaseAirspeed.Value(),
		maxBoostAirspeed:      c.MaxBoostAirspeed.Value(),
		minDesiredGroundspeed: c.MinDesiredGroundspeed.Value(),
		maxTurnRateDegPerS:    c.MaxTurnRateDegPerS,
		waypointThreshold:     c.WaypointThreshold.Value(),
		timestep:              c.Timestep.Value(),
		maxTime:               c.MaxTime.Value(),
		minGroundspeedFloor:   c.MinGroundspeedFloor.Value(),
		maxCrabAngleDeg:       c.MaxCrabAngleDeg,
	}
}

// worldUp is the vertical reference axis used to break turn-rate-limit
// degeneracies (§4.9 step 7).
var worldUp = geom3.Vector3{Y: 1}

// maxAdvanceIterationsPerStep bounds waypoint-skipping within a single step
// to prevent pathological loops (§4.9 step 3).
const maxAdvanceIterationsPerStep = 100

// antiStallStepMeters is the forced step size on stall recovery (§4.9 step
// 12, §9 open question iii). Kept verbatim to match observed behavior even
// though it is aggressive relative to typical per-timestep displacement;
// flagged there for future tuning, not here.
const antiStallStepMeters = 0.5

// antiStallThresholdMeters is the movement-magnitude floor that triggers
// the anti-stall guard (§4.9 step 12, Testable Property 14).
const antiStallThresholdMeters = 0.05

// State is the simulator's lifecycle phase.
type State int

const (
	StateInit State = iota
	StateCruise
	StateReached
	StateTimeout
)

// DroneState is the mutable kinematic state owned exclusively by one
// Simulator (§3).
type DroneState struct {
	Position            geom3.Vector3
	Velocity            geom3.Vector3
	Heading             geom3.Vector3
	Airspeed            float64
	TargetWaypointIndex int
}

// Frame is one emitted FlightFrame snapshot (§3).
type Frame struct {
	Time               float64
	Position           geom3.Vector3
	Velocity           geom3.Vector3
	Heading            geom3.Vector3
	Wind               geom3.Vector3
	Drift              geom3.Vector3
	Correction         float64
	Effort             float64
	Airspeed           float64
	Groundspeed        float64
	WaypointIndex       int
	DistanceToWaypoint float64
}

// Simulator drives one drone along a fixed waypoint sequence.
type Simulator struct {
	waypoints []geom3.Vector3
	wf        wind.Field
	cfg       resolved
	log       logrus.FieldLogger

	state  State
	drone  DroneState
	time   float64
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger attaches a logger; default is logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Simulator) { s.log = log }
}

// New creates a Simulator for the given waypoint sequence. Requires at
// least 2 waypoints.
func New(waypoints []geom3.Vector3, wf wind.Field, cfg Config, opts ...Option) *Simulator {
	s := &Simulator{
		waypoints: waypoints,
		wf:        wf,
		cfg:       cfg.resolve(),
		log:       logrus.StandardLogger(),
		state:     StateInit,
	}
	for _, o := range opts {
		o(s)
	}

	if len(waypoints) >= 2 {
		s.drone = DroneState{
			Position:            waypoints[0],
			Heading:             waypoints[1].Sub(waypoints[0]).Normalize(),
			Airspeed:            s.cfg.baseAirspeed,
			TargetWaypointIndex: 1,
		}
	}
	s.state = StateCruise
	return s
}

// State returns the simulator's current lifecycle state.
func (s *Simulator) State() State { return s.state }

// Done reports whether the simulator has reached a terminal state.
func (s *Simulator) Done() bool {
	return s.state == StateReached || s.state == StateTimeout
}

func perpendicular(v geom3.Vector3) geom3.Vector3 {
	p := v.Cross(worldUp)
	if p.Length() < geom3.EqTolerance {
		// v is parallel to world-up; fall back to world-right.
		p = v.Cross(geom3.Vector3{X: 1})
	}
	return p.Normalize()
}

// rotateTowards rotates current toward target by at most maxAngleRad
// radians, treating both as unit vectors on the sphere (§4.9 step 7).
func rotateTowards(current, target geom3.Vector3, maxAngleRad float64) geom3.Vector3 {
	cosAngle := math.Max(-1, math.Min(1, current.Dot(target)))
	angle := math.Acos(cosAngle)
	if angle < geom3.EqTolerance {
		return current
	}
	if angle <= maxAngleRad {
		return target
	}

	axis := current.Cross(target)
	if axis.Length() < geom3.EqTolerance {
		// current and target are (anti)parallel: the great circle through
		// them is undefined (slerp's sin(angle) denominator vanishes), so
		// break the tie with a vector perpendicular to world-up and rotate
		// directly about it instead of going through slerp.
		axis = perpendicular(current)
		return rotateAboutAxis(current, axis, maxAngleRad)
	}
	axis = axis.Normalize()

	t := maxAngleRad / angle
	return slerp(current, target, t, angle)
}

// slerp performs spherical linear interpolation between two unit vectors
// separated by the given angle (radians).
func slerp(a, b geom3.Vector3, t, angle float64) geom3.Vector3 {
	sinAngle := math.Sin(angle)
	if sinAngle < geom3.EqTolerance {
		return a
	}
	wa := math.Sin((1-t)*angle) / sinAngle
	wb := math.Sin(t*angle) / sinAngle
	return a.Scale(wa).Add(b.Scale(wb)).Normalize()
}

// rotateAboutAxis rotates the unit vector v by angle radians about the
// unit vector axis, via Rodrigues' rotation formula.
func rotateAboutAxis(v, axis geom3.Vector3, angle float64) geom3.Vector3 {
	cosA := math.Cos(angle)
	sinA := math.Sin(angle)
	rotated := v.Scale(cosA).
		Add(axis.Cross(v).Scale(sinA)).
		Add(axis.Scale(axis.Dot(v) * (1 - cosA)))
	return rotated.Normalize()
}

// Step advances the simulation by one timestep and returns the frame
// emitted, or ok=false if the simulator is already in a terminal state
// (§4.9).
func (s *Simulator) Step() (Frame, bool) {
	if s.Done() {
		return Frame{}, false
	}
	if s.drone.TargetWaypointIndex >= len(s.waypoints) {
		s.state = StateReached
		return Frame{}, false
	}

	wind := s.wf.WindAt(s.drone.Position)

	// Step 3: advance through any waypoints already within threshold.
	for i := 0; i < maxAdvanceIterationsPerStep; i++ {
		if s.drone.TargetWaypointIndex >= len(s.waypoints) {
			break
		}
		target := s.waypoints[s.drone.TargetWaypointIndex]
		if s.drone.Position.Distance(target) > s.cfg.waypointThreshold {
			break
		}
		s.drone.TargetWaypointIndex++
	}
	if s.drone.TargetWaypointIndex >= len(s.waypoints) {
		s.state = StateReached
		return Frame{}, false
	}
	target := s.waypoints[s.drone.TargetWaypointIndex]

	// Step 4: desired direction, with degenerate fallbacks.
	desired := target.Sub(s.drone.Position).Normalize()
	if desired.Equal(geom3.Zero) {
		desired = s.drone.Heading
		if desired.Equal(geom3.Zero) {
			desired = s.waypoints[len(s.waypoints)-1].Sub(s.drone.Position).Normalize()
		}
		if desired.Equal(geom3.Zero) {
			desired = geom3.Vector3{X: -1}
		}
	}

	// Step 5: dynamic airspeed.
	headwindComponent := -wind.Dot(desired)
	required := headwindComponent + s.cfg.minDesiredGroundspeed
	airspeed := math.Max(s.cfg.baseAirspeed, math.Min(s.cfg.maxBoostAirspeed, required))

	// Step 6: crab correction.
	windParallel := desired.Scale(wind.Dot(desired))
	windPerp := wind.Sub(windParallel)
	var correctedHeading geom3.Vector3
	var correctionMagnitude float64
	if windPerp.Length() < 0.1 {
		correctedHeading = desired
		correctionMagnitude = 0
	} else {
		maxCrabRad := s.cfg.maxCrabAngleDeg * math.Pi / 180
		sinCrab := math.Min(math.Sin(maxCrabRad), windPerp.Length()/airspeed)
		sinCrab = math.Max(-1, math.Min(1, sinCrab))
		crab := math.Asin(sinCrab)
		correctionDir := windPerp.Scale(-1 / windPerp.Length())
		correctedHeading = desired.Scale(math.Cos(crab)).Add(correctionDir.Scale(math.Sin(crab))).Normalize()
		correctionMagnitude = sinCrab
	}

	// Step 7: turn-rate-limited heading.
	maxTurnRad := s.cfg.maxTurnRateDegPerS * math.Pi / 180 * s.cfg.timestep
	heading := rotateTowards(s.drone.Heading, correctedHeading, maxTurnRad)
	s.drone.Heading = heading

	// Step 8: ground velocity, with groundspeed floor.
	airVelocity := heading.Scale(airspeed)
	groundVelocity := airVelocity.Add(wind)
	groundspeed := groundVelocity.Length()
	if groundspeed < s.cfg.minGroundspeedFloor {
		groundVelocity = desired.Scale(s.cfg.minGroundspeedFloor)
		groundspeed = s.cfg.minGroundspeedFloor
	}

	// Step 9: drift.
	drift := wind.Sub(desired.Scale(wind.Dot(desired)))

	// Step 10: effort.
	effort := 0.1 +
		0.3*math.Max(0, -wind.Dot(heading))/s.cfg.baseAirspeed +
		0.2*math.Min(1, correctionMagnitude) +
		0.4*math.Max(0, (airspeed-s.cfg.baseAirspeed)/(s.cfg.maxBoostAirspeed-s.cfg.baseAirspeed))
	effort = math.Max(0, math.Min(1, effort))

	frame := Frame{
		Time:               s.time,
		Position:           s.drone.Position,
		Velocity:           groundVelocity,
		Heading:            heading,
		Wind:               wind,
		Drift:              drift,
		Correction:         correctionMagnitude,
		Effort:             effort,
		Airspeed:           airspeed,
		Groundspeed:        groundspeed,
		WaypointIndex:      s.drone.TargetWaypointIndex,
		DistanceToWaypoint: s.drone.Position.Distance(target),
	}

	// Step 12: advance position, with NaN-revert and anti-stall recovery.
	prevPosition := s.drone.Position
	nextPosition := s.drone.Position.Add(groundVelocity.Scale(s.cfg.timestep))
	if isNaNOrInf(nextPosition) {
		nextPosition = prevPosition
	} else if nextPosition.Distance(prevPosition) < antiStallThresholdMeters {
		final := s.waypoints[len(s.waypoints)-1]
		dir := final.Sub(prevPosition).Normalize()
		if dir.Equal(geom3.Zero) {
			dir = heading
		}
		nextPosition = prevPosition.Add(dir.Scale(antiStallStepMeters))
		s.drone.Heading = dir
	}
	s.drone.Position = nextPosition
	s.drone.Velocity = groundVelocity
	s.drone.Airspeed = airspeed

	// Step 13: advance time.
	s.time += s.cfg.timestep
	if s.time >= s.cfg.maxTime {
		s.state = StateTimeout
	}

	return frame, true
}

func isNaNOrInf(v geom3.Vector3) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return true
		}
	}
	return false
}

// MaxFrames returns the upper bound on frames this simulator can emit
// (Testable Property 9).
func (s *Simulator) MaxFrames() int {
	return int(math.Ceil(s.cfg.maxTime / s.cfg.timestep))
}
