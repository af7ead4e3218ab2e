// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Package session orchestrates one client's route queries and frame
// streaming: it sequences C7/C8 routing and C9 simulation over the shared,
// read-only Grid3D/EdgeCostTable/VoxelGrid/WindField built for the session
// (component C10).
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/windroute/internal/cost"
	"github.com/spatialmodel/windroute/internal/flight"
	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/lattice"
	"github.com/spatialmodel/windroute/internal/mesh"
	"github.com/spatialmodel/windroute/internal/route"
	"github.com/spatialmodel/windroute/internal/voxel"
	"github.com/spatialmodel/windroute/internal/wind"
)

// ErrInvalidInput is returned when a start/end request fails validation
// (§7 InvalidInput).
var ErrInvalidInput = errors.New("session: invalid start/end position")

// RouteType selects which router(s) a start request runs.
type RouteType string

const (
	RouteNaive     RouteType = "naive"
	RouteOptimized RouteType = "optimized"
	RouteBoth      RouteType = "both"
)

// Sink is the abstract outbound channel for one session. The core never
// imports a transport package directly (§9 design note); cmd/ wires a
// concrete Sink (e.g. a gorilla/websocket connection).
type Sink interface {
	Send(ctx context.Context, msg interface{}) error
}

// Scene mirrors the "scene" server->client message (§6).
type Scene struct {
	Bounds        geom3.Bounds `json:"bounds"`
	GridResolution float64     `json:"grid_resolution"`
	MeshBounds    geom3.Bounds `json:"mesh_bounds"`
}

// WindFieldMessage mirrors the "wind_field" server->client message (§6).
type WindFieldMessage struct {
	Bounds   geom3.Bounds    `json:"bounds"`
	Points   []geom3.Vector3 `json:"points"`
	Velocity []geom3.Vector3 `json:"velocity"`
}

// Paths mirrors the "paths" server->client message (§6).
type Paths struct {
	Naive     [][3]float64 `json:"naive,omitempty"`
	Optimized [][3]float64 `json:"optimized,omitempty"`
}

// SimulationStart mirrors the "simulation_start" message.
type SimulationStart struct {
	Route         string `json:"route"`
	WaypointCount int    `json:"waypoint_count"`
}

// FrameMessage mirrors one "frame" message.
type FrameMessage struct {
	Route string       `json:"route"`
	Data  flight.Frame `json:"data"`
}

// FlightSummary is a terse post-flight rollup attached to simulation_end.
type FlightSummary struct {
	Frames      int     `json:"frames"`
	FinalTime   float64 `json:"final_time"`
	MeanEffort  float64 `json:"mean_effort"`
	Reached     bool    `json:"reached"`
}

// SimulationEnd mirrors the "simulation_end" message.
type SimulationEnd struct {
	Route   string        `json:"route"`
	Summary FlightSummary `json:"flight_summary"`
}

// Complete mirrors the terminal "complete" message.
type Complete struct {
	Metrics map[string]interface{} `json:"metrics"`
}

// ErrorMessage mirrors the "error" message.
type ErrorMessage struct {
	Message string `json:"message"`
}

// StartRequest mirrors the "start" client->server message.
type StartRequest struct {
	Start     geom3.Vector3
	End       geom3.Vector3
	RouteType RouteType
}

// Config bundles everything a Session needs besides the live Sink.
type Config struct {
	Grid         *lattice.Grid3D
	VoxelGrid    *voxel.Grid
	Mesh         *mesh.TriangleMesh
	WindField    wind.Field
	EdgeCostTable *cost.EdgeCostTable
	ValidEdgeSet *cost.ValidEdgeSet
	FlightConfig flight.Config
	FrameDelay   time.Duration
	GridResolution float64
	Log          logrus.FieldLogger
}

// Session is constructed once per client connection.
type Session struct {
	cfg Config
	log logrus.FieldLogger
}

// New builds a Session. The passed Config's fields are shared read-only for
// the session's lifetime (§5 shared-resource policy).
func New(cfg Config) *Session {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Session{cfg: cfg, log: cfg.Log}
}

// send wraps sink.Send with an exponential backoff retry (at most 3
// retries) for transient I/O failures.
func send(ctx context.Context, sink Sink, msg interface{}) error {
	return backoff.RetryNotify(
		func() error { return sink.Send(ctx, msg) },
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3),
		func(err error, d time.Duration) {
			logrus.WithError(err).WithField("retry_in", d).Warn("session: retrying sink send")
		},
	)
}

// HandleGetScene responds to a "get_scene" message.
func (s *Session) HandleGetScene(ctx context.Context, sink Sink) error {
	scene := Scene{
		Bounds:         s.cfg.Grid.Bounds(),
		GridResolution: s.cfg.GridResolution,
		MeshBounds:     s.cfg.Mesh.Bounds(),
	}
	return send(ctx, sink, scene)
}

// HandleGetWindField responds to a "get_wind_field" message.
func (s *Session) HandleGetWindField(ctx context.Context, sink Sink) error {
	msg := WindFieldMessage{Bounds: s.cfg.WindField.Bounds()}
	return send(ctx, sink, msg)
}

// HandleGetAll responds to a "get_all" message.
func (s *Session) HandleGetAll(ctx context.Context, sink Sink) error {
	if err := s.HandleGetScene(ctx, sink); err != nil {
		return err
	}
	return s.HandleGetWindField(ctx, sink)
}

// HandlePing responds to a "ping" with "pong".
func (s *Session) HandlePing(ctx context.Context, sink Sink) error {
	return send(ctx, sink, "pong")
}

// validate reports InvalidInput if p is outside scene bounds or occupied
// (§6 start validation, §7 InvalidInput).
func (s *Session) validate(p geom3.Vector3) error {
	if !s.cfg.Grid.Bounds().Contains(p) {
		return fmt.Errorf("session: %w: %+v is outside scene bounds", ErrInvalidInput, p)
	}
	if s.cfg.VoxelGrid.PointOccupied(p) {
		return fmt.Errorf("session: %w: %+v is inside an occupied voxel", ErrInvalidInput, p)
	}
	if s.cfg.Mesh != nil && s.cfg.Mesh.PointInside(p) {
		return fmt.Errorf("session: %w: %+v is inside the mesh", ErrInvalidInput, p)
	}
	return nil
}

// HandleStart responds to a "start" message: validates input, runs the
// requested router(s), emits paths, then streams interleaved simulation
// frames for each requested route (§6).
func (s *Session) HandleStart(ctx context.Context, sink Sink, req StartRequest) error {
	if err := s.validate(req.Start); err != nil {
		return send(ctx, sink, ErrorMessage{Message: err.Error()})
	}
	if err := s.validate(req.End); err != nil {
		return send(ctx, sink, ErrorMessage{Message: err.Error()})
	}

	var naiveResult, optimizedResult route.Result
	runNaive := req.RouteType == RouteNaive || req.RouteType == RouteBoth
	runOptimized := req.RouteType == RouteOptimized || req.RouteType == RouteBoth

	if runNaive {
		naiveResult = route.AStar(s.cfg.Grid, s.cfg.ValidEdgeSet, req.Start, req.End)
	}
	if runOptimized {
		optimizedResult = route.Dijkstra(s.cfg.Grid, s.cfg.EdgeCostTable, req.Start, req.End, false)
	}

	paths := Paths{}
	if runNaive && naiveResult.Success {
		paths.Naive = toTriples(naiveResult.Waypoints)
	}
	if runOptimized && optimizedResult.Success {
		paths.Optimized = toTriples(optimizedResult.Waypoints)
	}
	if err := send(ctx, sink, paths); err != nil {
		return err
	}

	var sims []*routeSimulation
	if runNaive && naiveResult.Success {
		sims = append(sims, newRouteSimulation("naive", naiveResult.Waypoints, s.cfg))
	}
	if runOptimized && optimizedResult.Success {
		sims = append(sims, newRouteSimulation("optimized", optimizedResult.Waypoints, s.cfg))
	}

	for _, sim := range sims {
		if err := send(ctx, sink, SimulationStart{Route: sim.route, WaypointCount: len(sim.waypoints)}); err != nil {
			return err
		}
	}

	if err := s.interleave(ctx, sink, sims); err != nil {
		return err
	}

	for _, sim := range sims {
		if err := send(ctx, sink, SimulationEnd{Route: sim.route, Summary: sim.summary()}); err != nil {
			return err
		}
	}

	return send(ctx, sink, Complete{Metrics: map[string]interface{}{"routes": len(sims)}})
}

// interleave steps every simulation in sims once per round, emitting each
// produced frame before advancing any simulation to the next round, so
// step k of every route is emitted before step k+1 of any route (§5).
// Cancellation via ctx is checked before every simulation step and during
// the frame delay; it ends the loop and drops every simulation's reference
// to the shared read-only resources.
func (s *Session) interleave(ctx context.Context, sink Sink, sims []*routeSimulation) error {
	for {
		anyActive := false
		for _, sim := range sims {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if sim.done {
				continue
			}
			frame, ok := sim.sim.Step()
			if !ok {
				sim.done = true
				sim.reached = sim.sim.State() == flight.StateReached
				continue
			}
			anyActive = true
			sim.frameCount++
			sim.effortSum += frame.Effort
			sim.lastTime = frame.Time
			if err := send(ctx, sink, FrameMessage{Route: sim.route, Data: frame}); err != nil {
				return err
			}
			if s.cfg.FrameDelay > 0 {
				select {
				case <-time.After(s.cfg.FrameDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if !anyActive {
			return nil
		}
	}
}

// routeSimulation bundles one FlightSimulator with the route name and
// running summary statistics used to build its simulation_end message.
type routeSimulation struct {
	route      string
	waypoints  []geom3.Vector3
	sim        *flight.Simulator
	done       bool
	frameCount int
	effortSum  float64
	lastTime   float64
	reached    bool
}

func newRouteSimulation(routeName string, waypoints []geom3.Vector3, cfg Config) *routeSimulation {
	return &routeSimulation{
		route:     routeName,
		waypoints: waypoints,
		sim:       flight.New(waypoints, cfg.WindField, cfg.FlightConfig),
	}
}

func (r *routeSimulation) summary() FlightSummary {
	mean := 0.0
	if r.frameCount > 0 {
		mean = r.effortSum / float64(r.frameCount)
	}
	return FlightSummary{
		Frames:     r.frameCount,
		FinalTime:  r.lastTime,
		MeanEffort: mean,
		Reached:    r.reached,
	}
}

func toTriples(waypoints []geom3.Vector3) [][3]float64 {
	out := make([][3]float64, len(waypoints))
	for i, p := range waypoints {
		out[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return out
}
