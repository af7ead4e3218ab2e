// Copyright © 2024 the windroute authors.
// This file is part of windroute.

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/windroute/internal/cost"
	"github.com/spatialmodel/windroute/internal/flight"
	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/lattice"
	"github.com/spatialmodel/windroute/internal/loader"
	"github.com/spatialmodel/windroute/internal/mesh"
	"github.com/spatialmodel/windroute/internal/session"
	"github.com/spatialmodel/windroute/internal/voxel"
	"github.com/spatialmodel/windroute/internal/wind"
)

// server owns the immutable, shared core built once at startup and hands
// out a fresh session.Session per connection (§5 shared-resource policy).
type server struct {
	cfg      Config
	sessCfg  session.Config
	upgrader websocket.Upgrader
}

func newServer(cfg Config) (*server, error) {
	opts := loader.Options{ZUp: cfg.ZUp, Center: cfg.Center}

	var m *mesh.TriangleMesh
	centerOffset := geom3.Zero
	if cfg.ScenePath != "" {
		sceneCache := loader.NewSceneCache(parseSceneFile, 1, 4)
		raw, err := sceneCache.Load(context.Background(), cfg.ScenePath)
		if err != nil {
			return nil, err
		}
		m = loader.BuildMesh(raw, opts)
		if cfg.Center && !m.Empty() {
			// Shift the wind samples by the same translation centering gave
			// the mesh, so the two stay aligned.
			uncentered := loader.BuildMesh(raw, loader.Options{ZUp: cfg.ZUp})
			centerOffset = m.Bounds().Min.Sub(uncentered.Bounds().Min)
		}
	} else {
		m = mesh.New(nil)
	}

	if cfg.WindPath == "" {
		return nil, fmt.Errorf("wind_path is required")
	}
	wf, err := parseWindFile(cfg.WindPath)
	if err != nil {
		return nil, err
	}
	samples, err := loader.BuildWindSamples(wf.Positions, wf.Velocities, wf.Turbulence, opts, centerOffset)
	if err != nil {
		return nil, err
	}
	windField, err := wind.New(samples.Positions, samples.Velocities, samples.Turbulence, wind.CPUBackend)
	if err != nil {
		return nil, err
	}

	bounds := m.Bounds().Union(windField.Bounds())

	voxelGrid := voxel.New(bounds, m.Triangles, cfg.VoxelSize)
	grid := lattice.New(bounds, cfg.GridResolution, func(p geom3.Vector3) bool {
		return !voxelGrid.PointOccupied(p)
	})

	weights, ok := cost.Presets[cfg.WeightPreset]
	if !ok {
		return nil, fmt.Errorf("unknown weight preset %q", cfg.WeightPreset)
	}
	calc := cost.NewCalculator(weights, windField)
	edgeCostTable := calc.Precompute(grid, voxelGrid)
	validEdgeSet := cost.PrecomputeValidEdgeSet(grid, voxelGrid, 0, 0)

	s := &server{
		cfg: cfg,
		sessCfg: session.Config{
			Grid:           grid,
			VoxelGrid:      voxelGrid,
			Mesh:           m,
			WindField:      windField,
			EdgeCostTable:  edgeCostTable,
			ValidEdgeSet:   validEdgeSet,
			FlightConfig:   flight.DefaultConfig(),
			FrameDelay:     time.Duration(cfg.FrameDelayMS) * time.Millisecond,
			GridResolution: cfg.GridResolution,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	return s, nil
}

// ListenAndServe starts the HTTP server hosting the /session websocket
// endpoint.
func (s *server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleSession)
	logrus.WithField("addr", s.cfg.ListenAddr).Info("windrouted: listening")
	return http.ListenAndServe(s.cfg.ListenAddr, mux)
}

// wsSink adapts a gorilla/websocket connection to session.Sink, the only
// point where the core's abstract Sink interface meets a concrete
// transport (§9 design note).
type wsSink struct {
	conn *websocket.Conn
}

type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func messageType(msg interface{}) string {
	switch msg.(type) {
	case session.Scene:
		return "scene"
	case session.WindFieldMessage:
		return "wind_field"
	case session.Paths:
		return "paths"
	case session.SimulationStart:
		return "simulation_start"
	case session.FrameMessage:
		return "frame"
	case session.SimulationEnd:
		return "simulation_end"
	case session.Complete:
		return "complete"
	case session.ErrorMessage:
		return "error"
	case string:
		return msg.(string)
	default:
		return "unknown"
	}
}

func (w *wsSink) Send(ctx context.Context, msg interface{}) error {
	env := envelope{Type: messageType(msg), Payload: msg}
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(env)
}

type incoming struct {
	Type      string     `json:"type"`
	Start     [3]float64 `json:"start"`
	End       [3]float64 `json:"end"`
	RouteType string     `json:"route_type"`
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("windrouted: websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := session.New(s.sessCfg)
	sink := &wsSink{conn: conn}

	for {
		var msg incoming
		if err := conn.ReadJSON(&msg); err != nil {
			logrus.WithError(err).Debug("windrouted: session ended")
			cancel()
			return
		}

		var handlerErr error
		switch msg.Type {
		case "get_scene":
			handlerErr = sess.HandleGetScene(ctx, sink)
		case "get_wind_field":
			handlerErr = sess.HandleGetWindField(ctx, sink)
		case "get_all":
			handlerErr = sess.HandleGetAll(ctx, sink)
		case "ping":
			handlerErr = sess.HandlePing(ctx, sink)
		case "start":
			handlerErr = sess.HandleStart(ctx, sink, session.StartRequest{
				Start:     geom3.Vector3{X: msg.Start[0], Y: msg.Start[1], Z: msg.Start[2]},
				End:       geom3.Vector3{X: msg.End[0], Y: msg.End[1], Z: msg.End[2]},
				RouteType: session.RouteType(msg.RouteType),
			})
		default:
			handlerErr = sink.Send(ctx, session.ErrorMessage{Message: "unknown message type: " + msg.Type})
		}
		if handlerErr != nil {
			logrus.WithError(handlerErr).Warn("windrouted: session handler error")
			return
		}
	}
}
