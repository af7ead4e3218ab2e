// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Package cost implements the pluggable weighted edge-cost components and
// the batched, parallel precomputation of the directional EdgeCostTable
// (component C6 of the design).
package cost

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/lattice"
	"github.com/spatialmodel/windroute/internal/voxel"
	"github.com/spatialmodel/windroute/internal/wind"
)

// DefaultChunkSize is the batch size edges are grouped into for collision
// gating and component evaluation (§4.6 "chunks of ≈100 000").
const DefaultChunkSize = 100000

// DefaultSamplesPerEdge is the VoxelGrid sampling density used during
// precomputation.
const DefaultSamplesPerEdge = 5

// Weights is a (distance, headwind, turbulence) weighting triple applied to
// the built-in components (§4.6).
type Weights struct {
	Distance   float64
	Headwind   float64
	Turbulence float64
}

// Named presets from §4.6.
var (
	SpeedPriority  = Weights{Distance: 0.3, Headwind: 0.6, Turbulence: 0.1}
	SafetyPriority = Weights{Distance: 0.2, Headwind: 0.2, Turbulence: 0.6}
	Balanced       = Weights{Distance: 0.34, Headwind: 0.33, Turbulence: 0.33}
	DistanceOnly   = Weights{Distance: 1, Headwind: 0, Turbulence: 0}
)

// Presets maps preset names to their Weights, for config/CLI glue that maps
// a string flag onto one of these (§6 CLI).
var Presets = map[string]Weights{
	"speed_priority":  SpeedPriority,
	"safety_priority": SafetyPriority,
	"balanced":        Balanced,
	"distance_only":   DistanceOnly,
}

// TailwindBenefit is the default scaling factor by which a tailwind reduces
// the headwind cost term (§4.6).
const TailwindBenefit = 0.5

// TurbulenceThreshold and TurbulenceExponent are the default turbulence
// component parameters (§4.6).
const (
	TurbulenceThreshold = 0.2
	TurbulenceExponent  = 2.0
)

// edgeCandidate is one directed (u,v) pair awaiting collision gating.
type edgeCandidate struct {
	from, to lattice.Node
}

// edge is one directed, costed entry in the table.
type edge struct {
	to   uint32
	cost float64
}

// EdgeCostTable is the read-only, directional (u→v) edge-weight store
// produced by Precompute. It is an adjacency list: a hash map from the dense
// lattice node id to that node's out-edges, not a contiguous CSR array. With
// out-degree bounded by 26, each per-node slice stays small.
type EdgeCostTable struct {
	adj map[uint32][]edge
}

// Get returns the cost of edge u→v and whether it exists.
func (t *EdgeCostTable) Get(u, v uint32) (float64, bool) {
	for _, e := range t.adj[u] {
		if e.to == v {
			return e.cost, true
		}
	}
	return 0, false
}

// Neighbors returns the directed out-edges from u.
func (t *EdgeCostTable) Neighbors(u uint32) []edge { return t.adj[u] }

// NumEdges returns the total number of directed edges in the table.
func (t *EdgeCostTable) NumEdges() int {
	n := 0
	for _, es := range t.adj {
		n += len(es)
	}
	return n
}

// ValidEdgeSet is the undirected-cost-free companion used by the naïve
// router (§4.8): collision-free, both-endpoints-valid pairs, with symmetric
// membership (Testable Property 1).
type ValidEdgeSet struct {
	adj map[uint32]map[uint32]struct{}
}

// Has reports whether (u,v) is a valid edge.
func (s *ValidEdgeSet) Has(u, v uint32) bool {
	_, ok := s.adj[u][v]
	return ok
}

// Neighbors returns the ids reachable from u in the valid edge set.
func (s *ValidEdgeSet) Neighbors(u uint32) []uint32 {
	ns := make([]uint32, 0, len(s.adj[u]))
	for v := range s.adj[u] {
		ns = append(ns, v)
	}
	return ns
}

// Calculator evaluates weighted edge costs. The built-in component set
// (distance, headwind, turbulence) is always active; an optional custom
// govaluate expression component may be layered on with its own weight,
// evaluated with variables distance, headwind, turbulence available to the
// expression (§9 "pluggable cost functions... closed and known up front" —
// the custom slot is the one deliberate escape hatch, scoped to a single
// named expression rather than an open plugin system).
type Calculator struct {
	weights        Weights
	wf             wind.Field
	custom         *govaluate.EvaluableExpression
	customWeight   float64
	samplesPerEdge int
	chunkSize      int
	log            logrus.FieldLogger
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithLogger attaches a logger; default is logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Calculator) { c.log = log }
}

// WithSamplesPerEdge overrides DefaultSamplesPerEdge.
func WithSamplesPerEdge(n int) Option {
	return func(c *Calculator) { c.samplesPerEdge = n }
}

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(c *Calculator) { c.chunkSize = n }
}

// WithCustomComponent adds a named govaluate expression component with the
// given weight. The expression is evaluated once per edge with parameters
// "distance", "headwind", and "turbulence" bound to that edge's raw
// (unweighted) component values.
func WithCustomComponent(expr string, weight float64) (Option, error) {
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("cost: invalid custom component expression: %w", err)
	}
	return func(c *Calculator) {
		c.custom = e
		c.customWeight = weight
	}, nil
}

// NewCalculator builds a Calculator with the given weights and wind field.
func NewCalculator(weights Weights, wf wind.Field, opts ...Option) *Calculator {
	c := &Calculator{
		weights:        weights,
		wf:             wf,
		samplesPerEdge: DefaultSamplesPerEdge,
		chunkSize:      DefaultChunkSize,
		log:            logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// distanceComponent is ‖end−start‖.
func distanceComponent(distance float64) float64 { return distance }

// headwindComponent implements §4.6's headwind definition.
func headwindComponent(start, end geom3.Vector3, wf wind.Field, distance float64) float64 {
	if distance < geom3.EqTolerance {
		return 0
	}
	d := end.Sub(start).Scale(1 / distance)
	mid := start.Lerp(end, 0.5)
	w := wf.WindAt(mid)
	a := w.Dot(d)
	if a < 0 {
		return -a * distance
	}
	return -TailwindBenefit * a * distance
}

// turbulenceComponent implements §4.6's turbulence definition.
func turbulenceComponent(start, end geom3.Vector3, wf wind.Field, distance float64) float64 {
	mid := start.Lerp(end, 0.5)
	tStart := wf.TurbulenceAt(start)
	tEnd := wf.TurbulenceAt(end)
	tMid := wf.TurbulenceAt(mid)
	peak := math.Max(tStart, math.Max(tEnd, tMid))
	excess := peak - TurbulenceThreshold
	if excess < 0 {
		return 0
	}
	return math.Pow(excess, TurbulenceExponent) * distance
}

// edgeCost computes the total weighted, non-negative cost of the directed
// edge start→end (§4.6).
func (c *Calculator) edgeCost(start, end geom3.Vector3) float64 {
	distance := start.Distance(end)
	total := c.weights.Distance*distanceComponent(distance) +
		c.weights.Headwind*headwindComponent(start, end, c.wf, distance) +
		c.weights.Turbulence*turbulenceComponent(start, end, c.wf, distance)

	if c.custom != nil {
		headwind := headwindComponent(start, end, c.wf, distance)
		turbulence := turbulenceComponent(start, end, c.wf, distance)
		params := map[string]interface{}{
			"distance":   distance,
			"headwind":   headwind,
			"turbulence": turbulence,
		}
		result, err := c.custom.Evaluate(params)
		if err == nil {
			if v, ok := result.(float64); ok {
				total += c.customWeight * v
			}
		}
	}
	return math.Max(0, total)
}

// collectCandidates enumerates every directed (u,v) edge over valid nodes
// and their valid 26-neighbors.
func collectCandidates(g *lattice.Grid3D) []edgeCandidate {
	var candidates []edgeCandidate
	for id := 0; id < g.NumNodes(); id++ {
		u := g.Node(uint32(id))
		if !u.Valid {
			continue
		}
		for _, v := range g.Neighbors(u) {
			candidates = append(candidates, edgeCandidate{from: u, to: v})
		}
	}
	return candidates
}

// Precompute builds the EdgeCostTable over every valid lattice edge,
// gating on collision via vg in chunks and computing weighted costs for the
// survivors (§4.6). Work is split across runtime.GOMAXPROCS(0) workers,
// each striding over the candidate slice — the same worker-pool shape used
// elsewhere in this codebase for per-cell grid calculations.
func (c *Calculator) Precompute(g *lattice.Grid3D, vg *voxel.Grid) *EdgeCostTable {
	candidates := collectCandidates(g)
	table := &EdgeCostTable{adj: make(map[uint32][]edge)}

	chunkSize := c.chunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var mu sync.Mutex
	for start := 0; start < len(candidates); start += chunkSize {
		end := start + chunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]

		starts := make([]geom3.Vector3, len(chunk))
		ends := make([]geom3.Vector3, len(chunk))
		for i, cand := range chunk {
			starts[i] = cand.from.Position
			ends[i] = cand.to.Position
		}
		valid := vg.EdgesValidBatch(starts, ends, c.samplesPerEdge)

		nprocs := runtime.GOMAXPROCS(0)
		var wg sync.WaitGroup
		wg.Add(nprocs)
		for pp := 0; pp < nprocs; pp++ {
			go func(pp int) {
				defer wg.Done()
				for i := pp; i < len(chunk); i += nprocs {
					if !valid[i] {
						continue
					}
					cost := c.edgeCost(starts[i], ends[i])
					mu.Lock()
					u := chunk[i].from.ID
					table.adj[u] = append(table.adj[u], edge{to: chunk[i].to.ID, cost: cost})
					mu.Unlock()
				}
			}(pp)
		}
		wg.Wait()
	}

	c.log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"edges":      table.NumEdges(),
	}).Debug("cost: built edge cost table")
	return table
}

// PrecomputeValidEdgeSet builds the collision-gated, undirected ValidEdgeSet
// used by the naïve router (§4.8), reusing the same batched collision
// filter as Precompute but without evaluating wind-dependent cost terms.
func PrecomputeValidEdgeSet(g *lattice.Grid3D, vg *voxel.Grid, samplesPerEdge, chunkSize int) *ValidEdgeSet {
	if samplesPerEdge <= 0 {
		samplesPerEdge = DefaultSamplesPerEdge
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	candidates := collectCandidates(g)
	set := &ValidEdgeSet{adj: make(map[uint32]map[uint32]struct{})}

	var mu sync.Mutex
	for start := 0; start < len(candidates); start += chunkSize {
		end := start + chunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]

		starts := make([]geom3.Vector3, len(chunk))
		ends := make([]geom3.Vector3, len(chunk))
		for i, cand := range chunk {
			starts[i] = cand.from.Position
			ends[i] = cand.to.Position
		}
		valid := vg.EdgesValidBatch(starts, ends, samplesPerEdge)

		mu.Lock()
		for i, ok := range valid {
			if !ok {
				continue
			}
			u, v := chunk[i].from.ID, chunk[i].to.ID
			if set.adj[u] == nil {
				set.adj[u] = make(map[uint32]struct{})
			}
			set.adj[u][v] = struct{}{}
		}
		mu.Unlock()
	}
	return set
}

// EuclideanLength sums the Euclidean segment lengths along a path with
// floats.Sum. The naïve router's tests use it to measure path length
// (Testable Property 5); the router itself accumulates g(v) edge by edge.
func EuclideanLength(positions []geom3.Vector3) float64 {
	if len(positions) < 2 {
		return 0
	}
	segs := make([]float64, len(positions)-1)
	for i := 1; i < len(positions); i++ {
		segs[i-1] = positions[i-1].Distance(positions[i])
	}
	return floats.Sum(segs)
}
