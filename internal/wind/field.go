// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Package wind implements the point-sampled wind field: nearest-neighbor
// lookup over scattered 3-D samples via a k-d tree (component C4).
package wind

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/spatialmodel/windroute/internal/geom3"
)

// ErrEmpty is returned by New when given zero samples (§7 WindFieldEmpty).
var ErrEmpty = errors.New("wind field has no samples")

// Backend selects the implementation a Field query runs on. The core never
// consults process-wide state to decide this (§9 design note) — it is
// always passed explicitly at construction.
type Backend int

const (
	// CPUBackend runs nearest-neighbor queries on a k-d tree in-process.
	CPUBackend Backend = iota
	// GPUBackend requests a GPU-accelerated implementation with identical
	// semantics. No GPU-capable nearest-neighbor library is available in
	// this build's dependency set, so it currently falls back to
	// CPUBackend; callers see identical results either way.
	GPUBackend
)

// Field is the capability-handle interface both CPU and (future) GPU
// implementations satisfy, so callers never branch on backend type.
type Field interface {
	// WindAt returns the nearest sample's velocity vector.
	WindAt(p geom3.Vector3) geom3.Vector3
	// WindBatch is the vectorized form of WindAt.
	WindBatch(points []geom3.Vector3) []geom3.Vector3
	// TurbulenceAt returns the nearest sample's turbulence scalar, 0 if the
	// field was constructed without turbulence data.
	TurbulenceAt(p geom3.Vector3) float64
	// Bounds returns the component-wise min/max of the sample positions.
	Bounds() geom3.Bounds
}

// point is a k-d tree element carrying the originating sample index.
type point struct {
	geom3.Vector3
	idx int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	o := c.(point)
	switch d {
	case 0:
		return p.X - o.X
	case 1:
		return p.Y - o.Y
	default:
		return p.Z - o.Z
	}
}

func (p point) Dims() int { return 3 }

func (p point) Distance(c kdtree.Comparable) float64 {
	o := c.(point)
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

// points implements kdtree.Interface over a slice of point.
type points []point

func (ps points) Index(i int) kdtree.Comparable { return ps[i] }
func (ps points) Len() int                      { return len(ps) }
func (ps points) Slice(start, end int) kdtree.Interface { return ps[start:end] }

// Pivot partitions ps by dimension d and returns the median index, as
// required by kdtree.Interface. A full sort is used rather than a
// quickselect: sample counts for a wind field are modest and correctness is
// more valuable here than shaving a log factor.
func (ps points) Pivot(d kdtree.Dim) int {
	sort.Sort(byDim{points: ps, dim: d})
	return len(ps) / 2
}

type byDim struct {
	points points
	dim    kdtree.Dim
}

func (b byDim) Len() int      { return len(b.points) }
func (b byDim) Swap(i, j int) { b.points[i], b.points[j] = b.points[j], b.points[i] }
func (b byDim) Less(i, j int) bool {
	return b.points[i].Compare(b.points[j], b.dim) < 0
}

// cpuField is the k-d tree backed Field implementation.
type cpuField struct {
	velocities []geom3.Vector3
	turbulence []float64 // nil if not supplied
	tree       *kdtree.Tree
	bounds     geom3.Bounds
	log        logrus.FieldLogger
}

// Option configures Field construction.
type Option func(*cpuField)

// WithLogger attaches a logger; default is logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(f *cpuField) { f.log = log }
}

// New builds a Field over N samples: positions[i] carries velocity
// velocities[i] and, if turbulence is non-nil, turbulence[i] (§9 Open
// Question i — turbulence is optional and contributes zero if absent).
// Turbulence has no interpolation or extrapolation: queries outside the
// sample convex hull return the nearest sample's value (§4.4).
func New(positions, velocities []geom3.Vector3, turbulence []float64, backend Backend, opts ...Option) (Field, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("wind: %w", ErrEmpty)
	}
	if len(positions) != len(velocities) {
		return nil, fmt.Errorf("wind: positions and velocities must have equal length (%d != %d)",
			len(positions), len(velocities))
	}
	if turbulence != nil && len(turbulence) != len(positions) {
		return nil, fmt.Errorf("wind: turbulence length %d does not match sample count %d",
			len(turbulence), len(positions))
	}

	f := &cpuField{
		velocities: velocities,
		turbulence: turbulence,
		log:        logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(f)
	}

	if backend == GPUBackend {
		f.log.Warn("wind: GPU backend requested but unavailable in this build; falling back to CPU with identical semantics")
	}

	b := geom3.EmptyBounds()
	pts := make(points, len(positions))
	for i, p := range positions {
		pts[i] = point{Vector3: p, idx: i}
		b = b.ExpandPoint(p)
	}
	f.bounds = b
	f.tree = kdtree.New(pts, true)

	f.log.WithFields(logrus.Fields{
		"samples":    len(positions),
		"turbulence": turbulence != nil,
	}).Debug("wind: built k-d tree")
	return f, nil
}

func (f *cpuField) Bounds() geom3.Bounds { return f.bounds }

func (f *cpuField) nearestIndex(p geom3.Vector3) int {
	q := point{Vector3: p}
	nearest, _ := f.tree.Nearest(q)
	return nearest.(point).idx
}

// WindAt returns the velocity of the nearest wind sample to p (§4.4).
func (f *cpuField) WindAt(p geom3.Vector3) geom3.Vector3 {
	return f.velocities[f.nearestIndex(p)]
}

// WindBatch is the vectorized form of WindAt.
func (f *cpuField) WindBatch(ps []geom3.Vector3) []geom3.Vector3 {
	out := make([]geom3.Vector3, len(ps))
	for i, p := range ps {
		out[i] = f.WindAt(p)
	}
	return out
}

// TurbulenceAt returns the turbulence scalar of the nearest sample, or 0 if
// the field carries no turbulence data.
func (f *cpuField) TurbulenceAt(p geom3.Vector3) float64 {
	if f.turbulence == nil {
		return 0
	}
	return f.turbulence[f.nearestIndex(p)]
}
