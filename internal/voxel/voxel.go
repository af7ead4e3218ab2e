// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Package voxel implements the conservative voxelization of the obstacle
// mesh and the batched occupancy queries the cost precomputation hot path
// depends on (component C3 of the design).
package voxel

import (
	"math"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/mesh"
)

// DefaultVoxelSize is the default voxel edge length, in meters.
const DefaultVoxelSize = 5.0

// defaultSamplesPerEdge is the batch query's samples-per-edge default (§4.3).
const defaultSamplesPerEdge = 5

// Grid is a dense 3-D boolean occupancy grid covering a fixed world bounds,
// immutable after construction.
type Grid struct {
	bounds    geom3.Bounds
	voxelSize float64
	nx, ny, nz int
	// occ is the dense nx*ny*nz occupancy array: 1 means occupied, 0 clear.
	// A sparse.DenseArrayInt backs it, the same dense-grid-data convention
	// the teacher uses for per-cell CTM variables.
	occ *sparse.DenseArrayInt
	log logrus.FieldLogger
}

// Option configures Grid construction.
type Option func(*Grid)

// WithLogger attaches a logger; default is logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(g *Grid) { g.log = log }
}

// New builds a Grid covering bounds, conservatively voxelizing the given
// triangles at voxelSize resolution. An empty triangle slice (§7 MeshEmpty)
// produces a grid with no occupied voxels, gated only by bounds membership.
func New(bounds geom3.Bounds, triangles []mesh.Triangle, voxelSize float64, opts ...Option) *Grid {
	g := &Grid{
		bounds:    bounds,
		voxelSize: voxelSize,
		log:       logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(g)
	}

	size := bounds.Max.Sub(bounds.Min)
	g.nx = dimCount(size.X, voxelSize)
	g.ny = dimCount(size.Y, voxelSize)
	g.nz = dimCount(size.Z, voxelSize)
	g.occ = sparse.ZerosDenseInt(g.nx, g.ny, g.nz)

	for _, tri := range triangles {
		g.rasterize(tri)
	}

	g.log.WithFields(logrus.Fields{
		"nx": g.nx, "ny": g.ny, "nz": g.nz,
		"voxelSize": voxelSize,
	}).Debug("voxel: built occupancy grid")
	return g
}

func dimCount(extent, voxelSize float64) int {
	n := int(math.Ceil(extent / voxelSize))
	if n < 1 {
		n = 1
	}
	return n
}

// Bounds returns the grid's world bounds.
func (g *Grid) Bounds() geom3.Bounds { return g.bounds }

// VoxelSize returns the configured voxel edge length.
func (g *Grid) VoxelSize() float64 { return g.voxelSize }

// Dims returns (nx, ny, nz).
func (g *Grid) Dims() (int, int, int) { return g.nx, g.ny, g.nz }

func (g *Grid) clampIndex(p geom3.Vector3) (ix, iy, iz int, ok bool) {
	if !g.bounds.Contains(p) {
		return 0, 0, 0, false
	}
	rel := p.Sub(g.bounds.Min)
	ix = int(rel.X / g.voxelSize)
	iy = int(rel.Y / g.voxelSize)
	iz = int(rel.Z / g.voxelSize)
	if ix >= g.nx {
		ix = g.nx - 1
	}
	if iy >= g.ny {
		iy = g.ny - 1
	}
	if iz >= g.nz {
		iz = g.nz - 1
	}
	return ix, iy, iz, true
}

// rasterize marks every voxel overlapping tri's AABB as occupied (§4.3
// conservative voxelization guarantee).
func (g *Grid) rasterize(tri mesh.Triangle) {
	lo, hi := triAABB(tri)
	lo = lo.Max(g.bounds.Min)
	hi = hi.Min(g.bounds.Max)
	if lo.X > hi.X || lo.Y > hi.Y || lo.Z > hi.Z {
		return
	}
	ixLo, iyLo, izLo, _ := g.clampIndex(lo)
	ixHi, iyHi, izHi, _ := g.clampIndex(hi)
	for ix := ixLo; ix <= ixHi; ix++ {
		for iy := iyLo; iy <= iyHi; iy++ {
			for iz := izLo; iz <= izHi; iz++ {
				g.occ.Set(1, ix, iy, iz)
			}
		}
	}
}

func triAABB(t mesh.Triangle) (geom3.Vector3, geom3.Vector3) {
	b := geom3.EmptyBounds()
	b = b.ExpandPoint(t.V0).ExpandPoint(t.V1).ExpandPoint(t.V2)
	return b.Min, b.Max
}

// PointOccupied reports whether p falls in an occupied voxel. Points outside
// the grid bounds are reported as not occupied; callers that also need
// in-bounds information should call InBounds separately.
func (g *Grid) PointOccupied(p geom3.Vector3) bool {
	ix, iy, iz, ok := g.clampIndex(p)
	if !ok {
		return false
	}
	return g.occ.Get(ix, iy, iz) != 0
}

// InBounds reports whether p falls within the grid's world bounds.
func (g *Grid) InBounds(p geom3.Vector3) bool {
	return g.bounds.Contains(p)
}

// SegmentIntersects samples the segment p0->p1 and reports whether any
// sample lies in an occupied voxel inside the grid bounds (§4.3).
func (g *Grid) SegmentIntersects(p0, p1 geom3.Vector3) bool {
	length := p0.Distance(p1)
	samples := int(math.Ceil(length / (g.voxelSize / 2)))
	if samples < 2 {
		samples = 2
	}
	for i := 0; i <= samples; i++ {
		t := float64(i) / float64(samples)
		p := p0.Lerp(p1, t)
		if g.bounds.Contains(p) && g.PointOccupied(p) {
			return true
		}
	}
	return false
}

// SegmentsIntersectBatch is the batch form of SegmentIntersects used by the
// cost precomputation hot path (§4.3). It loops over the edges serially and
// samples each at samplesPerEdge+1 evenly spaced points; no sample tensor is
// materialized. samplesPerEdge<=0 selects defaultSamplesPerEdge.
func (g *Grid) SegmentsIntersectBatch(starts, ends []geom3.Vector3, samplesPerEdge int) []bool {
	if samplesPerEdge <= 0 {
		samplesPerEdge = defaultSamplesPerEdge
	}
	n := len(starts)
	result := make([]bool, n)
	maxY := g.bounds.Max.Y + g.voxelSize

	for i := 0; i < n; i++ {
		p0, p1 := starts[i], ends[i]

		// Fast reject: edges fully above the grid, or fully outside the XZ
		// footprint, are definitively clear without sampling.
		if p0.Y > maxY && p1.Y > maxY {
			continue
		}
		if outsideXZ(g.bounds, p0, p1) {
			continue
		}

		occluded := false
		for s := 0; s <= samplesPerEdge; s++ {
			t := float64(s) / float64(samplesPerEdge)
			p := p0.Lerp(p1, t)
			if !g.bounds.Contains(p) {
				continue
			}
			if g.PointOccupied(p) {
				occluded = true
				break
			}
		}
		result[i] = occluded
	}
	return result
}

// outsideXZ reports whether the segment p0->p1 lies entirely beyond one side
// of b's XZ footprint.
func outsideXZ(b geom3.Bounds, p0, p1 geom3.Vector3) bool {
	return (p0.X < b.Min.X && p1.X < b.Min.X) || (p0.X > b.Max.X && p1.X > b.Max.X) ||
		(p0.Z < b.Min.Z && p1.Z < b.Min.Z) || (p0.Z > b.Max.Z && p1.Z > b.Max.Z)
}

// EdgesValidBatch reports, for each edge, whether it is unoccluded and both
// endpoints lie within the grid bounds (§4.3).
func (g *Grid) EdgesValidBatch(starts, ends []geom3.Vector3, samplesPerEdge int) []bool {
	occluded := g.SegmentsIntersectBatch(starts, ends, samplesPerEdge)
	valid := make([]bool, len(starts))
	for i := range starts {
		valid[i] = !occluded[i] && g.bounds.Contains(starts[i]) && g.bounds.Contains(ends[i])
	}
	return valid
}
