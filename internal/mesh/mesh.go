// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Package mesh holds the triangle-mesh obstacle representation and the
// axis-aligned spatial hash that accelerates collision queries against it
// (component C2 of the design).
package mesh

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/windroute/internal/geom3"
)

// DefaultCellSize is the default SpatialHash cell edge length, in meters.
const DefaultCellSize = 20.0

// parallelEpsilon is the Möller–Trumbore denominator epsilon.
const parallelEpsilon = 1e-9

// Triangle is a single mesh facet in world coordinates.
type Triangle struct {
	V0, V1, V2 geom3.Vector3
	Normal     geom3.Vector3
}

// bounds returns the AABB of t.
func (t Triangle) bounds() geom3.Bounds {
	b := geom3.EmptyBounds()
	b = b.ExpandPoint(t.V0)
	b = b.ExpandPoint(t.V1)
	b = b.ExpandPoint(t.V2)
	return b
}

type cellKey struct{ cx, cy, cz int }

// spatialHash maps integer cell coordinates to the indices of triangles
// whose AABB overlaps that cell. Every triangle's AABB is registered in
// every cell it overlaps (§3 invariant).
type spatialHash struct {
	cellSize float64
	cells    map[cellKey][]int32
}

func cellOf(p geom3.Vector3, cellSize float64) cellKey {
	return cellKey{
		cx: int(math.Floor(p.X / cellSize)),
		cy: int(math.Floor(p.Y / cellSize)),
		cz: int(math.Floor(p.Z / cellSize)),
	}
}

func newSpatialHash(triangles []Triangle, cellSize float64) *spatialHash {
	h := &spatialHash{cellSize: cellSize, cells: make(map[cellKey][]int32)}
	for i, tri := range triangles {
		b := tri.bounds()
		lo := cellOf(b.Min, cellSize)
		hi := cellOf(b.Max, cellSize)
		for cx := lo.cx; cx <= hi.cx; cx++ {
			for cy := lo.cy; cy <= hi.cy; cy++ {
				for cz := lo.cz; cz <= hi.cz; cz++ {
					k := cellKey{cx, cy, cz}
					h.cells[k] = append(h.cells[k], int32(i))
				}
			}
		}
	}
	return h
}

// candidatesAround unions the triangle indices registered in cell k and its
// 26 neighbors.
func (h *spatialHash) candidatesAround(k cellKey, out map[int32]struct{}) {
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				nk := cellKey{k.cx + dx, k.cy + dy, k.cz + dz}
				for _, idx := range h.cells[nk] {
					out[idx] = struct{}{}
				}
			}
		}
	}
}

// TriangleMesh is an immutable collection of triangles with a SpatialHash
// for accelerated queries.
type TriangleMesh struct {
	Triangles []Triangle
	cellSize  float64
	bounds    geom3.Bounds
	hash      *spatialHash
	log       logrus.FieldLogger
}

// Option configures TriangleMesh construction.
type Option func(*TriangleMesh)

// WithCellSize overrides DefaultCellSize.
func WithCellSize(size float64) Option {
	return func(m *TriangleMesh) { m.cellSize = size }
}

// WithLogger attaches a logger; the default is logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *TriangleMesh) { m.log = log }
}

// New builds a TriangleMesh from triangles already in world (Y-up)
// coordinates. An empty triangle set is accepted (§7 MeshEmpty): bounds
// degenerate to a single point at the origin and all queries report clear.
func New(triangles []Triangle, opts ...Option) *TriangleMesh {
	m := &TriangleMesh{
		Triangles: triangles,
		cellSize:  DefaultCellSize,
		log:       logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(m)
	}

	b := geom3.EmptyBounds()
	for _, t := range triangles {
		b = b.Union(t.bounds())
	}
	if len(triangles) == 0 {
		b = geom3.Bounds{}
	}
	m.bounds = b
	m.hash = newSpatialHash(triangles, m.cellSize)

	m.log.WithFields(logrus.Fields{
		"triangles": len(triangles),
		"cellSize":  m.cellSize,
		"cells":     len(m.hash.cells),
	}).Debug("mesh: built spatial hash")
	return m
}

// Bounds returns the mesh's axis-aligned bounding box.
func (m *TriangleMesh) Bounds() geom3.Bounds { return m.bounds }

// Empty reports whether the mesh has zero triangles.
func (m *TriangleMesh) Empty() bool { return len(m.Triangles) == 0 }

// SegmentIntersects reports whether the segment p0->p1 crosses any triangle
// in the mesh (§4.2). A zero-length segment degenerates to PointInside(p0).
func (m *TriangleMesh) SegmentIntersects(p0, p1 geom3.Vector3) bool {
	if m.Empty() {
		return false
	}
	d := p1.Sub(p0)
	length := d.Length()
	if length < geom3.EqTolerance {
		return m.PointInside(p0)
	}

	candidates := make(map[int32]struct{})
	samples := int(math.Ceil(length / m.cellSize))
	if samples < 2 {
		samples = 2
	}
	for i := 0; i <= samples; i++ {
		t := float64(i) / float64(samples)
		p := p0.Lerp(p1, t)
		m.hash.candidatesAround(cellOf(p, m.cellSize), candidates)
	}

	for idx := range candidates {
		if rayTriangleHit(p0, d, length, m.Triangles[idx]) {
			return true
		}
	}
	return false
}

// rayTriangleHit runs Möller–Trumbore for the ray (origin, dir) against tri,
// accepting hits with t in [0, maxT].
func rayTriangleHit(origin, dir geom3.Vector3, maxT float64, tri Triangle) bool {
	edge1 := tri.V1.Sub(tri.V0)
	edge2 := tri.V2.Sub(tri.V0)
	pvec := dir.Cross(edge2)
	det := edge1.Dot(pvec)
	if math.Abs(det) < parallelEpsilon {
		return false
	}
	invDet := 1 / det
	tvec := origin.Sub(tri.V0)
	u := tvec.Dot(pvec) * invDet
	if u < 0 || u > 1 {
		return false
	}
	qvec := tvec.Cross(edge1)
	v := dir.Dot(qvec) * invDet
	if v < 0 || u+v > 1 {
		return false
	}
	tHit := edge2.Dot(qvec) * invDet
	return tHit >= 0 && tHit <= maxT
}

// PointInside reports whether p lies inside the mesh volume, determined by
// parity of a +X ray cast to max_x+100 (§4.2). This heuristic is known to
// mislabel points lying exactly on a triangle or when the ray grazes an
// edge; it is used only as an initial validity heuristic, VoxelGrid is
// authoritative for routing decisions (§9 Open Question ii).
func (m *TriangleMesh) PointInside(p geom3.Vector3) bool {
	if m.Empty() {
		return false
	}
	maxX := m.bounds.Max.X + 100
	if p.X > maxX {
		return false
	}

	candidates := make(map[int32]struct{})
	start := cellOf(p, m.cellSize)
	endCell := cellOf(geom3.Vector3{X: maxX, Y: p.Y, Z: p.Z}, m.cellSize)
	for cx := start.cx; cx <= endCell.cx; cx++ {
		m.hash.candidatesAround(cellKey{cx, start.cy, start.cz}, candidates)
	}

	dir := geom3.Vector3{X: 1, Y: 0, Z: 0}
	segLen := maxX - p.X
	hits := 0
	for idx := range candidates {
		if rayTriangleHit(p, dir, segLen, m.Triangles[idx]) {
			hits++
		}
	}
	return hits%2 == 1
}

func (m *TriangleMesh) String() string {
	return fmt.Sprintf("mesh.TriangleMesh{triangles=%d, bounds=%+v}", len(m.Triangles), m.bounds)
}
