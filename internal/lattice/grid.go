// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Package lattice implements the 26-connected 3-D lattice that the cost
// graph and pathfinders operate over (component C5 of the design).
package lattice

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/windroute/internal/geom3"
)

// MaxSnapShellRadius bounds the concentric-shell search node_at_position
// performs when the direct snap lands on an invalid node (§4.5). This bound
// is the contract callers rely on: snapping never silently drifts further
// than this many lattice steps from the requested position.
const MaxSnapShellRadius = 5

// Node is one lattice point. ID is the dense linear index
// ix*ny*nz + iy*nz + iz, a bijection with both Index and Position.
type Node struct {
	ID       uint32
	Position geom3.Vector3
	Index    [3]int
	Valid    bool
}

// offsets26 are every (dx,dy,dz) in {-1,0,1}^3 except the origin (§GLOSSARY
// 26-connectivity).
var offsets26 = func() [][3]int {
	var o [][3]int
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				o = append(o, [3]int{dx, dy, dz})
			}
		}
	}
	return o
}()

// Grid3D is an immutable 26-connected lattice covering bounds at the given
// resolution, with a validity flag per node.
type Grid3D struct {
	bounds     geom3.Bounds
	resolution float64
	nx, ny, nz int
	nodes      []Node
	log        logrus.FieldLogger
}

// Option configures Grid3D construction.
type Option func(*Grid3D)

// WithLogger attaches a logger; default is logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(g *Grid3D) { g.log = log }
}

// ValidityFunc reports whether the lattice node at world position p should
// be usable for pathfinding. Callers typically derive this from VoxelGrid
// occupancy (§4.5: "initially derived from voxel occupancy at the node's
// position").
type ValidityFunc func(p geom3.Vector3) bool

// New builds a Grid3D covering bounds with nodes spaced resolution apart,
// calling valid for each node's world position to seed its Valid flag.
func New(bounds geom3.Bounds, resolution float64, valid ValidityFunc, opts ...Option) *Grid3D {
	g := &Grid3D{
		bounds:     bounds,
		resolution: resolution,
		log:        logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(g)
	}

	size := bounds.Max.Sub(bounds.Min)
	g.nx = axisNodeCount(size.X, resolution)
	g.ny = axisNodeCount(size.Y, resolution)
	g.nz = axisNodeCount(size.Z, resolution)

	g.nodes = make([]Node, g.nx*g.ny*g.nz)
	for ix := 0; ix < g.nx; ix++ {
		for iy := 0; iy < g.ny; iy++ {
			for iz := 0; iz < g.nz; iz++ {
				pos := geom3.Vector3{
					X: bounds.Min.X + float64(ix)*resolution,
					Y: bounds.Min.Y + float64(iy)*resolution,
					Z: bounds.Min.Z + float64(iz)*resolution,
				}
				id := g.idOf(ix, iy, iz)
				g.nodes[id] = Node{
					ID:       uint32(id),
					Position: pos,
					Index:    [3]int{ix, iy, iz},
					Valid:    valid(pos),
				}
			}
		}
	}

	g.log.WithFields(logrus.Fields{
		"nx": g.nx, "ny": g.ny, "nz": g.nz,
		"nodes": len(g.nodes), "resolution": resolution,
	}).Debug("lattice: built grid")
	return g
}

func axisNodeCount(extent, resolution float64) int {
	n := int(math.Floor(extent/resolution)) + 1
	if n < 1 {
		n = 1
	}
	return n
}

func (g *Grid3D) idOf(ix, iy, iz int) int {
	return ix*g.ny*g.nz + iy*g.nz + iz
}

func (g *Grid3D) inBoundsIndex(ix, iy, iz int) bool {
	return ix >= 0 && ix < g.nx && iy >= 0 && iy < g.ny && iz >= 0 && iz < g.nz
}

// Dims returns (nx, ny, nz).
func (g *Grid3D) Dims() (int, int, int) { return g.nx, g.ny, g.nz }

// NumNodes returns the total node count.
func (g *Grid3D) NumNodes() int { return len(g.nodes) }

// Bounds returns the lattice's world bounds.
func (g *Grid3D) Bounds() geom3.Bounds { return g.bounds }

// Node returns the node with the given ID.
func (g *Grid3D) Node(id uint32) Node { return g.nodes[id] }

// NodeAtIndex returns the node at lattice index (ix,iy,iz).
func (g *Grid3D) NodeAtIndex(ix, iy, iz int) (Node, bool) {
	if !g.inBoundsIndex(ix, iy, iz) {
		return Node{}, false
	}
	return g.nodes[g.idOf(ix, iy, iz)], true
}

// nearestIndex rounds p to the nearest lattice index, clamped to bounds.
func (g *Grid3D) nearestIndex(p geom3.Vector3) (int, int, int) {
	rel := p.Sub(g.bounds.Min)
	ix := int(math.Round(rel.X / g.resolution))
	iy := int(math.Round(rel.Y / g.resolution))
	iz := int(math.Round(rel.Z / g.resolution))
	ix = clamp(ix, 0, g.nx-1)
	iy = clamp(iy, 0, g.ny-1)
	iz = clamp(iz, 0, g.nz-1)
	return ix, iy, iz
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func max3(a, b, c int) int {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

// NodeAtPosition rounds p to the nearest lattice node. If preferValid is
// true and that node is invalid, it searches concentric Chebyshev-distance
// shells 1..MaxSnapShellRadius, considering every node in a shell before
// advancing to the next, and returns the Euclidean-nearest valid node found
// (ties broken by distance within the first shell that has any). If no
// valid node is found within the radius, the original (invalid) node is
// returned (§4.5).
func (g *Grid3D) NodeAtPosition(p geom3.Vector3, preferValid bool) Node {
	ix, iy, iz := g.nearestIndex(p)
	base, _ := g.NodeAtIndex(ix, iy, iz)
	if !preferValid || base.Valid {
		return base
	}

	for r := 1; r <= MaxSnapShellRadius; r++ {
		var best *Node
		bestDist := math.Inf(1)
		for dx := -r; dx <= r; dx++ {
			for dy := -r; dy <= r; dy++ {
				for dz := -r; dz <= r; dz++ {
					if max3(abs(dx), abs(dy), abs(dz)) != r {
						continue
					}
					nix, niy, niz := ix+dx, iy+dy, iz+dz
					n, ok := g.NodeAtIndex(nix, niy, niz)
					if !ok || !n.Valid {
						continue
					}
					d := p.Distance(n.Position)
					if d < bestDist {
						bestDist = d
						nCopy := n
						best = &nCopy
					}
				}
			}
		}
		if best != nil {
			return *best
		}
	}
	return base
}

// Neighbors enumerates node's valid 26-neighbors within grid bounds (§4.5).
func (g *Grid3D) Neighbors(node Node) []Node {
	neighbors := make([]Node, 0, 26)
	for _, off := range offsets26 {
		nix := node.Index[0] + off[0]
		niy := node.Index[1] + off[1]
		niz := node.Index[2] + off[2]
		n, ok := g.NodeAtIndex(nix, niy, niz)
		if !ok || !n.Valid {
			continue
		}
		neighbors = append(neighbors, n)
	}
	return neighbors
}

// MarkVolume bulk-updates the validity of every node whose position lies
// within [min,max] (§4.5).
func (g *Grid3D) MarkVolume(min, max geom3.Vector3, valid bool) {
	b := geom3.Bounds{Min: min, Max: max}
	for i := range g.nodes {
		if b.Contains(g.nodes[i].Position) {
			g.nodes[i].Valid = valid
		}
	}
}
