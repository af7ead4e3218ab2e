// Package geom3 provides the 3-D vector arithmetic the rest of windroute is
// built on. Y is vertical ("up"); X and Z span the horizontal plane.
//
// No suitable 3-D vector library surfaced in the example pack (ctessum/geom
// is a 2-D package used by the teacher for horizontal grid footprints only),
// so this package follows the teacher's convention of hand-writing small,
// allocation-free math types close to the data instead of reaching for a
// generic linear-algebra dependency.
package geom3

import "math"

// EqTolerance is the absolute tolerance used by Vector3.Equal.
const EqTolerance = 1e-9

// Vector3 is a point or direction in 3-space.
type Vector3 struct {
	X, Y, Z float64
}

// Zero is the additive identity.
var Zero = Vector3{}

// Add returns v+o.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v-o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v scaled by s.
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Cross returns the cross product v×o.
func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Length returns the Euclidean magnitude of v.
func (v Vector3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

// Distance returns the Euclidean distance between v and o.
func (v Vector3) Distance(o Vector3) float64 {
	return v.Sub(o).Length()
}

// Normalize returns v scaled to unit length. If v is (near) zero-length,
// it returns the zero vector rather than dividing by zero; callers that
// need a fallback direction (§4.9 step 4) must supply one themselves.
func (v Vector3) Normalize() Vector3 {
	l := v.Length()
	if l < EqTolerance {
		return Zero
	}
	return v.Scale(1 / l)
}

// Equal reports whether v and o are within EqTolerance of each other in
// every component.
func (v Vector3) Equal(o Vector3) bool {
	return math.Abs(v.X-o.X) <= EqTolerance &&
		math.Abs(v.Y-o.Y) <= EqTolerance &&
		math.Abs(v.Z-o.Z) <= EqTolerance
}

// Lerp linearly interpolates between v and o at parameter t∈[0,1].
func (v Vector3) Lerp(o Vector3, t float64) Vector3 {
	return v.Add(o.Sub(v).Scale(t))
}

// Min returns the component-wise minimum of v and o.
func (v Vector3) Min(o Vector3) Vector3 {
	return Vector3{math.Min(v.X, o.X), math.Min(v.Y, o.Y), math.Min(v.Z, o.Z)}
}

// Max returns the component-wise maximum of v and o.
func (v Vector3) Max(o Vector3) Vector3 {
	return Vector3{math.Max(v.X, o.X), math.Max(v.Y, o.Y), math.Max(v.Z, o.Z)}
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min, Max Vector3
}

// Union returns the smallest Bounds containing both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{Min: b.Min.Min(o.Min), Max: b.Max.Max(o.Max)}
}

// ExpandPoint grows b, if necessary, so that it contains p.
func (b Bounds) ExpandPoint(p Vector3) Bounds {
	return Bounds{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

// Contains reports whether p lies within b, inclusive of the boundary.
func (b Bounds) Contains(p Vector3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Overlaps reports whether b and o share any volume.
func (b Bounds) Overlaps(o Bounds) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

// EmptyBounds returns a Bounds primed so that the first ExpandPoint call
// establishes its extent.
func EmptyBounds() Bounds {
	inf := math.Inf(1)
	return Bounds{
		Min: Vector3{inf, inf, inf},
		Max: Vector3{-inf, -inf, -inf},
	}
}
