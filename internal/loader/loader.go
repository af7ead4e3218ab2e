// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Package loader is the thin glue, external to the core, that turns scene
// and wind sample files into the plain arrays the core's constructors
// expect: coordinate conversion, optional centering, and process-local
// caching of parsed results (§6 "Out of scope" collaborators, §6
// "Persisted state").
package loader

import (
	"context"
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/requestcache"

	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/mesh"
)

// RawTriangle is one (v0,v1,v2,normal) record as parsed from a scene file,
// before any coordinate conversion.
type RawTriangle struct {
	V0, V1, V2, Normal [3]float64
}

// Options controls loader conversion. ZUp marks a Z-up source that needs the
// (x,y,z) -> (x,z,-y) conversion before entering the core (§6); Center
// requests horizontal centering of the mesh.
type Options struct {
	ZUp    bool
	Center bool
}

func convert(p [3]float64, zUp bool) geom3.Vector3 {
	if !zUp {
		return geom3.Vector3{X: p[0], Y: p[1], Z: p[2]}
	}
	return geom3.Vector3{X: p[0], Y: p[2], Z: -p[1]}
}

// BuildMesh converts raw triangles into world-space Triangle values,
// applying the Z-up conversion and optional horizontal centering (§6).
func BuildMesh(raw []RawTriangle, opts Options) *mesh.TriangleMesh {
	tris := make([]mesh.Triangle, len(raw))
	for i, r := range raw {
		tris[i] = mesh.Triangle{
			V0:     convert(r.V0, opts.ZUp),
			V1:     convert(r.V1, opts.ZUp),
			V2:     convert(r.V2, opts.ZUp),
			Normal: convert(r.Normal, opts.ZUp),
		}
	}
	m := mesh.New(tris)
	if !opts.Center || m.Empty() {
		return m
	}

	b := m.Bounds()
	footprint := geom.NewBoundsPoint(geom.Point{X: b.Min.X, Y: b.Min.Z})
	footprint.Extend(geom.NewBoundsPoint(geom.Point{X: b.Max.X, Y: b.Max.Z}))
	centroidX := (footprint.Min.X + footprint.Max.X) / 2
	centroidZ := (footprint.Min.Y + footprint.Max.Y) / 2
	offset := geom3.Vector3{X: -centroidX, Y: -b.Min.Y, Z: -centroidZ}

	centered := make([]mesh.Triangle, len(tris))
	for i, t := range tris {
		centered[i] = mesh.Triangle{
			V0:     t.V0.Add(offset),
			V1:     t.V1.Add(offset),
			V2:     t.V2.Add(offset),
			Normal: t.Normal,
		}
	}
	return mesh.New(centered)
}

// WindSamples is the parsed, Y-up, optionally-centered wind sample input
// (§6 "Wind samples input").
type WindSamples struct {
	Positions  []geom3.Vector3
	Velocities []geom3.Vector3
	Turbulence []float64
}

// BuildWindSamples converts raw position/velocity arrays into WindSamples,
// applying the same Z-up conversion as BuildMesh and translating every
// position by centerOffset. It does not compute a centering offset itself;
// the offset BuildMesh applied keeps the mesh and wind field aligned.
func BuildWindSamples(positions, velocities [][3]float64, turbulence []float64, opts Options, centerOffset geom3.Vector3) (WindSamples, error) {
	if len(positions) != len(velocities) {
		return WindSamples{}, fmt.Errorf("loader: positions and velocities must have equal length (%d != %d)",
			len(positions), len(velocities))
	}
	out := WindSamples{
		Positions:  make([]geom3.Vector3, len(positions)),
		Velocities: make([]geom3.Vector3, len(velocities)),
		Turbulence: turbulence,
	}
	for i := range positions {
		out.Positions[i] = convert(positions[i], opts.ZUp).Add(centerOffset)
		out.Velocities[i] = convert(velocities[i], opts.ZUp)
	}
	return out, nil
}

// SceneCache wraps requestcache around scene-file parsing so repeated
// requests for the same path within one process reuse the parsed mesh,
// the same deduplicate-then-memoize shape the teacher's on-demand caches
// use for expensive regenerable data.
type SceneCache struct {
	cache *requestcache.Cache
}

// ParseFunc parses a scene file at path into raw triangles.
type ParseFunc func(ctx context.Context, path string) ([]RawTriangle, error)

// NewSceneCache builds a SceneCache backed by an in-memory LRU of size
// maxEntries, deduplicating concurrent requests for the same path.
func NewSceneCache(parse ParseFunc, numProcessors, maxEntries int) *SceneCache {
	processor := func(ctx context.Context, payload interface{}) (interface{}, error) {
		return parse(ctx, payload.(string))
	}
	return &SceneCache{
		cache: requestcache.NewCache(processor, numProcessors,
			requestcache.Deduplicate(), requestcache.Memory(maxEntries)),
	}
}

// Load returns the raw triangles for path, parsing (or reusing a cached
// parse of) it as needed.
func (c *SceneCache) Load(ctx context.Context, path string) ([]RawTriangle, error) {
	req := c.cache.NewRequest(ctx, path, path)
	result, err := req.Result()
	if err != nil {
		return nil, fmt.Errorf("loader: parsing scene %q: %w", path, err)
	}
	return result.([]RawTriangle), nil
}
