// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Scene and wind file parsing is thin, out-of-core glue (§6): the actual
// STL/VTU/NPZ formats these files arrive in are explicitly out of scope, so
// this reads a minimal JSON representation carrying the same arrays the
// core's constructors expect. A production deployment would swap this for
// real format readers without touching internal/loader or the core.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spatialmodel/windroute/internal/loader"
)

type sceneFile struct {
	Triangles []struct {
		V0     [3]float64 `json:"v0"`
		V1     [3]float64 `json:"v1"`
		V2     [3]float64 `json:"v2"`
		Normal [3]float64 `json:"normal"`
	} `json:"triangles"`
}

func parseSceneFile(ctx context.Context, path string) ([]loader.RawTriangle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sf sceneFile
	if err := json.NewDecoder(f).Decode(&sf); err != nil {
		return nil, fmt.Errorf("decoding scene file: %w", err)
	}

	out := make([]loader.RawTriangle, len(sf.Triangles))
	for i, t := range sf.Triangles {
		out[i] = loader.RawTriangle{V0: t.V0, V1: t.V1, V2: t.V2, Normal: t.Normal}
	}
	return out, nil
}

type windFile struct {
	Positions  [][3]float64 `json:"positions"`
	Velocities [][3]float64 `json:"velocities"`
	Turbulence []float64    `json:"turbulence,omitempty"`
}

func parseWindFile(path string) (windFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return windFile{}, err
	}
	defer f.Close()

	var wf windFile
	if err := json.NewDecoder(f).Decode(&wf); err != nil {
		return windFile{}, fmt.Errorf("decoding wind file: %w", err)
	}
	return wf, nil
}
