// Copyright © 2024 the windroute authors.
// This file is part of windroute.

package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the server's static configuration, decoded from a TOML file.
// Every field except ZUp and Center can also be overridden by the matching
// flag on the serve command; ZUp and Center are set only from the file.
type Config struct {
	ScenePath      string  `toml:"scene_path"`
	WindPath       string  `toml:"wind_path"`
	GridResolution float64 `toml:"grid_resolution"`
	VoxelSize      float64 `toml:"voxel_size"`
	WeightPreset   string  `toml:"weight_preset"`
	FrameDelayMS   int     `toml:"frame_delay_ms"`
	ListenAddr     string  `toml:"listen_addr"`
	ZUp            bool    `toml:"z_up"`
	Center         bool    `toml:"center"`
}

// defaultConfig mirrors the core's own defaults (§4.3, §4.6) so an absent
// config file still produces a runnable server.
func defaultConfig() Config {
	return Config{
		GridResolution: 10,
		VoxelSize:      5,
		WeightPreset:   "balanced",
		FrameDelayMS:   100,
		ListenAddr:     ":8080",
	}
}

// readConfigFile decodes path into a Config seeded with defaultConfig's
// values, so a config file only needs to override what it cares about.
func readConfigFile(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("windrouted: reading config %q: %w", path, err)
	}
	return cfg, nil
}
