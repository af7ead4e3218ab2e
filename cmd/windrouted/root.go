// Copyright © 2024 the windroute authors.
// This file is part of windroute.

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "windrouted",
	Short: "Wind-aware drone flight-path server.",
	Long: `windrouted computes drone flight paths through a 3-D scene under the
influence of a wind field, and streams the resulting flights to connected
clients over the session protocol.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load a scene and wind field and start accepting sessions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfigFile(configFile)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, &cfg)

		logrus.WithFields(logrus.Fields{
			"scene":  cfg.ScenePath,
			"wind":   cfg.WindPath,
			"listen": cfg.ListenAddr,
		}).Info("windrouted: starting")

		srv, err := newServer(cfg)
		if err != nil {
			return fmt.Errorf("windrouted: %w", err)
		}
		return srv.ListenAndServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a TOML config file")

	serveCmd.Flags().String("scene", "", "path to the scene geometry file")
	serveCmd.Flags().String("wind", "", "path to the wind samples file")
	serveCmd.Flags().Float64("grid-resolution", 0, "lattice node spacing, in meters")
	serveCmd.Flags().Float64("voxel-size", 0, "voxel grid cell size, in meters")
	serveCmd.Flags().String("weight-preset", "", "cost weight preset (speed_priority|safety_priority|balanced|distance_only)")
	serveCmd.Flags().Int("frame-delay-ms", -1, "delay between emitted simulation frames, in milliseconds")
	serveCmd.Flags().String("listen", "", "address to listen on")

	rootCmd.AddCommand(serveCmd)
}

// applyFlagOverrides maps each explicitly-set pflag onto its Config field,
// 1:1, leaving the TOML-file/default value in place for anything the caller
// didn't pass (§6 CLI).
func applyFlagOverrides(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("scene") {
		cfg.ScenePath, _ = flags.GetString("scene")
	}
	if flags.Changed("wind") {
		cfg.WindPath, _ = flags.GetString("wind")
	}
	if flags.Changed("grid-resolution") {
		cfg.GridResolution, _ = flags.GetFloat64("grid-resolution")
	}
	if flags.Changed("voxel-size") {
		cfg.VoxelSize, _ = flags.GetFloat64("voxel-size")
	}
	if flags.Changed("weight-preset") {
		cfg.WeightPreset, _ = flags.GetString("weight-preset")
	}
	if flags.Changed("frame-delay-ms") {
		cfg.FrameDelayMS, _ = flags.GetInt("frame-delay-ms")
	}
	if flags.Changed("listen") {
		cfg.ListenAddr, _ = flags.GetString("listen")
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
