// Package main is the entry point for dem2obj, which converts a DEM raster
// into a triangulated Wavefront OBJ mesh.
//
// If using Blender, import the result with Z up and +Y forward.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Faultbox/dem2obj/internal/config"
	"github.com/Faultbox/dem2obj/internal/convert"
	"github.com/Faultbox/dem2obj/internal/logger"
)

func main() {
	flag.Usage = usage
	config.ParseFlags()

	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		return 2
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Sugar.Debugf("Config: %+v", cfg)

	if path := config.SaveConfigPath(); path != "" {
		if err := cfg.SaveTo(path); err != nil {
			logger.Error("failed to save config", zap.String("path", path), zap.Error(err))
			return 1
		}
		logger.Info("Config saved", zap.String("path", path))
	}

	if _, err := convert.Run(cfg.Input, cfg.Output, convert.OptionsFromConfig(cfg.Mesh)); err != nil {
		logger.Error("conversion failed", zap.Error(err))
		return 1
	}

	return 0
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `dem2obj - convert a DEM raster to an OBJ triangle mesh

Usage:
  dem2obj -i <input> -o <output.obj> [options]

Supported inputs:
  .asc .grd         Esri ASCII Grid
  .hgt              SRTM tile (N45E006.hgt)
  .tif .tiff        GeoTIFF, single band of 8/16/32-bit integers or 32/64-bit
                    floats, uncompressed, LZW or deflate; color TIFFs are
                    read as grayscale heightmaps
  .png .bmp         grayscale heightmap

Rasters without embedded georeferencing use a world file if present.
Grids above 134217728 samples are rejected.

Options:
`)
	flag.PrintDefaults()
}
