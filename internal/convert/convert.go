package convert

import (
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/Faultbox/dem2obj/internal/logger"
	"github.com/Faultbox/dem2obj/internal/mesh"
	"github.com/Faultbox/dem2obj/pkg/raster"
)

// progressEvery is how many vertices are added between progress logs.
const progressEvery = 10000

// Result describes a finished conversion.
type Result struct {
	Metadata raster.Metadata
	Options  Options
	Stats    mesh.Stats
}

// Run converts the raster at input into an OBJ mesh at output.
//
// The raster is fully read before output is created, so input errors never
// leave an output file behind.
func Run(input, output string, opts Options) (Result, error) {
	opts = opts.Resolve()
	if opts.Geographic {
		logger.Info("Using WGS84 mode",
			zap.Float64("scale", opts.Scale),
			zap.Float64("exaggeration", opts.Exaggeration))
	}

	meta, err := raster.ReadMetadata(input)
	if err != nil {
		return Result{}, err
	}
	logger.Info("Image size",
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
		zap.String("format", meta.Format))
	logger.Info("Mid point",
		zap.Float64("x", meta.CenterX),
		zap.Float64("y", meta.CenterY))

	var rng *rand.Rand
	if opts.Jitter {
		rng = NewRand(opts.Seed)
	}

	builder, err := Build(input, meta, opts, rng)
	if err != nil {
		return Result{}, err
	}

	logger.Info("Writing OBJ file...", zap.String("path", output))
	stats, err := builder.WriteFile(output)
	if err != nil {
		return Result{}, err
	}
	logger.Info("OBJ file written",
		zap.Int("vertices", stats.Vertices),
		zap.Int("faces", stats.Faces),
		zap.Float64s("min", []float64{stats.Bounds.Min.X, stats.Bounds.Min.Y, stats.Bounds.Min.Z}),
		zap.Float64s("max", []float64{stats.Bounds.Max.X, stats.Bounds.Max.Y, stats.Bounds.Max.Z}))

	return Result{Metadata: meta, Options: opts, Stats: stats}, nil
}

// Build streams the raster at input through the transform into a new mesh
// builder sized from meta.
func Build(input string, meta raster.Metadata, opts Options, rng *rand.Rand) (*mesh.Builder, error) {
	transform := NewTransform(meta, opts, rng)
	builder := mesh.NewBuilder(meta.Width, meta.Height)

	logger.Info("Scanning raster for xyz values...")
	total := meta.Count()
	for s, err := range raster.Samples(input) {
		if err != nil {
			return nil, err
		}
		builder.AddVertex(transform.Apply(s))

		if points := builder.Len(); points%progressEvery == 0 {
			logger.Debug("Added vertices",
				zap.Int("count", points),
				zap.Float64("percent", float64(points)/float64(total)*100.0))
		}
	}

	if points := builder.Len(); points != total {
		return nil, &raster.OpenError{
			Path: input,
			Err:  fmt.Errorf("%w: expected %d samples, got %d", raster.ErrTruncatedData, total, points),
		}
	}
	return builder, nil
}
