// Package convert turns DEM rasters into OBJ meshes.
package convert

import (
	"math/rand/v2"

	"github.com/Faultbox/dem2obj/internal/config"
)

// MetersPerDegree approximates the length of one degree at the equator.
// WGS84 mode divides elevations by it so they match coordinates in degrees.
const MetersPerDegree = 110000.0

// JitterFraction is the largest jitter offset as a fraction of the pixel size.
const JitterFraction = 0.25

// Options controls the coordinate transform.
type Options struct {
	Scale        float64
	Exaggeration float64
	Geographic   bool // WGS84 mode, see Resolve
	Jitter       bool
	Seed         uint64 // 0 picks a random seed
}

// DefaultOptions returns the identity transform without jitter.
func DefaultOptions() Options {
	return Options{Scale: 1.0, Exaggeration: 1.0}
}

// OptionsFromConfig maps the mesh section of the config onto Options.
func OptionsFromConfig(c config.MeshConfig) Options {
	return Options{
		Scale:        c.Scale,
		Exaggeration: c.Exaggeration,
		Geographic:   c.WGS84,
		Jitter:       c.Jitter,
		Seed:         c.Seed,
	}
}

// Resolve applies the geographic preset: scale is forced to 1 and the
// exaggeration becomes scale / MetersPerDegree, replacing any given value.
func (o Options) Resolve() Options {
	if o.Geographic {
		o.Scale = 1.0
		o.Exaggeration = o.Scale / MetersPerDegree
	}
	return o
}

// NewRand returns the jitter random source for seed. Seed 0 draws a fresh
// seed, so only non-zero seeds are reproducible.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
