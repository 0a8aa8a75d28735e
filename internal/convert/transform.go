package convert

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/dem2obj/pkg/raster"
)

// Transform maps raster samples onto mesh vertices: recenter on the grid
// center, add optional jitter, then scale (and exaggerate elevation).
type Transform struct {
	centerX, centerY float64
	scale            float64
	exaggeration     float64

	jitter bool
	dx, dy float64
	rng    *rand.Rand
}

// NewTransform builds the transform for a grid. opts is resolved first.
// rng is only used with jitter; nil means NewRand(opts.Seed).
func NewTransform(meta raster.Metadata, opts Options, rng *rand.Rand) *Transform {
	opts = opts.Resolve()
	t := &Transform{
		centerX:      meta.CenterX,
		centerY:      meta.CenterY,
		scale:        opts.Scale,
		exaggeration: opts.Exaggeration,
		jitter:       opts.Jitter,
		dx:           JitterFraction * meta.SizeX,
		dy:           JitterFraction * meta.SizeY,
	}
	if t.jitter {
		if rng == nil {
			rng = NewRand(opts.Seed)
		}
		t.rng = rng
	}
	return t
}

// JitterRange returns the largest x and y jitter offsets before scaling.
// Either may be negative when the raster axis runs backwards.
func (t *Transform) JitterRange() (dx, dy float64) {
	return t.dx, t.dy
}

// Apply transforms one sample.
func (t *Transform) Apply(s raster.Sample) r3.Vec {
	x := s.X - t.centerX
	y := s.Y - t.centerY
	if t.jitter {
		x += uniform(t.rng, -t.dx, t.dx)
		y += uniform(t.rng, -t.dy, t.dy)
	}
	return r3.Vec{
		X: x * t.scale,
		Y: y * t.scale,
		Z: s.Z * t.scale * t.exaggeration,
	}
}

// uniform returns a value between a and b.
func uniform(rng *rand.Rand, a, b float64) float64 {
	return a + (b-a)*rng.Float64()
}
