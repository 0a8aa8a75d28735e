package raster

import (
	"iter"
)

// Metadata describes the grid of a raster.
type Metadata struct {
	Width   int
	Height  int
	CenterX float64
	CenterY float64
	// SizeX and SizeY are the tl-br extent per axis divided by the width.
	// Both axes divide by the width, so SizeY is not the pixel height on
	// non-square grids.
	SizeX float64
	SizeY float64

	Format    string
	Transform Affine
}

// Count returns the number of samples in the grid.
func (m Metadata) Count() int {
	return m.Width * m.Height
}

// Sample is one grid cell in world coordinates with its elevation.
type Sample struct {
	X, Y, Z float64
}

// MetadataOf derives grid metadata from an opened dataset.
func MetadataOf(d *Dataset) Metadata {
	tlX, tlY := d.Transform.Apply(0, 0)
	brX, brY := d.Transform.Apply(float64(d.Width-1), float64(d.Height-1))

	return Metadata{
		Width:     d.Width,
		Height:    d.Height,
		CenterX:   (tlX + brX) / 2.0,
		CenterY:   (tlY + brY) / 2.0,
		SizeX:     (tlX - brX) / float64(d.Width),
		SizeY:     (tlY - brY) / float64(d.Width),
		Format:    d.Format,
		Transform: d.Transform,
	}
}

// ReadMetadata opens the raster at path just long enough to read its metadata.
func ReadMetadata(path string) (Metadata, error) {
	ds, err := Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer ds.Close()

	return MetadataOf(ds), nil
}

// Samples returns the samples of the raster at path in row-major order.
//
// Each range over the sequence reopens the raster and reads it one row at a
// time. A failure is yielded once as the error value and ends the sequence.
func Samples(path string) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		ds, err := Open(path)
		if err != nil {
			yield(Sample{}, err)
			return
		}
		defer ds.Close()

		for s, err := range ds.Samples() {
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}

// Samples returns the samples of an opened dataset in row-major order.
// The dataset is read once; ranging again continues from where a
// forward-only decoder stopped and fails.
func (d *Dataset) Samples() iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		row := make([]float64, d.Width)
		for r := range d.Height {
			if err := d.ReadRow(r, row); err != nil {
				yield(Sample{}, &OpenError{Path: d.Path, Err: err})
				return
			}
			for c, z := range row {
				x, y := d.Transform.Apply(float64(c), float64(r))
				if !yield(Sample{X: x, Y: y, Z: z}, nil) {
					return
				}
			}
		}
	}
}
