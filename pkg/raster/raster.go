// Package raster reads single-band elevation rasters as regular grids.
//
// A Dataset exposes the grid size, the affine pixel-to-world transform and
// row-at-a-time pixel reads. The sampler on top of it (ReadMetadata, Samples)
// turns a raster into world-coordinate samples in row-major order.
package raster

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Raster decoding errors.
var (
	ErrOpen              = errors.New("cannot open raster")
	ErrUnsupportedFormat = errors.New("unsupported raster format")
	ErrTruncatedData     = errors.New("truncated raster data")
	ErrRowOutOfRange     = errors.New("row out of range")
	ErrTooLarge          = errors.New("raster too large")
)

// MaxSamples bounds width*height of any raster. Every sample becomes a
// mesh vertex held in memory.
const MaxSamples = 1 << 27

// OpenError reports a raster that could not be opened or decoded.
// It matches ErrOpen with errors.Is.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("opening raster %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Is makes every OpenError match ErrOpen.
func (e *OpenError) Is(target error) bool { return target == ErrOpen }

// Affine is a pixel-to-world transform in GDAL geotransform order:
// [originX, pixelWidth, rowRotation, originY, columnRotation, pixelHeight].
// Pixel (col, row) maps to the world position of that pixel's upper-left corner.
type Affine [6]float64

// Identity maps pixel coordinates onto themselves.
var Identity = Affine{0, 1, 0, 0, 0, 1}

// Apply maps a pixel position to world coordinates.
func (a Affine) Apply(col, row float64) (x, y float64) {
	x = a[0] + col*a[1] + row*a[2]
	y = a[3] + col*a[4] + row*a[5]
	return x, y
}

// rowReader is implemented by each format decoder.
type rowReader interface {
	// readRow fills dst (len == width) with the elevations of row.
	readRow(row int, dst []float64) error
	Close() error
}

// Dataset is an opened raster.
type Dataset struct {
	Path      string
	Format    string
	Width     int
	Height    int
	Transform Affine

	rows rowReader
}

// Open opens a raster, choosing the decoder from the file extension.
// All failures are returned as *OpenError.
func Open(path string) (*Dataset, error) {
	ds, err := open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	if err := checkDimensions(ds.Width, ds.Height); err != nil {
		ds.Close()
		return nil, &OpenError{Path: path, Err: err}
	}
	ds.Path = path
	return ds, nil
}

// checkDimensions rejects empty grids and grids above MaxSamples.
func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid raster dimensions: %dx%d", width, height)
	}
	if width > MaxSamples/height {
		return fmt.Errorf("%w: %dx%d exceeds %d samples", ErrTooLarge, width, height, MaxSamples)
	}
	return nil
}

func open(path string) (*Dataset, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".asc", ".grd":
		return openASCII(path)
	case ".hgt":
		return openHGT(path)
	case ".tif", ".tiff":
		return openTIFF(path)
	case ".png", ".bmp":
		return openImage(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ReadRow reads row into dst, which must hold at least Width values.
func (d *Dataset) ReadRow(row int, dst []float64) error {
	if row < 0 || row >= d.Height {
		return fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, row, d.Height)
	}
	if len(dst) < d.Width {
		return fmt.Errorf("row buffer too small: %d < %d", len(dst), d.Width)
	}
	return d.rows.readRow(row, dst[:d.Width])
}

// Close releases the underlying file.
func (d *Dataset) Close() error {
	if d.rows == nil {
		return nil
	}
	return d.rows.Close()
}
