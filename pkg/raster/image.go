package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ErrInvalidWorldFile reports a world file that does not hold six numbers.
var ErrInvalidWorldFile = errors.New("invalid world file")

// worldFileExts lists sidecar extensions for each image extension.
var worldFileExts = map[string][]string{
	".tif":  {".tfw", ".tifw", ".wld"},
	".tiff": {".tfw", ".tiffw", ".wld"},
	".png":  {".pgw", ".pngw", ".wld"},
	".bmp":  {".bpw", ".bmpw", ".wld"},
}

// imageGrid serves rows from a decoded grayscale heightmap.
// Elevation is the 16-bit gray value of each pixel.
type imageGrid struct {
	img image.Image
}

func openImage(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	transform := Identity
	if wld := FindWorldFile(path); wld != "" {
		transform, err = ReadWorldFile(wld)
		if err != nil {
			return nil, err
		}
	}

	b := img.Bounds()
	return &Dataset{
		Format:    strings.ToUpper(format),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Transform: transform,
		rows:      &imageGrid{img: img},
	}, nil
}

func (g *imageGrid) readRow(row int, dst []float64) error {
	b := g.img.Bounds()
	y := b.Min.Y + row

	switch img := g.img.(type) {
	case *image.Gray16:
		for col := range dst {
			dst[col] = float64(img.Gray16At(b.Min.X+col, y).Y)
		}
	case *image.Gray:
		for col := range dst {
			dst[col] = float64(img.GrayAt(b.Min.X+col, y).Y)
		}
	default:
		for col := range dst {
			gray := color.Gray16Model.Convert(img.At(b.Min.X+col, y)).(color.Gray16)
			dst[col] = float64(gray.Y)
		}
	}
	return nil
}

func (g *imageGrid) Close() error {
	g.img = nil
	return nil
}

// FindWorldFile returns the world file next to an image, or "" if none exists.
func FindWorldFile(imagePath string) string {
	ext := filepath.Ext(imagePath)
	base := strings.TrimSuffix(imagePath, ext)

	for _, candidate := range worldFileExts[strings.ToLower(ext)] {
		for _, name := range []string{base + candidate, base + strings.ToUpper(candidate)} {
			if info, err := os.Stat(name); err == nil && !info.IsDir() {
				return name
			}
		}
	}
	return ""
}

// ReadWorldFile parses a six-line world file (A D B E C F, with C/F the
// center of the upper-left pixel) into a corner geotransform.
func ReadWorldFile(path string) (Affine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Affine{}, fmt.Errorf("reading world file: %w", err)
	}
	return ParseWorldFile(string(data))
}

// ParseWorldFile parses world file contents.
func ParseWorldFile(contents string) (Affine, error) {
	fields := strings.Fields(contents)
	if len(fields) != 6 {
		return Affine{}, fmt.Errorf("%w: expected 6 values, got %d", ErrInvalidWorldFile, len(fields))
	}

	var v [6]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Affine{}, fmt.Errorf("%w: line %d: %v", ErrInvalidWorldFile, i+1, err)
		}
		v[i] = n
	}

	a, d, b, e, c, f := v[0], v[1], v[2], v[3], v[4], v[5]
	return Affine{c - a/2 - b/2, a, b, f - d/2 - e/2, d, e}, nil
}
