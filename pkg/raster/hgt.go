package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// SRTM HGT errors.
var (
	ErrInvalidHGTName = errors.New("invalid HGT tile name")
	ErrInvalidHGTSize = errors.New("invalid HGT file size")
)

// HGTVoid marks missing samples in SRTM tiles. It is passed through unchanged.
const HGTVoid = -32768

// hgtTile reads an SRTM tile: a square grid of big-endian int16 meters,
// named after the latitude/longitude of its lower-left corner.
type hgtTile struct {
	file *os.File
	size int
	buf  []byte
}

// ParseHGTName returns the lower-left corner of a tile from its file name,
// e.g. "N45E006.hgt" -> (45, 6).
func ParseHGTName(path string) (lat, lon int, err error) {
	name := strings.ToUpper(filepath.Base(path))
	name = strings.TrimSuffix(name, ".HGT")

	var ns, ew string
	if n, _ := fmt.Sscanf(name, "%1s%d%1s%d", &ns, &lat, &ew, &lon); n != 4 {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidHGTName, filepath.Base(path))
	}

	switch ns {
	case "N":
	case "S":
		lat = -lat
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidHGTName, filepath.Base(path))
	}
	switch ew {
	case "E":
	case "W":
		lon = -lon
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidHGTName, filepath.Base(path))
	}

	if lat < -90 || lat >= 90 || lon < -180 || lon >= 180 {
		return 0, 0, fmt.Errorf("%w: %s out of range", ErrInvalidHGTName, filepath.Base(path))
	}
	return lat, lon, nil
}

// HGTSize returns the side length of a tile holding byteLen bytes.
// SRTM3 tiles are 1201 samples wide and SRTM1 tiles 3601.
func HGTSize(byteLen int64) (int, error) {
	if byteLen < 8 || byteLen%2 != 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidHGTSize, byteLen)
	}
	n := int(math.Round(math.Sqrt(float64(byteLen / 2))))
	if int64(n)*int64(n)*2 != byteLen {
		return 0, fmt.Errorf("%w: %d bytes is not a square grid", ErrInvalidHGTSize, byteLen)
	}
	return n, nil
}

// HGTTransform returns the geotransform of a tile. Samples sit on whole
// arc-second positions, so the pixel corners are offset by half a sample.
func HGTTransform(lat, lon, size int) Affine {
	res := 1.0 / float64(size-1)
	return Affine{
		float64(lon) - res/2, res, 0,
		float64(lat+1) + res/2, 0, -res,
	}
}

func openHGT(path string) (*Dataset, error) {
	lat, lon, err := ParseHGTName(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat: %w", err)
	}

	size, err := HGTSize(info.Size())
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Dataset{
		Format:    "SRTMHGT",
		Width:     size,
		Height:    size,
		Transform: HGTTransform(lat, lon, size),
		rows: &hgtTile{
			file: file,
			size: size,
			buf:  make([]byte, size*2),
		},
	}, nil
}

func (t *hgtTile) readRow(row int, dst []float64) error {
	off := int64(row) * int64(t.size) * 2
	if _, err := t.file.ReadAt(t.buf, off); err != nil {
		return fmt.Errorf("%w: row %d: %v", ErrTruncatedData, row, err)
	}
	for col := range dst {
		dst[col] = float64(int16(binary.BigEndian.Uint16(t.buf[col*2:])))
	}
	return nil
}

func (t *hgtTile) Close() error {
	return t.file.Close()
}
