package raster

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Esri ASCII Grid errors.
var (
	ErrInvalidASCIIHeader = errors.New("invalid ASCII grid header")
	ErrRowOrder           = errors.New("ASCII grid rows must be read in order")
)

// ASCIIHeader holds the header of an Esri ASCII Grid.
type ASCIIHeader struct {
	Ncols, Nrows int
	// Xll, Yll locate the lower-left corner of the lower-left cell.
	Xll, Yll    float64
	DX, DY      float64
	NoDataValue float64
	HasNoData   bool
}

// Transform returns the upper-left corner geotransform described by the header.
func (h ASCIIHeader) Transform() Affine {
	return Affine{h.Xll, h.DX, 0, h.Yll + float64(h.Nrows)*h.DY, 0, -h.DY}
}

// asciiGrid streams an Esri ASCII Grid one token at a time.
type asciiGrid struct {
	file    *os.File
	scanner *bufio.Scanner
	header  ASCIIHeader
	next    int // next row to read

	pending    string
	hasPending bool
}

func openASCII(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	g := &asciiGrid{
		file:    file,
		scanner: bufio.NewScanner(bufio.NewReader(file)),
	}
	g.scanner.Split(bufio.ScanWords)

	if err := g.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	if err := g.checkSize(); err != nil {
		file.Close()
		return nil, err
	}

	return &Dataset{
		Format:    "AAIGrid",
		Width:     g.header.Ncols,
		Height:    g.header.Nrows,
		Transform: g.header.Transform(),
		rows:      g,
	}, nil
}

// readHeader consumes "key value" pairs until the first data token.
func (g *asciiGrid) readHeader() error {
	var (
		h                ASCIIHeader
		xCenter, yCenter bool
		seen             = make(map[string]bool)
	)

	for {
		key, ok := g.token()
		if !ok {
			break
		}
		lower := strings.ToLower(key)
		if !isASCIIHeaderKey(lower) {
			g.pending, g.hasPending = key, true
			break
		}

		raw, ok := g.token()
		if !ok {
			return fmt.Errorf("%w: missing value for %s", ErrInvalidASCIIHeader, key)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidASCIIHeader, key, err)
		}
		seen[lower] = true

		switch lower {
		case "ncols", "nrows":
			if value != math.Trunc(value) || value < 1 || value > math.MaxInt32 {
				return fmt.Errorf("%w: %s must be a positive integer, got %s", ErrInvalidASCIIHeader, key, raw)
			}
			if lower == "ncols" {
				h.Ncols = int(value)
			} else {
				h.Nrows = int(value)
			}
		case "xllcorner":
			h.Xll = value
		case "xllcenter":
			h.Xll, xCenter = value, true
		case "yllcorner":
			h.Yll = value
		case "yllcenter":
			h.Yll, yCenter = value, true
		case "cellsize":
			h.DX, h.DY = value, value
		case "dx":
			h.DX = value
		case "dy":
			h.DY = value
		case "nodata_value":
			h.NoDataValue, h.HasNoData = value, true
		}
	}
	if err := g.scanner.Err(); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	for _, required := range []string{"ncols", "nrows"} {
		if !seen[required] {
			return fmt.Errorf("%w: missing %s", ErrInvalidASCIIHeader, required)
		}
	}
	if err := checkDimensions(h.Ncols, h.Nrows); err != nil {
		return err
	}
	if h.DX <= 0 || h.DY <= 0 {
		return fmt.Errorf("%w: missing or invalid cell size", ErrInvalidASCIIHeader)
	}

	// Center registration refers to the middle of the lower-left cell.
	if xCenter {
		h.Xll -= h.DX / 2
	}
	if yCenter {
		h.Yll -= h.DY / 2
	}

	g.header = h
	return nil
}

// checkSize rejects files too short to hold the declared grid: every value
// takes at least one digit and all but the last a separator.
func (g *asciiGrid) checkSize() error {
	info, err := g.file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	need := 2*int64(g.header.Ncols)*int64(g.header.Nrows) - 1
	if info.Size() < need {
		return fmt.Errorf("%w: %dx%d grid needs at least %d bytes, file has %d",
			ErrTruncatedData, g.header.Ncols, g.header.Nrows, need, info.Size())
	}
	return nil
}

func isASCIIHeaderKey(key string) bool {
	switch key {
	case "ncols", "nrows", "xllcorner", "xllcenter", "yllcorner", "yllcenter",
		"cellsize", "dx", "dy", "nodata_value":
		return true
	}
	return false
}

func (g *asciiGrid) token() (string, bool) {
	if g.hasPending {
		g.hasPending = false
		return g.pending, true
	}
	if !g.scanner.Scan() {
		return "", false
	}
	return g.scanner.Text(), true
}

// readRow is forward-only: the grid is a single text stream.
func (g *asciiGrid) readRow(row int, dst []float64) error {
	if row != g.next {
		return fmt.Errorf("%w: want row %d, got %d", ErrRowOrder, g.next, row)
	}

	for col := range dst {
		tok, ok := g.token()
		if !ok {
			if err := g.scanner.Err(); err != nil {
				return fmt.Errorf("reading row %d: %w", row, err)
			}
			return fmt.Errorf("%w: row %d has %d of %d values", ErrTruncatedData, row, col, len(dst))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("row %d column %d: %w", row, col, err)
		}
		dst[col] = v
	}

	g.next++
	return nil
}

func (g *asciiGrid) Close() error {
	return g.file.Close()
}
