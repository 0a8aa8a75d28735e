// Package mesh builds Wavefront OBJ triangle meshes from regular grids.
package mesh

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/dem2obj/internal/logger"
)

// ErrWrite matches every *WriteError.
var ErrWrite = errors.New("cannot write mesh")

// progressEvery is how many records are written between progress logs.
const progressEvery = 100000

// WriteError reports a mesh that could not be written to its destination.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing mesh %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is makes every WriteError match ErrWrite.
func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// Stats summarizes a written mesh.
type Stats struct {
	Vertices int
	Faces    int
	Bounds   r3.Box
}

// Builder accumulates the vertices of a width x height grid and writes them
// with a fixed two-triangles-per-cell tessellation.
//
// Vertices must be added in row-major grid order (row 0 column 0, row 0
// column 1, ...). The builder does not check this; other orders produce a
// scrambled mesh.
type Builder struct {
	width    int
	height   int
	vertices []r3.Vec
	bounds   r3.Box
}

// NewBuilder returns a builder for a width x height grid.
func NewBuilder(width, height int) *Builder {
	return &Builder{
		width:    width,
		height:   height,
		vertices: make([]r3.Vec, 0, width*height),
		bounds: r3.Box{
			Min: r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
			Max: r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)},
		},
	}
}

// Width returns the grid width.
func (b *Builder) Width() int { return b.width }

// Height returns the grid height.
func (b *Builder) Height() int { return b.height }

// Len returns the number of vertices added so far.
func (b *Builder) Len() int { return len(b.vertices) }

// AddVertex appends the next vertex in row-major order.
func (b *Builder) AddVertex(v r3.Vec) {
	b.vertices = append(b.vertices, v)
	updateBounds(&b.bounds, v)
}

// Vertex returns the vertex of grid cell (x, y).
func (b *Builder) Vertex(x, y int) r3.Vec {
	return b.vertices[b.VertexIndex(x, y)-1]
}

// VertexIndex returns the 1-based OBJ index of grid cell (x, y).
func (b *Builder) VertexIndex(x, y int) int {
	return 1 + b.width*y + x
}

// Bounds returns the bounding box of the vertices added so far.
func (b *Builder) Bounds() r3.Box {
	return b.bounds
}

// FaceCount returns the number of triangles for a width x height grid.
func FaceCount(width, height int) int {
	if width < 2 || height < 2 {
		return 0
	}
	return 2 * (width - 1) * (height - 1)
}

// Write writes all vertices, then two triangles for every grid cell:
// (top-left, top-right, bottom-left) and (top-right, bottom-right, bottom-left).
func (b *Builder) Write(w io.Writer) (Stats, error) {
	bw := bufio.NewWriterSize(w, 1<<16)
	line := make([]byte, 0, 96)

	for i, v := range b.vertices {
		line = append(line[:0], 'v', ' ')
		line = appendFloat(line, v.X)
		line = append(line, ' ')
		line = appendFloat(line, v.Y)
		line = append(line, ' ')
		line = appendFloat(line, v.Z)
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return Stats{}, err
		}
		if n := i + 1; n%progressEvery == 0 {
			logger.Debug("Writing vertices", zap.Int("written", n), zap.Int("total", len(b.vertices)))
		}
	}
	logger.Info("Wrote vertices", zap.Int("vertices", len(b.vertices)))

	faces := 0
	total := FaceCount(b.width, b.height)
	rowStep := max(1, progressEvery/max(1, b.width))
	for y := 0; y < b.height-1; y++ {
		for x := 0; x < b.width-1; x++ {
			tl := b.VertexIndex(x, y)
			tr := tl + 1
			bl := tl + b.width
			br := bl + 1

			line = appendFace(line[:0], tl, tr, bl)
			line = appendFace(line, tr, br, bl)
			if _, err := bw.Write(line); err != nil {
				return Stats{}, err
			}
			faces += 2
		}
		if (y+1)%rowStep == 0 {
			logger.Debug("Writing faces", zap.Int("written", faces), zap.Int("total", total))
		}
	}

	if err := bw.Flush(); err != nil {
		return Stats{}, err
	}
	logger.Info("Wrote tris", zap.Int("faces", faces))

	return Stats{
		Vertices: len(b.vertices),
		Faces:    faces,
		Bounds:   b.bounds,
	}, nil
}

// WriteFile writes the mesh to path. Failures are returned as *WriteError;
// a partially written file is left in place.
func (b *Builder) WriteFile(path string) (stats Stats, err error) {
	f, err := os.Create(path)
	if err != nil {
		return Stats{}, &WriteError{Path: path, Err: err}
	}
	defer func() {
		multierr.AppendInto(&err, f.Close())
		if err != nil {
			if _, ok := err.(*WriteError); !ok {
				err = &WriteError{Path: path, Err: err}
			}
		}
	}()

	return b.Write(f)
}

// appendFloat uses the shortest decimal that round-trips to v.
func appendFloat(dst []byte, v float64) []byte {
	return strconv.AppendFloat(dst, v, 'f', -1, 64)
}

func appendFace(dst []byte, a, b, c int) []byte {
	dst = append(dst, 'f', ' ')
	dst = strconv.AppendInt(dst, int64(a), 10)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(b), 10)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(c), 10)
	return append(dst, '\n')
}

func updateBounds(b *r3.Box, p r3.Vec) {
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Min.Z = math.Min(b.Min.Z, p.Z)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
	b.Max.Z = math.Max(b.Max.Z, p.Z)
}
