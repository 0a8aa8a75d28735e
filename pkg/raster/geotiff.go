package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff/lzw"
)

// GeoTIFF errors.
var (
	ErrInvalidTIFF     = errors.New("invalid TIFF")
	ErrUnsupportedTIFF = errors.New("unsupported TIFF")

	// errNotElevation marks color or bilevel TIFFs, which are read as images.
	errNotElevation = errors.New("TIFF is not a single-band elevation raster")
)

// TIFF tags.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
)

// TIFF field types.
const (
	typeByte   = 1
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeFloat  = 11
	typeDouble = 12
)

var typeSizes = map[uint16]int{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4,
	5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8,
	typeFloat: 4, typeDouble: 8,
}

const (
	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3

	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	predictorNone       = 1
	predictorHorizontal = 2

	photometricRGB     = 2
	photometricPalette = 3

	geoKeyRasterType   = 1025
	rasterPixelIsPoint = 2

	maxTagBytes   = 1 << 26
	maxBlockBytes = 1 << 30
)

type tiffField struct {
	typ   uint16
	count uint32
	raw   []byte
}

// tiffFile is the first image directory of a classic TIFF.
type tiffFile struct {
	r     io.ReaderAt
	order binary.ByteOrder
	ifd   map[uint16]tiffField
}

func readTIFFFile(r io.ReaderAt) (*tiffFile, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrInvalidTIFF, err)
	}

	f := &tiffFile{r: r}
	switch string(hdr[:2]) {
	case "II":
		f.order = binary.LittleEndian
	case "MM":
		f.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark %q", ErrInvalidTIFF, hdr[:2])
	}
	switch magic := f.order.Uint16(hdr[2:]); magic {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupportedTIFF)
	default:
		return nil, fmt.Errorf("%w: bad magic %d", ErrInvalidTIFF, magic)
	}

	ifd, err := f.readIFD(int64(f.order.Uint32(hdr[4:])))
	if err != nil {
		return nil, err
	}
	f.ifd = ifd
	return f, nil
}

func (f *tiffFile) readIFD(off int64) (map[uint16]tiffField, error) {
	var entry [12]byte
	if _, err := f.r.ReadAt(entry[:2], off); err != nil {
		return nil, fmt.Errorf("%w: reading IFD: %v", ErrInvalidTIFF, err)
	}
	n := int(f.order.Uint16(entry[:2]))

	ifd := make(map[uint16]tiffField, n)
	for i := range n {
		if _, err := f.r.ReadAt(entry[:], off+2+int64(i)*12); err != nil {
			return nil, fmt.Errorf("%w: reading IFD entry %d: %v", ErrInvalidTIFF, i, err)
		}
		tag := f.order.Uint16(entry[0:])
		typ := f.order.Uint16(entry[2:])
		count := f.order.Uint32(entry[4:])

		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		length := int64(size) * int64(count)
		if length > maxTagBytes {
			return nil, fmt.Errorf("%w: tag %d holds %d bytes", ErrInvalidTIFF, tag, length)
		}

		raw := make([]byte, length)
		if length <= 4 {
			copy(raw, entry[8:8+length])
		} else if _, err := f.r.ReadAt(raw, int64(f.order.Uint32(entry[8:]))); err != nil {
			return nil, fmt.Errorf("%w: reading tag %d: %v", ErrInvalidTIFF, tag, err)
		}
		ifd[tag] = tiffField{typ: typ, count: count, raw: raw}
	}
	return ifd, nil
}

// uints returns an integer-valued tag, or nil if it is absent.
func (f *tiffFile) uints(tag uint16) []uint64 {
	fld, ok := f.ifd[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, fld.count)
	for i := range out {
		switch fld.typ {
		case typeByte:
			out[i] = uint64(fld.raw[i])
		case typeShort:
			out[i] = uint64(f.order.Uint16(fld.raw[2*i:]))
		case typeLong:
			out[i] = uint64(f.order.Uint32(fld.raw[4*i:]))
		default:
			return nil
		}
	}
	return out
}

func (f *tiffFile) value(tag uint16, def uint64) uint64 {
	if v := f.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

// floats returns a floating-point tag, or nil if it is absent.
func (f *tiffFile) floats(tag uint16) []float64 {
	fld, ok := f.ifd[tag]
	if !ok {
		return nil
	}
	out := make([]float64, fld.count)
	for i := range out {
		switch fld.typ {
		case typeDouble:
			out[i] = math.Float64frombits(f.order.Uint64(fld.raw[8*i:]))
		case typeFloat:
			out[i] = float64(math.Float32frombits(f.order.Uint32(fld.raw[4*i:])))
		default:
			return nil
		}
	}
	return out
}

// geoTransform reads the embedded georeferencing, either a full model
// transformation or a pixel scale plus tie point.
func (f *tiffFile) geoTransform() (Affine, bool) {
	var a Affine
	if m := f.floats(tagModelTransformation); len(m) == 16 {
		a = Affine{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else {
		scale := f.floats(tagModelPixelScale)
		tie := f.floats(tagModelTiepoint)
		if len(scale) < 2 || len(tie) < 6 {
			return Identity, false
		}
		a = Affine{
			tie[3] - tie[0]*scale[0], scale[0], 0,
			tie[4] + tie[1]*scale[1], 0, -scale[1],
		}
	}

	// Point rasters tie coordinates to pixel centers.
	if f.geoKey(geoKeyRasterType) == rasterPixelIsPoint {
		a[0] -= (a[1] + a[2]) / 2
		a[3] -= (a[4] + a[5]) / 2
	}
	return a, true
}

// geoKey returns an inline short-valued GeoKey, or 0.
func (f *tiffFile) geoKey(id uint64) uint64 {
	keys := f.uints(tagGeoKeyDirectory)
	if len(keys) < 4 {
		return 0
	}
	for i := 4; i+3 < len(keys) && i < 4+4*int(keys[3]); i += 4 {
		if keys[i] == id && keys[i+1] == 0 {
			return keys[i+3]
		}
	}
	return 0
}

// tiffGrid decodes one band-row of strips or tiles at a time.
type tiffGrid struct {
	file  *os.File
	order binary.ByteOrder

	width, height int
	bits, format  int
	compression   int
	predictor     int

	tiled          bool
	blockW, blockH int
	across         int // blocks per block-row
	offsets        []uint64
	counts         []uint64

	band int    // cached block-row, -1 if none
	data []byte // band rows, each width samples wide
}

// openTIFF reads single-band TIFFs as elevation grids and hands color
// TIFFs to the image decoder.
func openTIFF(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	tf, err := readTIFFFile(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	grid, err := newTIFFGrid(file, tf)
	if errors.Is(err, errNotElevation) {
		file.Close()
		return openImage(path)
	}
	if err != nil {
		file.Close()
		return nil, err
	}

	transform, ok := tf.geoTransform()
	if !ok {
		if wld := FindWorldFile(path); wld != "" {
			if transform, err = ReadWorldFile(wld); err != nil {
				file.Close()
				return nil, err
			}
		}
	}

	return &Dataset{
		Format:    "GTiff",
		Width:     grid.width,
		Height:    grid.height,
		Transform: transform,
		rows:      grid,
	}, nil
}

func newTIFFGrid(file *os.File, tf *tiffFile) (*tiffGrid, error) {
	photometric := tf.value(tagPhotometric, 1)
	if tf.value(tagSamplesPerPixel, 1) != 1 || photometric == photometricRGB || photometric == photometricPalette {
		return nil, errNotElevation
	}

	g := &tiffGrid{
		file:        file,
		order:       tf.order,
		width:       int(tf.value(tagImageWidth, 0)),
		height:      int(tf.value(tagImageLength, 0)),
		bits:        int(tf.value(tagBitsPerSample, 1)),
		format:      int(tf.value(tagSampleFormat, sampleUint)),
		compression: int(tf.value(tagCompression, compressionNone)),
		predictor:   int(tf.value(tagPredictor, predictorNone)),
		band:        -1,
	}
	if g.format == sampleUint && g.bits < 8 {
		return nil, errNotElevation
	}
	if err := checkDimensions(g.width, g.height); err != nil {
		return nil, err
	}

	switch {
	case g.format == sampleUint && (g.bits == 8 || g.bits == 16 || g.bits == 32):
	case g.format == sampleInt && (g.bits == 8 || g.bits == 16 || g.bits == 32):
	case g.format == sampleFloat && (g.bits == 32 || g.bits == 64):
	default:
		return nil, fmt.Errorf("%w: %d-bit samples of format %d", ErrUnsupportedTIFF, g.bits, g.format)
	}
	switch g.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupportedTIFF, g.compression)
	}
	if g.predictor != predictorNone && g.predictor != predictorHorizontal {
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedTIFF, g.predictor)
	}

	var down int
	if _, ok := tf.ifd[tagTileWidth]; ok {
		g.tiled = true
		g.blockW = int(tf.value(tagTileWidth, 0))
		g.blockH = int(tf.value(tagTileLength, 0))
		g.offsets = tf.uints(tagTileOffsets)
		g.counts = tf.uints(tagTileByteCounts)
		if g.blockW <= 0 || g.blockH <= 0 {
			return nil, fmt.Errorf("%w: tile size %dx%d", ErrInvalidTIFF, g.blockW, g.blockH)
		}
	} else {
		g.blockW = g.width
		g.blockH = int(min(tf.value(tagRowsPerStrip, uint64(g.height)), uint64(g.height)))
		g.offsets = tf.uints(tagStripOffsets)
		g.counts = tf.uints(tagStripByteCounts)
		if g.blockH <= 0 {
			return nil, fmt.Errorf("%w: %d rows per strip", ErrInvalidTIFF, g.blockH)
		}
	}
	if g.blockW > MaxSamples/g.blockH {
		return nil, fmt.Errorf("%w: %dx%d blocks", ErrTooLarge, g.blockW, g.blockH)
	}

	g.across = (g.width + g.blockW - 1) / g.blockW
	down = (g.height + g.blockH - 1) / g.blockH
	if n := g.across * down; len(g.offsets) < n || len(g.counts) < n {
		return nil, fmt.Errorf("%w: %d blocks expected, %d offsets and %d byte counts",
			ErrInvalidTIFF, n, len(g.offsets), len(g.counts))
	}
	return g, nil
}

func (g *tiffGrid) bytesPerSample() int {
	return g.bits / 8
}

func (g *tiffGrid) readRow(row int, dst []float64) error {
	band := row / g.blockH
	if band != g.band {
		if err := g.loadBand(band); err != nil {
			return err
		}
	}

	bps := g.bytesPerSample()
	off := (row - band*g.blockH) * g.width * bps
	for col := range dst {
		dst[col] = g.sample(g.data[off+col*bps:])
	}
	return nil
}

// loadBand decodes the strip or row of tiles holding band.
func (g *tiffGrid) loadBand(band int) error {
	bps := g.bytesPerSample()
	rows := min(g.blockH, g.height-band*g.blockH)

	if !g.tiled {
		data, err := g.readBlock(band, rows*g.width*bps)
		if err != nil {
			return err
		}
		g.undoPredictor(data, g.width, rows)
		g.data, g.band = data, band
		return nil
	}

	if g.data == nil {
		g.data = make([]byte, g.blockH*g.width*bps)
	}
	g.band = -1
	for t := range g.across {
		tile, err := g.readBlock(band*g.across+t, g.blockW*g.blockH*bps)
		if err != nil {
			return err
		}
		g.undoPredictor(tile, g.blockW, g.blockH)

		cols := min(g.blockW, g.width-t*g.blockW)
		for r := range rows {
			src := tile[r*g.blockW*bps : (r*g.blockW+cols)*bps]
			copy(g.data[(r*g.width+t*g.blockW)*bps:], src)
		}
	}
	g.band = band
	return nil
}

// readBlock reads and decompresses block i into size bytes.
func (g *tiffGrid) readBlock(i, size int) ([]byte, error) {
	if g.counts[i] > maxBlockBytes {
		return nil, fmt.Errorf("%w: block %d holds %d bytes", ErrInvalidTIFF, i, g.counts[i])
	}
	raw := make([]byte, g.counts[i])
	if _, err := g.file.ReadAt(raw, int64(g.offsets[i])); err != nil {
		return nil, fmt.Errorf("%w: block %d: %v", ErrTruncatedData, i, err)
	}

	var rd io.ReadCloser
	switch g.compression {
	case compressionNone:
		if len(raw) < size {
			return nil, fmt.Errorf("%w: block %d has %d of %d bytes", ErrTruncatedData, i, len(raw), size)
		}
		return raw[:size], nil
	case compressionLZW:
		rd = lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
	default:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrInvalidTIFF, i, err)
		}
		rd = zr
	}
	defer rd.Close()

	out := make([]byte, size)
	if _, err := io.ReadFull(rd, out); err != nil {
		return nil, fmt.Errorf("%w: block %d: %v", ErrTruncatedData, i, err)
	}
	return out, nil
}

// undoPredictor reverses horizontal differencing over rows of w samples.
func (g *tiffGrid) undoPredictor(data []byte, w, rows int) {
	if g.predictor != predictorHorizontal {
		return
	}
	bps := g.bytesPerSample()
	for r := range rows {
		line := data[r*w*bps : (r+1)*w*bps]
		for i := bps; i < len(line); i += bps {
			switch bps {
			case 1:
				line[i] += line[i-1]
			case 2:
				g.order.PutUint16(line[i:], g.order.Uint16(line[i:])+g.order.Uint16(line[i-2:]))
			case 4:
				g.order.PutUint32(line[i:], g.order.Uint32(line[i:])+g.order.Uint32(line[i-4:]))
			case 8:
				g.order.PutUint64(line[i:], g.order.Uint64(line[i:])+g.order.Uint64(line[i-8:]))
			}
		}
	}
}

func (g *tiffGrid) sample(b []byte) float64 {
	switch g.format {
	case sampleInt:
		switch g.bits {
		case 8:
			return float64(int8(b[0]))
		case 16:
			return float64(int16(g.order.Uint16(b)))
		default:
			return float64(int32(g.order.Uint32(b)))
		}
	case sampleFloat:
		if g.bits == 32 {
			return float64(math.Float32frombits(g.order.Uint32(b)))
		}
		return math.Float64frombits(g.order.Uint64(b))
	default:
		switch g.bits {
		case 8:
			return float64(b[0])
		case 16:
			return float64(g.order.Uint16(b))
		default:
			return float64(g.order.Uint32(b))
		}
	}
}

func (g *tiffGrid) Close() error {
	g.data = nil
	return g.file.Close()
}
