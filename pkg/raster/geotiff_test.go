package raster

import (
	"bytes"
	"cmp"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"golang.org/x/image/tiff"
)

// testTag is a TIFF tag value: []uint16 (SHORT), []uint32 (LONG) or
// []float64 (DOUBLE).
type testTag struct {
	tag uint16
	val any
}

// createTestTIFF lays out a classic TIFF: header, blocks, out-of-line tag
// values, then a single IFD. Block offsets and byte counts are added as
// strip or tile tags.
func createTestTIFF(t *testing.T, order appendOrder, tags []testTag, blocks [][]byte, tiled bool) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.Write(make([]byte, 8))

	offsets := make([]uint32, len(blocks))
	counts := make([]uint32, len(blocks))
	for i, b := range blocks {
		offsets[i] = uint32(buf.Len())
		counts[i] = uint32(len(b))
		buf.Write(b)
	}
	if tiled {
		tags = append(tags, testTag{tagTileOffsets, offsets}, testTag{tagTileByteCounts, counts})
	} else {
		tags = append(tags, testTag{tagStripOffsets, offsets}, testTag{tagStripByteCounts, counts})
	}
	slices.SortFunc(tags, func(a, b testTag) int { return cmp.Compare(a.tag, b.tag) })

	type entry struct {
		tag, typ uint16
		count    uint32
		data     []byte
		ptr      uint32
	}
	entries := make([]entry, len(tags))
	for i, tg := range tags {
		e := entry{tag: tg.tag}
		switch v := tg.val.(type) {
		case []uint16:
			e.typ, e.count = typeShort, uint32(len(v))
			for _, x := range v {
				e.data = order.AppendUint16(e.data, x)
			}
		case []uint32:
			e.typ, e.count = typeLong, uint32(len(v))
			for _, x := range v {
				e.data = order.AppendUint32(e.data, x)
			}
		case []float64:
			e.typ, e.count = typeDouble, uint32(len(v))
			for _, x := range v {
				e.data = order.AppendUint64(e.data, math.Float64bits(x))
			}
		default:
			t.Fatalf("unsupported tag value %T", tg.val)
		}
		entries[i] = e
	}

	for i := range entries {
		if len(entries[i].data) > 4 {
			if buf.Len()%2 == 1 {
				buf.WriteByte(0)
			}
			entries[i].ptr = uint32(buf.Len())
			buf.Write(entries[i].data)
		}
	}
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}

	ifdOffset := uint32(buf.Len())
	buf.Write(order.AppendUint16(nil, uint16(len(entries))))
	for _, e := range entries {
		rec := order.AppendUint16(nil, e.tag)
		rec = order.AppendUint16(rec, e.typ)
		rec = order.AppendUint32(rec, e.count)
		if len(e.data) > 4 {
			rec = order.AppendUint32(rec, e.ptr)
		} else {
			value := make([]byte, 4)
			copy(value, e.data)
			rec = append(rec, value...)
		}
		buf.Write(rec)
	}
	buf.Write(make([]byte, 4))

	out := buf.Bytes()
	if order.String() == binary.BigEndian.String() {
		copy(out, "MM")
	} else {
		copy(out, "II")
	}
	order.PutUint16(out[2:], 42)
	order.PutUint32(out[4:], ifdOffset)
	return out
}

// appendOrder is implemented by binary.LittleEndian and binary.BigEndian.
type appendOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// gridTags describes a single-band grid.
func gridTags(width, height, bits, format int) []testTag {
	return []testTag{
		{tagImageWidth, []uint32{uint32(width)}},
		{tagImageLength, []uint32{uint32(height)}},
		{tagBitsPerSample, []uint16{uint16(bits)}},
		{tagPhotometric, []uint16{1}},
		{tagSamplesPerPixel, []uint16{1}},
		{tagSampleFormat, []uint16{uint16(format)}},
	}
}

func int16Samples(order appendOrder, values ...int16) []byte {
	var b []byte
	for _, v := range values {
		b = order.AppendUint16(b, uint16(v))
	}
	return b
}

func float32Samples(order appendOrder, values ...float32) []byte {
	var b []byte
	for _, v := range values {
		b = order.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

func TestOpenTIFF_SignedInt16(t *testing.T) {
	le := binary.LittleEndian
	tags := append(gridTags(2, 1, 16, sampleInt),
		testTag{tagModelPixelScale, []float64{0.5, 0.5, 0}},
		testTag{tagModelTiepoint, []float64{0, 0, 0, 10, 50, 0}},
	)
	data := createTestTIFF(t, le, tags, [][]byte{int16Samples(le, -5, 10)}, false)

	dir := t.TempDir()
	path := filepath.Join(dir, "dem.tif")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write TIFF: %v", err)
	}
	// Embedded georeferencing wins over a sidecar.
	if err := os.WriteFile(filepath.Join(dir, "dem.tfw"), []byte("2\n0\n0\n-2\n1\n9\n"), 0644); err != nil {
		t.Fatalf("failed to write world file: %v", err)
	}

	ds, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ds.Close()

	if ds.Format != "GTiff" {
		t.Errorf("expected format GTiff, got %s", ds.Format)
	}
	want := Affine{10, 0.5, 0, 50, 0, -0.5}
	if ds.Transform != want {
		t.Errorf("expected transform %v, got %v", want, ds.Transform)
	}
	if got := readAllRows(t, ds); !slices.Equal(got, []float64{-5, 10}) {
		t.Errorf("expected [-5 10], got %v", got)
	}
}

func TestOpenTIFF_Float32BigEndianStrips(t *testing.T) {
	be := binary.BigEndian
	tags := append(gridTags(2, 3, 32, sampleFloat),
		testTag{tagRowsPerStrip, []uint16{2}},
	)
	blocks := [][]byte{
		float32Samples(be, 1.5, -2.25, 100, 0.125),
		float32Samples(be, -0.5, 8848.86),
	}
	path := writeTestFile(t, "dem.tiff", createTestTIFF(t, be, tags, blocks, false))

	ds, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ds.Close()

	if ds.Transform != Identity {
		t.Errorf("expected identity transform, got %v", ds.Transform)
	}
	want := []float64{1.5, -2.25, 100, 0.125, -0.5, float64(float32(8848.86))}
	if got := readAllRows(t, ds); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestOpenTIFF_Tiled(t *testing.T) {
	le := binary.LittleEndian
	const width, height, tileSize = 3, 3, 2

	value := func(r, c int) int16 { return int16(10*r + c) }
	var blocks [][]byte
	for tr := 0; tr < height; tr += tileSize {
		for tc := 0; tc < width; tc += tileSize {
			var tile []int16
			for r := tr; r < tr+tileSize; r++ {
				for c := tc; c < tc+tileSize; c++ {
					if r < height && c < width {
						tile = append(tile, value(r, c))
					} else {
						tile = append(tile, -1)
					}
				}
			}
			blocks = append(blocks, int16Samples(le, tile...))
		}
	}
	tags := append(gridTags(width, height, 16, sampleInt),
		testTag{tagTileWidth, []uint16{tileSize}},
		testTag{tagTileLength, []uint16{tileSize}},
	)
	path := writeTestFile(t, "tiled.tif", createTestTIFF(t, le, tags, blocks, true))

	ds, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ds.Close()

	got := readAllRows(t, ds)
	for r := range height {
		for c := range width {
			if v := got[r*width+c]; v != float64(value(r, c)) {
				t.Errorf("sample (%d, %d) = %v, want %d", r, c, v, value(r, c))
			}
		}
	}
}

func TestOpenTIFF_DeflateWithPredictor(t *testing.T) {
	le := binary.LittleEndian
	// -5, 10, 7 differenced along the row.
	diffs := int16Samples(le, -5, 15, -3)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	zw.Write(diffs)
	zw.Close()

	tags := append(gridTags(3, 1, 16, sampleInt),
		testTag{tagCompression, []uint16{compressionDeflate}},
		testTag{tagPredictor, []uint16{predictorHorizontal}},
	)
	path := writeTestFile(t, "deflate.tif", createTestTIFF(t, le, tags, [][]byte{compressed.Bytes()}, false))

	ds, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ds.Close()

	if got := readAllRows(t, ds); !slices.Equal(got, []float64{-5, 10, 7}) {
		t.Errorf("expected [-5 10 7], got %v", got)
	}
}

func TestOpenTIFF_EncodedHeightmap(t *testing.T) {
	heights := []uint16{0, 500, 1000, 65535, 3, 9}
	var buf bytes.Buffer
	opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	if err := tiff.Encode(&buf, createTestHeightmap(3, 2, heights), opts); err != nil {
		t.Fatalf("tiff.Encode failed: %v", err)
	}
	path := writeTestFile(t, "heightmap.tif", buf.Bytes())

	ds, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ds.Close()

	got := readAllRows(t, ds)
	for i, h := range heights {
		if got[i] != float64(h) {
			t.Errorf("sample %d = %v, want %d", i, got[i], h)
		}
	}
}

func TestOpenTIFF_Georeferencing(t *testing.T) {
	tests := []struct {
		name string
		tags []testTag
		want Affine
	}{
		{
			name: "model transformation",
			tags: []testTag{{tagModelTransformation, []float64{
				2, 0, 0, 5,
				0, -3, 0, 7,
				0, 0, 0, 0,
				0, 0, 0, 1,
			}}},
			want: Affine{5, 2, 0, 7, 0, -3},
		},
		{
			name: "tie point off the origin",
			tags: []testTag{
				{tagModelPixelScale, []float64{2, 4, 0}},
				{tagModelTiepoint, []float64{1, 1, 0, 100, 200, 0}},
			},
			want: Affine{98, 2, 0, 204, 0, -4},
		},
		{
			name: "pixel is point",
			tags: []testTag{
				{tagModelPixelScale, []float64{1, 1, 0}},
				{tagModelTiepoint, []float64{0, 0, 0, 100, 200, 0}},
				{tagGeoKeyDirectory, []uint16{1, 1, 0, 1, geoKeyRasterType, 0, 1, rasterPixelIsPoint}},
			},
			want: Affine{99.5, 1, 0, 200.5, 0, -1},
		},
		{
			name: "pixel is area",
			tags: []testTag{
				{tagModelPixelScale, []float64{1, 1, 0}},
				{tagModelTiepoint, []float64{0, 0, 0, 100, 200, 0}},
				{tagGeoKeyDirectory, []uint16{1, 1, 0, 1, geoKeyRasterType, 0, 1, 1}},
			},
			want: Affine{100, 1, 0, 200, 0, -1},
		},
	}

	le := binary.LittleEndian
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := append(gridTags(2, 2, 16, sampleInt), tt.tags...)
			data := createTestTIFF(t, le, tags, [][]byte{int16Samples(le, 1, 2, 3, 4)}, false)
			path := writeTestFile(t, "geo.tif", data)

			ds, err := Open(path)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer ds.Close()

			if ds.Transform != tt.want {
				t.Errorf("expected transform %v, got %v", tt.want, ds.Transform)
			}
		})
	}
}

func TestOpenTIFF_ColorFallsBackToImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	img.Set(1, 0, color.RGBA{A: 255})

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatalf("tiff.Encode failed: %v", err)
	}
	path := writeTestFile(t, "color.tif", buf.Bytes())

	ds, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ds.Close()

	if ds.Format != "TIFF" {
		t.Errorf("expected image decoder format TIFF, got %s", ds.Format)
	}
	if got := readAllRows(t, ds); !slices.Equal(got, []float64{65535, 0}) {
		t.Errorf("expected [65535 0], got %v", got)
	}
}

func TestOpenTIFF_Errors(t *testing.T) {
	le := binary.LittleEndian
	samples := [][]byte{int16Samples(le, 1, 2)}

	bigTIFF := []byte("II\x2b\x00\x08\x00\x00\x00")

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not a tiff", []byte("definitely not a tiff"), ErrInvalidTIFF},
		{"bigtiff", bigTIFF, ErrUnsupportedTIFF},
		{"16-bit float", createTestTIFF(t, le, gridTags(2, 1, 16, sampleFloat), samples, false), ErrUnsupportedTIFF},
		{"jpeg", createTestTIFF(t, le, append(gridTags(2, 1, 16, sampleInt),
			testTag{tagCompression, []uint16{7}}), samples, false), ErrUnsupportedTIFF},
		{"float predictor", createTestTIFF(t, le, append(gridTags(2, 1, 16, sampleInt),
			testTag{tagPredictor, []uint16{3}}), samples, false), ErrUnsupportedTIFF},
		{"missing strips", createTestTIFF(t, le, gridTags(2, 2, 16, sampleInt), nil, false), ErrInvalidTIFF},
		{"too large", createTestTIFF(t, le, gridTags(1<<16, 1<<16, 16, sampleInt), samples, false), ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestFile(t, "bad.tif", tt.data)
			_, err := Open(path)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrOpen) {
				t.Errorf("expected error to match ErrOpen, got %v", err)
			}
		})
	}
}

func TestOpenTIFF_TruncatedStrip(t *testing.T) {
	le := binary.LittleEndian
	data := createTestTIFF(t, le, gridTags(4, 1, 16, sampleInt), [][]byte{int16Samples(le, 1, 2)}, false)
	path := writeTestFile(t, "short.tif", data)

	ds, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ds.Close()

	row := make([]float64, ds.Width)
	if err := ds.ReadRow(0, row); !errors.Is(err, ErrTruncatedData) {
		t.Errorf("expected ErrTruncatedData, got %v", err)
	}
}
