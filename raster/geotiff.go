/*
Copyright © 2023 the Leaf authors.
This file is part of Leaf.

Leaf is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Leaf is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Leaf.  If not, see <http://www.gnu.org/licenses/>.
*/

package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/image/tiff/lzw"
)

// TIFF and GeoTIFF tags.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339

	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
	tagGDALNoData          = 42113
)

// GeoTIFF keys.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyCitation       = 1026
	keyGeographicType = 2048
	keyProjectedType  = 3072
	keyPCSCitation    = 3073

	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// Compression schemes.
const (
	compressNone     = 1
	compressLZW      = 5
	compressDeflate  = 8
	compressPackBits = 32773
	compressDeflate2 = 32946
)

// Sample formats.
const (
	formatUint  = 1
	formatInt   = 2
	formatFloat = 3
)

// typeSize gives the size in bytes of each TIFF field type.
var typeSize = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
	13: 4, 16: 8, 17: 8, 18: 8,
}

// blockCacheSize is the number of decoded blocks kept by each File.
const blockCacheSize = 64

type ifdEntry struct {
	typ   uint16
	count uint64
	data  []byte
}

func (e ifdEntry) uints(bo binary.ByteOrder) []uint64 {
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case 1, 7:
			out[i] = uint64(e.data[i])
		case 6:
			out[i] = uint64(int8(e.data[i]))
		case 3:
			out[i] = uint64(bo.Uint16(e.data[2*i:]))
		case 8:
			out[i] = uint64(int16(bo.Uint16(e.data[2*i:])))
		case 4, 13:
			out[i] = uint64(bo.Uint32(e.data[4*i:]))
		case 9:
			out[i] = uint64(int32(bo.Uint32(e.data[4*i:])))
		case 16, 17, 18:
			out[i] = bo.Uint64(e.data[8*i:])
		}
	}
	return out
}

func (e ifdEntry) floats(bo binary.ByteOrder) []float64 {
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case 11:
			out[i] = float64(math.Float32frombits(bo.Uint32(e.data[4*i:])))
		case 12:
			out[i] = math.Float64frombits(bo.Uint64(e.data[8*i:]))
		case 5:
			out[i] = float64(bo.Uint32(e.data[8*i:])) / float64(bo.Uint32(e.data[8*i+4:]))
		case 10:
			out[i] = float64(int32(bo.Uint32(e.data[8*i:]))) / float64(int32(bo.Uint32(e.data[8*i+4:])))
		default:
			out[i] = float64(int64(e.uints(bo)[i]))
		}
	}
	return out
}

func (e ifdEntry) ascii() string {
	return strings.TrimRight(string(e.data), "\x00 ")
}

// File is a GeoTIFF file opened for windowed reads of one band.
// It satisfies Source. A File is safe for concurrent use.
type File struct {
	path string
	r    *os.File
	bo   binary.ByteOrder

	width, height int
	bps           int
	format        int
	spp           int
	planar        int
	compression   int
	predictor     int
	band          int

	blockW, blockH           int
	blocksAcross, blocksDown int
	offsets, counts          []uint64

	geo       Affine
	proj4     string
	nodata    float64
	hasNoData bool

	mu     sync.Mutex
	blocks *lru.Cache
}

// Open opens the first band of the GeoTIFF file at path.
func Open(path string) (*File, error) {
	return OpenBand(path, 1)
}

// OpenBand opens band (starting at 1) of the GeoTIFF file at path.
func OpenBand(path string, band int) (*File, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: %v: %w", err, ErrIO)
	}
	f := &File{path: path, r: r, blocks: lru.New(blockCacheSize)}
	if err := f.init(band); err != nil {
		r.Close()
		return nil, fmt.Errorf("raster: opening %s: %v: %w", path, err, ErrIO)
	}
	return f, nil
}

func (f *File) init(band int) error {
	var hdr [16]byte
	if _, err := f.r.ReadAt(hdr[:8], 0); err != nil {
		return fmt.Errorf("reading header: %v", err)
	}
	switch string(hdr[0:2]) {
	case "II":
		f.bo = binary.LittleEndian
	case "MM":
		f.bo = binary.BigEndian
	default:
		return fmt.Errorf("not a TIFF file")
	}
	var (
		off uint64
		big bool
	)
	switch f.bo.Uint16(hdr[2:4]) {
	case 42:
		off = uint64(f.bo.Uint32(hdr[4:8]))
	case 43:
		if _, err := f.r.ReadAt(hdr[:16], 0); err != nil {
			return fmt.Errorf("reading BigTIFF header: %v", err)
		}
		if f.bo.Uint16(hdr[4:6]) != 8 {
			return fmt.Errorf("unsupported BigTIFF offset size %d", f.bo.Uint16(hdr[4:6]))
		}
		off = f.bo.Uint64(hdr[8:16])
		big = true
	default:
		return fmt.Errorf("invalid TIFF version %d", f.bo.Uint16(hdr[2:4]))
	}
	tags, err := f.readIFD(off, big)
	if err != nil {
		return err
	}
	if err := f.parseLayout(tags, band); err != nil {
		return err
	}
	return f.parseGeo(tags)
}

func (f *File) readIFD(off uint64, big bool) (map[uint16]ifdEntry, error) {
	var (
		n         uint64
		entrySize uint64 = 12
		p         uint64
	)
	if big {
		var b [8]byte
		if _, err := f.r.ReadAt(b[:], int64(off)); err != nil {
			return nil, fmt.Errorf("reading IFD: %v", err)
		}
		n, entrySize, p = f.bo.Uint64(b[:]), 20, off+8
	} else {
		var b [2]byte
		if _, err := f.r.ReadAt(b[:], int64(off)); err != nil {
			return nil, fmt.Errorf("reading IFD: %v", err)
		}
		n, p = uint64(f.bo.Uint16(b[:])), off+2
	}
	if n > 1<<16 {
		return nil, fmt.Errorf("IFD has %d entries", n)
	}
	buf := make([]byte, n*entrySize)
	if _, err := f.r.ReadAt(buf, int64(p)); err != nil {
		return nil, fmt.Errorf("reading IFD entries: %v", err)
	}
	tags := make(map[uint16]ifdEntry, n)
	for i := uint64(0); i < n; i++ {
		e := buf[i*entrySize : (i+1)*entrySize]
		tag, typ := f.bo.Uint16(e[0:2]), f.bo.Uint16(e[2:4])
		var (
			count uint64
			val   []byte
		)
		if big {
			count, val = f.bo.Uint64(e[4:12]), e[12:20]
		} else {
			count, val = uint64(f.bo.Uint32(e[4:8])), e[8:12]
		}
		size, ok := typeSize[typ]
		if !ok {
			continue
		}
		total := count * size
		if total > 1<<31 {
			return nil, fmt.Errorf("tag %d is too large (%d bytes)", tag, total)
		}
		data := make([]byte, total)
		if total <= uint64(len(val)) {
			copy(data, val)
		} else {
			var at uint64
			if big {
				at = f.bo.Uint64(val)
			} else {
				at = uint64(f.bo.Uint32(val))
			}
			if _, err := f.r.ReadAt(data, int64(at)); err != nil {
				return nil, fmt.Errorf("reading tag %d: %v", tag, err)
			}
		}
		tags[tag] = ifdEntry{typ: typ, count: count, data: data}
	}
	return tags, nil
}

// first returns the first value of tag, or def if it is absent.
func (f *File) first(tags map[uint16]ifdEntry, tag uint16, def int) int {
	e, ok := tags[tag]
	if !ok || e.count == 0 {
		return def
	}
	return int(e.uints(f.bo)[0])
}

func (f *File) parseLayout(tags map[uint16]ifdEntry, band int) error {
	f.width = f.first(tags, tagImageWidth, 0)
	f.height = f.first(tags, tagImageLength, 0)
	if f.width <= 0 || f.height <= 0 {
		return fmt.Errorf("invalid image size %d×%d", f.width, f.height)
	}
	f.bps = f.first(tags, tagBitsPerSample, 1)
	switch f.bps {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("unsupported bits per sample %d", f.bps)
	}
	f.format = f.first(tags, tagSampleFormat, formatUint)
	if f.format == formatFloat && f.bps != 32 && f.bps != 64 {
		return fmt.Errorf("unsupported %d-bit floating point samples", f.bps)
	}
	f.spp = f.first(tags, tagSamplesPerPixel, 1)
	if band < 1 || band > f.spp {
		return fmt.Errorf("band %d out of range [1, %d]", band, f.spp)
	}
	f.band = band - 1
	f.planar = f.first(tags, tagPlanarConfig, 1)
	f.compression = f.first(tags, tagCompression, compressNone)
	switch f.compression {
	case compressNone, compressLZW, compressDeflate, compressDeflate2, compressPackBits:
	default:
		return fmt.Errorf("unsupported compression %d", f.compression)
	}
	f.predictor = f.first(tags, tagPredictor, 1)
	if f.predictor != 1 && f.predictor != 2 {
		return fmt.Errorf("unsupported predictor %d", f.predictor)
	}

	offTag, countTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	if _, ok := tags[tagTileOffsets]; ok {
		f.blockW = f.first(tags, tagTileWidth, 0)
		f.blockH = f.first(tags, tagTileLength, 0)
		offTag, countTag = tagTileOffsets, tagTileByteCounts
	} else {
		f.blockW = f.width
		f.blockH = min(f.first(tags, tagRowsPerStrip, f.height), f.height)
	}
	if f.blockW <= 0 || f.blockH <= 0 {
		return fmt.Errorf("invalid block size %d×%d", f.blockW, f.blockH)
	}
	f.blocksAcross = (f.width + f.blockW - 1) / f.blockW
	f.blocksDown = (f.height + f.blockH - 1) / f.blockH
	need := f.blocksAcross * f.blocksDown
	if f.planar == 2 {
		need *= f.spp
	}
	o, ok1 := tags[offTag]
	c, ok2 := tags[countTag]
	if !ok1 || !ok2 {
		return fmt.Errorf("missing block offsets or byte counts")
	}
	f.offsets, f.counts = o.uints(f.bo), c.uints(f.bo)
	if len(f.offsets) < need || len(f.counts) < need {
		return fmt.Errorf("image needs %d blocks but has %d", need, len(f.offsets))
	}
	return nil
}

func (f *File) parseGeo(tags map[uint16]ifdEntry) error {
	f.geo = Identity
	if e, ok := tags[tagModelTransformation]; ok && e.count >= 8 {
		m := e.floats(f.bo)
		f.geo = Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	} else if s, ok := tags[tagModelPixelScale]; ok && s.count >= 2 {
		if t, ok := tags[tagModelTiepoint]; ok && t.count >= 6 {
			sc, tp := s.floats(f.bo), t.floats(f.bo)
			f.geo = Affine{
				A: sc[0], C: tp[3] - tp[0]*sc[0],
				E: -sc[1], F: tp[4] + tp[1]*sc[1],
			}
		}
	}
	if e, ok := tags[tagGDALNoData]; ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(e.ascii()), 64)
		if err == nil {
			f.nodata, f.hasNoData = v, true
		}
	}

	e, ok := tags[tagGeoKeyDirectory]
	if !ok {
		return nil
	}
	var asciiParams string
	if a, ok := tags[tagGeoASCIIParams]; ok {
		asciiParams = string(a.data)
	}
	dir := e.uints(f.bo)
	if len(dir) < 4 {
		return fmt.Errorf("short GeoKey directory")
	}
	ints := make(map[uint64]int)
	texts := make(map[uint64]string)
	for i := 0; i < int(dir[3]) && 4*(i+2) <= len(dir); i++ {
		k := dir[4*(i+1) : 4*(i+2)]
		switch k[1] {
		case 0:
			ints[k[0]] = int(k[3])
		case tagGeoASCIIParams:
			if int(k[3]+k[2]) <= len(asciiParams) {
				texts[k[0]] = strings.TrimRight(asciiParams[k[3]:k[3]+k[2]], "|\x00")
			}
		}
	}
	if ints[keyRasterType] == rasterPixelIsPoint {
		f.geo.C -= (f.geo.A + f.geo.B) / 2
		f.geo.F -= (f.geo.D + f.geo.E) / 2
	}
	var err error
	switch pcs, gcs := ints[keyProjectedType], ints[keyGeographicType]; {
	case pcs > 0 && pcs != userDefined:
		f.proj4, err = EPSG(pcs)
	case strings.HasPrefix(texts[keyPCSCitation], "+proj"):
		f.proj4 = texts[keyPCSCitation]
	case strings.HasPrefix(texts[keyCitation], "+proj"):
		f.proj4 = texts[keyCitation]
	case gcs > 0 && gcs != userDefined:
		f.proj4, err = EPSG(gcs)
	}
	return err
}

// Width returns the number of columns.
func (f *File) Width() int { return f.width }

// Height returns the number of rows.
func (f *File) Height() int { return f.height }

// Transform returns the pixel-to-projected transform.
func (f *File) Transform() Affine { return f.geo }

// CRS returns the proj4 definition of the coordinate system, or an empty
// string if the file does not specify one.
func (f *File) CRS() string { return f.proj4 }

// NoData returns the no-data value, if any.
func (f *File) NoData() (float64, bool) { return f.nodata, f.hasNoData }

// Bands returns the number of bands in the file.
func (f *File) Bands() int { return f.spp }

// Path returns the location of the file.
func (f *File) Path() string { return f.path }

// Close closes the underlying file.
func (f *File) Close() error { return f.r.Close() }

// ReadWindow reads the pixels within w.
func (f *File) ReadWindow(w Window) (*Grid, error) {
	return readWindow(f.width, f.height, f.geo, f.proj4, f.nodata, f.hasNoData, w,
		func(in Window, dst *Grid) error {
			bx0, bx1 := in.ColOff/f.blockW, (in.ColOff+in.Width-1)/f.blockW
			by0, by1 := in.RowOff/f.blockH, (in.RowOff+in.Height-1)/f.blockH
			for by := by0; by <= by1; by++ {
				for bx := bx0; bx <= bx1; bx++ {
					vals, err := f.block(by*f.blocksAcross + bx)
					if err != nil {
						return fmt.Errorf("raster: reading %s: %v: %w", f.path, err, ErrIO)
					}
					c0 := max(in.ColOff, bx*f.blockW)
					c1 := min(in.ColOff+in.Width, (bx+1)*f.blockW)
					r0 := max(in.RowOff, by*f.blockH)
					r1 := min(in.RowOff+in.Height, (by+1)*f.blockH)
					for r := r0; r < r1; r++ {
						src := vals[(r-by*f.blockH)*f.blockW+c0-bx*f.blockW:][:c1-c0]
						off := (r-w.RowOff)*dst.Cols + c0 - w.ColOff
						copy(dst.Values[off:off+c1-c0], src)
					}
				}
			}
			return nil
		})
}

// block returns the decoded band values of block i.
func (f *File) block(i int) ([]float64, error) {
	f.mu.Lock()
	if v, ok := f.blocks.Get(i); ok {
		f.mu.Unlock()
		return v.([]float64), nil
	}
	f.mu.Unlock()

	idx := i
	spp, sample := f.spp, f.band
	if f.planar == 2 {
		idx += f.band * f.blocksAcross * f.blocksDown
		spp, sample = 1, 0
	}
	raw := make([]byte, f.counts[idx])
	if _, err := f.r.ReadAt(raw, int64(f.offsets[idx])); err != nil && err != io.EOF {
		return nil, err
	}
	data, err := f.decompress(raw)
	if err != nil {
		return nil, err
	}
	bytesPer := f.bps / 8
	rowBytes := f.blockW * spp * bytesPer
	if need := rowBytes * f.blockH; len(data) < need {
		padded := make([]byte, need)
		copy(padded, data)
		data = padded
	}
	if f.predictor == 2 {
		undoPredictor(f.bo, data, rowBytes, f.blockH, spp, bytesPer)
	}
	vals := make([]float64, f.blockW*f.blockH)
	for p := range vals {
		vals[p] = f.sample(data[(p*spp+sample)*bytesPer:])
	}

	f.mu.Lock()
	f.blocks.Add(i, vals)
	f.mu.Unlock()
	return vals, nil
}

func (f *File) decompress(raw []byte) ([]byte, error) {
	switch f.compression {
	case compressLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil && len(out) == 0 {
			return nil, fmt.Errorf("lzw: %v", err)
		}
		return out, nil
	case compressDeflate, compressDeflate2:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %v", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case compressPackBits:
		return unpackBits(raw)
	}
	return raw, nil
}

func (f *File) sample(b []byte) float64 {
	switch f.format {
	case formatFloat:
		if f.bps == 32 {
			return float64(math.Float32frombits(f.bo.Uint32(b)))
		}
		return math.Float64frombits(f.bo.Uint64(b))
	case formatInt:
		switch f.bps {
		case 8:
			return float64(int8(b[0]))
		case 16:
			return float64(int16(f.bo.Uint16(b)))
		case 32:
			return float64(int32(f.bo.Uint32(b)))
		}
		return float64(int64(f.bo.Uint64(b)))
	}
	switch f.bps {
	case 8:
		return float64(b[0])
	case 16:
		return float64(f.bo.Uint16(b))
	case 32:
		return float64(f.bo.Uint32(b))
	}
	return float64(f.bo.Uint64(b))
}

// undoPredictor reverses horizontal differencing in place.
func undoPredictor(bo binary.ByteOrder, data []byte, rowBytes, rows, spp, bytesPer int) {
	stride := spp * bytesPer
	for r := 0; r < rows; r++ {
		row := data[r*rowBytes : (r+1)*rowBytes]
		for i := stride; i+bytesPer <= len(row); i += bytesPer {
			switch bytesPer {
			case 1:
				row[i] += row[i-stride]
			case 2:
				bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[i-stride:]))
			case 4:
				bo.PutUint32(row[i:], bo.Uint32(row[i:])+bo.Uint32(row[i-stride:]))
			case 8:
				bo.PutUint64(row[i:], bo.Uint64(row[i:])+bo.Uint64(row[i-stride:]))
			}
		}
	}
}

func unpackBits(src []byte) ([]byte, error) {
	var dst []byte
	for i := 0; i < len(src); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) {
				return nil, fmt.Errorf("packbits: literal run past end of data")
			}
			dst = append(dst, src[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(src) {
				return nil, fmt.Errorf("packbits: repeat run past end of data")
			}
			for j := 0; j < 1-n; j++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst, nil
}
