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
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DataType is the sample type of a written raster.
type DataType int

// Supported sample types.
const (
	Uint8 DataType = iota + 1
	Float64
)

// WriteOptions control how WriteGeoTIFF encodes a grid.
type WriteOptions struct {
	Type DataType

	// Deflate enables zlib compression, and Predictor enables horizontal
	// differencing for Uint8 data.
	Deflate, Predictor bool

	// RowsPerStrip defaults to 16.
	RowsPerStrip int

	// EPSG, if set, is written as the coordinate system code. Otherwise
	// the grid's proj4 definition is written as a citation.
	EPSG int
}

type tiffEntry struct {
	tag, typ uint16
	count    uint32
	data     []byte
}

var le = binary.LittleEndian

func shortsEntry(tag uint16, v ...uint16) tiffEntry {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		le.PutUint16(b[2*i:], x)
	}
	return tiffEntry{tag: tag, typ: 3, count: uint32(len(v)), data: b}
}

func longsEntry(tag uint16, v ...uint32) tiffEntry {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		le.PutUint32(b[4*i:], x)
	}
	return tiffEntry{tag: tag, typ: 4, count: uint32(len(v)), data: b}
}

func doublesEntry(tag uint16, v ...float64) tiffEntry {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		le.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return tiffEntry{tag: tag, typ: 12, count: uint32(len(v)), data: b}
}

func asciiEntry(tag uint16, s string) tiffEntry {
	b := append([]byte(s), 0)
	return tiffEntry{tag: tag, typ: 2, count: uint32(len(b)), data: b}
}

// WriteGeoTIFF writes g to path as a single-band, little-endian,
// stripped GeoTIFF.
func WriteGeoTIFF(path string, g *Grid, opts WriteOptions) error {
	if opts.Type == 0 {
		opts.Type = Uint8
	}
	rps := opts.RowsPerStrip
	if rps <= 0 {
		rps = 16
	}
	rps = min(rps, g.Rows)
	strips, err := encodeStrips(g, opts, rps)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	offsets := make([]uint32, len(strips))
	counts := make([]uint32, len(strips))
	for i, s := range strips {
		offsets[i] = uint32(8 + body.Len())
		counts[i] = uint32(len(s))
		body.Write(s)
	}
	if body.Len()%2 == 1 {
		body.WriteByte(0)
	}

	bps, format := uint16(8), uint16(formatUint)
	if opts.Type == Float64 {
		bps, format = 64, formatFloat
	}
	compression := uint16(compressNone)
	if opts.Deflate {
		compression = compressDeflate
	}
	entries := []tiffEntry{
		longsEntry(tagImageWidth, uint32(g.Cols)),
		longsEntry(tagImageLength, uint32(g.Rows)),
		shortsEntry(tagBitsPerSample, bps),
		shortsEntry(tagCompression, compression),
		shortsEntry(tagPhotometric, 1),
		longsEntry(tagStripOffsets, offsets...),
		shortsEntry(tagSamplesPerPixel, 1),
		longsEntry(tagRowsPerStrip, uint32(rps)),
		longsEntry(tagStripByteCounts, counts...),
		shortsEntry(tagPlanarConfig, 1),
		shortsEntry(tagSampleFormat, format),
	}
	if opts.Predictor && opts.Type == Uint8 {
		entries = append(entries, shortsEntry(tagPredictor, 2))
	}
	a := g.Geo
	if a.B == 0 && a.D == 0 {
		entries = append(entries,
			doublesEntry(tagModelPixelScale, a.A, -a.E, 0),
			doublesEntry(tagModelTiepoint, 0, 0, 0, a.C, a.F, 0))
	} else {
		entries = append(entries, doublesEntry(tagModelTransformation,
			a.A, a.B, 0, a.C, a.D, a.E, 0, a.F, 0, 0, 0, 0, 0, 0, 0, 1))
	}
	entries = append(entries, geoKeyEntries(g.Proj4, opts.EPSG)...)
	if g.HasNoData {
		entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(g.NoData, 'g', -1, 64)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOff := uint32(8 + body.Len())
	extOff := ifdOff + 2 + uint32(len(entries))*12 + 4
	var ifd, ext bytes.Buffer
	binary.Write(&ifd, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&ifd, le, e.tag)
		binary.Write(&ifd, le, e.typ)
		binary.Write(&ifd, le, e.count)
		if len(e.data) <= 4 {
			var v [4]byte
			copy(v[:], e.data)
			ifd.Write(v[:])
			continue
		}
		binary.Write(&ifd, le, extOff+uint32(ext.Len()))
		ext.Write(e.data)
		if ext.Len()%2 == 1 {
			ext.WriteByte(0)
		}
	}
	binary.Write(&ifd, le, uint32(0))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("raster: %v: %w", err, ErrIO)
	}
	w := bufio.NewWriter(f)
	w.WriteString("II")
	binary.Write(w, le, uint16(42))
	binary.Write(w, le, ifdOff)
	w.Write(body.Bytes())
	w.Write(ifd.Bytes())
	w.Write(ext.Bytes())
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("raster: writing %s: %v: %w", path, err, ErrIO)
	}
	return f.Close()
}

func encodeStrips(g *Grid, opts WriteOptions, rps int) ([][]byte, error) {
	var strips [][]byte
	for r0 := 0; r0 < g.Rows; r0 += rps {
		r1 := min(r0+rps, g.Rows)
		var raw []byte
		for r := r0; r < r1; r++ {
			row := g.Values[r*g.Cols : (r+1)*g.Cols]
			switch opts.Type {
			case Uint8:
				b := make([]byte, len(row))
				for i, v := range row {
					if v < 0 || v > 255 || v != math.Trunc(v) {
						return nil, fmt.Errorf("raster: value %g at row %d cannot be written as uint8", v, r)
					}
					b[i] = byte(v)
				}
				if opts.Predictor {
					for i := len(b) - 1; i > 0; i-- {
						b[i] -= b[i-1]
					}
				}
				raw = append(raw, b...)
			case Float64:
				b := make([]byte, 8*len(row))
				for i, v := range row {
					le.PutUint64(b[8*i:], math.Float64bits(v))
				}
				raw = append(raw, b...)
			default:
				return nil, fmt.Errorf("raster: unsupported data type %d", opts.Type)
			}
		}
		if opts.Deflate {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			zw.Write(raw)
			if err := zw.Close(); err != nil {
				return nil, err
			}
			raw = buf.Bytes()
		}
		strips = append(strips, raw)
	}
	return strips, nil
}

func geoKeyEntries(proj4 string, epsg int) []tiffEntry {
	type key struct{ id, loc, count, val uint16 }
	var (
		keys  []key
		cites string
	)
	geographic := epsg == 4326 || epsg == 4269 || epsg == 4258 ||
		(epsg == 0 && (proj4 == "" || strings.Contains(proj4, "longlat")))
	if geographic {
		keys = append(keys, key{keyModelType, 0, 1, 2})
	} else {
		keys = append(keys, key{keyModelType, 0, 1, 1})
	}
	keys = append(keys, key{keyRasterType, 0, 1, 1})
	switch {
	case epsg > 0 && geographic:
		keys = append(keys, key{keyGeographicType, 0, 1, uint16(epsg)})
	case epsg > 0:
		keys = append(keys, key{keyProjectedType, 0, 1, uint16(epsg)})
	case proj4 != "":
		cites = proj4 + "|"
		keys = append(keys, key{keyCitation, tagGeoASCIIParams, uint16(len(cites)), 0})
	default:
		keys = append(keys, key{keyGeographicType, 0, 1, 4326})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })
	dir := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		dir = append(dir, k.id, k.loc, k.count, k.val)
	}
	out := []tiffEntry{shortsEntry(tagGeoKeyDirectory, dir...)}
	if cites != "" {
		out = append(out, asciiEntry(tagGeoASCIIParams, cites))
	}
	return out
}
