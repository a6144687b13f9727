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

// Package raster reads windows of classified raster data and converts
// between geographic, projected and pixel coordinates.
package raster

import (
	"errors"
	"fmt"
	"math"
)

// ErrIO is returned, wrapped, when a raster or table cannot be opened or
// read, or when a requested window lies entirely outside a raster.
var ErrIO = errors.New("i/o error")

// Window is a rectangle in pixel space.
type Window struct {
	ColOff, RowOff, Width, Height int
}

func (w Window) String() string {
	return fmt.Sprintf("window(col=%d, row=%d, width=%d, height=%d)", w.ColOff, w.RowOff, w.Width, w.Height)
}

// clip returns the part of w that lies within a width×height raster
// and whether there is any such part.
func (w Window) clip(width, height int) (Window, bool) {
	c0, r0 := max(w.ColOff, 0), max(w.RowOff, 0)
	c1, r1 := min(w.ColOff+w.Width, width), min(w.RowOff+w.Height, height)
	if c1 <= c0 || r1 <= r0 {
		return Window{}, false
	}
	return Window{ColOff: c0, RowOff: r0, Width: c1 - c0, Height: r1 - r0}, true
}

// Source is a single band of georeferenced raster data.
type Source interface {
	Width() int
	Height() int
	Transform() Affine
	// CRS is the proj4 or WKT definition of the coordinate system.
	CRS() string
	// ReadWindow reads the pixels within w. Pixels of w that are
	// outside of the raster are filled with the no-data value, or zero
	// if there is none.
	ReadWindow(w Window) (*Grid, error)
}

// Grid is a two-dimensional array of pixel values held in memory.
// It satisfies Source.
type Grid struct {
	Rows, Cols int
	// Values holds the pixels in row-major order.
	Values []float64

	Geo   Affine
	Proj4 string

	NoData    float64
	HasNoData bool
}

// NewGrid returns a rows×cols grid with the given values, which must be
// in row-major order.
func NewGrid(rows, cols int, values []float64, geo Affine, proj4 string) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("raster: invalid grid dimensions %d×%d", rows, cols)
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("raster: %d×%d grid needs %d values but got %d", rows, cols, rows*cols, len(values))
	}
	return &Grid{Rows: rows, Cols: cols, Values: values, Geo: geo, Proj4: proj4}, nil
}

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float64 { return g.Values[row*g.Cols+col] }

// Width returns the number of columns.
func (g *Grid) Width() int { return g.Cols }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.Rows }

// Transform returns the pixel-to-projected transform.
func (g *Grid) Transform() Affine { return g.Geo }

// CRS returns the coordinate system definition.
func (g *Grid) CRS() string { return g.Proj4 }

// IsNoData reports whether v is the no-data value of g.
func (g *Grid) IsNoData(v float64) bool {
	if !g.HasNoData {
		return false
	}
	return v == g.NoData || (math.IsNaN(v) && math.IsNaN(g.NoData))
}

func (g *Grid) fill() float64 {
	if g.HasNoData {
		return g.NoData
	}
	return 0
}

// ReadWindow returns a copy of the pixels within w.
func (g *Grid) ReadWindow(w Window) (*Grid, error) {
	return readWindow(g.Cols, g.Rows, g.Geo, g.Proj4, g.NoData, g.HasNoData, w,
		func(in Window, dst *Grid) error {
			for r := 0; r < in.Height; r++ {
				src := g.Values[(in.RowOff+r)*g.Cols+in.ColOff:][:in.Width]
				off := (in.RowOff-w.RowOff+r)*dst.Cols + in.ColOff - w.ColOff
				copy(dst.Values[off:off+in.Width], src)
			}
			return nil
		})
}

// readWindow allocates the output grid for w and calls read with the
// in-bounds part of the window.
func readWindow(width, height int, geo Affine, proj4 string, nodata float64, hasNoData bool,
	w Window, read func(in Window, dst *Grid) error) (*Grid, error) {
	if w.Width <= 0 || w.Height <= 0 {
		return nil, fmt.Errorf("raster: invalid %v: %w", w, ErrIO)
	}
	in, ok := w.clip(width, height)
	if !ok {
		return nil, fmt.Errorf("raster: %v is outside of the %d×%d raster: %w", w, width, height, ErrIO)
	}
	out := &Grid{
		Rows:      w.Height,
		Cols:      w.Width,
		Values:    make([]float64, w.Width*w.Height),
		Geo:       geo.Shift(w.ColOff, w.RowOff),
		Proj4:     proj4,
		NoData:    nodata,
		HasNoData: hasNoData,
	}
	if in != w {
		f := out.fill()
		if f != 0 {
			for i := range out.Values {
				out.Values[i] = f
			}
		}
	}
	if err := read(in, out); err != nil {
		return nil, err
	}
	return out, nil
}
