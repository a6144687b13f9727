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
	"fmt"
	"math"

	"github.com/ctessum/geom/proj"
)

// WGS84 is the geographic reference system that asset coordinates
// are assumed to be in.
const WGS84 = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"

// Affine maps pixel (col, row) space to projected (x, y) space:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C, D, E, F float64
}

// Identity is the affine transform that leaves coordinates unchanged.
var Identity = Affine{A: 1, E: 1}

// Apply returns the projected coordinates of the fractional pixel
// location (col, row).
func (a Affine) Apply(col, row float64) (x, y float64) {
	return a.A*col + a.B*row + a.C, a.D*col + a.E*row + a.F
}

// Invert returns the transform from projected to pixel space.
func (a Affine) Invert() (Affine, error) {
	det := a.A*a.E - a.B*a.D
	if det == 0 || math.IsNaN(det) {
		return Affine{}, fmt.Errorf("raster: affine transform %v is not invertible", a)
	}
	return Affine{
		A: a.E / det,
		B: -a.B / det,
		C: (a.B*a.F - a.E*a.C) / det,
		D: -a.D / det,
		E: a.A / det,
		F: (a.D*a.C - a.A*a.F) / det,
	}, nil
}

// RowCol returns the pixel containing projected location (x, y), using
// SafeFloor on the fractional row and column. Locations that cannot be
// mapped give -1. No clamping is done: the result may lie outside the grid.
func (a Affine) RowCol(x, y float64) (row, col int) {
	inv, err := a.Invert()
	if err != nil {
		return -1, -1
	}
	c, r := inv.Apply(x, y)
	return SafeFloor(r), SafeFloor(c)
}

// Shift returns the transform of the sub-grid whose upper-left pixel is
// (colOff, rowOff) in a.
func (a Affine) Shift(colOff, rowOff int) Affine {
	x, y := a.Apply(float64(colOff), float64(rowOff))
	out := a
	out.C, out.F = x, y
	return out
}

// PixelArea returns the area of one pixel in projected units.
func (a Affine) PixelArea() float64 {
	return math.Abs(a.A*a.E - a.B*a.D)
}

func (a Affine) String() string {
	return fmt.Sprintf("[%g %g %g; %g %g %g]", a.A, a.B, a.C, a.D, a.E, a.F)
}

// SafeFloor returns the floor of v, or -1 if v is not a finite number.
func SafeFloor(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return -1
	}
	return int(math.Floor(v))
}

// Reproject transforms the points (xs[i], ys[i]) from src to dst.
// Points that fail to transform are returned as NaN.
func Reproject(src, dst *proj.SR, xs, ys []float64) (outX, outY []float64, err error) {
	if len(xs) != len(ys) {
		return nil, nil, fmt.Errorf("raster: reproject: %d x values but %d y values", len(xs), len(ys))
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, nil, fmt.Errorf("raster: reproject: %w", err)
	}
	outX = make([]float64, len(xs))
	outY = make([]float64, len(ys))
	for i := range xs {
		x, y, err := t(xs[i], ys[i])
		if err != nil || math.IsInf(x, 0) || math.IsInf(y, 0) {
			x, y = math.NaN(), math.NaN()
		}
		outX[i], outY[i] = x, y
	}
	return outX, outY, nil
}
