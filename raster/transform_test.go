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
	"math"
	"testing"
)

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

// hansen is the transform of the 20S_060W Hansen tile.
var hansen = Affine{A: 0.00025, C: -60, E: -0.00025, F: -20}

func TestSafeFloor(t *testing.T) {
	for _, test := range []struct {
		in   float64
		want int
	}{
		{in: 2.7, want: 2},
		{in: 3, want: 3},
		{in: 0.2, want: 0},
		{in: -0.5, want: -1},
		{in: -2.5, want: -3},
		{in: math.NaN(), want: -1},
		{in: math.Inf(1), want: -1},
	} {
		if got := SafeFloor(test.in); got != test.want {
			t.Errorf("SafeFloor(%g) = %d; want %d", test.in, got, test.want)
		}
	}
}

func TestAffineInvert(t *testing.T) {
	for _, a := range []Affine{hansen, {A: 30, B: 2, C: 500000, D: -1, E: -30, F: 9000000}} {
		inv, err := a.Invert()
		if err != nil {
			t.Fatal(err)
		}
		x, y := a.Apply(17.25, 3.5)
		col, row := inv.Apply(x, y)
		if math.Abs(col-17.25) > 1e-6 || math.Abs(row-3.5) > 1e-6 {
			t.Errorf("%v: round trip gave (%g, %g)", a, col, row)
		}
	}
	if _, err := (Affine{A: 1, B: 2, D: 2, E: 4}).Invert(); err == nil {
		t.Error("singular transform should not be invertible")
	}
}

func TestRowCol(t *testing.T) {
	row, col := hansen.RowCol(-59.9999, -20.0003)
	if row != 1 || col != 0 {
		t.Errorf("got (%d, %d); want (1, 0)", row, col)
	}
	row, col = hansen.RowCol(-60.0001, -19.9999)
	if row != -1 || col != -1 {
		t.Errorf("got (%d, %d); want (-1, -1)", row, col)
	}
	row, col = hansen.RowCol(math.NaN(), -20.5)
	if row != -1 || col != -1 {
		t.Errorf("got (%d, %d); want (-1, -1)", row, col)
	}
	row, col = hansen.RowCol(-50.0001, -29.9999)
	if row != 39999 || col != 39999 {
		t.Errorf("got (%d, %d); want (39999, 39999)", row, col)
	}
}

func TestShift(t *testing.T) {
	s := hansen.Shift(4, 8)
	if different(s.C, -59.999, 1e-12) || different(s.F, -20.002, 1e-12) {
		t.Errorf("got origin (%g, %g)", s.C, s.F)
	}
	if s.A != hansen.A || s.E != hansen.E {
		t.Errorf("scale changed: %v", s)
	}
}

func TestReproject(t *testing.T) {
	wgs, err := ParseCRS("")
	if err != nil {
		t.Fatal(err)
	}
	utm, err := ParseCRS("EPSG:32633")
	if err != nil {
		t.Fatal(err)
	}
	x, y, err := Reproject(wgs, utm, []float64{15, 16}, []float64{0, 10})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(x[0]-500000) > 1e-3 || math.Abs(y[0]) > 1e-3 {
		t.Errorf("central meridian maps to (%g, %g)", x[0], y[0])
	}
	if x[1] < 500000 || y[1] < 1.1e6 {
		t.Errorf("(16, 10) maps to (%g, %g)", x[1], y[1])
	}

	x, y, err = Reproject(wgs, wgs, []float64{-60.5}, []float64{-20.25})
	if err != nil {
		t.Fatal(err)
	}
	if x[0] != -60.5 || y[0] != -20.25 {
		t.Errorf("identity gave (%g, %g)", x[0], y[0])
	}

	if _, _, err := Reproject(wgs, utm, []float64{1}, nil); err == nil {
		t.Error("mismatched lengths should fail")
	}
}

func TestEPSG(t *testing.T) {
	for _, code := range []int{4326, 3857, 32601, 32760} {
		d, err := EPSG(code)
		if err != nil {
			t.Errorf("EPSG(%d): %v", code, err)
			continue
		}
		if _, err := ParseCRS(d); err != nil {
			t.Errorf("EPSG(%d): %v", code, err)
		}
	}
	if _, err := EPSG(2154); err == nil {
		t.Error("unsupported code should fail")
	}
}
