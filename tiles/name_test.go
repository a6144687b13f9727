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

package tiles

import (
	"reflect"
	"testing"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		lat, lon         float64
		step             int
		wantLat, wantLon string
	}{
		{lat: -25.3, lon: -55.1, step: 10, wantLat: "20S", wantLon: "060W"},
		{lat: -20, lon: -60, step: 10, wantLat: "20S", wantLon: "060W"},
		{lat: -19.9, lon: -59.9, step: 10, wantLat: "10S", wantLon: "060W"},
		{lat: 5, lon: 5, step: 10, wantLat: "10N", wantLon: "000E"},
		{lat: -5, lon: -5, step: 10, wantLat: "00N", wantLon: "010W"},
		{lat: 0, lon: 0, step: 10, wantLat: "00N", wantLon: "000E"},
		{lat: 71, lon: 179, step: 10, wantLat: "80N", wantLon: "170E"},
		{lat: -1.5, lon: 101.5, step: 0, wantLat: "00N", wantLon: "100E"},
		{lat: 3, lon: -3, step: 5, wantLat: "05N", wantLon: "005W"},
	}
	for _, test := range tests {
		lat, lon := Label(test.lat, test.lon, test.step)
		if lat != test.wantLat || lon != test.wantLon {
			t.Errorf("Label(%g, %g, %d) = %s, %s; want %s, %s", test.lat, test.lon, test.step,
				lat, lon, test.wantLat, test.wantLon)
		}
	}
}

func TestParseLayer(t *testing.T) {
	for l := LossYear; l <= LastYear; l++ {
		got, err := ParseLayer(l.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != l {
			t.Errorf("ParseLayer(%s) = %v", l, got)
		}
	}
	if _, err := ParseLayer("TreeCover2000"); err != nil {
		t.Error(err)
	}
	if _, err := ParseLayer("loss"); err == nil {
		t.Error("expected an error for an unknown layer")
	}
	if s := Layer(42).String(); s != "Layer(42)" {
		t.Errorf("string = %s", s)
	}
}

func TestFilename(t *testing.T) {
	var n Namer
	if got, want := n.Filename(LossYear, -25, -55), "Hansen_GFC-2022-v1.10_lossyear_20S_060W.tif"; got != want {
		t.Errorf("filename = %s; want %s", got, want)
	}
	n = Namer{Template: "${layer}/${lat}${lon}_${other}.tif", Step: 5}
	if got, want := n.Filename(TreeCover2000, 1, 1), "treecover2000/05N000E_${other}.tif"; got != want {
		t.Errorf("filename = %s; want %s", got, want)
	}
}

func TestRange(t *testing.T) {
	n := Namer{Template: "${layer}_${lat}_${long}"}
	got := n.Range(-25, -5, -62, -55, LossYear, TreeCover2000)
	var names []string
	for _, tile := range got {
		names = append(names, tile.Name)
	}
	want := []string{
		"lossyear_00N_070W", "lossyear_00N_060W",
		"lossyear_10S_070W", "lossyear_10S_060W",
		"lossyear_20S_070W", "lossyear_20S_060W",
		"treecover2000_00N_070W", "treecover2000_00N_060W",
		"treecover2000_10S_070W", "treecover2000_10S_060W",
		"treecover2000_20S_070W", "treecover2000_20S_060W",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v; want %v", names, want)
	}
	if got[0].North != 0 || got[0].West != -70 || got[0].Layer != LossYear {
		t.Errorf("first tile = %+v", got[0])
	}
	if one := n.Range(-22, -21, -58, -57, LossYear); len(one) != 1 || one[0].Name != "lossyear_20S_060W" {
		t.Errorf("single tile = %+v", one)
	}
}
