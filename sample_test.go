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

package leaf

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/decentexposure/leaf/lossyear"
	"github.com/decentexposure/leaf/raster"
	"gonum.org/v1/gonum/floats"
)

// unit is a 1° grid whose upper-left corner is at 0°E, 7°N.
var unit = raster.Affine{A: 1, C: 0, E: -1, F: 7}

func lossGrid(t *testing.T) *raster.Grid {
	v := make([]float64, 49)
	v[0] = 5
	v[2*7+2], v[2*7+3] = 1, 1
	v[4*7+4] = 3
	v[3*7+1] = 30
	g, err := raster.NewGrid(7, 7, v, unit, raster.WGS84)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func assetTable(t *testing.T, assets ...*Asset) *AssetTable {
	tbl, err := NewAssetTable(assets, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func assetAt(id string, lat, lon float64) *Asset {
	a := newAsset(id)
	a.Latitude, a.Longitude = lat, lon
	return a
}

func TestInWindow(t *testing.T) {
	const h, w, off = 10, 12, 2
	tests := []struct {
		row, col int
		want     bool
	}{
		{row: h - off, col: 5, want: false},
		{row: h - off - 1, col: 5, want: true},
		{row: off, col: off, want: true},
		{row: off - 1, col: 5, want: false},
		{row: 5, col: w - off, want: false},
		{row: 5, col: w - off - 1, want: true},
		{row: -1, col: -1, want: false},
	}
	for _, test := range tests {
		if got := InWindow(Location{Row: test.row, Col: test.col}, h, w, off); got != test.want {
			t.Errorf("InWindow(%d, %d) = %v; want %v", test.row, test.col, got, test.want)
		}
	}
	if !InGrid(Location{Row: h - 1, Col: w - 1}, h, w) || InGrid(Location{Row: h, Col: 0}, h, w) {
		t.Error("InGrid bounds are wrong")
	}
}

func TestLocate(t *testing.T) {
	g, err := raster.NewGrid(10, 10, make([]float64, 100), raster.Affine{A: 0.1, C: -60, E: -0.1, F: -20}, raster.WGS84)
	if err != nil {
		t.Fatal(err)
	}
	assets := []*Asset{assetAt("a", -20.35, -59.55), assetAt("b", math.NaN(), -59.55), assetAt("c", -25.05, -49.95)}
	locs, err := Locate(assets, g)
	if err != nil {
		t.Fatal(err)
	}
	want := []Location{{ID: "a", Row: 3, Col: 4}, {ID: "b", Row: -1, Col: -1}, {ID: "c", Row: 50, Col: 100}}
	if !reflect.DeepEqual(locs, want) {
		t.Errorf("locations = %v; want %v", locs, want)
	}
}

func TestLocateProjected(t *testing.T) {
	crs, err := raster.EPSG(32721)
	if err != nil {
		t.Fatal(err)
	}
	// 1 km pixels around the origin of zone 21S, at 57°W on the equator.
	g, err := raster.NewGrid(10, 10, make([]float64, 100), raster.Affine{A: 1000, C: 495000, E: -1000, F: 10005000}, crs)
	if err != nil {
		t.Fatal(err)
	}
	locs, err := Locate([]*Asset{assetAt("a", -0.001, -57.001)}, g)
	if err != nil {
		t.Fatal(err)
	}
	if locs[0].Row != 5 || locs[0].Col != 4 {
		t.Errorf("location = %+v; want row 5, col 4", locs[0])
	}
}

func TestCountValues(t *testing.T) {
	g, err := lossGrid(t).ReadWindow(raster.Window{ColOff: 2, RowOff: 2, Width: 3, Height: 3})
	if err != nil {
		t.Fatal(err)
	}
	counts := countValues(g)
	n := 0
	for _, c := range counts {
		n += c
	}
	if n != 9 {
		t.Errorf("counts sum to %d; want 9", n)
	}
	if !reflect.DeepEqual(counts, map[float64]int{0: 6, 1: 2, 3: 1}) {
		t.Errorf("counts = %v", counts)
	}
	g.HasNoData, g.NoData = true, 1
	if counts := countValues(g); counts[1] != 0 || counts[0] != 6 {
		t.Errorf("no-data pixels were counted: %v", counts)
	}
}

func TestNeighborhoodSampler(t *testing.T) {
	tbl := assetTable(t,
		assetAt("center", 3.5, 3.5),
		assetAt("edge", 6.5, 0.5),
		assetAt("nowhere", math.NaN(), 3.5),
		assetAt("wide", 3.5, 1.5),
	)
	s := NeighborhoodSampler{Offset: 1, Years: lossyear.Years{First: 2001, Last: 2010}}
	p, err := s.Sample(tbl, lossGrid(t))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.IDs, []string{"center", "wide"}) {
		t.Fatalf("sampled %v", p.IDs)
	}
	want := make([]float64, 10)
	want[0], want[2] = 2.0/9, 1.0/9
	if !floats.EqualApprox(p.Values["center"], want, 1e-12) {
		t.Errorf("center = %v; want %v", p.Values["center"], want)
	}
	if sum := floats.Sum(p.Values["center"]); sum > 1 {
		t.Errorf("proportions sum to %g", sum)
	}
	// Year 2030 is out of range and is dropped.
	want = make([]float64, 10)
	want[0] = 1.0 / 9
	if !floats.EqualApprox(p.Values["wide"], want, 1e-12) {
		t.Errorf("wide = %v; want %v", p.Values["wide"], want)
	}

	c, _ := tbl.Get("center")
	if c.Row != 3 || c.Col != 3 || !reflect.DeepEqual(c.Loss, p.Values["center"]) {
		t.Errorf("center was not merged: %+v", c)
	}
	for _, id := range []string{"edge", "nowhere"} {
		a, _ := tbl.Get(id)
		if a.Loss != nil || a.Row != -1 {
			t.Errorf("%s should be unsampled: %+v", id, a)
		}
	}
	if tbl.Years != s.Years || tbl.Len() != 4 {
		t.Errorf("table = %v with %d assets", tbl.Years, tbl.Len())
	}

	// With a zero offset the edge asset is in bounds.
	s = NeighborhoodSampler{Offset: 0, Years: lossyear.Years{First: 2001, Last: 2010}}
	p, err = s.Sample(tbl, lossGrid(t))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := p.Proportion("edge", 2005); !ok || v != 1 {
		t.Errorf("edge 2005 = %g, %v", v, ok)
	}

	if _, err := (&NeighborhoodSampler{Offset: -1}).Sample(tbl, lossGrid(t)); !errors.Is(err, ErrPrecondition) {
		t.Errorf("negative offset: err = %v", err)
	}
	other := NeighborhoodSampler{Offset: 1, Years: lossyear.Years{First: 2001, Last: 2005}}
	if _, err := other.Sample(tbl, lossGrid(t)); !errors.Is(err, ErrPrecondition) {
		t.Errorf("mismatched years: err = %v", err)
	}
}

func TestNeighborhoodSamplerGeoTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lossyear.tif")
	if err := raster.WriteGeoTIFF(path, lossGrid(t), raster.WriteOptions{Type: raster.Uint8, Deflate: true, EPSG: 4326}); err != nil {
		t.Fatal(err)
	}
	f, err := raster.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	tbl := assetTable(t, assetAt("center", 3.5, 3.5))
	p, err := (&NeighborhoodSampler{Offset: 1}).Sample(tbl, f)
	if err != nil {
		t.Fatal(err)
	}
	if p.Years != lossyear.Default {
		t.Errorf("years = %v", p.Years)
	}
	if v, _ := p.Proportion("center", 2001); different(v, 2.0/9, 1e-12) {
		t.Errorf("2001 = %g", v)
	}
}

func TestBaselineSampler(t *testing.T) {
	g, err := raster.NewGrid(2, 2, []float64{10, 255, 40, 0}, unit, raster.WGS84)
	if err != nil {
		t.Fatal(err)
	}
	g.NoData, g.HasNoData = 255, true
	tbl := assetTable(t, assetAt("a", 6.5, 0.5), assetAt("b", 6.5, 1.5), assetAt("c", 5.5, 1.5), assetAt("out", 2, 2))
	s := BaselineSampler{Name: "treecover2000"}
	vals, err := s.Sample(tbl, g)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 3 || vals["a"] != 10 || !math.IsNaN(vals["b"]) || vals["c"] != 0 {
		t.Errorf("values = %v", vals)
	}
	if a, _ := tbl.Get("a"); a.Baseline != 10 {
		t.Errorf("a = %g", a.Baseline)
	}
	if out, _ := tbl.Get("out"); !math.IsNaN(out.Baseline) {
		t.Errorf("out = %g", out.Baseline)
	}
	if tbl.BaselineName != "treecover2000" {
		t.Errorf("name = %s", tbl.BaselineName)
	}
}
