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

package lossyear

import (
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/decentexposure/leaf/raster"
)

// Row is one (cluster, year) record of a Table.
type Row struct {
	Cluster, Year int
	Area          float64
	Geometry      geom.MultiPolygon
}

// Table holds the cluster entries that have a nonzero area.
type Table struct {
	Rows []Row

	// CRS is the coordinate system of the row geometries.
	CRS string

	index *rtree.Rtree
}

type indexedRow struct {
	geom.MultiPolygon
	i int
}

// NewTable returns the entries of clusters that have a nonzero area,
// ordered by cluster and year.
func NewTable(clusters []*Cluster, crs string) *Table {
	t := &Table{CRS: crs}
	for _, c := range clusters {
		for _, e := range c.Entries {
			if e.Area == 0 {
				continue
			}
			t.Rows = append(t.Rows, Row{Cluster: c.ID, Year: e.Year, Area: e.Area, Geometry: e.Geometry})
		}
	}
	sort.SliceStable(t.Rows, func(i, j int) bool {
		if t.Rows[i].Cluster != t.Rows[j].Cluster {
			return t.Rows[i].Cluster < t.Rows[j].Cluster
		}
		return t.Rows[i].Year < t.Rows[j].Year
	})
	return t
}

func (t *Table) buildIndex() {
	if t.index != nil {
		return
	}
	t.index = rtree.NewTree(25, 50)
	for i, r := range t.Rows {
		t.index.Insert(&indexedRow{MultiPolygon: r.Geometry, i: i})
	}
}

// project returns the WGS84 location (lon, lat) in the table's
// coordinate system.
func (t *Table) project(lat, lon float64) (geom.Point, error) {
	wgs, err := raster.ParseCRS(raster.WGS84)
	if err != nil {
		return geom.Point{}, err
	}
	dst, err := raster.ParseCRS(t.CRS)
	if err != nil {
		return geom.Point{}, err
	}
	x, y, err := raster.Reproject(wgs, dst, []float64{lon}, []float64{lat})
	if err != nil {
		return geom.Point{}, err
	}
	if math.IsNaN(x[0]) || math.IsNaN(y[0]) {
		return geom.Point{}, fmt.Errorf("lossyear: location (%g, %g) cannot be projected: %w", lat, lon, ErrGeometry)
	}
	return geom.Point{X: x[0], Y: y[0]}, nil
}

// AreaAt returns the area of loss in year of the cluster that contains
// the WGS84 location (lat, lon). ok is false when no cluster does.
// A location within more than one row is an ErrGeometry.
func (t *Table) AreaAt(lat, lon float64, year int) (area float64, ok bool, err error) {
	pt, err := t.project(lat, lon)
	if err != nil {
		return 0, false, err
	}
	t.buildIndex()
	var matches []int
	for _, g := range t.index.SearchIntersect(pt.Bounds()) {
		r := t.Rows[g.(*indexedRow).i]
		if r.Year == year && pt.Within(r.Geometry) != geom.Outside {
			matches = append(matches, g.(*indexedRow).i)
		}
	}
	switch len(matches) {
	case 0:
		return 0, false, nil
	case 1:
		return t.Rows[matches[0]].Area, true, nil
	}
	sort.Ints(matches)
	clusters := make([]int, len(matches))
	for i, m := range matches {
		clusters[i] = t.Rows[m].Cluster
	}
	return 0, false, fmt.Errorf("lossyear: (%g, %g) in %d is within clusters %v: %w", lat, lon, year, clusters, ErrGeometry)
}

// Closest returns the row whose bounding box is nearest to the WGS84
// location (lat, lon), with ties going to the earlier row.
func (t *Table) Closest(lat, lon float64) (Row, bool, error) {
	if len(t.Rows) == 0 {
		return Row{}, false, nil
	}
	pt, err := t.project(lat, lon)
	if err != nil {
		return Row{}, false, err
	}
	best, bestDist := -1, math.Inf(1)
	for i, r := range t.Rows {
		b := r.Geometry.Bounds()
		dx := math.Max(0, math.Max(b.Min.X-pt.X, pt.X-b.Max.X))
		dy := math.Max(0, math.Max(b.Min.Y-pt.Y, pt.Y-b.Max.Y))
		if d := dx*dx + dy*dy; d < bestDist {
			best, bestDist = i, d
		}
	}
	return t.Rows[best], true, nil
}

// Bounds returns the WGS84 extent of all rows.
func (t *Table) Bounds() (*geom.Bounds, error) {
	b := geom.NewBounds()
	for _, r := range t.Rows {
		b.Extend(r.Geometry.Bounds())
	}
	if b.Empty() {
		return b, nil
	}
	src, err := raster.ParseCRS(t.CRS)
	if err != nil {
		return nil, err
	}
	wgs, err := raster.ParseCRS(raster.WGS84)
	if err != nil {
		return nil, err
	}
	xs := []float64{b.Min.X, b.Max.X, b.Min.X, b.Max.X}
	ys := []float64{b.Min.Y, b.Min.Y, b.Max.Y, b.Max.Y}
	lon, lat, err := raster.Reproject(src, wgs, xs, ys)
	if err != nil {
		return nil, err
	}
	out := geom.NewBounds()
	for i := range lon {
		if math.IsNaN(lon[i]) {
			return nil, fmt.Errorf("lossyear: table extent cannot be projected: %w", ErrGeometry)
		}
		out.Extend(geom.NewBoundsPoint(geom.Point{X: lon[i], Y: lat[i]}))
	}
	return out, nil
}

// Clusters returns the IDs of the clusters in the table.
func (t *Table) Clusters() []int {
	var ids []int
	seen := make(map[int]bool)
	for _, r := range t.Rows {
		if !seen[r.Cluster] {
			seen[r.Cluster] = true
			ids = append(ids, r.Cluster)
		}
	}
	sort.Ints(ids)
	return ids
}

// Series returns the area of cluster in every year of years, with zeros
// for years that have no row.
func (t *Table) Series(cluster int, years Years) []float64 {
	out := make([]float64, years.Len())
	for _, r := range t.Rows {
		if r.Cluster == cluster && years.Contains(r.Year) {
			out[r.Year-years.First] += r.Area
		}
	}
	return out
}
