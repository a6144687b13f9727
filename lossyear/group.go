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
	"github.com/ctessum/geom/proj"
	"github.com/decentexposure/leaf/raster"
	"github.com/sirupsen/logrus"
)

// DefaultAreaCRS is a South America Albers equal-area projection in meters.
const DefaultAreaCRS = "+proj=aea +lat_1=-5 +lat_2=-42 +lat_0=-32 +lon_0=-60 +x_0=0 +y_0=0 +ellps=WGS84 +datum=WGS84 +units=m +no_defs"

// Entry is the loss within a cluster in one year. Geometry is nil and
// Area is zero when there was none.
type Entry struct {
	Year     int
	Geometry geom.MultiPolygon
	// Area is in the units of the area projection.
	Area float64
}

// Cluster is a set of loss polygons that intersect one another, directly
// or through other polygons, regardless of year. It has one Entry for
// every year in the range it was grouped over.
type Cluster struct {
	ID      int
	Entries []Entry
}

// Entry returns the entry for year.
func (c *Cluster) Entry(year int) (Entry, bool) {
	if len(c.Entries) == 0 {
		return Entry{}, false
	}
	i := year - c.Entries[0].Year
	if i < 0 || i >= len(c.Entries) {
		return Entry{}, false
	}
	return c.Entries[i], true
}

// Area returns the total area of the cluster over all years.
func (c *Cluster) Area() float64 {
	var a float64
	for _, e := range c.Entries {
		a += e.Area
	}
	return a
}

// Grouper merges intersecting polygons into clusters.
type Grouper struct {
	Years Years

	// SourceCRS is the coordinate system of the polygons, and AreaCRS is
	// the projection areas are calculated in. Both may be proj4 or WKT.
	SourceCRS, AreaCRS string

	Log logrus.FieldLogger
}

type indexed struct {
	geom.Polygon
	i int
}

// Group returns the clusters formed by polys, ordered by ID. A cluster's
// ID is the smallest index in polys of its members, so the result only
// depends on the order of polys. Polygons whose year is outside of the
// year range still join clusters but do not contribute to any entry.
func (gr *Grouper) Group(polys []*Polygon) ([]*Cluster, error) {
	if err := gr.Years.Validate(); err != nil {
		return nil, err
	}
	t, err := gr.areaTransform()
	if err != nil {
		return nil, err
	}
	log := gr.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	index := rtree.NewTree(25, 50)
	for i, p := range polys {
		index.Insert(&indexed{Polygon: p.Polygon, i: i})
	}
	sets := newDisjointSet(len(polys))
	for i, p := range polys {
		for _, g := range index.SearchIntersect(p.Bounds()) {
			j := g.(*indexed).i
			if j <= i {
				continue
			}
			if Intersects(p.Polygon, polys[j].Polygon) {
				sets.union(i, j)
			}
		}
	}

	ids := make(map[int]int) // set root -> cluster ID
	members := make(map[int]map[int][]geom.Polygon)
	for i, p := range polys {
		root := sets.find(i)
		id, ok := ids[root]
		if !ok {
			id = i
			ids[root] = id
			members[id] = make(map[int][]geom.Polygon)
		}
		if gr.Years.Contains(p.Year) {
			members[id][p.Year] = append(members[id][p.Year], p.Polygon)
		}
	}

	clusters := make([]*Cluster, 0, len(members))
	for id, byYear := range members {
		c := &Cluster{ID: id, Entries: make([]Entry, 0, gr.Years.Len())}
		for _, year := range gr.Years.List() {
			e := Entry{Year: year}
			if ps := byYear[year]; len(ps) > 0 {
				e.Geometry = dissolve(ps)
				e.Area, err = area(e.Geometry, t)
				if err != nil {
					return nil, fmt.Errorf("lossyear: cluster %d, year %d: %w", id, year, err)
				}
			}
			c.Entries = append(c.Entries, e)
		}
		clusters = append(clusters, c)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	log.WithFields(logrus.Fields{
		"polygons": len(polys),
		"clusters": len(clusters),
		"years":    gr.Years.String(),
	}).Debug("grouped loss polygons")
	return clusters, nil
}

func (gr *Grouper) areaTransform() (proj.Transformer, error) {
	src, err := raster.ParseCRS(gr.SourceCRS)
	if err != nil {
		return nil, fmt.Errorf("lossyear: source CRS: %w", err)
	}
	areaCRS := gr.AreaCRS
	if areaCRS == "" {
		areaCRS = DefaultAreaCRS
	}
	dst, err := raster.ParseCRS(areaCRS)
	if err != nil {
		return nil, fmt.Errorf("lossyear: area CRS: %w", err)
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("lossyear: %w", err)
	}
	return t, nil
}

// area returns the area of g after transforming it with t.
func area(g geom.MultiPolygon, t proj.Transformer) (float64, error) {
	if len(g) == 0 {
		return 0, nil
	}
	tg, err := transformParts(g, t)
	if err != nil {
		return 0, fmt.Errorf("reprojecting: %v: %w", err, ErrGeometry)
	}
	b := tg.Bounds()
	for _, v := range []float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("degenerate reprojected geometry: %w", ErrGeometry)
		}
	}
	return tg.Area(), nil
}
