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
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// Intersects reports whether a and b share an area or a length of
// boundary. Polygons that meet at a single corner do not intersect.
func Intersects(a, b geom.Polygonal) bool {
	if !a.Bounds().Overlaps(b.Bounds()) {
		return false
	}
	if anyPointInside(a, b) || anyPointInside(b, a) {
		return true
	}
	for _, pa := range a.Polygons() {
		for _, ra := range pa {
			for _, pb := range b.Polygons() {
				for _, rb := range pb {
					if ringsShare(ra, rb) {
						return true
					}
				}
			}
		}
	}
	return false
}

// anyPointInside reports whether a vertex of a or the midpoint of one
// of its edges is strictly inside b.
func anyPointInside(a, b geom.Polygonal) bool {
	bb := b.Bounds()
	inside := func(pt geom.Point) bool {
		if pt.X <= bb.Min.X || pt.X >= bb.Max.X || pt.Y <= bb.Min.Y || pt.Y >= bb.Max.Y {
			return false
		}
		return pt.Within(b) == geom.Inside
	}
	for _, p := range a.Polygons() {
		for _, r := range p {
			for i, pt := range r {
				if inside(pt) {
					return true
				}
				if i > 0 && inside(geom.Point{X: (pt.X + r[i-1].X) / 2, Y: (pt.Y + r[i-1].Y) / 2}) {
					return true
				}
			}
		}
	}
	return false
}

func ringsShare(a, b []geom.Point) bool {
	for i := 1; i < len(a); i++ {
		for j := 1; j < len(b); j++ {
			if segmentsCross(a[i-1], a[i], b[j-1], b[j]) || segmentsOverlap(a[i-1], a[i], b[j-1], b[j]) {
				return true
			}
		}
	}
	return false
}

func orientation(p, q, r geom.Point) int {
	v := (q.X-p.X)*(r.Y-p.Y) - (q.Y-p.Y)*(r.X-p.X)
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// segmentsCross reports whether the interiors of p1p2 and q1q2 cross at
// a single point.
func segmentsCross(p1, p2, q1, q2 geom.Point) bool {
	o1, o2 := orientation(p1, p2, q1), orientation(p1, p2, q2)
	o3, o4 := orientation(q1, q2, p1), orientation(q1, q2, p2)
	return o1*o2 < 0 && o3*o4 < 0
}

// segmentsOverlap reports whether p1p2 and q1q2 are collinear and share
// more than a point.
func segmentsOverlap(p1, p2, q1, q2 geom.Point) bool {
	if orientation(p1, p2, q1) != 0 || orientation(p1, p2, q2) != 0 {
		return false
	}
	lo := func(a, b float64) float64 { return min(a, b) }
	hi := func(a, b float64) float64 { return max(a, b) }
	if p1.X != p2.X {
		return min(hi(p1.X, p2.X), hi(q1.X, q2.X)) > max(lo(p1.X, p2.X), lo(q1.X, q2.X))
	}
	return min(hi(p1.Y, p2.Y), hi(q1.Y, q2.Y)) > max(lo(p1.Y, p2.Y), lo(q1.Y, q2.Y))
}

// dissolve combines polys into one geometry, taking the union of any
// parts that intersect. Disjoint parts are kept as they are.
func dissolve(polys []geom.Polygon) geom.MultiPolygon {
	var out geom.MultiPolygon
	for _, p := range polys {
		merged := p
		for i := 0; i < len(out); {
			if Intersects(out[i], merged) {
				merged = merged.Union(out[i])
				out = append(out[:i], out[i+1:]...)
				continue
			}
			i++
		}
		out = append(out, merged)
	}
	return out
}

// flatten returns the rings of every part of mp as a single polygon,
// which is how shapefiles store multi-part polygons.
func flatten(mp geom.MultiPolygon) geom.Polygon {
	var out geom.Polygon
	for _, p := range mp {
		out = append(out, p...)
	}
	return out
}

// splitParts reverses flatten. Rings nested within an even number of
// other rings are outer rings; the rest are holes of the innermost outer
// ring that contains them.
func splitParts(p geom.Polygon) geom.MultiPolygon {
	depth := make([]int, len(p))
	parent := make([]int, len(p))
	for i, r := range p {
		parent[i] = -1
		for j, other := range p {
			if i == j || !ringWithin(r, other) {
				continue
			}
			depth[i]++
		}
	}
	var out geom.MultiPolygon
	part := make(map[int]int)
	for i, r := range p {
		if depth[i]%2 == 0 {
			part[i] = len(out)
			out = append(out, geom.Polygon{r})
		}
	}
	for i, r := range p {
		if depth[i]%2 == 0 {
			continue
		}
		for j, other := range p {
			if depth[j] == depth[i]-1 && ringWithin(r, other) {
				parent[i] = j
				break
			}
		}
		if parent[i] < 0 {
			part[i] = len(out)
			out = append(out, geom.Polygon{r})
			continue
		}
		k := part[parent[i]]
		out[k] = append(out[k], r)
	}
	return out
}

// ringWithin reports whether ring a lies inside ring b, judged by the
// first vertex of a that is not on the boundary of b.
func ringWithin(a, b []geom.Point) bool {
	pb := geom.Polygon{b}
	for _, pt := range a {
		switch pt.Within(pb) {
		case geom.Inside:
			return true
		case geom.Outside:
			return false
		}
	}
	return false
}

// transformParts applies t to every part of mp.
func transformParts(mp geom.MultiPolygon, t proj.Transformer) (geom.MultiPolygon, error) {
	out := make(geom.MultiPolygon, len(mp))
	for i, p := range mp {
		g, err := p.Transform(t)
		if err != nil {
			return nil, err
		}
		out[i] = g.(geom.Polygon)
	}
	return out, nil
}
