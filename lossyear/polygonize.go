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
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/decentexposure/leaf/raster"
)

// Polygon is a maximal 8-connected group of pixels that share the same
// loss year. The first ring is the outer boundary and any others are
// holes.
type Polygon struct {
	geom.Polygon
	Year   int
	Pixels int
}

// Polygonize returns one Polygon for each 8-connected group of equal,
// nonzero pixels in g. Pixels that are zero, NaN or no-data are excluded.
// Polygons are ordered by the row-major position of their first pixel
// and their vertices are in the coordinates of g.
func Polygonize(g *raster.Grid) []*Polygon {
	label := make([]int32, len(g.Values))
	for i := range label {
		label[i] = -1
	}
	var (
		out   []*Polygon
		stack []int
	)
	for start, v := range g.Values {
		if label[start] >= 0 || v == 0 || math.IsNaN(v) || g.IsNoData(v) {
			continue
		}
		id := int32(len(out))
		label[start] = id
		stack = append(stack[:0], start)
		var pixels []int
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pixels = append(pixels, p)
			r, c := p/g.Cols, p%g.Cols
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					rr, cc := r+dr, c+dc
					if rr < 0 || cc < 0 || rr >= g.Rows || cc >= g.Cols {
						continue
					}
					q := rr*g.Cols + cc
					if label[q] < 0 && g.Values[q] == v {
						label[q] = id
						stack = append(stack, q)
					}
				}
			}
		}
		sort.Ints(pixels)

		rings := traceRings(g.Rows, g.Cols, label, id, pixels)
		poly := make(geom.Polygon, len(rings))
		for i, ring := range rings {
			path := make([]geom.Point, len(ring)+1)
			for j, vtx := range ring {
				x, y := g.Geo.Apply(float64(vtx%(g.Cols+1)), float64(vtx/(g.Cols+1)))
				path[j] = geom.Point{X: x, Y: y}
			}
			path[len(ring)] = path[0]
			poly[i] = path
		}
		out = append(out, &Polygon{Polygon: poly, Year: Year(v), Pixels: len(pixels)})
	}
	return out
}

type edge struct {
	from, to int
	dx, dy   int
}

// turn is negative when b turns left from a on a north-up grid.
func turn(a, b edge) int { return a.dx*b.dy - a.dy*b.dx }

// traceRings returns the boundary rings of the pixels labeled id as
// sequences of vertex indices into the (rows+1)×(cols+1) corner grid.
// Boundary edges keep the component on the same side, and where two
// diagonal pixels meet at a corner the left turn is taken, which keeps
// diagonal neighbors in one ring. pixels must be sorted, so that the
// first ring is the outer one.
func traceRings(rows, cols int, label []int32, id int32, pixels []int) [][]int {
	in := func(r, c int) bool {
		return r >= 0 && c >= 0 && r < rows && c < cols && label[r*cols+c] == id
	}
	vid := func(r, c int) int { return r*(cols+1) + c }
	var edges []edge
	out := make(map[int][]int)
	add := func(r0, c0, r1, c1 int) {
		e := edge{from: vid(r0, c0), to: vid(r1, c1), dx: c1 - c0, dy: r1 - r0}
		out[e.from] = append(out[e.from], len(edges))
		edges = append(edges, e)
	}
	for _, p := range pixels {
		r, c := p/cols, p%cols
		if !in(r-1, c) {
			add(r, c, r, c+1)
		}
		if !in(r, c+1) {
			add(r, c+1, r+1, c+1)
		}
		if !in(r+1, c) {
			add(r+1, c+1, r+1, c)
		}
		if !in(r, c-1) {
			add(r+1, c, r, c)
		}
	}

	used := make([]bool, len(edges))
	var rings [][]int
	for i := range edges {
		if used[i] {
			continue
		}
		var ring []int
		for e := i; !used[e]; {
			used[e] = true
			ring = append(ring, edges[e].from)
			next := out[edges[e].to]
			n := next[0]
			if len(next) == 2 && turn(edges[e], edges[next[1]]) < 0 {
				n = next[1]
			}
			e = n
		}
		rings = append(rings, dropCollinear(ring, cols+1))
	}
	return rings
}

// dropCollinear removes ring vertices where the boundary runs straight
// through. w is the width of the corner grid.
func dropCollinear(ring []int, w int) []int {
	n := len(ring)
	if n < 3 {
		return ring
	}
	out := make([]int, 0, n)
	for i, v := range ring {
		p, q := ring[(i+n-1)%n], ring[(i+1)%n]
		d1x, d1y := v%w-p%w, v/w-p/w
		d2x, d2y := q%w-v%w, q/w-v/w
		if d1x*d2y-d1y*d2x != 0 {
			out = append(out, v)
		}
	}
	return out
}
