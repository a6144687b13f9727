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
	"math"
	"sort"
)

// RollUp combines unit records that share an asset ID into one asset. The
// combined asset has the earliest start year, the smallest capacity and
// the sum of the unit counts. Its other attributes are those of the first
// unit. Assets are returned in order of first appearance.
func RollUp(units []*Asset) []*Asset {
	var out []*Asset
	byID := make(map[string]*Asset, len(units))
	for _, u := range units {
		a, ok := byID[u.ID]
		if !ok {
			c := *u
			c.Attrs = make(map[string]string, len(u.Attrs))
			for k, v := range u.Attrs {
				c.Attrs[k] = v
			}
			byID[u.ID] = &c
			out = append(out, &c)
			continue
		}
		if u.StartYear != 0 && (a.StartYear == 0 || u.StartYear < a.StartYear) {
			a.StartYear = u.StartYear
		}
		if !math.IsNaN(u.Capacity) && (math.IsNaN(a.Capacity) || u.Capacity < a.Capacity) {
			a.Capacity = u.Capacity
		}
		a.Units += u.Units
	}
	return out
}

// Rank returns the n rows of t with the largest values in column. Rows
// with missing values sort last and ties keep table order. All rows are
// returned if n is not positive.
func Rank(t *ExposureTable, column string, n int) ([]*Exposure, error) {
	vals, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := vals[idx[i]], vals[idx[j]]
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a > b
	})
	if n <= 0 || n > len(idx) {
		n = len(idx)
	}
	out := make([]*Exposure, n)
	for i := range out {
		out[i] = t.Rows[idx[i]]
	}
	return out, nil
}
