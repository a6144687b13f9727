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

// Package lossyear converts loss-year rasters into polygons and groups
// overlapping polygons into loss clusters with an area for every year.
package lossyear

import (
	"errors"
	"fmt"
)

// BaseYear is added to loss-year pixel values to give calendar years.
const BaseYear = 2000

// ErrGeometry is returned, wrapped, when a geometry cannot be reprojected
// or a location matches more than one cluster.
var ErrGeometry = errors.New("geometry error")

// Years is an inclusive range of calendar years.
type Years struct {
	First, Last int
}

// Default is the range covered by version 1.10 of the Hansen
// Global Forest Change data.
var Default = Years{First: 2001, Last: 2022}

// Year returns the calendar year encoded by a loss-year pixel value.
func Year(value float64) int { return int(value) + BaseYear }

// Validate returns an error if the range is empty.
func (y Years) Validate() error {
	if y.Last < y.First {
		return fmt.Errorf("lossyear: invalid year range %d–%d", y.First, y.Last)
	}
	return nil
}

// Contains reports whether year is within the range.
func (y Years) Contains(year int) bool { return year >= y.First && year <= y.Last }

// Len returns the number of years in the range.
func (y Years) Len() int { return y.Last - y.First + 1 }

// List returns every year in the range in increasing order.
func (y Years) List() []int {
	out := make([]int, 0, y.Len())
	for yr := y.First; yr <= y.Last; yr++ {
		out = append(out, yr)
	}
	return out
}

func (y Years) String() string { return fmt.Sprintf("%d-%d", y.First, y.Last) }
