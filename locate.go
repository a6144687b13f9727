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
	"fmt"

	"github.com/decentexposure/leaf/raster"
)

// Location is the pixel that an asset falls within.
type Location struct {
	ID       string
	Row, Col int
}

// InWindow reports whether a window of half-width offset centered on loc
// lies entirely within a height×width raster.
func InWindow(loc Location, height, width, offset int) bool {
	return loc.Row >= offset && loc.Row < height-offset &&
		loc.Col >= offset && loc.Col < width-offset
}

// InGrid reports whether loc is a pixel of a height×width raster.
func InGrid(loc Location, height, width int) bool {
	return InWindow(loc, height, width, 0)
}

// Locate finds the pixel of src that each asset falls within. Asset
// coordinates are WGS84 latitude and longitude. Assets whose coordinates
// are missing or cannot be projected get row and column -1.
func Locate(assets []*Asset, src raster.Source) ([]Location, error) {
	wgs, err := raster.ParseCRS(raster.WGS84)
	if err != nil {
		return nil, err
	}
	dst, err := raster.ParseCRS(src.CRS())
	if err != nil {
		return nil, fmt.Errorf("leaf: locating assets: %w", err)
	}
	xs := make([]float64, len(assets))
	ys := make([]float64, len(assets))
	for i, a := range assets {
		xs[i], ys[i] = a.Longitude, a.Latitude
	}
	px, py, err := raster.Reproject(wgs, dst, xs, ys)
	if err != nil {
		return nil, fmt.Errorf("leaf: locating assets: %w", err)
	}
	geo := src.Transform()
	locs := make([]Location, len(assets))
	for i, a := range assets {
		row, col := geo.RowCol(px[i], py[i])
		locs[i] = Location{ID: a.ID, Row: row, Col: col}
	}
	return locs, nil
}
