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

// Package leaf estimates how exposed physical assets are to nearby forest
// loss. Assets are located on annual loss-year rasters, the proportion of
// loss around each asset is sampled year by year, and the resulting
// profiles are summarized in windows anchored at each asset's start year.
package leaf

import (
	"errors"

	"github.com/decentexposure/leaf/raster"
)

// Version is the version of Leaf.
const Version = "0.3.0"

var (
	// ErrIO is returned, wrapped, when a raster or table cannot be read.
	ErrIO = raster.ErrIO

	// ErrPrecondition is returned, wrapped, when input violates a
	// requirement, such as asset IDs that must be unique but are not, or
	// a missing required column.
	ErrPrecondition = errors.New("precondition failed")
)

// DefaultOffset is the half-width in pixels of the neighborhood window.
const DefaultOffset = 16
