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

// Package tiles names the 10°×10° Global Forest Change raster tiles and
// keeps a local copy of the ones that are needed.
package tiles

import (
	"fmt"
	"math"
	"os"
	"strings"
)

// Layer is a Global Forest Change data layer.
type Layer int

// The Global Forest Change layers.
const (
	LossYear Layer = iota
	TreeCover2000
	Gain
	DataMask
	FirstYear
	LastYear
)

var layerNames = [...]string{"lossyear", "treecover2000", "gain", "datamask", "first", "last"}

func (l Layer) String() string {
	if l < 0 || int(l) >= len(layerNames) {
		return fmt.Sprintf("Layer(%d)", int(l))
	}
	return layerNames[l]
}

// ParseLayer returns the layer with the given name.
func ParseLayer(name string) (Layer, error) {
	for i, n := range layerNames {
		if strings.EqualFold(n, name) {
			return Layer(i), nil
		}
	}
	return 0, fmt.Errorf("tiles: unknown layer %q; valid layers are %s", name, strings.Join(layerNames[:], ", "))
}

const (
	// DefaultTemplate is the file name template of the Global Forest
	// Change 2022 release. ${layer}, ${lat} and ${long} are replaced.
	DefaultTemplate = "Hansen_GFC-2022-v1.10_${layer}_${lat}_${long}.tif"

	// DefaultSource is where DefaultTemplate files are published.
	DefaultSource = "https://storage.googleapis.com/earthenginepartners-hansen/GFC-2022-v1.10"

	// DefaultStep is the tile size in degrees.
	DefaultStep = 10
)

func ceilStep(v float64, step int) int  { return int(math.Ceil(v/float64(step))) * step }
func floorStep(v float64, step int) int { return int(math.Floor(v/float64(step))) * step }

func latLabel(north int) string {
	if north < 0 {
		return fmt.Sprintf("%02dS", -north)
	}
	return fmt.Sprintf("%02dN", north)
}

func lonLabel(west int) string {
	if west < 0 {
		return fmt.Sprintf("%03dW", -west)
	}
	return fmt.Sprintf("%03dE", west)
}

// Label returns the labels of the tile of size step degrees that
// contains (lat, lon). Tiles are labeled by their north-west corner, so
// the latitude is rounded up and the longitude down to a multiple of
// step, e.g. (-25.3, -55.1) is in tile ("20S", "060W"). Coordinates on a
// tile edge belong to the tile to their south and east.
func Label(lat, lon float64, step int) (string, string) {
	if step <= 0 {
		step = DefaultStep
	}
	return latLabel(ceilStep(lat, step)), lonLabel(floorStep(lon, step))
}

// Tile is one raster file of a layer.
type Tile struct {
	Layer Layer
	// North and West are the edges of the tile in degrees.
	North, West int
	Name        string
}

// Namer creates tile file names.
type Namer struct {
	// Template defaults to DefaultTemplate.
	Template string
	// Step defaults to DefaultStep.
	Step int
}

func (n Namer) step() int {
	if n.Step <= 0 {
		return DefaultStep
	}
	return n.Step
}

func (n Namer) name(layer Layer, north, west int) string {
	t := n.Template
	if t == "" {
		t = DefaultTemplate
	}
	return os.Expand(t, func(key string) string {
		switch key {
		case "layer":
			return layer.String()
		case "lat":
			return latLabel(north)
		case "long", "lon":
			return lonLabel(west)
		}
		return "${" + key + "}"
	})
}

// Filename returns the name of the file of layer that contains
// (lat, lon).
func (n Namer) Filename(layer Layer, lat, lon float64) string {
	return n.name(layer, ceilStep(lat, n.step()), floorStep(lon, n.step()))
}

// Range returns the tiles of layers that cover the given extent,
// ordered by layer, then from north to south and west to east.
func (n Namer) Range(latMin, latMax, lonMin, lonMax float64, layers ...Layer) []Tile {
	s := n.step()
	var out []Tile
	for _, l := range layers {
		for north := ceilStep(latMax, s); north >= ceilStep(latMin, s); north -= s {
			for west := floorStep(lonMin, s); west <= floorStep(lonMax, s); west += s {
				out = append(out, Tile{Layer: l, North: north, West: west, Name: n.name(l, north, west)})
			}
		}
	}
	return out
}
