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

package raster

import (
	"fmt"
	"strings"

	"github.com/ctessum/geom/proj"
)

var epsgDefs = map[int]string{
	4326: WGS84,
	4269: "+proj=longlat +ellps=GRS80 +datum=NAD83 +no_defs",
	4258: "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs",
	3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +no_defs",
	3395: "+proj=merc +lon_0=0 +k=1 +x_0=0 +y_0=0 +ellps=WGS84 +datum=WGS84 +units=m +no_defs",
	3347: "+proj=lcc +lat_1=49 +lat_2=77 +lat_0=63.390675 +lon_0=-91.86666666666666 +x_0=6200000 +y_0=3000000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
}

// EPSG returns the proj4 definition of the given EPSG code. WGS84 UTM
// zones (326xx and 327xx) are generated.
func EPSG(code int) (string, error) {
	if d, ok := epsgDefs[code]; ok {
		return d, nil
	}
	switch {
	case code > 32600 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +ellps=WGS84 +datum=WGS84 +units=m +no_defs", code-32600), nil
	case code > 32700 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +ellps=WGS84 +datum=WGS84 +units=m +no_defs", code-32700), nil
	}
	return "", fmt.Errorf("raster: unsupported EPSG code %d", code)
}

// ParseCRS parses a proj4 or WKT definition. An empty definition is
// taken to be WGS84 geographic coordinates.
func ParseCRS(def string) (*proj.SR, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		def = WGS84
	}
	if strings.HasPrefix(strings.ToUpper(def), "EPSG:") {
		var code int
		if _, err := fmt.Sscanf(def[5:], "%d", &code); err != nil {
			return nil, fmt.Errorf("raster: invalid CRS %q", def)
		}
		d, err := EPSG(code)
		if err != nil {
			return nil, err
		}
		def = d
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("raster: parsing CRS %q: %w", def, err)
	}
	return sr, nil
}
