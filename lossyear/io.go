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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/decentexposure/leaf/raster"
	goshp "github.com/jonas-p/go-shp"
)

// WriteShapefile writes the table to path, replacing any shapefile that
// is already there. Each row becomes one record with fields cluster, year
// and area. The table CRS is written to the .prj file as it is.
func (t *Table) WriteShapefile(path string) error {
	base := strings.TrimSuffix(path, ".shp")
	for _, ext := range []string{".shp", ".prj", ".dbf", ".shx"} {
		os.Remove(base + ext)
	}
	e, err := shp.NewEncoderFromFields(base+".shp", goshp.POLYGON,
		goshp.NumberField("cluster", 10),
		goshp.NumberField("year", 4),
		goshp.FloatField("area", 24, 4),
	)
	if err != nil {
		return fmt.Errorf("lossyear: creating shapefile: %v: %w", err, raster.ErrIO)
	}
	for _, r := range t.Rows {
		if err := e.EncodeFields(flatten(r.Geometry), r.Cluster, r.Year, r.Area); err != nil {
			e.Close()
			return fmt.Errorf("lossyear: writing cluster %d, year %d: %v: %w", r.Cluster, r.Year, err, raster.ErrIO)
		}
	}
	e.Close()
	if t.CRS != "" {
		if err := os.WriteFile(base+".prj", []byte(t.CRS), 0644); err != nil {
			return fmt.Errorf("lossyear: %v: %w", err, raster.ErrIO)
		}
	}
	return nil
}

// ReadShapefile reads a table written by WriteShapefile.
func ReadShapefile(path string) (*Table, error) {
	base := strings.TrimSuffix(path, ".shp")
	d, err := shp.NewDecoder(base + ".shp")
	if err != nil {
		return nil, fmt.Errorf("lossyear: opening shapefile: %v: %w", err, raster.ErrIO)
	}
	defer d.Close()

	t := new(Table)
	if b, err := os.ReadFile(base + ".prj"); err == nil {
		t.CRS = strings.TrimSpace(string(b))
	}
	for {
		g, fields, more := d.DecodeRowFields("cluster", "year", "area")
		if !more {
			break
		}
		if d.Error() != nil {
			break
		}
		p, ok := g.(geom.Polygon)
		if !ok {
			return nil, fmt.Errorf("lossyear: shapefile record %d has geometry %T: %w", len(t.Rows), g, ErrGeometry)
		}
		var r Row
		if r.Cluster, err = strconv.Atoi(strings.TrimSpace(fields["cluster"])); err != nil {
			return nil, fmt.Errorf("lossyear: record %d cluster: %v: %w", len(t.Rows), err, raster.ErrIO)
		}
		if r.Year, err = strconv.Atoi(strings.TrimSpace(fields["year"])); err != nil {
			return nil, fmt.Errorf("lossyear: record %d year: %v: %w", len(t.Rows), err, raster.ErrIO)
		}
		if r.Area, err = strconv.ParseFloat(strings.TrimSpace(fields["area"]), 64); err != nil {
			return nil, fmt.Errorf("lossyear: record %d area: %v: %w", len(t.Rows), err, raster.ErrIO)
		}
		r.Geometry = splitParts(p)
		t.Rows = append(t.Rows, r)
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("lossyear: reading shapefile: %v: %w", err, raster.ErrIO)
	}
	return t, nil
}

type feature struct {
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// WriteGeoJSON writes the table to w as a GeoJSON FeatureCollection of
// MultiPolygon features in WGS84 longitude and latitude.
func (t *Table) WriteGeoJSON(w io.Writer) error {
	src, err := raster.ParseCRS(t.CRS)
	if err != nil {
		return err
	}
	wgs, err := raster.ParseCRS(raster.WGS84)
	if err != nil {
		return err
	}
	ct, err := src.NewTransform(wgs)
	if err != nil {
		return fmt.Errorf("lossyear: %w", err)
	}
	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(t.Rows))}
	for _, r := range t.Rows {
		g, err := transformParts(r.Geometry, ct)
		if err != nil {
			return fmt.Errorf("lossyear: cluster %d, year %d: %v: %w", r.Cluster, r.Year, err, ErrGeometry)
		}
		coords := make([]interface{}, 0, len(r.Geometry))
		for _, p := range g {
			gj, err := geojson.ToGeoJSON(p)
			if err != nil {
				return fmt.Errorf("lossyear: %w", err)
			}
			coords = append(coords, gj.Coordinates)
		}
		fc.Features = append(fc.Features, feature{
			Type:     "Feature",
			Geometry: &geojson.Geometry{Type: "MultiPolygon", Coordinates: coords},
			Properties: map[string]any{
				"cluster": r.Cluster,
				"year":    r.Year,
				"area":    r.Area,
			},
		})
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(fc); err != nil {
		return fmt.Errorf("lossyear: %v: %w", err, raster.ErrIO)
	}
	return nil
}
