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

package leafutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/decentexposure/leaf"
	"github.com/decentexposure/leaf/lossyear"
	"github.com/decentexposure/leaf/raster"
	"github.com/decentexposure/leaf/tiles"
	"github.com/sirupsen/logrus"
)

// TileNames returns the file names of the configured layers at the
// configured latitude and longitude.
func TileNames(c *Config) []string {
	n := c.namer()
	out := make([]string, len(c.Layers))
	for i, l := range c.Layers {
		out[i] = n.Filename(l, c.Latitude, c.Longitude)
	}
	return out
}

// Fetch downloads the tiles of the configured layers that cover the
// configured extent and returns their local paths.
func Fetch(ctx context.Context, c *Config) ([]string, error) {
	if c.LatMax < c.LatMin || c.LonMax < c.LonMin {
		return nil, fmt.Errorf("leaf: invalid extent %g–%g°N, %g–%g°E", c.LatMin, c.LatMax, c.LonMin, c.LonMax)
	}
	var names []string
	for _, t := range c.namer().Range(c.LatMin, c.LatMax, c.LonMin, c.LonMax, c.Layers...) {
		names = append(names, t.Name)
	}
	return c.cache().Fetch(ctx, names)
}

func checkOutput(path string) error {
	if path == "" {
		return fmt.Errorf("leaf: no output file is configured")
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return fmt.Errorf("leaf: the output directory doesn't exist: %v", err)
	}
	return nil
}

// Clip writes the configured window of the input raster to the output
// GeoTIFF.
func Clip(c *Config) error {
	if err := checkOutput(c.Output); err != nil {
		return err
	}
	f, err := raster.Open(c.Input)
	if err != nil {
		return err
	}
	defer f.Close()
	w := c.Window
	if w.Width == 0 || w.Height == 0 {
		w = raster.Window{Width: f.Width(), Height: f.Height()}
	}
	g, err := f.ReadWindow(w)
	if err != nil {
		return err
	}
	opts := raster.WriteOptions{Type: raster.Uint8, Deflate: true, Predictor: true}
	for _, v := range g.Values {
		if v != math.Trunc(v) || v < 0 || v > 255 {
			opts = raster.WriteOptions{Type: raster.Float64, Deflate: true}
			break
		}
	}
	if err := raster.WriteGeoTIFF(c.Output, g, opts); err != nil {
		return err
	}
	c.Log.WithFields(logrus.Fields{"input": c.Input, "window": w.String(), "output": c.Output}).Info("clipped raster")
	return nil
}

func (c *Config) builder() *lossyear.Builder {
	return &lossyear.Builder{Years: c.Years, AreaCRS: c.AreaProj, CacheDir: c.ClusterCache, Log: c.Log}
}

// Clusters groups the loss in the configured window of the input
// loss-year raster into clusters and writes them to the output, which may
// be a shapefile or a GeoJSON file.
func Clusters(ctx context.Context, c *Config) (*lossyear.Table, error) {
	if err := checkOutput(c.Output); err != nil {
		return nil, err
	}
	t, err := c.builder().Build(ctx, c.Input, c.Window)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(c.Output)) {
	case ".shp":
		err = t.WriteShapefile(c.Output)
	case ".geojson", ".json":
		var f *os.File
		if f, err = os.Create(c.Output); err != nil {
			return nil, err
		}
		if err = t.WriteGeoJSON(f); err != nil {
			f.Close()
			return nil, err
		}
		err = f.Close()
	default:
		err = fmt.Errorf("leaf: cluster output %s must be a .shp or .geojson file", c.Output)
	}
	return t, err
}

// AreaResult is the cluster loss at a location.
type AreaResult struct {
	// Found is whether the location is within a cluster in the year.
	Found bool
	Area  float64

	// Closest is the nearest cluster row when the location is not within
	// one.
	Closest    lossyear.Row
	HasClosest bool
}

// Area looks up the loss area of the configured year at the configured
// location. The input is a cluster shapefile or a loss-year raster.
func Area(ctx context.Context, c *Config) (*AreaResult, error) {
	var (
		t   *lossyear.Table
		err error
	)
	if strings.EqualFold(filepath.Ext(c.Input), ".shp") {
		t, err = lossyear.ReadShapefile(c.Input)
	} else {
		t, err = c.builder().Build(ctx, c.Input, c.Window)
	}
	if err != nil {
		return nil, err
	}
	r := new(AreaResult)
	if r.Area, r.Found, err = t.AreaAt(c.Latitude, c.Longitude, c.Year); err != nil || r.Found {
		return r, err
	}
	r.Closest, r.HasClosest, err = t.Closest(c.Latitude, c.Longitude)
	return r, err
}

func (r *AreaResult) write(w io.Writer, c *Config) {
	switch {
	case r.Found:
		fmt.Fprintf(w, "%g m² of loss in %d at (%g, %g)\n", r.Area, c.Year, c.Latitude, c.Longitude)
	case r.HasClosest:
		fmt.Fprintf(w, "no loss in %d at (%g, %g); the closest cluster is %d with %g m² in %d\n",
			c.Year, c.Latitude, c.Longitude, r.Closest.Cluster, r.Closest.Area, r.Closest.Year)
	default:
		fmt.Fprintf(w, "no loss at (%g, %g)\n", c.Latitude, c.Longitude)
	}
}

// assetTiles returns the names of the tiles of layer that contain the
// assets, in order of first appearance.
func assetTiles(n tiles.Namer, layer tiles.Layer, assets []*leaf.Asset) []string {
	var names []string
	seen := make(map[string]bool)
	for _, a := range assets {
		if math.IsNaN(a.Latitude) || math.IsNaN(a.Longitude) {
			continue
		}
		name := n.Filename(layer, a.Latitude, a.Longitude)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// fetchTiles returns the local paths of the tiles of layer that contain
// the assets. Tiles that cannot be fetched are logged and skipped.
func (c *Config) fetchTiles(ctx context.Context, layer tiles.Layer, assets []*leaf.Asset) ([]string, error) {
	paths, err := c.cache().Fetch(ctx, assetTiles(c.namer(), layer, assets))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.Log.WithError(err).WithField("layer", layer.String()).Warn("some tiles are unavailable; their assets will not be sampled")
	}
	return paths, nil
}

// Sample reads the asset table, samples the loss-year and baseline tiles
// that contain the assets and writes the augmented table to the output.
func Sample(ctx context.Context, c *Config) (*leaf.AssetTable, error) {
	if err := checkOutput(c.Output); err != nil {
		return nil, err
	}
	opts := c.readOptions()
	opts.Baseline = ""
	table, err := leaf.ReadAssets(c.Assets, opts)
	if err != nil {
		return nil, err
	}
	lossPaths, err := c.fetchTiles(ctx, tiles.LossYear, table.Assets)
	if err != nil {
		return nil, err
	}
	basePaths, err := c.fetchTiles(ctx, c.BaselineLayer, table.Assets)
	if err != nil {
		return nil, err
	}

	ns := &leaf.NeighborhoodSampler{Offset: c.Offset, Years: c.Years, Log: c.Log}
	for _, p := range lossPaths {
		if err := sampleFile(p, func(src raster.Source) error {
			_, err := ns.Sample(table, src)
			return err
		}); err != nil {
			return nil, err
		}
	}
	// Every sampled table has year columns, even if no asset was within
	// a tile.
	table.Years = c.Years
	bs := &leaf.BaselineSampler{Name: c.BaselineLayer.String(), Log: c.Log}
	for _, p := range basePaths {
		if err := sampleFile(p, func(src raster.Source) error {
			_, err := bs.Sample(table, src)
			return err
		}); err != nil {
			return nil, err
		}
	}
	table.BaselineName = c.BaselineLayer.String()
	if err := writeCSV(c.Output, table.WriteCSV); err != nil {
		return nil, err
	}
	return table, nil
}

func sampleFile(path string, sample func(raster.Source) error) error {
	f, err := raster.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := sample(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// delimiter returns the field delimiter for a table file.
func delimiter(path string) rune {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab", ".txt":
		return '\t'
	}
	return ','
}

func writeCSV(path string, write func(io.Writer, rune) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("leaf: %v: %w", err, leaf.ErrIO)
	}
	if err := write(f, delimiter(path)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("leaf: %v: %w", err, leaf.ErrIO)
	}
	return nil
}

// readSampled reads an asset table written by Sample.
func readSampled(c *Config) (*leaf.AssetTable, error) {
	return leaf.ReadAssets(c.Assets, c.readOptions())
}

// Aggregate computes the exposure of the assets in a sampled asset table
// and writes it to path.
func Aggregate(c *Config, table *leaf.AssetTable, path string) (*leaf.ExposureTable, error) {
	if err := checkOutput(path); err != nil {
		return nil, err
	}
	out, err := c.aggregator().Aggregate(table)
	if err != nil {
		return nil, err
	}
	return out, writeCSV(path, out.WriteCSV)
}

// Rank writes the configured number of assets with the largest values
// of the configured exposure column.
func Rank(c *Config, w io.Writer) error {
	table, err := readSampled(c)
	if err != nil {
		return err
	}
	exp, err := c.aggregator().Aggregate(table)
	if err != nil {
		return err
	}
	top, err := leaf.Rank(exp, c.RankBy, c.Top)
	if err != nil {
		return err
	}
	for i, e := range top {
		v := e.Values[c.RankBy]
		if math.IsNaN(v) {
			break
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%g\n", i+1, e.ID, e.Sector, e.Country, v)
	}
	return nil
}

// Run samples the assets and computes their exposure, writing the
// sampled table to the output and the exposure table to the exposure
// output.
func Run(ctx context.Context, c *Config) error {
	if c.ExposureOutput == "" {
		return errors.New("leaf: no exposure output file is configured")
	}
	table, err := Sample(ctx, c)
	if err != nil {
		return err
	}
	_, err = Aggregate(c, table, c.ExposureOutput)
	return err
}
