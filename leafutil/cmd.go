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

// Package leafutil contains the Leaf command-line interface.
package leafutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/decentexposure/leaf"
	"github.com/decentexposure/leaf/lossyear"
	"github.com/decentexposure/leaf/tiles"
	"github.com/lnashier/viper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

// closeLog closes the log file, if there is one.
var closeLog = func() error { return nil }

// ctx is the context of the command being run.
var ctx = context.Background()

// Execute runs the command given by the command-line arguments. Downloads
// and other long-running work stop when c is canceled.
func Execute(c context.Context) error {
	ctx = c
	return Root.Execute()
}

func init() {
	tileSets := []*pflag.FlagSet{tileCmd.Flags(), fetchCmd.Flags(), sampleCmd.Flags(), runCmd.Flags()}
	assetSets := []*pflag.FlagSet{sampleCmd.Flags(), aggregateCmd.Flags(), rankCmd.Flags(), runCmd.Flags()}
	exposureSets := []*pflag.FlagSet{aggregateCmd.Flags(), rankCmd.Flags(), runCmd.Flags()}

	// Options are the configuration options available to Leaf.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log_level",
			usage: `
              log_level is the minimum level of log messages that are
              printed: debug, info, warn or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log_file",
			usage: `
              log_file, if set, is a file that log messages are written
              to in addition to standard output.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "tile_dir",
			usage: `
              tile_dir is the directory that downloaded tiles are kept in.`,
			defaultVal: "${HOME}/.cache/leaf/hansen",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), sampleCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "tile_url",
			usage: `
              tile_url is where tiles are downloaded from. It can be an
              http(s) URL or a gs://, s3:// or file:// bucket URL.`,
			defaultVal: tiles.DefaultSource,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), sampleCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "tile_template",
			usage: `
              tile_template is the tile file name template. ${layer},
              ${lat} and ${long} are replaced by the layer name and the
              labels of the north-west corner of the tile.`,
			defaultVal: tiles.DefaultTemplate,
			flagsets:   tileSets,
		},
		{
			name: "tile_step",
			usage: `
              tile_step is the size of the tiles in degrees.`,
			defaultVal: tiles.DefaultStep,
			flagsets:   tileSets,
		},
		{
			name: "tile_workers",
			usage: `
              tile_workers is the maximum number of concurrent downloads.`,
			defaultVal: tiles.DefaultWorkers,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), sampleCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "tile_retries",
			usage: `
              tile_retries is the number of times a failed download is
              retried.`,
			defaultVal: 3,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), sampleCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "layers",
			usage: `
              layers are the data layers to name or fetch tiles of.`,
			defaultVal: []string{tiles.LossYear.String(), tiles.TreeCover2000.String()},
			flagsets:   []*pflag.FlagSet{tileCmd.Flags(), fetchCmd.Flags()},
		},
		{
			name: "lat_min",
			usage: `
              lat_min is the southern edge of the extent to fetch.`,
			defaultVal: -10.0,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "lat_max",
			usage: `
              lat_max is the northern edge of the extent to fetch.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "lon_min",
			usage: `
              lon_min is the western edge of the extent to fetch.`,
			defaultVal: -60.0,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "lon_max",
			usage: `
              lon_max is the eastern edge of the extent to fetch.`,
			defaultVal: -50.0,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "latitude",
			usage: `
              latitude is the WGS84 latitude of the location of interest.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{tileCmd.Flags(), areaCmd.Flags()},
		},
		{
			name: "longitude",
			usage: `
              longitude is the WGS84 longitude of the location of interest.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{tileCmd.Flags(), areaCmd.Flags()},
		},
		{
			name: "year",
			usage: `
              year is the year of loss to look up.`,
			defaultVal: lossyear.Default.Last,
			flagsets:   []*pflag.FlagSet{areaCmd.Flags()},
		},
		{
			name: "assets",
			usage: `
              assets is the path of the asset table, a csv, tsv or xlsx
              file with at least id, latitude and longitude columns.`,
			defaultVal: "",
			flagsets:   assetSets,
		},
		{
			name: "id_column",
			usage: `
              id_column is the name of the asset ID column.`,
			defaultVal: "id",
			flagsets:   assetSets,
		},
		{
			name: "sheet",
			usage: `
              sheet is the worksheet to read from an xlsx asset table.
              The first sheet is read by default.`,
			defaultVal: "",
			flagsets:   assetSets,
		},
		{
			name: "rollup",
			usage: `
              rollup combines asset table rows that share an ID, as when
              each row is a unit of a larger asset.`,
			defaultVal: false,
			flagsets:   assetSets,
		},
		{
			name: "input",
			usage: `
              input is the raster, or for 'area' the raster or cluster
              shapefile, to read.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{clipCmd.Flags(), clustersCmd.Flags(), areaCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output is the path of the output file.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{clipCmd.Flags(), clustersCmd.Flags(), sampleCmd.Flags(), aggregateCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "exposure_output",
			usage: `
              exposure_output is the path that 'run' writes the exposure
              table to.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "offset",
			usage: `
              offset is the half-width in pixels of the square window
              that loss is measured in around each asset.`,
			defaultVal: leaf.DefaultOffset,
			flagsets:   []*pflag.FlagSet{sampleCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "min_year",
			usage: `
              min_year is the first year of loss data.`,
			defaultVal: lossyear.Default.First,
			flagsets:   []*pflag.FlagSet{clustersCmd.Flags(), areaCmd.Flags(), sampleCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "max_year",
			usage: `
              max_year is the last year of loss data.`,
			defaultVal: lossyear.Default.Last,
			flagsets:   []*pflag.FlagSet{clustersCmd.Flags(), areaCmd.Flags(), sampleCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "baseline_layer",
			usage: `
              baseline_layer is the layer sampled at each asset's pixel.`,
			defaultVal: tiles.TreeCover2000.String(),
			flagsets:   []*pflag.FlagSet{sampleCmd.Flags(), aggregateCmd.Flags(), rankCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "windows",
			usage: `
              windows are the odd sizes, in years, of the windows centered
              on each asset's start year that loss is summed over.`,
			defaultVal: []int{1, 3, 5, 7},
			flagsets:   exposureSets,
		},
		{
			name: "past",
			usage: `
              past are the sizes of the windows before each asset's start
              year that loss is summed over.`,
			defaultVal: []int{3},
			flagsets:   exposureSets,
		},
		{
			name: "forward",
			usage: `
              forward are the sizes of the windows after each asset's start
              year that loss is summed over.`,
			defaultVal: []int{3},
			flagsets:   exposureSets,
		},
		{
			name: "relative_years",
			usage: `
              relative_years is the number of years before and after each
              asset's start year that get a column of their own.`,
			defaultVal: 3,
			flagsets:   exposureSets,
		},
		{
			name: "expressions",
			usage: `
              expressions are derived exposure columns, given as a map of
              column names to expressions of start_year, capacity,
              baseline, latitude, longitude, number_units and the
              exposure columns, e.g. {"weighted":"around_3 * capacity"}.`,
			defaultVal: map[string]string{},
			flagsets:   exposureSets,
		},
		{
			name: "area_proj",
			usage: `
              area_proj is the equal-area projection that cluster areas
              are calculated in.`,
			defaultVal: lossyear.DefaultAreaCRS,
			flagsets:   []*pflag.FlagSet{clustersCmd.Flags(), areaCmd.Flags()},
		},
		{
			name: "cluster_cache",
			usage: `
              cluster_cache is a directory that cluster tables are kept in
              between runs. By default they are only kept in memory.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{clustersCmd.Flags(), areaCmd.Flags()},
		},
		{
			name: "window",
			usage: `
              window is the part of the input raster to read, as
              [colOff, rowOff, width, height]. The whole raster is read
              by default.`,
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{clipCmd.Flags(), clustersCmd.Flags(), areaCmd.Flags()},
		},
		{
			name: "top",
			usage: `
              top is the number of assets listed by 'rank'.`,
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{rankCmd.Flags()},
		},
		{
			name: "rank_by",
			usage: `
              rank_by is the exposure column that 'rank' sorts by.`,
			defaultVal: "defo_total",
			flagsets:   []*pflag.FlagSet{rankCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("LEAF")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case []int:
				set.IntSliceP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				json.NewEncoder(b).Encode(v)
				set.StringP(option.name, option.shorthand, b.String(), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}

	// Link the commands together.
	Root.AddCommand(versionCmd, configCmd, tileCmd, fetchCmd, clipCmd, clustersCmd,
		areaCmd, sampleCmd, aggregateCmd, rankCmd, runCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets up logging.
func setConfig(cmd *cobra.Command) error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("leaf: problem reading configuration file: %v", err)
		}
	}
	c, err := setLog(Cfg, cmd.OutOrStderr())
	if err != nil {
		return err
	}
	closeLog = c
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "leaf",
	Short: "Exposure of physical assets to nearby forest loss.",
	Long: `Leaf measures how much forest was lost around physical assets, such
as power plants and mines, in the years around when they started operating.
Use the subcommands specified below to access the functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'LEAF_var' where 'var' is the
name of the variable to be set. File paths may contain environment variables.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag:  true,
	SilenceUsage:       true,
	PersistentPreRunE:  func(cmd *cobra.Command, _ []string) error { return setConfig(cmd) },
	PersistentPostRunE: func(*cobra.Command, []string) error { return closeLog() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Leaf.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Leaf v%s\n", leaf.Version)
	},
	DisableAutoGenTag: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration",
	Long: `config prints the value of every configuration option, after the
configuration file, environment variables and flags have been applied,
in the format of a configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfig(cmd.OutOrStdout(), Cfg)
	},
	DisableAutoGenTag: true,
}

var tileCmd = &cobra.Command{
	Use:   "tile",
	Short: "Name the tiles containing a location",
	Long: `tile prints the file names of the tiles of each layer that contain
the location given by --latitude and --longitude.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		for _, name := range TileNames(c) {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download tiles",
	Long: `fetch downloads the tiles of each layer that cover the extent given by
--lat_min, --lat_max, --lon_min and --lon_max into the tile directory.
Tiles that are already there are not downloaded again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		paths, err := Fetch(ctx, c)
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return err
	},
	DisableAutoGenTag: true,
}

var clipCmd = &cobra.Command{
	Use:   "clip",
	Short: "Clip a raster",
	Long:  `clip writes a window of the input raster to the output GeoTIFF.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Clip(c)
	},
	DisableAutoGenTag: true,
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Group loss into clusters",
	Long: `clusters groups the loss in a window of the input loss-year raster into
clusters of connected loss and writes the area of each cluster in each year
to the output shapefile or GeoJSON file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		t, err := Clusters(ctx, c)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d clusters, %d rows\n", len(t.Clusters()), len(t.Rows))
		return nil
	},
	DisableAutoGenTag: true,
}

var areaCmd = &cobra.Command{
	Use:   "area",
	Short: "Look up the loss area at a location",
	Long: `area prints the area of loss in --year of the cluster that contains the
location given by --latitude and --longitude, or the closest cluster if
there is none there. The input is a loss-year raster or a cluster shapefile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		r, err := Area(ctx, c)
		if err != nil {
			return err
		}
		r.write(cmd.OutOrStdout(), c)
		return nil
	},
	DisableAutoGenTag: true,
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Sample loss around assets",
	Long: `sample downloads the tiles that contain the assets, measures the
proportion of loss in each year around each asset and the baseline layer
value at each asset, and writes the asset table with these columns added
to the output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		_, err = Sample(ctx, c)
		return err
	},
	DisableAutoGenTag: true,
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Calculate exposure",
	Long: `aggregate sums the loss around each asset in a sampled asset table over
windows of years anchored at the asset's start year, and writes the
exposure table to the output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		t, err := readSampled(c)
		if err != nil {
			return err
		}
		_, err = Aggregate(c, t, c.Output)
		return err
	},
	DisableAutoGenTag: true,
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "List the most exposed assets",
	Long: `rank prints the assets of a sampled asset table with the largest values
of an exposure column.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Rank(c, cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample assets and calculate exposure",
	Long: `run downloads the tiles that contain the assets, samples them, writes
the sampled asset table to the output and the exposure table to the
exposure output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Run(ctx, c)
	},
	DisableAutoGenTag: true,
}
