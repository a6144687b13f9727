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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/decentexposure/leaf"
	"github.com/decentexposure/leaf/lossyear"
	"github.com/decentexposure/leaf/raster"
	"github.com/decentexposure/leaf/tiles"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Config holds the settings used by the Leaf commands.
type Config struct {
	TileDir, TileURL, TileTemplate string
	TileStep, TileWorkers          int
	TileRetries                    uint64
	Layers                         []tiles.Layer

	LatMin, LatMax, LonMin, LonMax float64
	Latitude, Longitude            float64
	Year                           int

	Assets, IDColumn, Sheet string
	RollUp                  bool

	Input, Output, ExposureOutput string

	Offset        int
	Years         lossyear.Years
	BaselineLayer tiles.Layer

	Windows, Past, Forward []int
	RelativeYears          int
	Expressions            map[string]string

	AreaProj     string
	ClusterCache string
	Window       raster.Window

	Top    int
	RankBy string

	Log logrus.FieldLogger
}

// LoadConfig reads the configuration from cfg. Environment variables in
// file paths are expanded.
func LoadConfig(cfg *viper.Viper) (*Config, error) {
	c := &Config{
		TileDir:        os.ExpandEnv(cfg.GetString("tile_dir")),
		TileURL:        os.ExpandEnv(cfg.GetString("tile_url")),
		TileTemplate:   cfg.GetString("tile_template"),
		TileStep:       cfg.GetInt("tile_step"),
		TileWorkers:    cfg.GetInt("tile_workers"),
		TileRetries:    uint64(cfg.GetInt("tile_retries")),
		LatMin:         cfg.GetFloat64("lat_min"),
		LatMax:         cfg.GetFloat64("lat_max"),
		LonMin:         cfg.GetFloat64("lon_min"),
		LonMax:         cfg.GetFloat64("lon_max"),
		Latitude:       cfg.GetFloat64("latitude"),
		Longitude:      cfg.GetFloat64("longitude"),
		Year:           cfg.GetInt("year"),
		Assets:         os.ExpandEnv(cfg.GetString("assets")),
		IDColumn:       cfg.GetString("id_column"),
		Sheet:          cfg.GetString("sheet"),
		RollUp:         cfg.GetBool("rollup"),
		Input:          os.ExpandEnv(cfg.GetString("input")),
		Output:         os.ExpandEnv(cfg.GetString("output")),
		ExposureOutput: os.ExpandEnv(cfg.GetString("exposure_output")),
		Offset:         cfg.GetInt("offset"),
		Years:          lossyear.Years{First: cfg.GetInt("min_year"), Last: cfg.GetInt("max_year")},
		RelativeYears:  cfg.GetInt("relative_years"),
		AreaProj:       cfg.GetString("area_proj"),
		ClusterCache:   os.ExpandEnv(cfg.GetString("cluster_cache")),
		Top:            cfg.GetInt("top"),
		RankBy:         cfg.GetString("rank_by"),
		Log:            logrus.StandardLogger(),
	}
	if err := c.Years.Validate(); err != nil {
		return nil, err
	}
	var err error
	for _, name := range []string{"windows", "past", "forward"} {
		v, err := intSlice(cfg.Get(name))
		if err != nil {
			return nil, fmt.Errorf("leaf: reading %s: %v", name, err)
		}
		switch name {
		case "windows":
			c.Windows = v
		case "past":
			c.Past = v
		case "forward":
			c.Forward = v
		}
	}
	w, err := intSlice(cfg.Get("window"))
	if err != nil {
		return nil, fmt.Errorf("leaf: reading window: %v", err)
	}
	switch len(w) {
	case 0:
	case 4:
		c.Window = raster.Window{ColOff: w[0], RowOff: w[1], Width: w[2], Height: w[3]}
	default:
		return nil, fmt.Errorf("leaf: window must be [colOff, rowOff, width, height] but is %v", w)
	}
	if c.Expressions, err = GetStringMapString("expressions", cfg); err != nil {
		return nil, err
	}
	for _, name := range cast.ToStringSlice(cfg.Get("layers")) {
		l, err := tiles.ParseLayer(name)
		if err != nil {
			return nil, err
		}
		c.Layers = append(c.Layers, l)
	}
	if c.BaselineLayer, err = tiles.ParseLayer(cfg.GetString("baseline_layer")); err != nil {
		return nil, err
	}
	return c, nil
}

// intSlice converts a configuration value to a slice of integers. Values
// set on the command line may be JSON arrays.
func intSlice(v interface{}) ([]int, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if strings.HasPrefix(s, "[") {
			var o []int
			if err := json.Unmarshal([]byte(s), &o); err != nil {
				return nil, err
			}
			return o, nil
		}
	}
	return cast.ToIntSliceE(v)
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		if err := json.NewDecoder(bytes.NewBufferString(v)).Decode(&o); err != nil {
			return nil, fmt.Errorf("leaf: reading %s: %v", varName, err)
		}
		return o, nil
	}
	return nil, fmt.Errorf("leaf: invalid type for %s: %#v", varName, i)
}

// namer returns the tile file namer.
func (c *Config) namer() tiles.Namer {
	return tiles.Namer{Template: c.TileTemplate, Step: c.TileStep}
}

// cache returns the local tile cache.
func (c *Config) cache() *tiles.Cache {
	return &tiles.Cache{
		Dir:           c.TileDir,
		Source:        c.TileURL,
		Workers:       c.TileWorkers,
		Retries:       c.TileRetries,
		RetryInterval: time.Second,
		Log:           c.Log,
	}
}

func (c *Config) readOptions() leaf.ReadOptions {
	return leaf.ReadOptions{IDColumn: c.IDColumn, Sheet: c.Sheet, RollUp: c.RollUp, Baseline: c.BaselineLayer.String()}
}

func (c *Config) aggregator() *leaf.ExposureAggregator {
	return &leaf.ExposureAggregator{
		Windows:       c.Windows,
		Past:          c.Past,
		Forward:       c.Forward,
		RelativeYears: c.RelativeYears,
		Expressions:   c.Expressions,
		Log:           c.Log,
	}
}

// setLog configures the standard logger from the log_level and log_file
// options. The returned function closes the log file.
func setLog(cfg *viper.Viper, stdout io.Writer) (func() error, error) {
	level, err := logrus.ParseLevel(cfg.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("leaf: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
		DisableSorting:  true,
	})
	logrus.SetOutput(stdout)
	path := os.ExpandEnv(cfg.GetString("log_file"))
	if path == "" {
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("leaf: opening log file: %v", err)
	}
	logrus.SetOutput(io.MultiWriter(stdout, f))
	return f.Close, nil
}

// writeConfig writes the value of every option as TOML.
func writeConfig(w io.Writer, cfg *viper.Viper) error {
	out := make(map[string]interface{}, len(options))
	for _, o := range options {
		if o.name == "config" {
			continue
		}
		var (
			v   interface{}
			err error
		)
		switch o.defaultVal.(type) {
		case string:
			v = cfg.GetString(o.name)
		case bool:
			v = cfg.GetBool(o.name)
		case int:
			v = cfg.GetInt(o.name)
		case float64:
			v = cfg.GetFloat64(o.name)
		case []int:
			v, err = intSlice(cfg.Get(o.name))
		case []string:
			v = cast.ToStringSlice(cfg.Get(o.name))
		case map[string]string:
			v, err = GetStringMapString(o.name, cfg)
		}
		if err != nil {
			return fmt.Errorf("leaf: reading %s: %v", o.name, err)
		}
		out[o.name] = v
	}
	return toml.NewEncoder(w).Encode(out)
}
