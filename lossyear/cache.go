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
	"context"
	"encoding/gob"
	"fmt"
	"runtime"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/decentexposure/leaf/internal/hash"
	"github.com/decentexposure/leaf/raster"
	"github.com/sirupsen/logrus"
)

func init() {
	gob.Register(&Table{})
}

// Builder creates cluster tables from windows of loss-year GeoTIFFs.
// Tables are kept in memory and, when CacheDir is set, on disk, so a
// window is only clustered once.
type Builder struct {
	Years   Years
	AreaCRS string

	// CacheDir is the directory on-disk results are kept in.
	CacheDir string

	// MemCacheSize is the number of tables kept in memory. The default is 8.
	MemCacheSize int

	Log logrus.FieldLogger

	once  sync.Once
	cache *requestcache.Cache
}

type buildRequest struct {
	Path    string
	Window  raster.Window
	Years   Years
	AreaCRS string
}

// Build returns the cluster table of window w of the loss-year GeoTIFF
// at path. A zero-sized window means the whole raster.
func (b *Builder) Build(ctx context.Context, path string, w raster.Window) (*Table, error) {
	b.once.Do(func() {
		size := b.MemCacheSize
		if size <= 0 {
			size = 8
		}
		if b.CacheDir == "" {
			b.cache = requestcache.NewCache(b.build, runtime.GOMAXPROCS(-1),
				requestcache.Deduplicate(), requestcache.Memory(size))
		} else {
			b.cache = requestcache.NewCache(b.build, runtime.GOMAXPROCS(-1),
				requestcache.Deduplicate(), requestcache.Memory(size),
				requestcache.Disk(b.CacheDir, requestcache.MarshalGob, requestcache.UnmarshalGob))
		}
	})
	req := buildRequest{Path: path, Window: w, Years: b.Years, AreaCRS: b.AreaCRS}
	r := b.cache.NewRequest(ctx, req, hash.Key("clusters", req))
	result, err := r.Result()
	if err != nil {
		return nil, err
	}
	return result.(*Table), nil
}

func (b *Builder) build(ctx context.Context, request interface{}) (interface{}, error) {
	req := request.(buildRequest)
	f, err := raster.Open(req.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	w := req.Window
	if w.Width == 0 || w.Height == 0 {
		w = raster.Window{Width: f.Width(), Height: f.Height()}
	}
	g, err := f.ReadWindow(w)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := b.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	polys := Polygonize(g)
	gr := &Grouper{Years: req.Years, SourceCRS: g.Proj4, AreaCRS: req.AreaCRS, Log: log}
	clusters, err := gr.Group(polys)
	if err != nil {
		return nil, fmt.Errorf("lossyear: %s %v: %w", req.Path, w, err)
	}
	log.WithFields(logrus.Fields{
		"file":     req.Path,
		"window":   w.String(),
		"clusters": len(clusters),
	}).Info("clustered loss-year window")
	return NewTable(clusters, g.Proj4), nil
}
