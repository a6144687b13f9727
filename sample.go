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
	"math"

	"github.com/decentexposure/leaf/lossyear"
	"github.com/decentexposure/leaf/raster"
	"github.com/sirupsen/logrus"
)

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}

// NeighborhoodSampler measures loss in the square window of
// (2·Offset+1)² pixels centered on each asset.
type NeighborhoodSampler struct {
	// Offset is the half-width of the window in pixels.
	Offset int

	// Years is the range of loss years kept. It defaults to
	// lossyear.Default.
	Years lossyear.Years

	Log logrus.FieldLogger
}

// countValues counts the pixels of g with each value, leaving out
// no-data pixels.
func countValues(g *raster.Grid) map[float64]int {
	counts := make(map[float64]int)
	for _, v := range g.Values {
		if !g.IsNoData(v) {
			counts[v]++
		}
	}
	return counts
}

// Sample reads the loss-year window around every asset whose window lies
// entirely within src, and merges the resulting proportions into table.
// Assets whose window is not within src are left unchanged. The returned
// profile holds only the assets sampled from src.
func (s *NeighborhoodSampler) Sample(table *AssetTable, src raster.Source) (*NeighborhoodProfile, error) {
	if s.Offset < 0 {
		return nil, fmt.Errorf("leaf: negative neighborhood offset %d: %w", s.Offset, ErrPrecondition)
	}
	years := s.Years
	if years == (lossyear.Years{}) {
		years = lossyear.Default
	}
	if err := years.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrPrecondition)
	}
	locs, err := Locate(table.Assets, src)
	if err != nil {
		return nil, err
	}
	size := 2*s.Offset + 1
	total := float64(size * size)
	h, w := src.Height(), src.Width()
	p := NewNeighborhoodProfile(years)
	for _, loc := range locs {
		if !InWindow(loc, h, w, s.Offset) {
			continue
		}
		g, err := src.ReadWindow(raster.Window{
			ColOff: loc.Col - s.Offset, RowOff: loc.Row - s.Offset,
			Width: size, Height: size,
		})
		if err != nil {
			return nil, fmt.Errorf("leaf: sampling asset %s: %w", loc.ID, err)
		}
		v := make([]float64, years.Len())
		for value, n := range countValues(g) {
			if value == 0 {
				continue
			}
			if y := lossyear.Year(value); years.Contains(y) {
				v[y-years.First] = float64(n) / total
			}
		}
		if err := p.Add(loc.ID, v); err != nil {
			return nil, err
		}
	}
	if err := table.Merge(p); err != nil {
		return nil, err
	}
	for _, loc := range locs {
		if _, ok := p.Values[loc.ID]; ok {
			a, _ := table.Get(loc.ID)
			a.Row, a.Col = loc.Row, loc.Col
		}
	}
	logger(s.Log).WithFields(logrus.Fields{
		"assets":  len(locs),
		"sampled": p.Len(),
		"offset":  s.Offset,
	}).Info("sampled loss neighborhoods")
	return p, nil
}

// BaselineSampler reads the single pixel of a baseline layer, such as
// tree cover in 2000, that each asset falls within.
type BaselineSampler struct {
	// Name is the column name of the values.
	Name string

	Log logrus.FieldLogger
}

// Sample sets the baseline value of every asset that falls within src and
// returns the values by asset ID. No-data pixels give NaN.
func (s *BaselineSampler) Sample(table *AssetTable, src raster.Source) (map[string]float64, error) {
	locs, err := Locate(table.Assets, src)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	h, w := src.Height(), src.Width()
	for _, loc := range locs {
		if !InGrid(loc, h, w) {
			continue
		}
		if _, dup := out[loc.ID]; dup {
			return nil, fmt.Errorf("leaf: asset %s appears more than once: %w", loc.ID, ErrPrecondition)
		}
		g, err := src.ReadWindow(raster.Window{ColOff: loc.Col, RowOff: loc.Row, Width: 1, Height: 1})
		if err != nil {
			return nil, fmt.Errorf("leaf: sampling asset %s: %w", loc.ID, err)
		}
		v := g.Values[0]
		if g.IsNoData(v) {
			v = math.NaN()
		}
		out[loc.ID] = v
	}
	for id, v := range out {
		a, _ := table.Get(id)
		a.Baseline = v
	}
	if s.Name != "" {
		table.BaselineName = s.Name
	}
	logger(s.Log).WithFields(logrus.Fields{
		"assets":  len(locs),
		"sampled": len(out),
		"layer":   s.Name,
	}).Info("sampled baseline")
	return out, nil
}
