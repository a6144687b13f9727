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
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/decentexposure/leaf/lossyear"
)

// NeighborhoodProfile holds, for each asset, the proportion of the pixels
// around it that were lost in each year. Every asset has a value for every
// year; years without loss are zero.
type NeighborhoodProfile struct {
	Years lossyear.Years

	// IDs are the asset IDs in the order they were added.
	IDs []string

	// Values holds one proportion per year for each asset ID.
	Values map[string][]float64
}

// NewNeighborhoodProfile returns an empty profile over years.
func NewNeighborhoodProfile(years lossyear.Years) *NeighborhoodProfile {
	return &NeighborhoodProfile{Years: years, Values: make(map[string][]float64)}
}

// Add adds the proportions of one asset. It is an error to add an asset
// twice.
func (p *NeighborhoodProfile) Add(id string, values []float64) error {
	if len(values) != p.Years.Len() {
		return fmt.Errorf("leaf: asset %s has %d values for %d years: %w", id, len(values), p.Years.Len(), ErrPrecondition)
	}
	if _, ok := p.Values[id]; ok {
		return fmt.Errorf("leaf: asset %s appears more than once in the profile: %w", id, ErrPrecondition)
	}
	p.IDs = append(p.IDs, id)
	p.Values[id] = values
	return nil
}

// Proportion returns the proportion of loss around an asset in a year.
func (p *NeighborhoodProfile) Proportion(id string, year int) (float64, bool) {
	v, ok := p.Values[id]
	if !ok || !p.Years.Contains(year) {
		return 0, false
	}
	return v[year-p.Years.First], true
}

// Len returns the number of assets in the profile.
func (p *NeighborhoodProfile) Len() int { return len(p.IDs) }

// LongRow is one (asset, year) pair of a profile.
type LongRow struct {
	ID         string
	Year       int
	Proportion float64
}

// Long returns the profile as one row per asset and year, ordered by
// asset and then year.
func (p *NeighborhoodProfile) Long() []LongRow {
	out := make([]LongRow, 0, len(p.IDs)*p.Years.Len())
	for _, id := range p.IDs {
		for i, v := range p.Values[id] {
			out = append(out, LongRow{ID: id, Year: p.Years.First + i, Proportion: v})
		}
	}
	return out
}

// ProfileFromLong builds a profile from rows. Years without a row are
// zero. Assets are ordered by first appearance.
func ProfileFromLong(rows []LongRow, years lossyear.Years) (*NeighborhoodProfile, error) {
	if err := years.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrPrecondition)
	}
	p := NewNeighborhoodProfile(years)
	seen := make(map[string]map[int]bool)
	for _, r := range rows {
		if !years.Contains(r.Year) {
			return nil, fmt.Errorf("leaf: asset %s: year %d is outside of %v: %w", r.ID, r.Year, years, ErrPrecondition)
		}
		v, ok := p.Values[r.ID]
		if !ok {
			v = make([]float64, years.Len())
			p.IDs = append(p.IDs, r.ID)
			p.Values[r.ID] = v
			seen[r.ID] = make(map[int]bool)
		}
		if seen[r.ID][r.Year] {
			return nil, fmt.Errorf("leaf: asset %s has more than one value for %d: %w", r.ID, r.Year, ErrPrecondition)
		}
		seen[r.ID][r.Year] = true
		v[r.Year-years.First] = r.Proportion
	}
	return p, nil
}

// WriteWide writes the profile as a table with an id column and one
// column per year.
func (p *NeighborhoodProfile) WriteWide(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"id"}
	for _, y := range p.Years.List() {
		header = append(header, strconv.Itoa(y))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("leaf: %v: %w", err, ErrIO)
	}
	for _, id := range p.IDs {
		rec := []string{id}
		for _, v := range p.Values[id] {
			rec = append(rec, formatFloat(v))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("leaf: %v: %w", err, ErrIO)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("leaf: %v: %w", err, ErrIO)
	}
	return nil
}

// ReadWide reads a profile written by WriteWide. The year columns must
// be consecutive.
func ReadWide(r io.Reader) (*NeighborhoodProfile, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("leaf: reading profile: %v: %w", err, ErrIO)
	}
	if len(records) == 0 || len(records[0]) < 2 || strings.TrimSpace(records[0][0]) != "id" {
		return nil, fmt.Errorf("leaf: profile must have an id column and at least one year: %w", ErrPrecondition)
	}
	header := records[0][1:]
	years := make([]int, len(header))
	for i, h := range header {
		y, err := strconv.Atoi(strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("leaf: profile column %q is not a year: %w", h, ErrPrecondition)
		}
		years[i] = y
	}
	if !sort.IntsAreSorted(years) || years[len(years)-1]-years[0] != len(years)-1 {
		return nil, fmt.Errorf("leaf: profile years %v are not consecutive: %w", years, ErrPrecondition)
	}
	p := NewNeighborhoodProfile(lossyear.Years{First: years[0], Last: years[len(years)-1]})
	for _, rec := range records[1:] {
		if len(rec) != len(header)+1 {
			return nil, fmt.Errorf("leaf: profile row %q has %d fields: %w", rec[0], len(rec), ErrPrecondition)
		}
		v := make([]float64, len(header))
		for i, s := range rec[1:] {
			v[i] = parseFloat(s)
		}
		if err := p.Add(rec[0], v); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Merge sets the loss proportions of the assets in p. Every asset in p
// must be in the table.
func (t *AssetTable) Merge(p *NeighborhoodProfile) error {
	for _, a := range t.Assets {
		if a.Loss != nil && p.Years != t.Years {
			return fmt.Errorf("leaf: merging a %v profile into a %v table: %w", p.Years, t.Years, ErrPrecondition)
		}
	}
	for _, id := range p.IDs {
		if _, ok := t.Get(id); !ok {
			return fmt.Errorf("leaf: profile asset %s is not in the table: %w", id, ErrPrecondition)
		}
	}
	t.Years = p.Years
	for _, id := range p.IDs {
		a, _ := t.Get(id)
		a.Loss = append([]float64(nil), p.Values[id]...)
	}
	return nil
}
