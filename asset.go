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
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/decentexposure/leaf/lossyear"
	"github.com/tealeg/xlsx"
)

// Asset is a physical asset such as a plant or a mine.
type Asset struct {
	ID                  string
	Latitude, Longitude float64
	Sector, Country     string

	// StartYear is zero when it is not known.
	StartYear int

	// Capacity is NaN when it is not known.
	Capacity float64

	// Units is the number of unit records the asset was rolled up from.
	Units int

	// Attrs holds the other columns of the input table.
	Attrs map[string]string

	// Row and Col are the pixel the asset was last located at, or -1.
	Row, Col int

	// Loss holds the proportion of loss around the asset in each year of
	// the table's year range. It is nil until the asset has been sampled.
	Loss []float64

	// Baseline is the baseline layer value at the asset's pixel, or NaN.
	Baseline float64
}

func newAsset(id string) *Asset {
	return &Asset{
		ID:        id,
		Latitude:  math.NaN(),
		Longitude: math.NaN(),
		Capacity:  math.NaN(),
		Units:     1,
		Attrs:     make(map[string]string),
		Row:       -1,
		Col:       -1,
		Baseline:  math.NaN(),
	}
}

// AssetTable is a set of assets with unique IDs.
type AssetTable struct {
	Assets []*Asset

	// Columns are the names of the Attrs columns in input order.
	Columns []string

	// Years is the year range of the assets' Loss values.
	Years lossyear.Years

	// BaselineName is the column name of the baseline values.
	BaselineName string

	index map[string]int
}

// NewAssetTable returns a table of assets. Asset IDs must be unique.
func NewAssetTable(assets []*Asset, columns []string) (*AssetTable, error) {
	t := &AssetTable{Assets: assets, Columns: columns, Years: lossyear.Default, index: make(map[string]int, len(assets))}
	for i, a := range assets {
		if a.ID == "" {
			return nil, fmt.Errorf("leaf: asset %d has no ID: %w", i, ErrPrecondition)
		}
		if j, ok := t.index[a.ID]; ok {
			return nil, fmt.Errorf("leaf: asset ID %q appears in rows %d and %d: %w", a.ID, j, i, ErrPrecondition)
		}
		t.index[a.ID] = i
	}
	return t, nil
}

// Get returns the asset with the given ID.
func (t *AssetTable) Get(id string) (*Asset, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.Assets[i], true
}

// Len returns the number of assets.
func (t *AssetTable) Len() int { return len(t.Assets) }

// ReadOptions control how asset tables are read.
type ReadOptions struct {
	// IDColumn is the name of the asset ID column. It defaults to "id".
	IDColumn string

	// Sheet is the worksheet of an xlsx file to read. The first sheet is
	// read by default.
	Sheet string

	// Baseline is the name of a column of baseline values, as written
	// by WriteCSV. It is read into Asset.Baseline if present.
	Baseline string

	// RollUp combines rows that share an ID with RollUp instead of
	// treating them as an error.
	RollUp bool
}

const (
	colLatitude  = "latitude"
	colLongitude = "longitude"
	colSector    = "sector"
	colCountry   = "country"
	colStartYear = "start_year"
	colCapacity  = "capacity"
	colRow       = "row"
	colCol       = "col"
	colUnits     = "number_units"
)

// ReadAssets reads an asset table from a csv, tsv or xlsx file, chosen by
// the file extension. The table must have an ID column and latitude and
// longitude columns. Unparseable coordinates, start years and capacities
// are read as missing.
func ReadAssets(path string, opts ReadOptions) (*AssetTable, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, err = readXLSX(path, opts.Sheet)
	case ".tsv", ".tab", ".txt":
		records, err = readDelimited(path, '\t')
	default:
		records, err = readDelimited(path, ',')
	}
	if err != nil {
		return nil, err
	}
	parsed, err := parseAssets(records, opts)
	if err != nil {
		return nil, fmt.Errorf("leaf: %s: %w", path, err)
	}
	assets := parsed.assets
	if opts.RollUp {
		assets = RollUp(assets)
	}
	t, err := NewAssetTable(assets, parsed.columns)
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, path)
	}
	if parsed.years != (lossyear.Years{}) {
		t.Years = parsed.years
	}
	if parsed.baseline {
		t.BaselineName = opts.Baseline
	}
	return t, nil
}

func readDelimited(path string, comma rune) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("leaf: %v: %w", err, ErrIO)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("leaf: reading %s: %v: %w", path, err, ErrIO)
	}
	return records, nil
}

func readXLSX(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("leaf: %v: %w", err, ErrIO)
	}
	if len(f.Sheets) == 0 {
		return nil, fmt.Errorf("leaf: %s has no sheets: %w", path, ErrIO)
	}
	sheet := f.Sheets[0]
	if sheetName != "" {
		var ok bool
		if sheet, ok = f.Sheet[sheetName]; !ok {
			return nil, fmt.Errorf("leaf: %s has no sheet %q: %w", path, sheetName, ErrIO)
		}
	}
	var records [][]string
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		rec := make([]string, len(row.Cells))
		blank := true
		for i, c := range row.Cells {
			rec[i] = strings.TrimSpace(c.Value)
			if rec[i] != "" {
				blank = false
			}
		}
		if !blank {
			records = append(records, rec)
		}
	}
	return records, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseYear(s string) int {
	v := parseFloat(s)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(v)
}

type parsedAssets struct {
	assets  []*Asset
	columns []string

	// years is the range of the loss proportion columns, if there are any.
	years lossyear.Years

	baseline bool
}

func parseAssets(records [][]string, opts ReadOptions) (*parsedAssets, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("empty table: %w", ErrPrecondition)
	}
	idCol := opts.IDColumn
	if idCol == "" {
		idCol = "id"
	}
	header := records[0]
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	for _, req := range []string{idCol, colLatitude, colLongitude} {
		if _, ok := pos[req]; !ok {
			return nil, fmt.Errorf("missing required column %q: %w", req, ErrPrecondition)
		}
	}
	out := new(parsedAssets)
	known := map[string]bool{idCol: true, colLatitude: true, colLongitude: true, colSector: true,
		colCountry: true, colStartYear: true, colCapacity: true, colRow: true, colCol: true, colUnits: true}
	if _, ok := pos[opts.Baseline]; ok && opts.Baseline != "" {
		known[opts.Baseline] = true
		out.baseline = true
	}
	var years []int
	for _, h := range header {
		h = strings.TrimSpace(h)
		switch {
		case isYearColumn(h):
			y, _ := strconv.Atoi(h)
			years = append(years, y)
		case !known[h]:
			out.columns = append(out.columns, h)
		}
	}
	if len(years) > 0 {
		sort.Ints(years)
		out.years = lossyear.Years{First: years[0], Last: years[len(years)-1]}
		if out.years.Len() != len(years) {
			return nil, fmt.Errorf("loss year columns %v are not consecutive: %w", years, ErrPrecondition)
		}
	}

	out.assets = make([]*Asset, 0, len(records)-1)
	for _, rec := range records[1:] {
		get := func(name string) string {
			if i, ok := pos[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		a := newAsset(get(idCol))
		a.Latitude = parseFloat(get(colLatitude))
		a.Longitude = parseFloat(get(colLongitude))
		a.Sector = get(colSector)
		a.Country = get(colCountry)
		a.StartYear = parseYear(get(colStartYear))
		a.Capacity = parseFloat(get(colCapacity))
		if n := parseYear(get(colUnits)); n > 0 {
			a.Units = n
		}
		for _, c := range out.columns {
			a.Attrs[c] = get(c)
		}
		if out.baseline {
			a.Baseline = parseFloat(get(opts.Baseline))
		}
		// Assets that were never sampled have empty year columns.
		for _, y := range years {
			if v := get(strconv.Itoa(y)); v != "" {
				if a.Loss == nil {
					a.Loss = make([]float64, len(years))
				}
				a.Loss[y-out.years.First] = parseFloat(v)
			}
		}
		out.assets = append(out.assets, a)
	}
	return out, nil
}

// isYearColumn reports whether name is a four-digit year, which is how
// loss proportions are written.
func isYearColumn(name string) bool {
	if len(name) != 4 {
		return false
	}
	_, err := strconv.Atoi(name)
	return err == nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatYear(y int) string {
	if y == 0 {
		return ""
	}
	return strconv.Itoa(y)
}

// WriteCSV writes the table to w with the given field delimiter. The
// loss proportion of each year is written to a column named by the year,
// and missing values are written as empty fields.
func (t *AssetTable) WriteCSV(w io.Writer, comma rune) error {
	sampled, baseline := false, false
	for _, a := range t.Assets {
		sampled = sampled || a.Loss != nil
		baseline = baseline || !math.IsNaN(a.Baseline)
	}
	header := []string{"id", colLatitude, colLongitude, colSector, colCountry, colStartYear, colCapacity, colUnits}
	header = append(header, t.Columns...)
	header = append(header, colRow, colCol)
	if sampled {
		for _, y := range t.Years.List() {
			header = append(header, strconv.Itoa(y))
		}
	}
	if baseline {
		name := t.BaselineName
		if name == "" {
			name = "baseline"
		}
		header = append(header, name)
	}

	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("leaf: %v: %w", err, ErrIO)
	}
	for _, a := range t.Assets {
		rec := []string{a.ID, formatFloat(a.Latitude), formatFloat(a.Longitude), a.Sector, a.Country,
			formatYear(a.StartYear), formatFloat(a.Capacity), strconv.Itoa(a.Units)}
		for _, c := range t.Columns {
			rec = append(rec, a.Attrs[c])
		}
		rec = append(rec, strconv.Itoa(a.Row), strconv.Itoa(a.Col))
		if sampled {
			for i := 0; i < t.Years.Len(); i++ {
				if a.Loss == nil {
					rec = append(rec, "")
				} else {
					rec = append(rec, formatFloat(a.Loss[i]))
				}
			}
		}
		if baseline {
			rec = append(rec, formatFloat(a.Baseline))
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
