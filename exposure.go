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
	"sort"
	"strconv"

	"github.com/Knetic/govaluate"
	"github.com/decentexposure/leaf/lossyear"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Metric is a kind of exposure summary.
type Metric int

const (
	// Around sums loss over the n years centered on the start year.
	Around Metric = iota
	// Past sums loss over the n years before the start year.
	Past
	// Forward sums loss over the n years after the start year.
	Forward
	// Relative is the loss in a single year relative to the start year.
	Relative
	// Total sums loss over every year.
	Total
)

var metricNames = [...]string{"around", "past", "forward", "t", "defo_total"}

func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricNames) {
		return "Metric(" + strconv.Itoa(int(m)) + ")"
	}
	return metricNames[m]
}

// Column returns the exposure column name of metric m with parameter n.
// Relative years before the start year are written with an "m" prefix,
// as in t_m3.
func (m Metric) Column(n int) string {
	switch m {
	case Total:
		return m.String()
	case Relative:
		if n < 0 {
			return "t_m" + strconv.Itoa(-n)
		}
		return "t_" + strconv.Itoa(n)
	}
	return m.String() + "_" + strconv.Itoa(n)
}

// span returns the half-open range of years [lo, hi) summarized by metric
// m with parameter n for an asset that started in year start.
func (m Metric) span(n, start int) (lo, hi int) {
	switch m {
	case Around:
		return start - n/2, start + (n+1)/2
	case Past:
		return start - n, start
	case Forward:
		return start + 1, start + n + 1
	case Relative:
		return start + n, start + n + 1
	}
	return 0, 0
}

type column struct {
	name   string
	metric Metric
	n      int
}

// ExposureAggregator summarizes the loss profile of each asset in windows
// anchored at the asset's start year. A window value is NaN unless the
// table's years cover the whole window.
type ExposureAggregator struct {
	// Windows are the odd sizes of the windows centered on the start year.
	Windows []int

	// Past and Forward are the sizes of the windows before and after the
	// start year.
	Past, Forward []int

	// RelativeYears adds a column for each year from RelativeYears before
	// to RelativeYears after the start year.
	RelativeYears int

	// Expressions are derived columns, by name. Expressions may refer to
	// start_year, capacity, baseline, latitude, longitude, number_units,
	// the exposure columns and the other expressions.
	Expressions map[string]string

	Log logrus.FieldLogger
}

func (ea *ExposureAggregator) columns() ([]column, error) {
	var cols []column
	for _, n := range ea.Windows {
		if n <= 0 || n%2 == 0 {
			return nil, fmt.Errorf("leaf: window size %d is not a positive odd number: %w", n, ErrPrecondition)
		}
		cols = append(cols, column{metric: Around, n: n})
	}
	for _, n := range ea.Past {
		if n <= 0 {
			return nil, fmt.Errorf("leaf: past window size %d is not positive: %w", n, ErrPrecondition)
		}
		cols = append(cols, column{metric: Past, n: n})
	}
	for _, n := range ea.Forward {
		if n <= 0 {
			return nil, fmt.Errorf("leaf: forward window size %d is not positive: %w", n, ErrPrecondition)
		}
		cols = append(cols, column{metric: Forward, n: n})
	}
	if ea.RelativeYears < 0 {
		return nil, fmt.Errorf("leaf: negative relative years %d: %w", ea.RelativeYears, ErrPrecondition)
	}
	if ea.RelativeYears > 0 {
		for k := -ea.RelativeYears; k <= ea.RelativeYears; k++ {
			cols = append(cols, column{metric: Relative, n: k})
		}
	}
	cols = append(cols, column{metric: Total})
	seen := make(map[string]bool)
	out := cols[:0]
	for _, c := range cols {
		c.name = c.metric.Column(c.n)
		if !seen[c.name] {
			seen[c.name] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// value computes column c for asset a from loss over years.
func (c column) value(a *Asset, years lossyear.Years) float64 {
	if a.Loss == nil {
		return math.NaN()
	}
	if c.metric == Total {
		return floats.Sum(a.Loss)
	}
	if a.StartYear == 0 {
		return math.NaN()
	}
	lo, hi := c.metric.span(c.n, a.StartYear)
	if !years.Contains(lo) || !years.Contains(hi-1) {
		return math.NaN()
	}
	return floats.Sum(a.Loss[lo-years.First : hi-years.First])
}

// Exposure holds the exposure columns of one asset.
type Exposure struct {
	*Asset
	Values map[string]float64
}

// ExposureTable holds one row per asset.
type ExposureTable struct {
	// Columns are the names of the exposure and expression columns.
	Columns []string
	Rows    []*Exposure
}

// Aggregate computes the exposure of every asset in table. Assets that
// were never sampled get NaN for every column.
func (ea *ExposureAggregator) Aggregate(table *AssetTable) (*ExposureTable, error) {
	cols, err := ea.columns()
	if err != nil {
		return nil, err
	}
	exprs, order, err := ea.expressions(cols)
	if err != nil {
		return nil, err
	}
	out := &ExposureTable{Rows: make([]*Exposure, 0, len(table.Assets))}
	for _, c := range cols {
		out.Columns = append(out.Columns, c.name)
	}
	out.Columns = append(out.Columns, order...)

	var missing int
	for _, a := range table.Assets {
		e := &Exposure{Asset: a, Values: make(map[string]float64, len(out.Columns))}
		for _, c := range cols {
			e.Values[c.name] = c.value(a, table.Years)
		}
		if a.Loss == nil {
			missing++
		}
		params := map[string]interface{}{
			"start_year":   float64(a.StartYear),
			"capacity":     a.Capacity,
			"baseline":     a.Baseline,
			"latitude":     a.Latitude,
			"longitude":    a.Longitude,
			"number_units": float64(a.Units),
		}
		if a.StartYear == 0 {
			params["start_year"] = math.NaN()
		}
		for k, v := range e.Values {
			params[k] = v
		}
		for _, name := range order {
			r, err := exprs[name].Evaluate(params)
			if err != nil {
				return nil, fmt.Errorf("leaf: evaluating %s for asset %s: %w", name, a.ID, err)
			}
			v, ok := r.(float64)
			if !ok {
				if b, isBool := r.(bool); isBool {
					v = 0
					if b {
						v = 1
					}
				} else {
					return nil, fmt.Errorf("leaf: %s gives a %T rather than a number: %w", name, r, ErrPrecondition)
				}
			}
			e.Values[name] = v
			params[name] = v
		}
		out.Rows = append(out.Rows, e)
	}
	logger(ea.Log).WithFields(logrus.Fields{
		"assets":    len(out.Rows),
		"unsampled": missing,
		"columns":   len(out.Columns),
	}).Info("aggregated exposure")
	return out, nil
}

var expressionFuncs = map[string]govaluate.ExpressionFunction{
	"exp": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("leaf: got %d arguments for function 'exp', but needs 1", len(arg))
		}
		return math.Exp(arg[0].(float64)), nil
	},
	"log": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("leaf: got %d arguments for function 'log', but needs 1", len(arg))
		}
		return math.Log(arg[0].(float64)), nil
	},
	// isnan(x) is 1 when x is missing.
	"isnan": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("leaf: got %d arguments for function 'isnan', but needs 1", len(arg))
		}
		if math.IsNaN(arg[0].(float64)) {
			return 1.0, nil
		}
		return 0.0, nil
	},
	// fill(x, y) is y when x is missing and x otherwise.
	"fill": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 2 {
			return nil, fmt.Errorf("leaf: got %d arguments for function 'fill', but needs 2", len(arg))
		}
		if math.IsNaN(arg[0].(float64)) {
			return arg[1].(float64), nil
		}
		return arg[0].(float64), nil
	},
}

// expressions parses the derived columns and orders them so that each is
// evaluated after the expressions it refers to.
func (ea *ExposureAggregator) expressions(cols []column) (map[string]*govaluate.EvaluableExpression, []string, error) {
	known := map[string]bool{"start_year": true, "capacity": true, "baseline": true,
		"latitude": true, "longitude": true, "number_units": true}
	for _, c := range cols {
		known[c.name] = true
	}
	names := make([]string, 0, len(ea.Expressions))
	for name := range ea.Expressions {
		if known[name] {
			return nil, nil, fmt.Errorf("leaf: expression %s replaces a built-in column: %w", name, ErrPrecondition)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	exprs := make(map[string]*govaluate.EvaluableExpression, len(names))
	for _, name := range names {
		e, err := govaluate.NewEvaluableExpressionWithFunctions(ea.Expressions[name], expressionFuncs)
		if err != nil {
			return nil, nil, fmt.Errorf("leaf: expression %s: %v: %w", name, err, ErrPrecondition)
		}
		exprs[name] = e
	}
	var order []string
	done := make(map[string]bool)
	for len(order) < len(names) {
		progress := false
		for _, name := range names {
			if done[name] {
				continue
			}
			ready := true
			for _, v := range exprs[name].Vars() {
				if _, isExpr := exprs[v]; isExpr && !done[v] {
					ready = false
				} else if !isExpr && !known[v] {
					return nil, nil, fmt.Errorf("leaf: expression %s refers to undefined variable %q: %w", name, v, ErrPrecondition)
				}
			}
			if ready {
				done[name] = true
				order = append(order, name)
				progress = true
			}
		}
		if !progress {
			return nil, nil, fmt.Errorf("leaf: expressions refer to each other in a cycle: %w", ErrPrecondition)
		}
	}
	return exprs, order, nil
}

// Column returns the values of one column in row order.
func (t *ExposureTable) Column(name string) ([]float64, error) {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		v, ok := r.Values[name]
		if !ok {
			return nil, fmt.Errorf("leaf: no exposure column %q: %w", name, ErrPrecondition)
		}
		out[i] = v
	}
	return out, nil
}

// WriteCSV writes the exposure table. Missing values are written as empty
// fields.
func (t *ExposureTable) WriteCSV(w io.Writer, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	header := []string{"id", colLatitude, colLongitude, colSector, colCountry, colStartYear, colCapacity, colUnits}
	if err := cw.Write(append(header, t.Columns...)); err != nil {
		return fmt.Errorf("leaf: %v: %w", err, ErrIO)
	}
	for _, r := range t.Rows {
		rec := []string{r.ID, formatFloat(r.Latitude), formatFloat(r.Longitude), r.Sector, r.Country,
			formatYear(r.StartYear), formatFloat(r.Capacity), strconv.Itoa(r.Units)}
		for _, c := range t.Columns {
			rec = append(rec, formatFloat(r.Values[c]))
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
