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
	"bytes"
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/decentexposure/leaf/lossyear"
)

// exposureTable returns assets sampled over 2001 to last. The loss in
// year y is (y-2000)/100.
func exposureTable(t *testing.T, last int) *AssetTable {
	years := lossyear.Years{First: 2001, Last: last}
	loss := make([]float64, years.Len())
	for i := range loss {
		loss[i] = float64(i+1) / 100
	}
	a := newAsset("a")
	a.StartYear, a.Capacity, a.Loss = 2010, 10, loss
	b := newAsset("b")
	b.Loss = loss
	c := newAsset("c")
	c.StartYear = 2010
	tbl := assetTable(t, a, b, c)
	tbl.Years = years
	return tbl
}

func TestMetricColumn(t *testing.T) {
	tests := []struct {
		m    Metric
		n    int
		want string
	}{
		{Around, 3, "around_3"},
		{Past, 5, "past_5"},
		{Forward, 3, "forward_3"},
		{Relative, -3, "t_m3"},
		{Relative, 0, "t_0"},
		{Relative, 2, "t_2"},
		{Total, 0, "defo_total"},
	}
	for _, test := range tests {
		if got := test.m.Column(test.n); got != test.want {
			t.Errorf("%v.Column(%d) = %s; want %s", test.m, test.n, got, test.want)
		}
	}
	if lo, hi := Around.span(3, 2010); lo != 2009 || hi != 2012 {
		t.Errorf("around_3 spans %d-%d; want 2009-2012", lo, hi)
	}
}

func TestAggregate(t *testing.T) {
	ea := ExposureAggregator{Windows: []int{1, 3, 5}, Past: []int{3}, Forward: []int{3}, RelativeYears: 3}
	out, err := ea.Aggregate(exposureTable(t, 2012))
	if err != nil {
		t.Fatal(err)
	}
	wantCols := []string{"around_1", "around_3", "around_5", "past_3", "forward_3",
		"t_m3", "t_m2", "t_m1", "t_0", "t_1", "t_2", "t_3", "defo_total"}
	if !reflect.DeepEqual(out.Columns, wantCols) {
		t.Errorf("columns = %v", out.Columns)
	}
	nan := math.NaN()
	want := map[string]float64{
		"around_1": 0.10, "around_3": 0.30, "around_5": 0.50,
		"past_3": 0.24, "forward_3": nan,
		"t_m3": 0.07, "t_m2": 0.08, "t_m1": 0.09, "t_0": 0.10, "t_1": 0.11, "t_2": 0.12, "t_3": nan,
		"defo_total": 0.78,
	}
	for col, w := range want {
		got := out.Rows[0].Values[col]
		if math.IsNaN(w) {
			if !math.IsNaN(got) {
				t.Errorf("a %s = %g; want NaN", col, got)
			}
		} else if different(got, w, 1e-12) {
			t.Errorf("a %s = %g; want %g", col, got, w)
		}
	}

	// No start year: only the total is known.
	for col, v := range out.Rows[1].Values {
		if col == "defo_total" {
			if different(v, 0.78, 1e-12) {
				t.Errorf("b total = %g", v)
			}
		} else if !math.IsNaN(v) {
			t.Errorf("b %s = %g; want NaN", col, v)
		}
	}
	// Never sampled: nothing is known.
	for col, v := range out.Rows[2].Values {
		if !math.IsNaN(v) {
			t.Errorf("c %s = %g; want NaN", col, v)
		}
	}
}

func TestAggregateInsufficientYears(t *testing.T) {
	ea := ExposureAggregator{Windows: []int{1, 3}}
	out, err := ea.Aggregate(exposureTable(t, 2010))
	if err != nil {
		t.Fatal(err)
	}
	v := out.Rows[0].Values
	if !math.IsNaN(v["around_3"]) {
		t.Errorf("around_3 = %g; want NaN rather than a partial sum", v["around_3"])
	}
	if different(v["around_1"], 0.10, 1e-12) {
		t.Errorf("around_1 = %g", v["around_1"])
	}
}

func TestAggregateInvalid(t *testing.T) {
	tbl := exposureTable(t, 2012)
	for _, ea := range []ExposureAggregator{
		{Windows: []int{2}},
		{Windows: []int{-1}},
		{Past: []int{0}},
		{Forward: []int{-3}},
		{RelativeYears: -1},
		{Expressions: map[string]string{"x": "undefined * 2"}},
		{Expressions: map[string]string{"x": "y", "y": "x"}},
		{Expressions: map[string]string{"defo_total": "1"}},
		{Expressions: map[string]string{"x": "(("}},
	} {
		if _, err := ea.Aggregate(tbl); !errors.Is(err, ErrPrecondition) {
			t.Errorf("%+v: err = %v; want a precondition error", ea, err)
		}
	}
}

func TestAggregateExpressions(t *testing.T) {
	ea := ExposureAggregator{
		Windows: []int{3},
		Expressions: map[string]string{
			"weighted": "around_3 * capacity",
			"doubled":  "weighted * 2",
			"known":    "1 - isnan(around_3)",
			"filled":   "fill(around_3, 0)",
		},
	}
	out, err := ea.Aggregate(exposureTable(t, 2012))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.Columns, []string{"around_3", "defo_total", "filled", "known", "weighted", "doubled"}) {
		t.Errorf("columns = %v", out.Columns)
	}
	a := out.Rows[0].Values
	if different(a["weighted"], 3, 1e-12) || different(a["doubled"], 6, 1e-12) || a["known"] != 1 {
		t.Errorf("a = %v", a)
	}
	b := out.Rows[1].Values
	if b["known"] != 0 || b["filled"] != 0 || !math.IsNaN(b["doubled"]) {
		t.Errorf("b = %v", b)
	}
}

func TestRank(t *testing.T) {
	tbl := &ExposureTable{Columns: []string{"v"}}
	for i, v := range []float64{0.1, math.NaN(), 0.3, 0.2, 0.3} {
		tbl.Rows = append(tbl.Rows, &Exposure{Asset: newAsset(string(rune('a' + i))), Values: map[string]float64{"v": v}})
	}
	ids := func(rows []*Exposure) string {
		var s []string
		for _, r := range rows {
			s = append(s, r.ID)
		}
		return strings.Join(s, "")
	}
	top, err := Rank(tbl, "v", 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(top); got != "ced" {
		t.Errorf("top 3 = %s; want ced", got)
	}
	all, _ := Rank(tbl, "v", 0)
	if got := ids(all); got != "cedab" {
		t.Errorf("all = %s; want cedab", got)
	}
	if _, err := Rank(tbl, "w", 1); !errors.Is(err, ErrPrecondition) {
		t.Errorf("unknown column: err = %v", err)
	}
}

func TestExposureTableWriteCSV(t *testing.T) {
	ea := ExposureAggregator{Windows: []int{3}}
	out, err := ea.Aggregate(exposureTable(t, 2010))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := out.WriteCSV(&buf, '\t'); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("%d lines", len(lines))
	}
	if lines[0] != "id\tlatitude\tlongitude\tsector\tcountry\tstart_year\tcapacity\tnumber_units\taround_3\tdefo_total" {
		t.Errorf("header = %q", lines[0])
	}
	fields := strings.Split(lines[1], "\t")
	if len(fields) != 10 || strings.Join(fields[:9], ",") != "a,,,,,2010,10,1," {
		t.Fatalf("a = %q", lines[1])
	}
	if v, err := strconv.ParseFloat(fields[9], 64); err != nil || different(v, 0.55, 1e-12) {
		t.Errorf("a total = %s", fields[9])
	}
}
