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
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tealeg/xlsx"
)

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

func writeFile(t *testing.T, name, contents string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const assetCSV = `id,latitude,longitude,start_year,capacity,sector,owner
a,-20.5,-55.1,2010.0,100,coal,X
b,bad,-55,,,,Y
`

func TestReadAssets(t *testing.T) {
	tbl, err := ReadAssets(writeFile(t, "assets.csv", assetCSV), ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("%d assets; want 2", tbl.Len())
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"owner"}) {
		t.Errorf("columns = %v", tbl.Columns)
	}
	a, ok := tbl.Get("a")
	if !ok {
		t.Fatal("asset a is missing")
	}
	if a.Latitude != -20.5 || a.Longitude != -55.1 || a.StartYear != 2010 || a.Capacity != 100 ||
		a.Sector != "coal" || a.Attrs["owner"] != "X" || a.Units != 1 {
		t.Errorf("a = %+v", a)
	}
	b, _ := tbl.Get("b")
	if !math.IsNaN(b.Latitude) || b.Longitude != -55 || b.StartYear != 0 || !math.IsNaN(b.Capacity) {
		t.Errorf("b = %+v", b)
	}
	if b.Row != -1 || b.Loss != nil || !math.IsNaN(b.Baseline) {
		t.Errorf("b should not be located or sampled: %+v", b)
	}
}

func TestReadAssetsTSV(t *testing.T) {
	tbl, err := ReadAssets(writeFile(t, "assets.tsv", "uid\tlatitude\tlongitude\nx\t1\t2\n"), ReadOptions{IDColumn: "uid"})
	if err != nil {
		t.Fatal(err)
	}
	if a, ok := tbl.Get("x"); !ok || a.Latitude != 1 || a.Longitude != 2 {
		t.Errorf("asset x = %+v", a)
	}
}

func TestReadAssetsPrecondition(t *testing.T) {
	tests := map[string]string{
		"duplicate":  "id,latitude,longitude\na,1,2\na,3,4\n",
		"no column":  "id,latitude\na,1\n",
		"no id":      "name,latitude,longitude\na,1,2\n",
		"empty id":   "id,latitude,longitude\n,1,2\n",
		"empty file": "",
	}
	for name, contents := range tests {
		_, err := ReadAssets(writeFile(t, "assets.csv", contents), ReadOptions{})
		if !errors.Is(err, ErrPrecondition) {
			t.Errorf("%s: err = %v; want a precondition error", name, err)
		}
	}
	if _, err := ReadAssets(filepath.Join(t.TempDir(), "missing.csv"), ReadOptions{}); !errors.Is(err, ErrIO) {
		t.Errorf("missing file: err = %v", err)
	}
}

func TestReadAssetsRollUp(t *testing.T) {
	path := writeFile(t, "units.csv", `id,latitude,longitude,start_year,capacity,country
a,1,2,2012,50,BR
b,5,6,2003,,PY
a,1,2,2008,80,BR
a,1,2,,20,BR
`)
	tbl, err := ReadAssets(path, ReadOptions{RollUp: true})
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 || tbl.Assets[0].ID != "a" || tbl.Assets[1].ID != "b" {
		t.Fatalf("assets = %v", tbl.Assets)
	}
	a := tbl.Assets[0]
	if a.StartYear != 2008 || a.Capacity != 20 || a.Units != 3 || a.Country != "BR" {
		t.Errorf("a = %+v", a)
	}
	if b := tbl.Assets[1]; b.Units != 1 || !math.IsNaN(b.Capacity) {
		t.Errorf("b = %+v", b)
	}
}

func TestReadAssetsXLSX(t *testing.T) {
	f := xlsx.NewFile()
	if _, err := f.AddSheet("notes"); err != nil {
		t.Fatal(err)
	}
	sheet, err := f.AddSheet("assets")
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range [][]string{
		{"id", "latitude", "longitude", "start_year"},
		{"p1", "-3.25", "-60.5", "2015"},
		{"p2", "-4", "-61", "2019"},
	} {
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "assets.xlsx")
	if err := f.Save(path); err != nil {
		t.Fatal(err)
	}

	tbl, err := ReadAssets(path, ReadOptions{Sheet: "assets"})
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("%d assets; want 2", tbl.Len())
	}
	if a := tbl.Assets[0]; a.ID != "p1" || a.Latitude != -3.25 || a.Longitude != -60.5 || a.StartYear != 2015 {
		t.Errorf("p1 = %+v", a)
	}
	// The first sheet is empty.
	if _, err := ReadAssets(path, ReadOptions{}); !errors.Is(err, ErrPrecondition) {
		t.Errorf("first sheet: err = %v", err)
	}
	if _, err := ReadAssets(path, ReadOptions{Sheet: "other"}); !errors.Is(err, ErrIO) {
		t.Errorf("missing sheet: err = %v", err)
	}
}

func TestAssetTableWriteCSV(t *testing.T) {
	tbl, err := ReadAssets(writeFile(t, "assets.csv", assetCSV), ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	tbl.Years.First, tbl.Years.Last = 2001, 2002
	tbl.BaselineName = "treecover2000"
	a, _ := tbl.Get("a")
	a.Country = "BR"
	a.Row, a.Col = 3, 4
	a.Loss = []float64{0.5, 0}
	a.Baseline = 20

	var buf bytes.Buffer
	if err := tbl.WriteCSV(&buf, ','); err != nil {
		t.Fatal(err)
	}
	want := `id,latitude,longitude,sector,country,start_year,capacity,number_units,owner,row,col,2001,2002,treecover2000
a,-20.5,-55.1,coal,BR,2010,100,1,X,3,4,0.5,0,20
b,,-55,,,,,1,Y,-1,-1,,,
`
	if buf.String() != want {
		t.Errorf("got\n%s\nwant\n%s", buf.String(), want)
	}

	// Written tables can be read again; year columns are not attributes.
	tbl2, err := ReadAssets(writeFile(t, "out.csv", buf.String()), ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tbl2.Columns, []string{"owner", "treecover2000"}) {
		t.Errorf("columns = %v", tbl2.Columns)
	}
	a2, _ := tbl2.Get("a")
	if !reflect.DeepEqual(a2.Loss, a.Loss) || tbl2.Years != tbl.Years {
		t.Errorf("loss = %v over %v", a2.Loss, tbl2.Years)
	}
	if b2, _ := tbl2.Get("b"); b2.Loss != nil {
		t.Errorf("b loss = %v", b2.Loss)
	}

	tbl3, err := ReadAssets(writeFile(t, "out.csv", buf.String()), ReadOptions{Baseline: "treecover2000"})
	if err != nil {
		t.Fatal(err)
	}
	if a3, _ := tbl3.Get("a"); a3.Baseline != 20 || tbl3.BaselineName != "treecover2000" {
		t.Errorf("baseline = %g (%s)", a3.Baseline, tbl3.BaselineName)
	}
	if !reflect.DeepEqual(tbl3.Columns, []string{"owner"}) {
		t.Errorf("columns = %v", tbl3.Columns)
	}

	if _, err := ReadAssets(writeFile(t, "gap.csv", "id,latitude,longitude,2001,2003\na,1,2,0,0\n"), ReadOptions{}); !errors.Is(err, ErrPrecondition) {
		t.Errorf("non-consecutive years: err = %v", err)
	}
}

func TestRollUpCopies(t *testing.T) {
	u := newAsset("a")
	u.Attrs["k"] = "v"
	out := RollUp([]*Asset{u, newAsset("a")})
	out[0].Attrs["k"] = "changed"
	if u.Attrs["k"] != "v" || u.Units != 1 {
		t.Errorf("unit was modified: %+v", u)
	}
	if out[0].Units != 2 {
		t.Errorf("units = %d", out[0].Units)
	}
}
