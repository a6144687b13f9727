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

package hash

import (
	"strings"
	"testing"
)

type request struct {
	Path  string
	Years [2]int
}

func TestKey(t *testing.T) {
	a := Key("clusters", request{Path: "a.tif", Years: [2]int{2001, 2022}})
	b := Key("clusters", request{Path: "a.tif", Years: [2]int{2001, 2022}})
	c := Key("clusters", request{Path: "a.tif", Years: [2]int{2001, 2021}})
	if a != b {
		t.Errorf("equal requests: %s != %s", a, b)
	}
	if a == c {
		t.Errorf("different requests have the same key %s", a)
	}
	if !strings.HasPrefix(a, "clusters_") {
		t.Errorf("key %s is missing its prefix", a)
	}
}

func TestKeyFallback(t *testing.T) {
	// gob refuses a top-level function.
	if k := Key("f", func() {}); !strings.HasPrefix(k, "f_") || len(k) != len("f_")+32 {
		t.Errorf("bad key %s", k)
	}
}
