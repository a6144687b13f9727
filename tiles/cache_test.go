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

package tiles

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchHTTP(t *testing.T) {
	var (
		mu       sync.Mutex
		requests = make(map[string]int)
		inFlight int32
		maxSeen  int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)

		name := strings.TrimPrefix(r.URL.Path, "/gfc/")
		mu.Lock()
		requests[name]++
		count := requests[name]
		mu.Unlock()
		switch {
		case name == "missing.tif":
			http.NotFound(w, r)
		case name == "flaky.tif" && count == 1:
			http.Error(w, "busy", http.StatusServiceUnavailable)
		default:
			w.Write([]byte("data:" + name))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "present.tif"), []byte("local"), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Cache{
		Dir:           dir,
		Source:        srv.URL + "/gfc/",
		Workers:       2,
		Retries:       2,
		RetryInterval: time.Millisecond,
	}
	names := []string{"a.tif", "present.tif", "missing.tif", "b.tif", "flaky.tif", "c.tif"}
	paths, err := c.Fetch(context.Background(), names)
	if err == nil || !strings.Contains(err.Error(), "missing.tif") {
		t.Errorf("err = %v; want an error naming missing.tif", err)
	}
	if err != nil && strings.Contains(err.Error(), "flaky.tif") {
		t.Errorf("flaky.tif should have succeeded on retry: %v", err)
	}
	var want []string
	for _, n := range []string{"a.tif", "present.tif", "b.tif", "flaky.tif", "c.tif"} {
		want = append(want, filepath.Join(dir, n))
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v; want %v", paths, want)
	}
	for _, n := range []string{"a.tif", "flaky.tif"} {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "data:"+n {
			t.Errorf("%s = %q", n, b)
		}
	}
	if b, _ := os.ReadFile(filepath.Join(dir, "present.tif")); string(b) != "local" {
		t.Errorf("present.tif was replaced: %q", b)
	}
	if _, err := os.Stat(filepath.Join(dir, "missing.tif")); !os.IsNotExist(err) {
		t.Errorf("missing.tif should not exist: %v", err)
	}
	if requests["present.tif"] != 0 {
		t.Error("present.tif was downloaded")
	}
	if requests["missing.tif"] != 1 {
		t.Errorf("missing.tif was requested %d times; want 1", requests["missing.tif"])
	}
	if maxSeen > 2 {
		t.Errorf("%d concurrent downloads; want at most 2", maxSeen)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.part"))
	if len(matches) != 0 {
		t.Errorf("partial files left behind: %v", matches)
	}

	// Everything that exists is now local.
	before := len(requests)
	if _, err := c.Fetch(context.Background(), []string{"a.tif", "b.tif"}); err != nil {
		t.Fatal(err)
	}
	if len(requests) != before || requests["a.tif"] != 1 {
		t.Errorf("tiles were downloaded twice: %v", requests)
	}
}

func TestFetchBucket(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "lossyear_20S_060W.tif"), []byte("tile"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := t.TempDir()
	c := &Cache{Dir: dst, Source: "file://" + filepath.ToSlash(src)}
	paths, err := c.Fetch(context.Background(), []string{"lossyear_20S_060W.tif", "lossyear_10S_060W.tif"})
	if err == nil {
		t.Error("expected an error for the missing tile")
	}
	if len(paths) != 1 || paths[0] != filepath.Join(dst, "lossyear_20S_060W.tif") {
		t.Errorf("paths = %v", paths)
	}
	if b, _ := os.ReadFile(filepath.Join(dst, "lossyear_20S_060W.tif")); string(b) != "tile" {
		t.Errorf("contents = %q", b)
	}
}

func TestFetchBadSource(t *testing.T) {
	c := &Cache{Dir: t.TempDir(), Source: "ftp://example.com/tiles"}
	if _, err := c.Fetch(context.Background(), []string{"x.tif"}); err == nil {
		t.Error("expected an error for an unsupported source")
	}
}
