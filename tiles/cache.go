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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// sources
	_ "gocloud.dev/blob/gcsblob"  // gs:// sources
	_ "gocloud.dev/blob/s3blob"   // s3:// sources
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of concurrent downloads.
const DefaultWorkers = 5

// errNotFound marks downloads that are not retried.
var errNotFound = errors.New("not found")

// Cache keeps local copies of tiles in Dir, downloading missing ones
// from Source.
type Cache struct {
	Dir string

	// Source is an http(s) base URL or a gs://, s3:// or file:// bucket,
	// optionally with a path prefix. It defaults to DefaultSource.
	Source string

	// Workers is the maximum number of concurrent downloads.
	Workers int

	// Retries is the number of times a failed download is retried.
	Retries uint64

	// RetryInterval is the wait before the first retry. The wait grows
	// exponentially after that.
	RetryInterval time.Duration

	Client *http.Client
	Log    logrus.FieldLogger
}

func (c *Cache) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// Path returns where the tile with the given name is kept.
func (c *Cache) Path(name string) string { return filepath.Join(c.Dir, name) }

// Fetch makes sure the named tiles are in Dir and returns their local
// paths in the order of names, leaving out any that could not be
// downloaded. Files that are already present are not downloaded again.
// A failed download does not stop the others; the returned error joins
// all of the failures.
func (c *Cache) Fetch(ctx context.Context, names []string) ([]string, error) {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return nil, fmt.Errorf("tiles: %w", err)
	}
	open, closeSrc, err := c.opener(ctx)
	if err != nil {
		return nil, err
	}
	defer closeSrc()

	workers := c.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	var g errgroup.Group
	g.SetLimit(workers)
	errs := make([]error, len(names))
	for i, name := range names {
		if _, err := os.Stat(c.Path(name)); err == nil {
			continue
		}
		i, name := i, name
		g.Go(func() error {
			errs[i] = c.download(ctx, name, open)
			return nil
		})
	}
	g.Wait()

	var paths []string
	for i, name := range names {
		if errs[i] == nil {
			paths = append(paths, c.Path(name))
		}
	}
	return paths, errors.Join(errs...)
}

type openFunc func(ctx context.Context, name string) (io.ReadCloser, error)

// opener returns a function that opens a tile at the source.
func (c *Cache) opener(ctx context.Context) (openFunc, func(), error) {
	src := c.Source
	if src == "" {
		src = DefaultSource
	}
	u, err := url.Parse(src)
	if err != nil {
		return nil, nil, fmt.Errorf("tiles: source %q: %w", src, err)
	}
	switch u.Scheme {
	case "http", "https":
		client := c.Client
		if client == nil {
			client = http.DefaultClient
		}
		base := strings.TrimSuffix(src, "/")
		return func(ctx context.Context, name string) (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+name, nil)
			if err != nil {
				return nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				err := fmt.Errorf("GET %s: %s", req.URL, resp.Status)
				if resp.StatusCode == http.StatusNotFound {
					err = fmt.Errorf("%v: %w", err, errNotFound)
				}
				return nil, err
			}
			return resp.Body, nil
		}, func() {}, nil
	case "file", "gs", "s3":
		bucketURL, prefix := src, ""
		if u.Scheme != "file" {
			bucketURL = u.Scheme + "://" + u.Host
			if u.RawQuery != "" {
				bucketURL += "?" + u.RawQuery
			}
			prefix = strings.Trim(u.Path, "/")
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, nil, fmt.Errorf("tiles: opening %s: %w", bucketURL, err)
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix+"/")
		}
		return func(ctx context.Context, name string) (io.ReadCloser, error) {
			r, err := bucket.NewReader(ctx, name, nil)
			if err != nil {
				if exists, _ := bucket.Exists(ctx, name); !exists {
					return nil, fmt.Errorf("%s: %v: %w", name, err, errNotFound)
				}
				return nil, err
			}
			return r, nil
		}, func() { bucket.Close() }, nil
	}
	return nil, nil, fmt.Errorf("tiles: unsupported source %q", src)
}

// download copies one tile into Dir, retrying failures. The file only
// appears under its final name once it is complete.
func (c *Cache) download(ctx context.Context, name string, open openFunc) error {
	log := c.log().WithField("tile", name)
	b := backoff.NewExponentialBackOff()
	if c.RetryInterval > 0 {
		b.InitialInterval = c.RetryInterval
	}
	var notFound error
	err := backoff.RetryNotify(
		func() error {
			err := c.copy(ctx, name, open)
			if errors.Is(err, errNotFound) {
				notFound = err
				return nil
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(b, c.Retries), ctx),
		func(err error, d time.Duration) {
			log.WithError(err).Warnf("download failed; retrying in %v", d)
		},
	)
	if err == nil {
		err = notFound
	}
	if err != nil {
		log.WithError(err).Error("download failed")
		return fmt.Errorf("tiles: %s: %w", name, err)
	}
	log.Info("downloaded tile")
	return nil
}

func (c *Cache) copy(ctx context.Context, name string, open openFunc) error {
	r, err := open(ctx, name)
	if err != nil {
		return err
	}
	defer r.Close()
	tmp, err := os.CreateTemp(c.Dir, name+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.Path(name))
}
