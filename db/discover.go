package db

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
	"golang.org/x/exp/slices"

	"Shopify/arrow-dataset-engine/dataset"
)

// Discover lists the parquet parts below dir and derives the partition of
// every part from its directories. Parts of one partition are returned in
// part number order.
func Discover(ctx context.Context, bucket objstore.BucketReader, dir string, partitioning Partitioning) ([]dataset.Fragment, error) {
	type part struct {
		fragment dataset.Fragment
		dir      string
		id       int
	}

	var parts []part
	err := bucket.Iter(ctx, dir, func(name string) error {
		if strings.HasSuffix(name, objstore.DirDelim) || !strings.HasSuffix(name, dataFileSuffix) {
			return nil
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(name, dir), objstore.DirDelim)
		partDir := path.Dir(rel)

		var dirs []string
		if partDir != "." {
			dirs = strings.Split(partDir, objstore.DirDelim)
		}
		partition, err := partitioning.Parse(dirs)
		if err != nil {
			return errors.Wrapf(err, "object %s", name)
		}

		id, ok := partID(name)
		if !ok {
			id = -1
		}
		parts = append(parts, part{
			fragment: dataset.Fragment{Path: name, Partition: partition},
			dir:      partDir,
			id:       id,
		})
		return nil
	}, objstore.WithRecursiveIter)
	if err != nil {
		return nil, errors.Wrapf(err, "failed listing %q", dir)
	}

	slices.SortStableFunc(parts, func(a, b part) bool {
		if a.dir != b.dir {
			return a.dir < b.dir
		}
		if a.id != b.id {
			return a.id < b.id
		}
		return a.fragment.Path < b.fragment.Path
	})
	fragments := make([]dataset.Fragment, 0, len(parts))
	for _, p := range parts {
		fragments = append(fragments, p.fragment)
	}
	return fragments, nil
}
