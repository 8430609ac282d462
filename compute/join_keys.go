package compute

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"Shopify/arrow-dataset-engine/generic"
	"Shopify/arrow-dataset-engine/schema"
	"Shopify/arrow-dataset-engine/table"
)

type joinKey struct {
	name  string
	left  int
	right int
}

func resolveKeys(left, right *arrow.Schema, keys []string) ([]joinKey, error) {
	if len(keys) == 0 {
		return nil, ErrNoJoinKeys
	}
	seen := make(map[string]struct{}, len(keys))
	resolved := make([]joinKey, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			return nil, errors.Wrapf(ErrDuplicateJoinKey, "key %q", key)
		}
		seen[key] = struct{}{}

		li, err := schema.FieldIndex(left, key)
		if err != nil {
			return nil, errors.Wrap(err, "left table")
		}
		if li < 0 {
			return nil, &JoinKeyMissingError{Key: key, Side: "left"}
		}
		ri, err := schema.FieldIndex(right, key)
		if err != nil {
			return nil, errors.Wrap(err, "right table")
		}
		if ri < 0 {
			return nil, &JoinKeyMissingError{Key: key, Side: "right"}
		}

		lt, rt := left.Field(li).Type, right.Field(ri).Type
		if !arrow.TypeEqual(lt, rt) || !schema.Supported(lt) {
			return nil, &JoinKeyTypeError{Key: key, Left: lt, Right: rt}
		}
		resolved = append(resolved, joinKey{name: key, left: li, right: ri})
	}
	return resolved, nil
}

// encodedKeys holds the composite key of every row of one batch. Rows with a
// null or NaN component have valid set to false.
type encodedKeys struct {
	keys  []string
	valid []bool
}

func encodeKeys(batch arrow.Record, columns []int) encodedKeys {
	n := int(batch.NumRows())
	enc := encodedKeys{
		keys:  make([]string, n),
		valid: make([]bool, n),
	}

	var buf []byte
	for row := 0; row < n; row++ {
		buf = buf[:0]
		ok := true
		for _, c := range columns {
			buf, ok = appendKey(buf, batch.Column(c), row)
			if !ok {
				break
			}
		}
		if ok {
			enc.keys[row] = string(buf)
			enc.valid[row] = true
		}
	}
	return enc
}

// appendKey appends the binary form of one key component. Both sides of a
// join share the key type, so components carry no type tag. Variable length
// values are length prefixed to keep composite keys unambiguous.
func appendKey(buf []byte, col arrow.Array, row int) ([]byte, bool) {
	if col.IsNull(row) {
		return buf, false
	}
	switch c := col.(type) {
	case *array.Int32:
		return binary.LittleEndian.AppendUint32(buf, uint32(c.Value(row))), true
	case *array.Int64:
		return binary.LittleEndian.AppendUint64(buf, uint64(c.Value(row))), true
	case *array.Float32:
		v := c.Value(row)
		if math.IsNaN(float64(v)) {
			return buf, false
		}
		if v == 0 {
			v = 0
		}
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v)), true
	case *array.Float64:
		v := c.Value(row)
		if math.IsNaN(v) {
			return buf, false
		}
		if v == 0 {
			v = 0
		}
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v)), true
	case *array.String:
		v := c.Value(row)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...), true
	case *array.Binary:
		v := c.Value(row)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...), true
	case *array.Boolean:
		if c.Value(row) {
			return append(buf, 1), true
		}
		return append(buf, 0), true
	default:
		panic("unsupported join key type " + col.DataType().String())
	}
}

// rowRef addresses one row of a table. A negative batch marks an absent row.
type rowRef struct {
	batch int
	row   int
}

var absentRow = rowRef{batch: -1, row: -1}

func (r rowRef) present() bool { return r.batch >= 0 }

type routedRow struct {
	key string
	ref rowRef
}

// hashIndex maps encoded keys of the build side to its rows in scan order.
// Each partition is written by a single worker while it is built and only
// read afterwards.
type hashIndex struct {
	partitions []map[string][]rowRef
}

func (h *hashIndex) partition(key string) int {
	if len(h.partitions) == 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(len(h.partitions)))
}

func (h *hashIndex) lookup(key string) []rowRef {
	return h.partitions[h.partition(key)][key]
}

func buildIndex(ctx context.Context, build *table.Table, keys []joinKey, numPartitions int) (*hashIndex, error) {
	columns := make([]int, len(keys))
	for i, k := range keys {
		columns[i] = k.right
	}

	encoded := make([]encodedKeys, build.NumBatches())
	err := generic.ParallelEach(build.Batches(), func(i int, batch arrow.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		encoded[i] = encodeKeys(batch, columns)
		return nil
	})
	if err != nil {
		return nil, err
	}

	index := &hashIndex{partitions: make([]map[string][]rowRef, numPartitions)}
	routed := make([][]routedRow, numPartitions)
	for b, enc := range encoded {
		for row, key := range enc.keys {
			if !enc.valid[row] {
				continue
			}
			p := index.partition(key)
			routed[p] = append(routed[p], routedRow{key: key, ref: rowRef{batch: b, row: row}})
		}
	}

	err = generic.ParallelEach(routed, func(p int, rows []routedRow) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := make(map[string][]rowRef)
		for _, r := range rows {
			m[r.key] = append(m[r.key], r.ref)
		}
		index.partitions[p] = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

// joinPair is one output row: the left and right rows it is made of.
type joinPair struct {
	left  rowRef
	right rowRef
}

func probe(ctx context.Context, left *table.Table, index *hashIndex, keys []joinKey, joinType JoinType) ([]joinPair, error) {
	columns := make([]int, len(keys))
	for i, k := range keys {
		columns[i] = k.left
	}

	perBatch := make([][]joinPair, left.NumBatches())
	err := generic.ParallelEach(left.Batches(), func(b int, batch arrow.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		enc := encodeKeys(batch, columns)
		var pairs []joinPair
		for row := range enc.keys {
			ref := rowRef{batch: b, row: row}
			var matches []rowRef
			if enc.valid[row] {
				matches = index.lookup(enc.keys[row])
			}

			switch joinType {
			case LeftSemiJoin:
				if len(matches) > 0 {
					pairs = append(pairs, joinPair{left: ref, right: absentRow})
				}
			case LeftAntiJoin:
				if len(matches) == 0 {
					pairs = append(pairs, joinPair{left: ref, right: absentRow})
				}
			default:
				for _, m := range matches {
					pairs = append(pairs, joinPair{left: ref, right: m})
				}
				if len(matches) == 0 && joinType.padsRight() {
					pairs = append(pairs, joinPair{left: ref, right: absentRow})
				}
			}
		}
		perBatch[b] = pairs
		return nil
	})
	if err != nil {
		return nil, err
	}

	var total int
	for _, pairs := range perBatch {
		total += len(pairs)
	}
	all := make([]joinPair, 0, total)
	for _, pairs := range perBatch {
		all = append(all, pairs...)
	}
	return all, nil
}

// appendUnmatchedRight adds one pair for every right row that did not appear
// in pairs, in right table order.
func appendUnmatchedRight(pairs []joinPair, right *table.Table) []joinPair {
	matched := make([][]bool, right.NumBatches())
	for b, batch := range right.Batches() {
		matched[b] = make([]bool, batch.NumRows())
	}
	for _, p := range pairs {
		if p.right.present() {
			matched[p.right.batch][p.right.row] = true
		}
	}
	for b := range matched {
		for row, ok := range matched[b] {
			if !ok {
				pairs = append(pairs, joinPair{left: absentRow, right: rowRef{batch: b, row: row}})
			}
		}
	}
	return pairs
}
