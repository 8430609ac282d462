package compute

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/pkg/errors"
)

var (
	ErrNoJoinKeys       = errors.New("join requires at least one key")
	ErrDuplicateJoinKey = errors.New("duplicate join key")
)

// JoinKeyMissingError is returned when a join key is not a column of one of
// the joined tables.
type JoinKeyMissingError struct {
	Key  string
	Side string
}

func (e *JoinKeyMissingError) Error() string {
	return fmt.Sprintf("join key %q not found in %s table", e.Key, e.Side)
}

// JoinKeyTypeError is returned when a key column has different types on both
// sides, or a type that cannot be used as a key.
type JoinKeyTypeError struct {
	Key   string
	Left  arrow.DataType
	Right arrow.DataType
}

func (e *JoinKeyTypeError) Error() string {
	if arrow.TypeEqual(e.Left, e.Right) {
		return fmt.Sprintf("join key %q has unsupported type %s", e.Key, e.Left)
	}
	return fmt.Sprintf("join key %q has type %s in left table and %s in right table", e.Key, e.Left, e.Right)
}

// ColumnCollisionError is returned when two output columns end up with the
// same name after suffixes were applied.
type ColumnCollisionError struct {
	Column string
}

func (e *ColumnCollisionError) Error() string {
	return fmt.Sprintf("join output has more than one column named %q", e.Column)
}
