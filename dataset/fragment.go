package dataset

import (
	"strconv"
	"strings"

	"github.com/prometheus/prometheus/model/labels"
	"golang.org/x/exp/slices"
)

// Fragment is one data file of a dataset together with the partition it
// belongs to.
type Fragment struct {
	Path      string
	Partition labels.Labels
}

// Matches reports whether the partition satisfies every matcher. A label
// missing from the partition is matched as the empty string.
func (f Fragment) Matches(matchers ...*labels.Matcher) bool {
	for _, m := range matchers {
		if !m.Matches(f.Partition.Get(m.Name)) {
			return false
		}
	}
	return true
}

// sortFragments orders fragments by partition and keeps the given order
// within a partition.
func sortFragments(fragments []Fragment) []Fragment {
	sorted := make([]Fragment, len(fragments))
	copy(sorted, fragments)
	slices.SortStableFunc(sorted, func(a, b Fragment) bool {
		return comparePartitions(a.Partition, b.Partition) < 0
	})
	return sorted
}

// comparePartitions orders partitions label by label like labels.Compare,
// except that two integer values are compared numerically so that year=9
// sorts before year=10.
func comparePartitions(a, b labels.Labels) int {
	la, lb := partitionLabels(a), partitionLabels(b)
	for i := 0; i < len(la) && i < len(lb); i++ {
		if c := strings.Compare(la[i].Name, lb[i].Name); c != 0 {
			return c
		}
		if c := comparePartitionValues(la[i].Value, lb[i].Value); c != 0 {
			return c
		}
	}
	return len(la) - len(lb)
}

func partitionLabels(ls labels.Labels) []labels.Label {
	result := make([]labels.Label, 0, ls.Len())
	ls.Range(func(l labels.Label) {
		result = append(result, l)
	})
	return result
}

func comparePartitionValues(a, b string) int {
	x, errA := strconv.ParseInt(a, 10, 64)
	y, errB := strconv.ParseInt(b, 10, 64)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return strings.Compare(a, b)
}
