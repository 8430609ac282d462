package db

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/model/labels"
)

// Partitioning maps partition labels to directories below a dataset root and
// back.
type Partitioning interface {
	Path(partition labels.Labels) (string, error)
	Parse(dirs []string) (labels.Labels, error)
}

// HivePartitioning stores every label as a "name=value" directory, ordered by
// label name.
type HivePartitioning struct{}

func (HivePartitioning) Path(partition labels.Labels) (string, error) {
	dirs := make([]string, 0, partition.Len())
	var err error
	partition.Range(func(l labels.Label) {
		if err == nil {
			err = validatePathValue(l.Name, l.Value)
		}
		dirs = append(dirs, l.Name+"="+l.Value)
	})
	if err != nil {
		return "", err
	}
	return strings.Join(dirs, "/"), nil
}

func (HivePartitioning) Parse(dirs []string) (labels.Labels, error) {
	b := labels.NewScratchBuilder(len(dirs))
	for _, dir := range dirs {
		name, value, ok := strings.Cut(dir, "=")
		if !ok || name == "" {
			return labels.EmptyLabels(), errors.Errorf("directory %q is not a name=value partition", dir)
		}
		b.Add(name, value)
	}
	b.Sort()
	return b.Labels(), nil
}

// DirectoryPartitioning stores the values of Fields as nested directories in
// the order of Fields.
type DirectoryPartitioning struct {
	Fields []string
}

func (p DirectoryPartitioning) Path(partition labels.Labels) (string, error) {
	if partition.Len() != len(p.Fields) {
		return "", errors.Errorf("partition %s does not have exactly the fields %v", partition, p.Fields)
	}
	dirs := make([]string, 0, len(p.Fields))
	for _, field := range p.Fields {
		value := partition.Get(field)
		if value == "" {
			return "", errors.Errorf("partition %s has no value for %q", partition, field)
		}
		if err := validatePathValue(field, value); err != nil {
			return "", err
		}
		dirs = append(dirs, value)
	}
	return strings.Join(dirs, "/"), nil
}

func (p DirectoryPartitioning) Parse(dirs []string) (labels.Labels, error) {
	if len(dirs) != len(p.Fields) {
		return labels.EmptyLabels(), errors.Errorf("expected %d partition directories, got %d", len(p.Fields), len(dirs))
	}
	b := labels.NewScratchBuilder(len(dirs))
	for i, field := range p.Fields {
		b.Add(field, dirs[i])
	}
	b.Sort()
	return b.Labels(), nil
}

func validatePathValue(name, value string) error {
	if value == "" || strings.Contains(value, "/") || value == "." || value == ".." {
		return errors.Errorf("partition value %q of %q cannot be used as a directory", value, name)
	}
	return nil
}
