package storage

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"
	"github.com/thanos-io/objstore/providers/gcs"
	"gopkg.in/yaml.v3"
)

type BucketType string

const (
	FILESYSTEM BucketType = "filesystem"
	GCS        BucketType = "gcs"
	INMEMORY   BucketType = "inmem"
)

type GCSConfig struct {
	Bucket string `yaml:"bucket"`
}

type FilesystemConfig struct {
	Directory string `yaml:"directory"`
}

// BucketConfig selects and configures the object store holding a dataset.
type BucketConfig struct {
	Type       BucketType       `yaml:"type"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	GCS        GCSConfig        `yaml:"gcs"`
}

func ParseBucketConfig(content []byte) (BucketConfig, error) {
	var config BucketConfig
	if err := yaml.Unmarshal(content, &config); err != nil {
		return BucketConfig{}, errors.Wrap(err, "parse bucket config")
	}
	return config, nil
}

func NewBucket(ctx context.Context, logger log.Logger, config BucketConfig, component string) (objstore.Bucket, error) {
	switch config.Type {
	case FILESYSTEM:
		if config.Filesystem.Directory == "" {
			return nil, errors.New("filesystem bucket requires a directory")
		}
		return filesystem.NewBucket(config.Filesystem.Directory)
	case GCS:
		conf, err := yaml.Marshal(config.GCS)
		if err != nil {
			return nil, err
		}
		return gcs.NewBucket(ctx, logger, conf, component)
	case INMEMORY:
		return objstore.NewInMemBucket(), nil
	default:
		return nil, errors.Errorf("unsupported bucket type %q", config.Type)
	}
}
