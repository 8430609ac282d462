package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/alecthomas/kingpin.v2"

	"Shopify/arrow-dataset-engine/compute"
	"Shopify/arrow-dataset-engine/dataset"
	"Shopify/arrow-dataset-engine/db"
	"Shopify/arrow-dataset-engine/storage"
)

type Options struct {
	// Path to the YAML bucket configuration.
	BucketConfigFile string
	// Inline YAML bucket configuration, used when no file is given.
	BucketConfig string
	LogLevel     string
	// Address to expose metrics on, disabled when empty.
	MetricsAddress string
	CPUProfile     string
}

func (o *Options) BindFlags(app *kingpin.Application) {
	app.Flag("bucket.config-file", "Path to the YAML object store configuration.").
		StringVar(&o.BucketConfigFile)
	app.Flag("bucket.config", "Inline YAML object store configuration.").
		Default("type: filesystem\nfilesystem:\n  directory: .").StringVar(&o.BucketConfig)
	app.Flag("log.level", "Log level, one of debug, info, warn or error.").
		Default("info").EnumVar(&o.LogLevel, "debug", "info", "warn", "error")
	app.Flag("metrics.address", "Address to expose Prometheus metrics on.").
		Default("").StringVar(&o.MetricsAddress)
	app.Flag("cpuprofile", "Write a CPU profile to this file.").
		Default("").StringVar(&o.CPUProfile)
}

func (o *Options) bucketConfig() (storage.BucketConfig, error) {
	content := []byte(o.BucketConfig)
	if o.BucketConfigFile != "" {
		var err error
		if content, err = os.ReadFile(o.BucketConfigFile); err != nil {
			return storage.BucketConfig{}, errors.Wrap(err, "read bucket config")
		}
	}
	return storage.ParseBucketConfig(content)
}

// DatasetOptions selects and decodes one dataset of the bucket.
type DatasetOptions struct {
	Dir              string
	Partitioning     string
	Matchers         string
	Decoder          string
	BatchSize        int64
	ReadBufferSize   int64
	PartitionColumns bool
}

func (o *DatasetOptions) BindFlags(cmd *kingpin.CmdClause, prefix string) {
	cmd.Flag(prefix+"dir", "Directory of the dataset in the bucket.").
		Default("").StringVar(&o.Dir)
	cmd.Flag(prefix+"partitioning", `"hive" for name=value directories, or a comma separated list of partition fields for plain directories.`).
		Default("hive").StringVar(&o.Partitioning)
	cmd.Flag(prefix+"match", `Partition selector, for example {year="2021"}.`).
		Default("").StringVar(&o.Matchers)
	cmd.Flag(prefix+"decoder", "Parquet decoder to use.").
		Default("arrow").EnumVar(&o.Decoder, "arrow", "rowgroup")
	cmd.Flag(prefix+"batch-size", "Maximum number of rows per batch.").
		Default("65536").Int64Var(&o.BatchSize)
	cmd.Flag(prefix+"read-buffer-size", "Minimum size of object range reads in bytes.").
		Default("4096").Int64Var(&o.ReadBufferSize)
	cmd.Flag(prefix+"partition-columns", "Append partition fields as string columns.").
		Default("true").BoolVar(&o.PartitionColumns)
}

func (o *DatasetOptions) partitioning() db.Partitioning {
	if o.Partitioning == "hive" {
		return db.HivePartitioning{}
	}
	return db.DirectoryPartitioning{Fields: strings.Split(o.Partitioning, ",")}
}

func (o *DatasetOptions) matchers() ([]*labels.Matcher, error) {
	if o.Matchers == "" {
		return nil, nil
	}
	return parser.ParseMetricSelector(o.Matchers)
}

func (o *DatasetOptions) decoder() dataset.Decoder {
	if o.Decoder == "rowgroup" {
		return dataset.NewRowGroupDecoder(int(o.BatchSize))
	}
	return dataset.NewArrowDecoder(o.BatchSize)
}

// partitionFields returns the partition names found in fragments in sorted
// order.
func partitionFields(fragments []dataset.Fragment) []string {
	seen := make(map[string]struct{})
	for _, f := range fragments {
		f.Partition.Range(func(l labels.Label) {
			seen[l.Name] = struct{}{}
		})
	}
	fields := maps.Keys(seen)
	slices.Sort(fields)
	return fields
}

type ScanOptions struct {
	Dataset   DatasetOptions
	Limit     int
	ReadAhead int
}

type JoinOptions struct {
	Left, Right     DatasetOptions
	Keys            []string
	JoinType        string
	BuildPartitions int
	OutputDir       string
}

func (o *JoinOptions) joinType() (compute.JoinType, error) {
	return compute.ParseJoinType(strings.ReplaceAll(o.JoinType, "-", " "))
}
