package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/pprof"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/schollz/progressbar/v3"
	"github.com/thanos-io/objstore"
	"gopkg.in/alecthomas/kingpin.v2"

	"Shopify/arrow-dataset-engine/compute"
	"Shopify/arrow-dataset-engine/dataset"
	"Shopify/arrow-dataset-engine/db"
	"Shopify/arrow-dataset-engine/storage"
	"Shopify/arrow-dataset-engine/table"
)

func main() {
	app := kingpin.New("dataset", "Scan and join partitioned parquet datasets.")
	opts := Options{}
	opts.BindFlags(app)

	scanOpts := ScanOptions{}
	scanCmd := app.Command("scan", "Read batches of a dataset.")
	scanOpts.Dataset.BindFlags(scanCmd, "")
	scanCmd.Flag("limit", "Stop after this many batches, 0 reads everything.").
		Default("0").IntVar(&scanOpts.Limit)
	scanCmd.Flag("read-ahead", "Number of batches decoded ahead of the consumer.").
		Default("0").IntVar(&scanOpts.ReadAhead)

	joinOpts := JoinOptions{}
	joinCmd := app.Command("join", "Join two datasets on equal key columns.")
	joinOpts.Left.BindFlags(joinCmd, "left.")
	joinOpts.Right.BindFlags(joinCmd, "right.")
	joinCmd.Flag("on", "Join key column, repeat for composite keys.").
		Required().StringsVar(&joinOpts.Keys)
	joinCmd.Flag("type", "Join type.").
		Default("inner").EnumVar(&joinOpts.JoinType, "inner", "left-outer", "right-outer", "full-outer", "left-semi", "left-anti")
	joinCmd.Flag("build-partitions", "Number of hash partitions of the right dataset.").
		Default("1").IntVar(&joinOpts.BuildPartitions)
	joinCmd.Flag("output-dir", "Write the result as a dataset into this directory of the bucket.").
		Default("").StringVar(&joinOpts.OutputDir)

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	logger := newLogger(opts.LogLevel)

	if opts.CPUProfile != "" {
		f, err := os.Create(opts.CPUProfile)
		if err != nil {
			exit(logger, err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			exit(logger, err)
		}
		defer pprof.StopCPUProfile()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if opts.MetricsAddress != "" {
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			level.Error(logger).Log("msg", "metrics server stopped", "err", http.ListenAndServe(opts.MetricsAddress, nil))
		}()
	}

	ctx := context.Background()
	bucketConfig, err := opts.bucketConfig()
	if err != nil {
		exit(logger, err)
	}
	bucket, err := storage.NewBucket(ctx, logger, bucketConfig, "dataset")
	if err != nil {
		exit(logger, err)
	}
	defer bucket.Close()

	switch command {
	case scanCmd.FullCommand():
		err = runScan(ctx, logger, reg, bucket, scanOpts)
	case joinCmd.FullCommand():
		err = runJoin(ctx, logger, reg, bucket, joinOpts)
	}
	if err != nil {
		exit(logger, err)
	}
}

func newLogger(logLevel string) log.Logger {
	var filter level.Option
	switch logLevel {
	case "debug":
		filter = level.AllowDebug()
	case "warn":
		filter = level.AllowWarn()
	case "error":
		filter = level.AllowError()
	default:
		filter = level.AllowInfo()
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, filter)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func exit(logger log.Logger, err error) {
	level.Error(logger).Log("msg", "command failed", "err", err)
	os.Exit(1)
}

func openDataset(ctx context.Context, logger log.Logger, reg prometheus.Registerer, bucket objstore.Bucket, opts DatasetOptions) (*dataset.Dataset, []*labels.Matcher, error) {
	matchers, err := opts.matchers()
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse partition selector")
	}
	fragments, err := db.Discover(ctx, bucket, opts.Dir, opts.partitioning())
	if err != nil {
		return nil, nil, err
	}
	level.Info(logger).Log("msg", "discovered fragments", "dir", opts.Dir, "fragments", len(fragments))

	datasetOpts := []dataset.Option{
		dataset.WithDecoder(opts.decoder()),
		dataset.WithLogger(log.With(logger, "dataset", opts.Dir)),
		dataset.WithRegisterer(reg),
		dataset.WithReaderOptions(
			storage.WithReadBufferSize(opts.ReadBufferSize),
			storage.WithReaderLogger(logger),
		),
	}
	if opts.PartitionColumns {
		datasetOpts = append(datasetOpts, dataset.WithPartitionColumns(partitionFields(fragments)...))
	}
	return dataset.New(bucket, fragments, datasetOpts...), matchers, nil
}

func runScan(ctx context.Context, logger log.Logger, reg prometheus.Registerer, bucket objstore.Bucket, opts ScanOptions) error {
	ds, matchers, err := openDataset(ctx, logger, reg, bucket, opts.Dataset)
	if err != nil {
		return err
	}

	var source compute.BatchSource = ds.Scan(ctx, matchers...)
	if opts.ReadAhead > 0 {
		source = compute.NewConcurrent(source, opts.ReadAhead)
	}
	if opts.Limit > 0 {
		source = compute.Limit(source, opts.Limit)
	}
	defer source.Close()

	bar := progressbar.Default(-1, "scanning")
	var numBatches, numRows int64
	for {
		batch, err := source.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		numBatches++
		numRows += batch.NumRows()
		batch.Release()
		if err := bar.Add64(1); err != nil {
			return err
		}
	}
	if err := bar.Finish(); err != nil {
		return err
	}

	level.Info(logger).Log("msg", "scan finished", "batches", numBatches, "rows", numRows)
	return nil
}

func runJoin(ctx context.Context, logger log.Logger, reg prometheus.Registerer, bucket objstore.Bucket, opts JoinOptions) error {
	joinType, err := opts.joinType()
	if err != nil {
		return err
	}

	left, err := readTable(ctx, logger, prometheus.WrapRegistererWith(prometheus.Labels{"side": "left"}, reg), bucket, opts.Left)
	if err != nil {
		return errors.Wrap(err, "read left dataset")
	}
	defer left.Release()
	right, err := readTable(ctx, logger, prometheus.WrapRegistererWith(prometheus.Labels{"side": "right"}, reg), bucket, opts.Right)
	if err != nil {
		return errors.Wrap(err, "read right dataset")
	}
	defer right.Release()

	result, err := compute.HashJoin(ctx, left, right, opts.Keys,
		compute.WithJoinType(joinType),
		compute.WithBuildPartitions(opts.BuildPartitions),
	)
	if err != nil {
		return err
	}
	defer result.Release()
	level.Info(logger).Log("msg", "join finished", "type", joinType, "left_rows", left.NumRows(), "right_rows", right.NumRows(), "rows", result.NumRows())

	if opts.OutputDir == "" {
		fmt.Println(result.Schema())
		return nil
	}
	writer := db.NewWriter(bucket, opts.OutputDir, result.Schema(), db.WithWriterLogger(logger))
	fragment, err := writer.Write(ctx, labels.EmptyLabels(), result.Batches()...)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "join result written", "part", fragment.Path)
	return nil
}

func readTable(ctx context.Context, logger log.Logger, reg prometheus.Registerer, bucket objstore.Bucket, opts DatasetOptions) (*table.Table, error) {
	ds, matchers, err := openDataset(ctx, logger, reg, bucket, opts)
	if err != nil {
		return nil, err
	}
	return ds.ToTable(ctx, matchers...)
}
