package main

import "context"
import "fmt"
import "os"
import "os/signal"
import "syscall"

import "github.com/go-logr/logr"
import "github.com/pkg/errors"
import "github.com/spf13/pflag"

import "github.com/neurlang/finetune/checkpoint"
import "github.com/neurlang/finetune/datasets"
import "github.com/neurlang/finetune/datasets/chnsenticorp"
import "github.com/neurlang/finetune/learning"
import "github.com/neurlang/finetune/logging"
import "github.com/neurlang/finetune/metrics"
import "github.com/neurlang/finetune/net/feedforward"
import "github.com/neurlang/finetune/parallel"
import "github.com/neurlang/finetune/tokenizer"
import "github.com/neurlang/finetune/trainer"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openSource(h learning.HyperParameters) (datasets.Source, func() error, error) {
	switch h.DataSource {
	case "jsonl":
		return datasets.JSONLSource{Dir: h.DataPath}, func() error { return nil }, nil
	case "sqlite":
		db, err := datasets.OpenSQLite(h.DataPath)
		if err != nil {
			return nil, nil, err
		}
		return &datasets.SQLSource{DB: db, Table: datasets.DefaultTable}, db.Close, nil
	}
	return chnsenticorp.Dataslice{}, func() error { return nil }, nil
}

func run(args []string) error {
	h, _, err := learning.Load("train_sentiment", args)
	if err != nil {
		return err
	}

	log, closeLog, err := logging.New(h.LogPath)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if h.CPUProfile != "" {
		stopProfile, err := startProfile(h.CPUProfile)
		if err != nil {
			return err
		}
		defer stopProfile()
	}

	brand, physical, logical := parallel.CPU()
	log.Info("starting", "cpu", brand, "physical_cores", physical, "logical_cores", logical,
		"world_size", h.WorldSize, "rank", h.Rank)

	rec := metrics.New(h.Rank)
	if h.MetricsAddr != "" {
		go serveMetrics(ctx, log, rec, h.MetricsAddr)
	}

	source, closeSource, err := openSource(h)
	if err != nil {
		return err
	}
	defer closeSource()

	table, err := tokenizer.NewTable(h.Vocab, h.Buckets)
	if err != nil {
		return err
	}
	enc, err := tokenizer.New(table, h.MaxLength)
	if err != nil {
		return err
	}
	net, err := feedforward.New(feedforward.Config{
		VocabSize:    enc.VocabSize(),
		EmbeddingDim: h.EmbeddingDim,
		HiddenDim:    h.HiddenDim,
		Classes:      h.NumClasses,
		Seed:         h.Seed,
	})
	if err != nil {
		return err
	}

	state, err := trainer.Run(ctx, h, trainer.Components{
		Log:         log,
		Metrics:     rec,
		Source:      source,
		Collator:    enc,
		Model:       net,
		Checkpoints: checkpoint.New(),
	})
	if err != nil {
		return err
	}
	log.Info("done", "epochs", state.Epoch, "running_loss", state.RunningLoss, "best_accuracy", state.BestAccuracy)
	return nil
}

func serveMetrics(ctx context.Context, log logr.Logger, rec *metrics.Recorder, addr string) {
	log.Info("serving metrics", "addr", addr)
	if err := rec.Serve(ctx, addr); err != nil {
		log.Error(err, "metrics server stopped")
	}
}
