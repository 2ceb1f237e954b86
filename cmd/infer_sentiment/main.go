package main

import "fmt"
import "os"

import "github.com/pkg/errors"
import "github.com/spf13/pflag"

import "github.com/neurlang/finetune/checkpoint"
import "github.com/neurlang/finetune/inference"
import "github.com/neurlang/finetune/learning"
import "github.com/neurlang/finetune/net/feedforward"
import "github.com/neurlang/finetune/tokenizer"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	h, texts, err := learning.Load("infer_sentiment", args)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return errors.New("infer_sentiment: no texts given")
	}

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
	if err := checkpoint.New().Load(net, h.ModelPath); err != nil {
		return err
	}

	preds, err := inference.Classify(net, enc, texts, h.TestBatchSize)
	if err != nil {
		return err
	}
	for _, p := range preds {
		fmt.Printf("%d\t%.4f\t%s\n", p.Label, p.Probabilities[p.Label], p.Text)
	}
	return nil
}
