package trainer

import "context"
import "fmt"
import "math"

import "github.com/go-logr/logr"
import "github.com/pkg/errors"

import "github.com/neurlang/finetune/datasets"
import "github.com/neurlang/finetune/distributed"
import "github.com/neurlang/finetune/learning"
import "github.com/neurlang/finetune/metrics"
import "github.com/neurlang/finetune/model"

// State is owned by the training controller. It lives for one process and
// is never persisted.
type State struct {
	Epoch        int
	RunningLoss  float64
	BestAccuracy float64
}

// NonFiniteLossError reports a NaN or infinite batch loss.
type NonFiniteLossError struct {
	Epoch int
	Batch int
	Loss  float64
}

func (e *NonFiniteLossError) Error() string {
	return fmt.Sprintf("trainer: non-finite loss %v at epoch %d batch %d", e.Loss, e.Epoch, e.Batch)
}

// Optimizer updates the weights from the accumulated gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// Options tune the training loop.
type Options struct {
	LogInterval      int
	AbortOnNonFinite bool
	Log              logr.Logger
	Metrics          *metrics.Recorder
}

// TrainFunc trains one epoch. steps is the number of optimizer steps the
// whole group takes this epoch, at least the local batch count.
type TrainFunc func(ctx context.Context, epoch, steps int, state *State) error

// NewTrainFunc returns the epoch loop: forward, loss, backward, gradient
// all-reduce, optimizer step and zero-grad for every batch of the shard.
// When the shard has fewer batches than steps, the missing steps are taken
// with zero gradients so that every rank joins every all-reduce.
func NewTrainFunc(replica *distributed.Replica, loader *datasets.Loader, opt Optimizer, loss learning.LossFunc, o Options) TrainFunc {
	if o.LogInterval < 1 {
		o.LogInterval = 1
	}

	step := func(ctx context.Context) error {
		if err := replica.AllReduceGradients(ctx); err != nil {
			return errors.Wrap(err, "trainer: gradient all-reduce")
		}
		opt.Step()
		opt.ZeroGrad()
		return nil
	}

	return func(ctx context.Context, epoch, steps int, state *State) error {
		state.Epoch = epoch
		o.Metrics.SetEpoch(epoch)

		var total = loader.Len()
		if steps > total {
			total = steps
		}
		var done int

		err := loader.Each(ctx, func(n int, b model.Batch) error {
			scores, err := replica.Forward(b.Inputs)
			if err != nil {
				return errors.Wrapf(err, "trainer: forward epoch %d batch %d", epoch, n)
			}
			value, dScores, err := loss(scores, b.Labels)
			if err != nil {
				return errors.Wrapf(err, "trainer: loss epoch %d batch %d", epoch, n)
			}
			if math.IsNaN(value) || math.IsInf(value, 0) {
				nonFinite := &NonFiniteLossError{Epoch: epoch, Batch: n, Loss: value}
				o.Metrics.NonFiniteLoss()
				o.Log.Error(nonFinite, "non-finite loss", "epoch", epoch, "batch", n)
				if o.AbortOnNonFinite {
					return nonFinite
				}
			}
			if err := replica.Backward(dScores); err != nil {
				return errors.Wrapf(err, "trainer: backward epoch %d batch %d", epoch, n)
			}
			if err := step(ctx); err != nil {
				return err
			}

			state.RunningLoss += value
			done = n
			o.Metrics.BatchDone(value)
			if n%o.LogInterval == 0 {
				o.Log.Info("train progress",
					"epoch", epoch,
					"batch", n,
					"total_batches", total,
					"percent_complete", 100*float64(n)/float64(total),
					"loss", value)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for n := done + 1; n <= total; n++ {
			opt.ZeroGrad()
			if err := step(ctx); err != nil {
				return err
			}
			o.Metrics.ShadowStep()
			o.Log.V(1).Info("shadow step", "epoch", epoch, "batch", n, "total_batches", total)
		}
		return nil
	}
}
