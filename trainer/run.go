package trainer

import "context"
import "time"

import "github.com/go-logr/logr"

import "github.com/neurlang/finetune/checkpoint"
import "github.com/neurlang/finetune/datasets"
import "github.com/neurlang/finetune/distributed"
import "github.com/neurlang/finetune/learning"
import "github.com/neurlang/finetune/metrics"
import "github.com/neurlang/finetune/model"

// Components are the collaborators of one run.
type Components struct {
	Log         logr.Logger
	Metrics     *metrics.Recorder
	Source      datasets.Source
	Collator    datasets.Collator
	Model       model.Trainable
	Checkpoints *checkpoint.Manager

	// Backend replaces the configured collective backend, for groups that
	// live inside one process.
	Backend distributed.Backend

	// NoShuffle keeps the dataset order in every epoch.
	NoShuffle bool
}

// Env extracts the process group description from the configuration.
func Env(h learning.HyperParameters) distributed.Env {
	return distributed.Env{
		WorldSize:  h.WorldSize,
		Rank:       h.Rank,
		MasterAddr: h.MasterAddr,
		MasterPort: h.MasterPort,
	}
}

// Run executes a whole fine-tuning run: group setup, data partitioning,
// the epochs with validation, the optional test pass and the final save on
// rank 0. Any failure after the group formed aborts it for every rank.
// An invalid configuration is rejected before anything else happens.
func Run(ctx context.Context, h learning.HyperParameters, c Components) (state *State, err error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	log := c.Log
	env := Env(h)

	coord, err := distributed.New(env, h.Backend, distributed.Options{
		Reduction:         h.Reduction,
		RendezvousTimeout: h.RendezvousTimeout,
		Log:               log,
		Metrics:           c.Metrics,
		Backend:           c.Backend,
	})
	if err != nil {
		return nil, err
	}
	if distributed.ShouldDistribute(env, c.Backend != nil || distributed.Available(h.Backend)) {
		log.Info("using distributed training", "backend", h.Backend, "world_size", env.WorldSize, "rank", env.Rank)
		if err := coord.Init(ctx); err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			coord.Abort(err)
		}
		if terr := coord.Teardown(); err == nil {
			err = terr
		}
	}()

	rank, world := 0, 1
	if coord.IsDistributed() {
		rank, world = coord.Rank(), coord.WorldSize()
	}

	log.Info("loading data", "source", c.Source.String())
	train, err := datasets.Load(ctx, c.Source, datasets.Train)
	if err != nil {
		return nil, err
	}
	valid, err := datasets.Load(ctx, c.Source, datasets.Validation)
	if err != nil {
		return nil, err
	}
	var test *datasets.Dataset
	if h.Test {
		if test, err = datasets.Load(ctx, c.Source, datasets.Test); err != nil {
			return nil, err
		}
	}
	log.Info("data loaded", "train", train.Len(), "validation", valid.Len())

	shuffle := !c.NoShuffle
	trainSampler := datasets.NewDistributedSampler(train.Len(), rank, world, h.Seed, shuffle, false)
	validSampler := datasets.NewDistributedSampler(valid.Len(), rank, world, h.Seed, shuffle, false)
	coord.Register(trainSampler, validSampler)

	trainLoader := datasets.NewLoader(train, trainSampler, h.BatchSize, c.Collator, h.Prefetch)
	validLoader := datasets.NewLoader(valid, validSampler, h.TestBatchSize, c.Collator, h.Prefetch)

	if err := Resume(c.Model, c.Checkpoints, h.LoadModel, h.ModelPath); err != nil {
		return nil, err
	}
	replica, err := coord.Wrap(ctx, c.Model)
	if err != nil {
		return nil, err
	}

	opt := learning.NewAdamW(c.Model.Parameters(), h.LearningRate, h.WeightDecay)
	trainEpoch := NewTrainFunc(replica, trainLoader, opt, learning.CrossEntropy, Options{
		LogInterval:      h.LogInterval,
		AbortOnNonFinite: h.AbortOnNonFinite,
		Log:              log,
		Metrics:          c.Metrics,
	})
	evaluate := func(loader *datasets.Loader, mode string) (float64, error) {
		_, tally, err := NewEvaluateFunc(replica, loader)(ctx)
		if err != nil {
			return 0, err
		}
		sums, err := coord.ReduceSum(ctx, []float64{float64(tally.Correct()), float64(tally.Len())})
		if err != nil {
			return 0, err
		}
		var accuracy float64
		if sums[1] > 0 {
			accuracy = sums[0] / sums[1]
		}
		c.Metrics.SetAccuracy(mode, accuracy)
		log.Info("accuracy", "mode", mode, "accuracy_percent", 100*accuracy)
		return accuracy, nil
	}

	state = &State{}
	for t := 0; t < h.Epochs; t++ {
		epoch := t + 1
		log.Info("epoch start", "epoch", epoch, "epochs", h.Epochs)
		if err := coord.Reseed(ctx, t); err != nil {
			return state, err
		}
		steps, err := coord.AgreeSteps(ctx, trainLoader.Len())
		if err != nil {
			return state, err
		}
		log.V(1).Info("shard", "samples", trainLoader.NumSamples(), "batches", trainLoader.Len(), "steps", steps)
		start := time.Now()
		if err := trainEpoch(ctx, epoch, steps, state); err != nil {
			return state, err
		}
		log.Info("epoch done", "epoch", epoch, "elapsed", time.Since(start).String(), "running_loss", state.RunningLoss)

		accuracy, err := evaluate(validLoader, "Valid")
		if err != nil {
			return state, err
		}
		if accuracy > state.BestAccuracy {
			state.BestAccuracy = accuracy
		}
	}

	if test != nil {
		testSampler := datasets.NewDistributedSampler(test.Len(), rank, world, h.Seed, false, false)
		if _, err := evaluate(datasets.NewLoader(test, testSampler, h.TestBatchSize, c.Collator, h.Prefetch), "Test"); err != nil {
			return state, err
		}
	}
	log.Info("finished all epochs", "best_accuracy", state.BestAccuracy)

	if h.SaveModel && rank == 0 {
		if err := c.Checkpoints.Save(c.Model, h.ModelPath); err != nil {
			return state, err
		}
		log.Info("model saved", "path", h.ModelPath)
	}
	return state, nil
}
