package learning

import "strings"

import "github.com/pkg/errors"
import "github.com/spf13/pflag"
import "github.com/spf13/viper"

// groupEnv maps the process group keys to the environment variables set by
// the launcher. Nothing outside this file reads the environment.
var groupEnv = map[string]string{
	"world_size":  "WORLD_SIZE",
	"rank":        "RANK",
	"master_addr": "MASTER_ADDR",
	"master_port": "MASTER_PORT",
}

// flagKey converts a flag name to its config key.
func flagKey(name string) string {
	switch name {
	case "lr":
		return "learning_rate"
	}
	return strings.ReplaceAll(name, "-", "_")
}

// BindFlags registers every configuration flag on fs with its default.
func BindFlags(fs *pflag.FlagSet) {
	d := DefaultHyperParameters()

	fs.Int("batch-size", d.BatchSize, "input batch size for training")
	fs.Int("test-batch-size", d.TestBatchSize, "input batch size for evaluation")
	fs.Int("epochs", d.Epochs, "number of epochs to train")
	fs.Float64("lr", d.LearningRate, "learning rate")
	fs.Float64("weight-decay", d.WeightDecay, "decoupled weight decay")
	fs.Int64("seed", d.Seed, "random seed")
	fs.Int("log-interval", d.LogInterval, "batches between progress records")
	fs.Int("prefetch", d.Prefetch, "batches encoded ahead of the training loop, 0 disables")

	fs.Bool("save-model", d.SaveModel, "save the model weights after training (rank 0)")
	fs.Bool("load-model", d.LoadModel, "load the model weights before training")
	fs.String("model-path", d.ModelPath, "weights file")
	fs.String("log-path", d.LogPath, "log file, stdout when empty")
	fs.Bool("test", d.Test, "also evaluate the test split after training")

	fs.String("data-source", d.DataSource, "dataset source: builtin, jsonl, sqlite")
	fs.String("data-path", d.DataPath, "directory of <split>.jsonl files or sqlite database")

	fs.Int("max-length", d.MaxLength, "maximum encoded length including markers")
	fs.String("vocab", d.Vocab, "token table: char, bpe")
	fs.Int("buckets", d.Buckets, "token buckets, rounded up to a prime")
	fs.Int("embedding-dim", d.EmbeddingDim, "embedding width")
	fs.Int("hidden-dim", d.HiddenDim, "hidden layer width")
	fs.Int("num-classes", d.NumClasses, "number of labels")

	fs.String("reduction", d.Reduction, "gradient reduction across ranks: mean, sum")
	fs.String("backend", d.Backend, "collective backend")
	fs.Duration("rendezvous-timeout", d.RendezvousTimeout, "time to wait for every rank to join")
	fs.Bool("abort-on-non-finite", d.AbortOnNonFinite, "stop when the loss is NaN or infinite")
	fs.String("metrics-addr", d.MetricsAddr, "serve prometheus metrics on this address")
	fs.String("cpu-profile", d.CPUProfile, "write a CPU profile to this file")

	fs.String("config", "", "optional YAML config file")
}

// Load parses args, merges the optional config file and the group
// environment, and validates the result. Precedence is flag, environment,
// config file, default. The remaining positional arguments are returned.
func Load(name string, args []string) (HyperParameters, []string, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return HyperParameters{}, nil, err
		}
		return HyperParameters{}, nil, &ConfigurationError{Key: "flags", Reason: err.Error()}
	}
	h, err := FromFlags(viper.New(), fs)
	return h, fs.Args(), err
}

// FromFlags resolves the configuration from parsed flags into v.
func FromFlags(v *viper.Viper, fs *pflag.FlagSet) (HyperParameters, error) {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(flagKey(f.Name), f)
	})
	if bindErr != nil {
		return HyperParameters{}, errors.Wrap(bindErr, "config: binding flags")
	}

	d := DefaultHyperParameters()
	v.SetDefault("world_size", d.WorldSize)
	v.SetDefault("rank", d.Rank)
	v.SetDefault("master_addr", d.MasterAddr)
	v.SetDefault("master_port", d.MasterPort)
	for key, env := range groupEnv {
		if err := v.BindEnv(key, env); err != nil {
			return HyperParameters{}, errors.Wrapf(err, "config: binding %s", env)
		}
	}

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return HyperParameters{}, &ConfigurationError{Key: "config", Reason: err.Error()}
		}
	}

	var h HyperParameters
	if err := v.Unmarshal(&h); err != nil {
		return HyperParameters{}, &ConfigurationError{Key: "config", Reason: err.Error()}
	}
	if err := h.Validate(); err != nil {
		return HyperParameters{}, err
	}
	return h, nil
}
