// Package learning holds the run configuration, the loss and the optimizer.
package learning

import "fmt"
import "time"

// HyperParameters is the full configuration of one run. Every field is bound
// to a flag, an optional config file key and, for the group fields, an
// environment variable.
type HyperParameters struct {
	BatchSize     int     `mapstructure:"batch_size"`
	TestBatchSize int     `mapstructure:"test_batch_size"`
	Epochs        int     `mapstructure:"epochs"`
	LearningRate  float64 `mapstructure:"learning_rate"`
	WeightDecay   float64 `mapstructure:"weight_decay"`
	Seed          int64   `mapstructure:"seed"`
	LogInterval   int     `mapstructure:"log_interval"`
	Prefetch      int     `mapstructure:"prefetch"`

	SaveModel bool   `mapstructure:"save_model"`
	LoadModel bool   `mapstructure:"load_model"`
	ModelPath string `mapstructure:"model_path"`
	LogPath   string `mapstructure:"log_path"`
	Test      bool   `mapstructure:"test"`

	DataSource string `mapstructure:"data_source"`
	DataPath   string `mapstructure:"data_path"`

	MaxLength    int    `mapstructure:"max_length"`
	Vocab        string `mapstructure:"vocab"`
	Buckets      int    `mapstructure:"buckets"`
	EmbeddingDim int    `mapstructure:"embedding_dim"`
	HiddenDim    int    `mapstructure:"hidden_dim"`
	NumClasses   int    `mapstructure:"num_classes"`

	Reduction         string        `mapstructure:"reduction"`
	Backend           string        `mapstructure:"backend"`
	RendezvousTimeout time.Duration `mapstructure:"rendezvous_timeout"`
	AbortOnNonFinite  bool          `mapstructure:"abort_on_non_finite"`
	MetricsAddr       string        `mapstructure:"metrics_addr"`
	CPUProfile        string        `mapstructure:"cpu_profile"`

	WorldSize  int    `mapstructure:"world_size"`
	Rank       int    `mapstructure:"rank"`
	MasterAddr string `mapstructure:"master_addr"`
	MasterPort int    `mapstructure:"master_port"`
}

// DefaultHyperParameters returns the configuration used when nothing is set.
func DefaultHyperParameters() HyperParameters {
	return HyperParameters{
		BatchSize:         16,
		TestBatchSize:     1000,
		Epochs:            1,
		LearningRate:      1e-5,
		Seed:              1,
		LogInterval:       2,
		Prefetch:          2,
		ModelPath:         "pert.bin",
		DataSource:        "builtin",
		MaxLength:         512,
		Vocab:             "char",
		Buckets:           8192,
		EmbeddingDim:      64,
		HiddenDim:         32,
		NumClasses:        2,
		Reduction:         "mean",
		Backend:           "grpc",
		RendezvousTimeout: 5 * time.Minute,
		WorldSize:         1,
		Rank:              0,
		MasterAddr:        "127.0.0.1",
		MasterPort:        29500,
	}
}

// ConfigurationError reports an invalid setting.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

func positive(key string, value int) error {
	if value <= 0 {
		return &ConfigurationError{Key: key, Reason: fmt.Sprintf("must be positive, got %d", value)}
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf("unknown value %q, want one of %v", value, allowed)}
}

// Validate checks the configuration before any computation starts.
func (h *HyperParameters) Validate() error {
	for _, check := range []error{
		positive("batch_size", h.BatchSize),
		positive("test_batch_size", h.TestBatchSize),
		positive("log_interval", h.LogInterval),
		positive("buckets", h.Buckets),
		positive("embedding_dim", h.EmbeddingDim),
		positive("hidden_dim", h.HiddenDim),
		positive("world_size", h.WorldSize),
		oneOf("reduction", h.Reduction, "mean", "sum"),
		oneOf("vocab", h.Vocab, "char", "bpe"),
		oneOf("data_source", h.DataSource, "builtin", "jsonl", "sqlite"),
	} {
		if check != nil {
			return check
		}
	}
	if h.Backend == "" {
		return &ConfigurationError{Key: "backend", Reason: "must name a collective backend"}
	}
	if h.Epochs < 0 {
		return &ConfigurationError{Key: "epochs", Reason: "must not be negative"}
	}
	if h.Prefetch < 0 {
		return &ConfigurationError{Key: "prefetch", Reason: "must not be negative"}
	}
	if !(h.LearningRate > 0) {
		return &ConfigurationError{Key: "learning_rate", Reason: "must be positive"}
	}
	if h.WeightDecay < 0 {
		return &ConfigurationError{Key: "weight_decay", Reason: "must not be negative"}
	}
	if h.MaxLength < 3 {
		return &ConfigurationError{Key: "max_length", Reason: "must leave room for [CLS] and [SEP] and one token"}
	}
	if h.NumClasses < 2 {
		return &ConfigurationError{Key: "num_classes", Reason: "need at least two classes"}
	}
	if h.Rank < 0 || h.Rank >= h.WorldSize {
		return &ConfigurationError{Key: "rank", Reason: fmt.Sprintf("rank %d outside world of %d", h.Rank, h.WorldSize)}
	}
	if h.MasterPort <= 0 || h.MasterPort > 65535 {
		return &ConfigurationError{Key: "master_port", Reason: fmt.Sprintf("invalid port %d", h.MasterPort)}
	}
	if h.RendezvousTimeout <= 0 {
		return &ConfigurationError{Key: "rendezvous_timeout", Reason: "must be positive"}
	}
	if (h.DataSource == "jsonl" || h.DataSource == "sqlite") && h.DataPath == "" {
		return &ConfigurationError{Key: "data_path", Reason: "required for data_source " + h.DataSource}
	}
	if (h.SaveModel || h.LoadModel) && h.ModelPath == "" {
		return &ConfigurationError{Key: "model_path", Reason: "required when saving or loading"}
	}
	return nil
}
