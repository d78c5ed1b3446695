package config

import (
	"fmt"
	"strings"
)

type PrecisionMode int

const (
	PrecisionAuto PrecisionMode = iota
	PrecisionFP16
	PrecisionBF16
	PrecisionFP32
)

// ParsePrecision maps a user-facing mode string to a PrecisionMode.
func ParsePrecision(s string) (PrecisionMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return PrecisionAuto, nil
	case "fp16", "float16", "half":
		return PrecisionFP16, nil
	case "bf16", "bfloat16":
		return PrecisionBF16, nil
	case "fp32", "float32":
		return PrecisionFP32, nil
	}
	return PrecisionAuto, fmt.Errorf("invalid precision mode: %q", s)
}

func (p PrecisionMode) String() string {
	switch p {
	case PrecisionAuto:
		return "auto"
	case PrecisionFP16:
		return "fp16"
	case PrecisionBF16:
		return "bf16"
	case PrecisionFP32:
		return "fp32"
	}
	return fmt.Sprintf("precision(%d)", int(p))
}

// Config enumerates every recognized engine construction option. There is no
// pass-through option bag: unknown settings are a compile error at the call
// site, and values are validated here before any engine is built.
type Config struct {
	// Model is the name or path of the model the engine serves.
	Model string

	// TensorParallelSize is the number of devices the engine shards the
	// model across. 1 means no tensor parallelism.
	TensorParallelSize int

	// Precision selects the numeric precision for weights and activations.
	// PrecisionAuto defers the choice to the engine.
	Precision PrecisionMode

	// Seed initializes the sampling RNG for reproducible generation.
	Seed int64

	MaxModelLen int // maximum prompt+completion length per request
	MaxNumSeqs  int // maximum requests the engine batches per step
	VocabSize   int
	EOSTokenID  int

	DisableLogStats bool
}

func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("invalid model: must not be empty")
	}
	if c.TensorParallelSize <= 0 {
		return fmt.Errorf("invalid tensor_parallel_size: %d (must be positive)", c.TensorParallelSize)
	}
	if c.MaxModelLen <= 0 {
		return fmt.Errorf("invalid max_model_len: %d (must be positive)", c.MaxModelLen)
	}
	if c.MaxNumSeqs <= 0 {
		return fmt.Errorf("invalid max_num_seqs: %d (must be positive)", c.MaxNumSeqs)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", c.VocabSize)
	}
	if c.EOSTokenID < 0 || c.EOSTokenID >= c.VocabSize {
		return fmt.Errorf("invalid eos_token_id: %d (must be in [0, %d))", c.EOSTokenID, c.VocabSize)
	}
	return nil
}

func Default() Config {
	return Config{
		TensorParallelSize: 1,
		Precision:          PrecisionAuto,
		MaxModelLen:        2048,
		MaxNumSeqs:         64,
		VocabSize:          32000,
		EOSTokenID:         2,
		DisableLogStats:    true,
	}
}
