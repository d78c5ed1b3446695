package sampling

import (
	"fmt"
)

// Config is the parameter bundle controlling how output tokens are chosen
// during generation. Every recognized knob is an explicit field; engines
// receive a value copy per request and must not mutate it.
type Config struct {
	Temperature float32 // 0 means greedy (argmax) decoding
	TopK        int     // 0 disables top-k filtering
	TopP        float32 // 0 or 1 disables nucleus filtering
	MaxTokens   int     // hard cap on generated tokens per request

	RepetitionPenalty float32
	PresencePenalty   float32
	FrequencyPenalty  float32

	StopTokenIDs []int
	IgnoreEOS    bool

	Seed int64 // 0 means the engine's own seed is used
}

// Default returns the process-wide default configuration applied when a
// caller passes no sampling config.
func Default() Config {
	return Config{
		Temperature:       1.0,
		TopK:              0,
		TopP:              1.0,
		MaxTokens:         16,
		RepetitionPenalty: 1.0,
	}
}

func (c *Config) Validate() error {
	if c.Temperature < 0 {
		return fmt.Errorf("invalid temperature: %v (must be non-negative)", c.Temperature)
	}
	if c.TopK < 0 {
		return fmt.Errorf("invalid top_k: %d (must be non-negative)", c.TopK)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("invalid top_p: %v (must be in [0, 1])", c.TopP)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("invalid max_tokens: %d (must be positive)", c.MaxTokens)
	}
	if c.RepetitionPenalty < 0 {
		return fmt.Errorf("invalid repetition_penalty: %v (must be non-negative)", c.RepetitionPenalty)
	}
	return nil
}

// IsGreedy reports whether decoding degenerates to argmax selection.
func (c *Config) IsGreedy() bool {
	return c.Temperature == 0
}

// IsStopToken reports whether id terminates generation under this config.
func (c *Config) IsStopToken(id int, eosTokenID int) bool {
	if !c.IgnoreEOS && id == eosTokenID {
		return true
	}
	for _, stop := range c.StopTokenIDs {
		if id == stop {
			return true
		}
	}
	return false
}
