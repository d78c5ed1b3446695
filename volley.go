// Package volley is a synchronous batch-inference driver: it submits each
// prompt (or pre-tokenized input) as an independent request to a
// continuous-batching engine and steps the engine until every request has
// produced a final result.
package volley

import (
	"fmt"

	"github.com/23skdu/longbow-volley/internal/config"
	"github.com/23skdu/longbow-volley/internal/driver"
	"github.com/23skdu/longbow-volley/internal/engine"
	"github.com/23skdu/longbow-volley/internal/progress"
	"github.com/23skdu/longbow-volley/internal/sampling"
	"github.com/23skdu/longbow-volley/internal/tokenizer"
)

// TokenizedEngine is an engine that owns a swappable tokenizer.
type TokenizedEngine interface {
	engine.Engine
	Tokenizer() tokenizer.Tokenizer
	SetTokenizer(tokenizer.Tokenizer)
}

// LLM ties a long-lived engine handle to the generation driver. The engine
// is shared across Generate calls: requests left unfinished by one call are
// drained by the next. It is intended for offline batch inference, not
// concurrent serving.
type LLM struct {
	engine engine.Engine
	driver *driver.Driver
}

// New builds an LLM backed by the in-process simulated engine described by
// cfg.
func New(cfg config.Config) (*LLM, error) {
	sim, err := engine.NewSim(cfg, nil)
	if err != nil {
		return nil, err
	}
	return NewWithEngine(sim), nil
}

// NewWithEngine wraps an existing engine handle (e.g. a Flight remote
// engine) without constructing anything.
func NewWithEngine(eng engine.Engine) *LLM {
	return &LLM{
		engine: eng,
		driver: driver.New(eng, nil),
	}
}

// SetProgressTracker replaces the observer used when Generate is called
// with progress reporting enabled.
func (l *LLM) SetProgressTracker(t progress.Tracker) {
	l.driver = driver.New(l.engine, t)
}

// Generate runs one batch to completion. Outputs are returned in completion
// order, not submission order. A nil sampling config applies the default
// configuration to every request in the batch.
func (l *LLM) Generate(prompts []string, cfg *sampling.Config, tokenIDs [][]int, showProgress bool) ([]*engine.RequestOutput, error) {
	return l.driver.Generate(prompts, cfg, tokenIDs, showProgress)
}

// GeneratePrompt runs a single prompt as a one-element batch.
func (l *LLM) GeneratePrompt(prompt string, cfg *sampling.Config, showProgress bool) ([]*engine.RequestOutput, error) {
	return l.driver.GeneratePrompt(prompt, cfg, showProgress)
}

// Engine exposes the underlying engine handle.
func (l *LLM) Engine() engine.Engine {
	return l.engine
}

// Tokenizer returns the engine's tokenizer, or nil when the engine does not
// expose one (remote engines own their tokenizer server-side).
func (l *LLM) Tokenizer() tokenizer.Tokenizer {
	if te, ok := l.engine.(TokenizedEngine); ok {
		return te.Tokenizer()
	}
	return nil
}

// SetTokenizer replaces the engine's tokenizer for subsequent submissions.
func (l *LLM) SetTokenizer(tok tokenizer.Tokenizer) error {
	te, ok := l.engine.(TokenizedEngine)
	if !ok {
		return fmt.Errorf("engine %T does not expose a tokenizer", l.engine)
	}
	te.SetTokenizer(tok)
	return nil
}
