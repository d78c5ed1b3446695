package engine

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/23skdu/longbow-volley/internal/config"
	"github.com/23skdu/longbow-volley/internal/logger"
	"github.com/23skdu/longbow-volley/internal/sampling"
	"github.com/23skdu/longbow-volley/internal/tokenizer"
)

type seqStatus int

const (
	seqWaiting seqStatus = iota
	seqRunning
	seqFinished
)

type simSequence struct {
	id           string
	prompt       string
	promptTokens []int
	generated    []int
	cfg          sampling.Config
	status       seqStatus
	finishReason string
}

func (s *simSequence) lastToken() int {
	if len(s.generated) > 0 {
		return s.generated[len(s.generated)-1]
	}
	if len(s.promptTokens) > 0 {
		return s.promptTokens[len(s.promptTokens)-1]
	}
	return 0
}

// Sim is an in-process continuous-batching engine: it schedules up to
// MaxNumSeqs requests into a running batch each step and emits one synthetic
// token per running request per step. Token choice is driven by a seeded RNG
// (or argmax-style deterministic selection when the request is greedy), so a
// fixed seed reproduces a run exactly. It generates no real model output;
// its purpose is to exercise driver, scheduling and accounting behavior.
type Sim struct {
	mu sync.Mutex

	cfg config.Config
	tok tokenizer.Tokenizer
	log *logger.Logger
	rng *rand.Rand

	waiting []*simSequence
	running []*simSequence
}

// NewSim builds a simulated engine from a validated config. A nil tokenizer
// gets the byte-level default.
func NewSim(cfg config.Config, tok tokenizer.Tokenizer) (*Sim, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sim engine config: %w", err)
	}
	if tok == nil {
		tok = tokenizer.NewByteTokenizer()
	}
	return &Sim{
		cfg: cfg,
		tok: tok,
		log: logger.Log.WithComponent("sim-engine"),
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Tokenizer returns the tokenizer used to encode submitted prompts.
func (s *Sim) Tokenizer() tokenizer.Tokenizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok
}

// SetTokenizer replaces the tokenizer for subsequent submissions.
func (s *Sim) SetTokenizer(tok tokenizer.Tokenizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = tok
}

// Submit registers a new request. It never blocks waiting for completion;
// the request sits in the waiting queue until a step admits it.
func (s *Sim) Submit(id string, prompt string, cfg sampling.Config, tokenIDs []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("request %s: %w", id, err)
	}
	if prompt == "" && tokenIDs == nil {
		return fmt.Errorf("request %s: no prompt or token ids", id)
	}

	promptTokens := tokenIDs
	if promptTokens == nil {
		promptTokens = s.tok.Encode(prompt)
	}
	if len(promptTokens)+cfg.MaxTokens > s.cfg.MaxModelLen {
		return fmt.Errorf("request %s: prompt (%d) + max_tokens (%d) exceeds max_model_len %d",
			id, len(promptTokens), cfg.MaxTokens, s.cfg.MaxModelLen)
	}

	s.waiting = append(s.waiting, &simSequence{
		id:           id,
		prompt:       prompt,
		promptTokens: promptTokens,
		cfg:          cfg,
		status:       seqWaiting,
	})
	s.log.Debug("request queued", "id", id, "prompt_tokens", len(promptTokens))
	return nil
}

// Step admits waiting requests into the running batch up to MaxNumSeqs, then
// advances every running request by one token. It returns an output per
// serviced request; only those with Finished set are terminal.
func (s *Sim) Step() ([]*RequestOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.running) < s.cfg.MaxNumSeqs && len(s.waiting) > 0 {
		seq := s.waiting[0]
		s.waiting = s.waiting[1:]
		seq.status = seqRunning
		s.running = append(s.running, seq)
	}

	outputs := make([]*RequestOutput, 0, len(s.running))
	stillRunning := s.running[:0]
	for _, seq := range s.running {
		token := s.nextToken(seq)
		seq.generated = append(seq.generated, token)

		if seq.cfg.IsStopToken(token, s.cfg.EOSTokenID) {
			seq.status = seqFinished
			seq.finishReason = FinishReasonStop
		} else if len(seq.generated) >= seq.cfg.MaxTokens {
			seq.status = seqFinished
			seq.finishReason = FinishReasonLength
		}

		outputs = append(outputs, s.output(seq))
		if seq.status != seqFinished {
			stillRunning = append(stillRunning, seq)
		}
	}
	s.running = stillRunning
	return outputs, nil
}

func (s *Sim) HasUnfinishedRequests() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)+len(s.running) > 0
}

func (s *Sim) NumUnfinishedRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting) + len(s.running)
}

// nextToken produces a synthetic token. Greedy requests derive the token
// from the sequence content alone so the result is seed-independent; sampled
// requests draw from the engine RNG.
func (s *Sim) nextToken(seq *simSequence) int {
	if seq.cfg.IsGreedy() {
		return (seq.lastToken()*31 + len(seq.generated) + 7) % s.cfg.VocabSize
	}
	return s.rng.Intn(s.cfg.VocabSize)
}

func (s *Sim) output(seq *simSequence) *RequestOutput {
	generated := make([]int, len(seq.generated))
	copy(generated, seq.generated)

	return &RequestOutput{
		RequestID:      seq.id,
		Prompt:         seq.prompt,
		PromptTokenIDs: seq.promptTokens,
		Text:           s.tok.Decode(generated),
		TokenIDs:       generated,
		FinishReason:   seq.finishReason,
		Finished:       seq.status == seqFinished,
	}
}
