package driver

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/23skdu/longbow-volley/internal/engine"
	"github.com/23skdu/longbow-volley/internal/logger"
	"github.com/23skdu/longbow-volley/internal/metrics"
	"github.com/23skdu/longbow-volley/internal/progress"
	"github.com/23skdu/longbow-volley/internal/sampling"
)

// ErrInvalidArgument marks caller input rejected before anything reaches the
// engine. Callers can fix the input and retry; no engine state was touched.
var ErrInvalidArgument = errors.New("invalid argument")

// Counter issues unique, strictly increasing request IDs for the lifetime of
// a driver instance. IDs are never reused. The driver itself is
// single-threaded but the counter is safe for concurrent use.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Next() string {
	return strconv.FormatInt(c.n.Add(1)-1, 10)
}

// request is one normalized unit of caller input.
type request struct {
	prompt   string
	tokenIDs []int
	cfg      sampling.Config
}

// normalize validates and reshapes caller input into per-request tuples. It
// is pure: on error nothing was submitted and nothing needs undoing.
func normalize(prompts []string, cfg *sampling.Config, tokenIDs [][]int) ([]request, error) {
	if prompts == nil && tokenIDs == nil {
		metrics.RecordValidationError("missing_input")
		return nil, fmt.Errorf("%w: either prompts or token IDs must be provided", ErrInvalidArgument)
	}
	if prompts != nil && tokenIDs != nil && len(prompts) != len(tokenIDs) {
		metrics.RecordValidationError("length_mismatch")
		return nil, fmt.Errorf("%w: prompts (%d) and token IDs (%d) must have the same length",
			ErrInvalidArgument, len(prompts), len(tokenIDs))
	}

	params := sampling.Default()
	if cfg != nil {
		params = *cfg
	}

	n := len(prompts)
	if prompts == nil {
		n = len(tokenIDs)
	}

	reqs := make([]request, n)
	for i := range reqs {
		if prompts != nil {
			reqs[i].prompt = prompts[i]
		}
		if tokenIDs != nil {
			reqs[i].tokenIDs = tokenIDs[i]
		}
		reqs[i].cfg = params
	}
	return reqs, nil
}

// Driver submits batches of generation requests to a long-lived engine
// handle and polls it to completion. It is a blocking, synchronous caller:
// no goroutines, no locking, no cancellation. Unfinished requests left in
// the engine by earlier calls are drained too and counted toward progress.
type Driver struct {
	engine  engine.Engine
	counter Counter
	tracker progress.Tracker
	log     *logger.Logger
}

// New builds a driver around an engine handle. tracker observes progress
// when a generate call asks for reporting; nil means log-based reporting.
func New(eng engine.Engine, tracker progress.Tracker) *Driver {
	if tracker == nil {
		tracker = progress.NewLogTracker(logger.Log)
	}
	return &Driver{
		engine:  eng,
		tracker: tracker,
		log:     logger.Log.WithComponent("driver"),
	}
}

// Engine exposes the underlying engine handle.
func (d *Driver) Engine() engine.Engine {
	return d.engine
}

// GeneratePrompt runs a single prompt as a one-element batch.
func (d *Driver) GeneratePrompt(prompt string, cfg *sampling.Config, reportProgress bool) ([]*engine.RequestOutput, error) {
	return d.Generate([]string{prompt}, cfg, nil, reportProgress)
}

// Generate submits every input as an independent request, runs the engine to
// completion and returns the finished outputs in completion order — which the
// engine's internal batching decouples from submission order.
//
// Validation is all-or-nothing: on invalid input no request reaches the
// engine. Engine failures from Submit or Step propagate unmodified with no
// retry and no partial result list.
func (d *Driver) Generate(prompts []string, cfg *sampling.Config, tokenIDs [][]int, reportProgress bool) ([]*engine.RequestOutput, error) {
	reqs, err := normalize(prompts, cfg, tokenIDs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for _, req := range reqs {
		id := d.counter.Next()
		if err := d.engine.Submit(id, req.prompt, req.cfg, req.tokenIDs); err != nil {
			return nil, err
		}
	}
	metrics.RecordSubmissions(len(reqs))
	d.log.Debug("batch submitted", "requests", len(reqs))

	outputs, err := d.runEngine(reportProgress)
	if err != nil {
		return nil, err
	}
	metrics.RecordGenerate(time.Since(start))
	return outputs, nil
}

// runEngine is the poll loop: step the engine until it reports no unfinished
// requests, collecting outputs as they reach their terminal state.
func (d *Driver) runEngine(reportProgress bool) ([]*engine.RequestOutput, error) {
	tracker := d.tracker
	if !reportProgress {
		tracker = progress.Nop{}
	}

	// The engine may still hold unfinished requests from a prior call;
	// the progress total reflects everything this loop will drain.
	total := d.engine.NumUnfinishedRequests()
	metrics.RecordUnfinished(total)
	tracker.Start(total)

	var outputs []*engine.RequestOutput
	for d.engine.HasUnfinishedRequests() {
		stepStart := time.Now()
		stepOutputs, err := d.engine.Step()
		if err != nil {
			return nil, err
		}
		metrics.RecordStep(len(stepOutputs), time.Since(stepStart))

		for _, out := range stepOutputs {
			if out.Finished {
				outputs = append(outputs, out)
				metrics.RecordFinished(len(out.TokenIDs))
				tracker.Advance(1)
			}
		}
	}

	metrics.RecordUnfinished(0)
	tracker.Finish()
	return outputs, nil
}
