package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/23skdu/longbow-volley/internal/engine"
	"github.com/23skdu/longbow-volley/internal/progress"
	"github.com/23skdu/longbow-volley/internal/sampling"
)

// fakeEngine is a scripted engine: each Step finishes the request indices
// listed in the next entry of finishPlan (indices into submission order).
type fakeEngine struct {
	submitted  []fakeRequest
	finishPlan [][]int
	stepCount  int
	finished   map[int]bool

	submitErr error
	stepErr   error
	stepErrAt int // step number at which stepErr fires (1-based)
}

type fakeRequest struct {
	id       string
	prompt   string
	cfg      sampling.Config
	tokenIDs []int
}

func newFakeEngine(finishPlan [][]int) *fakeEngine {
	return &fakeEngine{
		finishPlan: finishPlan,
		finished:   make(map[int]bool),
	}
}

func (f *fakeEngine) Submit(id string, prompt string, cfg sampling.Config, tokenIDs []int) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, fakeRequest{id: id, prompt: prompt, cfg: cfg, tokenIDs: tokenIDs})
	return nil
}

func (f *fakeEngine) Step() ([]*engine.RequestOutput, error) {
	f.stepCount++
	if f.stepErr != nil && f.stepCount >= f.stepErrAt {
		return nil, f.stepErr
	}
	if f.stepCount > len(f.finishPlan) {
		return nil, nil
	}

	var outs []*engine.RequestOutput
	for _, idx := range f.finishPlan[f.stepCount-1] {
		f.finished[idx] = true
		req := f.submitted[idx]
		outs = append(outs, &engine.RequestOutput{
			RequestID:    req.id,
			Prompt:       req.prompt,
			Text:         fmt.Sprintf("out-%d", idx),
			TokenIDs:     []int{idx},
			FinishReason: engine.FinishReasonStop,
			Finished:     true,
		})
	}
	return outs, nil
}

func (f *fakeEngine) HasUnfinishedRequests() bool {
	return f.NumUnfinishedRequests() > 0
}

func (f *fakeEngine) NumUnfinishedRequests() int {
	return len(f.submitted) - len(f.finished)
}

// countingTracker records tracker calls for verification.
type countingTracker struct {
	started  int
	total    int
	advanced int
	finished int
}

func (c *countingTracker) Start(total int) { c.started++; c.total = total }
func (c *countingTracker) Advance(n int)   { c.advanced += n }
func (c *countingTracker) Finish()         { c.finished++ }

func TestGenerateOneOutputPerPrompt(t *testing.T) {
	eng := newFakeEngine([][]int{{0}, {1}, {2}})
	d := New(eng, progress.Nop{})

	outs, err := d.Generate([]string{"a", "b", "c"}, nil, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(outs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outs))
	}

	seen := make(map[string]bool)
	for _, out := range outs {
		if !out.Finished {
			t.Errorf("output %s not marked finished", out.RequestID)
		}
		if seen[out.RequestID] {
			t.Errorf("duplicate request id %s in results", out.RequestID)
		}
		seen[out.RequestID] = true
	}
}

func TestGeneratePromptMatchesSingletonBatch(t *testing.T) {
	engOne := newFakeEngine([][]int{{0}})
	one, err := New(engOne, progress.Nop{}).GeneratePrompt("hello", nil, false)
	if err != nil {
		t.Fatalf("GeneratePrompt: %v", err)
	}

	engBatch := newFakeEngine([][]int{{0}})
	batch, err := New(engBatch, progress.Nop{}).Generate([]string{"hello"}, nil, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(one) != 1 || len(batch) != 1 {
		t.Fatalf("expected single outputs, got %d and %d", len(one), len(batch))
	}
	if one[0].Prompt != batch[0].Prompt || one[0].Text != batch[0].Text {
		t.Error("bare prompt and one-element batch should behave identically")
	}
	if engOne.submitted[0].prompt != engBatch.submitted[0].prompt {
		t.Error("expected identical submissions")
	}
}

func TestGenerateNoInputFails(t *testing.T) {
	eng := newFakeEngine(nil)
	d := New(eng, progress.Nop{})

	_, err := d.Generate(nil, nil, nil, false)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if len(eng.submitted) != 0 {
		t.Errorf("expected zero submissions, got %d", len(eng.submitted))
	}
	if eng.stepCount != 0 {
		t.Errorf("expected zero steps, got %d", eng.stepCount)
	}
}

func TestGenerateLengthMismatchFails(t *testing.T) {
	eng := newFakeEngine(nil)
	d := New(eng, progress.Nop{})

	_, err := d.Generate([]string{"x", "y"}, nil, [][]int{{1}, {2}, {3}}, false)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if len(eng.submitted) != 0 {
		t.Errorf("expected zero submissions, got %d", len(eng.submitted))
	}
}

func TestGenerateCompletionOrderNotSubmissionOrder(t *testing.T) {
	// Request 1 finishes before request 0.
	eng := newFakeEngine([][]int{{1}, {0}})
	d := New(eng, progress.Nop{})

	outs, err := d.Generate([]string{"first", "second"}, nil, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outs))
	}
	if outs[0].Prompt != "second" || outs[1].Prompt != "first" {
		t.Errorf("expected completion order [second first], got [%s %s]",
			outs[0].Prompt, outs[1].Prompt)
	}
}

func TestGenerateEndToEndScenario(t *testing.T) {
	// Prompts a, b, c; b finishes on step 1, a and c on step 2.
	eng := newFakeEngine([][]int{{1}, {0, 2}})
	d := New(eng, progress.Nop{})

	outs, err := d.Generate([]string{"a", "b", "c"}, nil, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(outs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outs))
	}

	idOf := func(i int) string { return eng.submitted[i].id }
	want := []string{idOf(1), idOf(0), idOf(2)}
	for i, out := range outs {
		if out.RequestID != want[i] {
			t.Errorf("output %d: expected id %s, got %s", i, want[i], out.RequestID)
		}
		if !out.Finished {
			t.Errorf("output %d not marked finished", i)
		}
	}
}

func TestGenerateSubmissionOrderAndIDs(t *testing.T) {
	eng := newFakeEngine([][]int{{0, 1, 2}})
	d := New(eng, progress.Nop{})

	if _, err := d.Generate([]string{"p0", "p1", "p2"}, nil, nil, false); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for i, req := range eng.submitted {
		if req.prompt != fmt.Sprintf("p%d", i) {
			t.Errorf("submission %d: expected prompt p%d, got %s", i, i, req.prompt)
		}
	}
	if eng.submitted[0].id != "0" || eng.submitted[1].id != "1" || eng.submitted[2].id != "2" {
		t.Errorf("expected ids assigned in input order, got %s %s %s",
			eng.submitted[0].id, eng.submitted[1].id, eng.submitted[2].id)
	}
}

func TestCounterIDsDistinctAcrossCalls(t *testing.T) {
	eng := newFakeEngine([][]int{{0, 1}, {2, 3}, {4, 5}})
	d := New(eng, progress.Nop{})

	// Three consecutive calls of two requests each: all six issued IDs
	// must be pairwise distinct.
	for i := 0; i < 3; i++ {
		if _, err := d.Generate([]string{"x", "y"}, nil, nil, false); err != nil {
			t.Fatalf("Generate call %d: %v", i, err)
		}
	}

	seen := make(map[string]bool)
	for _, req := range eng.submitted {
		if seen[req.id] {
			t.Errorf("duplicate request id %s issued", req.id)
		}
		seen[req.id] = true
	}
	if len(seen) != 6 {
		t.Errorf("expected 6 distinct ids, got %d", len(seen))
	}
}

func TestGenerateProgressReporting(t *testing.T) {
	eng := newFakeEngine([][]int{{1}, {0, 2}})
	tracker := &countingTracker{}
	d := New(eng, tracker)

	outs, err := d.Generate([]string{"a", "b", "c"}, nil, nil, true)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if tracker.started != 1 {
		t.Errorf("expected Start called once, got %d", tracker.started)
	}
	if tracker.total != 3 {
		t.Errorf("expected progress total 3, got %d", tracker.total)
	}
	if tracker.advanced != len(outs) {
		t.Errorf("expected %d advances, got %d", len(outs), tracker.advanced)
	}
	if tracker.finished != 1 {
		t.Errorf("expected Finish called once, got %d", tracker.finished)
	}
}

func TestGenerateProgressDisabled(t *testing.T) {
	eng := newFakeEngine([][]int{{0}})
	tracker := &countingTracker{}
	d := New(eng, tracker)

	if _, err := d.Generate([]string{"a"}, nil, nil, false); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if tracker.started != 0 || tracker.advanced != 0 || tracker.finished != 0 {
		t.Error("tracker must not be touched when progress reporting is off")
	}
}

func TestGenerateProgressIncludesPriorRequests(t *testing.T) {
	// One request is already in flight from a prior call; a new batch of
	// two must report total 3, not 2.
	eng := newFakeEngine([][]int{{0, 1, 2}})
	eng.submitted = append(eng.submitted, fakeRequest{id: "leftover", prompt: "old"})

	tracker := &countingTracker{}
	d := New(eng, tracker)

	outs, err := d.Generate([]string{"new1", "new2"}, nil, nil, true)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if tracker.total != 3 {
		t.Errorf("expected progress total 3 including leftover, got %d", tracker.total)
	}
	// The leftover request's output is returned too: the driver drains the
	// engine, it does not assume isolation.
	if len(outs) != 3 {
		t.Errorf("expected 3 outputs including leftover, got %d", len(outs))
	}
}

func TestGenerateEngineStepFailurePropagates(t *testing.T) {
	eng := newFakeEngine([][]int{{0}})
	wantErr := errors.New("engine exploded")
	eng.stepErr = wantErr
	eng.stepErrAt = 1

	tracker := &countingTracker{}
	d := New(eng, tracker)

	_, err := d.Generate([]string{"a"}, nil, nil, true)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected engine error to propagate unmodified, got %v", err)
	}
	if tracker.finished != 0 {
		t.Error("Finish must not be called when the loop aborts on an engine error")
	}
}

func TestGenerateEngineSubmitFailurePropagates(t *testing.T) {
	eng := newFakeEngine(nil)
	wantErr := errors.New("submit rejected")
	eng.submitErr = wantErr

	d := New(eng, progress.Nop{})
	_, err := d.Generate([]string{"a"}, nil, nil, false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected submit error to propagate unmodified, got %v", err)
	}
}

func TestGenerateDefaultSamplingConfig(t *testing.T) {
	eng := newFakeEngine([][]int{{0, 1}})
	d := New(eng, progress.Nop{})

	if _, err := d.Generate([]string{"a", "b"}, nil, nil, false); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	want := sampling.Default()
	for i, req := range eng.submitted {
		if req.cfg.Temperature != want.Temperature ||
			req.cfg.TopP != want.TopP ||
			req.cfg.MaxTokens != want.MaxTokens ||
			req.cfg.RepetitionPenalty != want.RepetitionPenalty {
			t.Errorf("submission %d: expected default sampling config, got %+v", i, req.cfg)
		}
	}
}

func TestGenerateTokenIDsOnly(t *testing.T) {
	eng := newFakeEngine([][]int{{0}, {1}})
	d := New(eng, progress.Nop{})

	outs, err := d.Generate(nil, nil, [][]int{{1, 2}, {3, 4}}, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outs))
	}
	if len(eng.submitted) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(eng.submitted))
	}
	if eng.submitted[0].prompt != "" || eng.submitted[0].tokenIDs == nil {
		t.Error("token-id submissions should carry no prompt")
	}
	if eng.submitted[1].tokenIDs[0] != 3 {
		t.Errorf("expected positional pairing, got %v", eng.submitted[1].tokenIDs)
	}
}

func TestGeneratePairedPromptsAndTokenIDs(t *testing.T) {
	eng := newFakeEngine([][]int{{0, 1}})
	d := New(eng, progress.Nop{})

	_, err := d.Generate([]string{"a", "b"}, nil, [][]int{{10}, {20}}, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if eng.submitted[0].prompt != "a" || eng.submitted[0].tokenIDs[0] != 10 {
		t.Error("expected prompt and token ids paired positionally")
	}
	if eng.submitted[1].prompt != "b" || eng.submitted[1].tokenIDs[0] != 20 {
		t.Error("expected prompt and token ids paired positionally")
	}
}

func TestNormalizeEmptyBatch(t *testing.T) {
	reqs, err := normalize([]string{}, nil, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("expected empty request list, got %d", len(reqs))
	}
}

func TestCounterMonotonic(t *testing.T) {
	var c Counter
	prev := -1
	for i := 0; i < 100; i++ {
		id := c.Next()
		n, err := parseInt(id)
		if err != nil {
			t.Fatalf("id %q not numeric: %v", id, err)
		}
		if n <= prev {
			t.Fatalf("ids not strictly increasing: %d after %d", n, prev)
		}
		prev = n
	}
}

func parseInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit %q", r)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
