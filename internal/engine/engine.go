package engine

import (
	"github.com/23skdu/longbow-volley/internal/sampling"
)

// Engine is the continuous-batching inference engine contract the driver
// polls against. The engine owns all scheduling, batching and in-flight
// generation state; the driver only submits requests and steps the engine
// until nothing is left unfinished.
//
// Submit must register the request without blocking for its completion.
// Step advances every in-flight request by one unit of engine-internal work
// and returns outputs for requests that made progress; completion order is
// entirely up to the engine. Unfinished requests persist across driver
// calls: an engine handle is long-lived and never assumed empty.
type Engine interface {
	Submit(id string, prompt string, cfg sampling.Config, tokenIDs []int) error
	Step() ([]*RequestOutput, error)
	HasUnfinishedRequests() bool
	NumUnfinishedRequests() int
}

// RequestOutput is the result of one generation request. The engine creates
// it; once Finished is set it is immutable and owned by the caller.
type RequestOutput struct {
	RequestID      string
	Prompt         string
	PromptTokenIDs []int

	Text     string
	TokenIDs []int

	FinishReason string
	Finished     bool
}

// Finish reasons reported by engines in this module.
const (
	FinishReasonStop   = "stop"   // EOS or a configured stop token
	FinishReasonLength = "length" // MaxTokens reached
)
