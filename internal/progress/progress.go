package progress

import (
	"github.com/23skdu/longbow-volley/internal/logger"
)

// Tracker observes submitted-vs-finished counts during a generation run. It
// never affects control flow or the returned results: a tracker that drops
// every call is as valid as one that renders a progress bar.
type Tracker interface {
	Start(total int)
	Advance(n int)
	Finish()
}

// Nop discards all progress events. It is the default when progress
// reporting is disabled.
type Nop struct{}

func (Nop) Start(total int) {}
func (Nop) Advance(n int)   {}
func (Nop) Finish()         {}

// LogTracker reports progress through the structured logger.
type LogTracker struct {
	log   *logger.Logger
	total int
	done  int
}

func NewLogTracker(log *logger.Logger) *LogTracker {
	if log == nil {
		log = logger.Log
	}
	return &LogTracker{log: log.WithComponent("progress")}
}

func (t *LogTracker) Start(total int) {
	t.total = total
	t.done = 0
	t.log.Info("processing prompts", "total", total)
}

func (t *LogTracker) Advance(n int) {
	t.done += n
	t.log.Debug("request finished", "done", t.done, "total", t.total)
}

func (t *LogTracker) Finish() {
	t.log.Info("batch complete", "done", t.done, "total", t.total)
}
