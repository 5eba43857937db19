package queuechecker

import (
	"context"
	"fmt"

	"github.com/autolumiku/wabot/internal/healthcheck"
)

const (
	checkTypeQueue      = "orchestrator.queue"
	defaultWarnFraction = 0.8
)

// DepthReader reports the number of buffered inbound messages.
type DepthReader interface {
	QueueDepth() int
}

// Checker warns when the inbound queue is close to full.
type Checker struct {
	reader   DepthReader
	capacity int
}

// NewChecker creates a queue depth checker for a queue of the given capacity.
func NewChecker(reader DepthReader, capacity int) *Checker {
	return &Checker{reader: reader, capacity: capacity}
}

// ListChecks reports the current depth.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if c.reader == nil {
		return []healthcheck.CheckResult{}
	}
	depth := c.reader.QueueDepth()
	item := healthcheck.CheckResult{
		ID:       checkTypeQueue + ".inbound",
		Type:     checkTypeQueue,
		Status:   healthcheck.StatusOK,
		Summary:  fmt.Sprintf("%d inbound messages queued.", depth),
		Metadata: map[string]any{"depth": depth, "capacity": c.capacity},
	}
	switch {
	case c.capacity > 0 && depth >= c.capacity:
		item.Status = healthcheck.StatusError
		item.Summary = "Inbound queue is full."
	case c.capacity > 0 && float64(depth) >= defaultWarnFraction*float64(c.capacity):
		item.Status = healthcheck.StatusWarn
		item.Summary = fmt.Sprintf("Inbound queue is at %d of %d.", depth, c.capacity)
	}
	return []healthcheck.CheckResult{item}
}
