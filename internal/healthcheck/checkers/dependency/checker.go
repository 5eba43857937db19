package dependencychecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/autolumiku/wabot/internal/healthcheck"
)

const (
	checkTypeDependency = "dependency.ping"
	defaultTimeout      = 3 * time.Second
)

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker pings one named dependency.
type Checker struct {
	logger   *slog.Logger
	name     string
	pinger   Pinger
	optional bool
	timeout  time.Duration
}

// Option customizes a Checker.
type Option func(*Checker)

// Optional downgrades a failed ping to a warning.
func Optional() Option {
	return func(c *Checker) { c.optional = true }
}

// WithTimeout bounds each ping.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChecker creates a dependency health checker.
func NewChecker(log *slog.Logger, name string, pinger Pinger, opts ...Option) *Checker {
	if log == nil {
		log = slog.Default()
	}
	c := &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_dependency")),
		name:    strings.TrimSpace(name),
		pinger:  pinger,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListChecks pings the dependency once.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:   checkTypeDependency + "." + c.name,
		Type: checkTypeDependency,
	}
	if c.pinger == nil {
		item.Status = healthcheck.StatusWarn
		item.Summary = fmt.Sprintf("%s is not configured.", c.name)
		return []healthcheck.CheckResult{item}
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.pinger.Ping(pingCtx)
	item.Metadata = map[string]any{"latency_ms": time.Since(start).Milliseconds()}
	if err != nil {
		item.Status = healthcheck.StatusError
		if c.optional {
			item.Status = healthcheck.StatusWarn
		}
		item.Summary = fmt.Sprintf("%s is unreachable.", c.name)
		item.Detail = err.Error()
		c.logger.Warn("dependency ping failed", slog.String("dependency", c.name), slog.Any("error", err))
		return []healthcheck.CheckResult{item}
	}
	item.Status = healthcheck.StatusOK
	item.Summary = fmt.Sprintf("%s is reachable.", c.name)
	return []healthcheck.CheckResult{item}
}
