// Package digest publishes a daily inventory summary to every tenant's staff.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/autolumiku/wabot/internal/inventory"
	"github.com/autolumiku/wabot/internal/notify"
)

const (
	defaultSpec     = "0 18 * * *"
	defaultTimezone = "Asia/Jakarta"
	runTimeout      = 5 * time.Minute
)

// TenantLister enumerates tenants that have staff to notify.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// StatsSource computes inventory statistics for a tenant.
type StatsSource interface {
	Stats(ctx context.Context, tenantID string, since time.Time) (inventory.Stats, error)
}

// Config holds the cron spec and timezone of the digest. AccountFor picks the
// business account that sends a tenant's digest.
type Config struct {
	Spec       string
	Timezone   string
	AccountFor func(tenantID string) string
}

// Service runs the digest on a cron schedule.
type Service struct {
	tenants    TenantLister
	stats      StatsSource
	publisher  notify.Publisher
	accountFor func(string) string
	location   *time.Location
	cron       *cron.Cron
	logger     *slog.Logger
	now        func() time.Time
}

// NewService validates the schedule and registers the daily job.
func NewService(log *slog.Logger, tenants TenantLister, stats StatsSource, publisher notify.Publisher, cfg Config) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Spec == "" {
		cfg.Spec = defaultSpec
	}
	if cfg.Timezone == "" {
		cfg.Timezone = defaultTimezone
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load digest timezone %q: %w", cfg.Timezone, err)
	}
	accountFor := cfg.AccountFor
	if accountFor == nil {
		accountFor = func(tenantID string) string { return tenantID }
	}
	s := &Service{
		tenants:    tenants,
		stats:      stats,
		publisher:  publisher,
		accountFor: accountFor,
		location:   loc,
		cron:       cron.New(cron.WithLocation(loc)),
		logger:     log.With(slog.String("service", "digest")),
		now:        time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.Spec, s.runScheduled); err != nil {
		return nil, fmt.Errorf("parse digest schedule %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start begins the cron scheduler in its own goroutine.
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("digest scheduler started", slog.String("timezone", s.location.String()))
}

// Stop waits for a running digest to finish or ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	sent, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("digest run failed", slog.Int("published", sent), slog.Any("error", err))
		return
	}
	s.logger.Info("digest run finished", slog.Int("published", sent))
}

// RunOnce publishes today's statistics for every tenant. A failing tenant does
// not stop the others; their errors are joined.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}
	now := s.now().In(s.location)
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)

	var errs []error
	published := 0
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		stats, err := s.stats.Stats(ctx, tenantID, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("stats for %s: %w", tenantID, err))
			continue
		}
		outcome := notify.Outcome{
			Kind:      notify.KindDigest,
			TenantID:  tenantID,
			AccountID: s.accountFor(tenantID),
			Stats:     &stats,
			At:        now,
		}
		if err := s.publisher.Publish(ctx, outcome); err != nil {
			errs = append(errs, fmt.Errorf("publish digest for %s: %w", tenantID, err))
			continue
		}
		published++
	}
	return published, errors.Join(errs...)
}
