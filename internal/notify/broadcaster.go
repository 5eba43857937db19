package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/autolumiku/wabot/internal/channel"
	"github.com/autolumiku/wabot/internal/metrics"
	"github.com/autolumiku/wabot/internal/phone"
	"github.com/autolumiku/wabot/internal/staff"
)

// BroadcasterConfig tunes pacing and phone comparison.
type BroadcasterConfig struct {
	CountryCode string
	Delay       time.Duration
}

// Broadcaster sends one message per staff member except the acting one.
type Broadcaster struct {
	directory   staff.Directory
	sender      channel.Sender
	countryCode string
	delay       time.Duration
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(log *slog.Logger, directory staff.Directory, sender channel.Sender, cfg BroadcasterConfig) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		directory:   directory,
		sender:      sender,
		countryCode: cfg.CountryCode,
		delay:       cfg.Delay,
		logger:      log.With(slog.String("component", "notify")),
		sleep:       sleepContext,
	}
}

// Notify delivers outcome. Per-recipient failures are logged and counted; only a
// failure to load the roster is returned.
func (b *Broadcaster) Notify(ctx context.Context, outcome Outcome) (Report, error) {
	text := Format(outcome)
	if text == "" {
		return Report{}, fmt.Errorf("nothing to send for outcome %q", outcome.Kind)
	}
	roster, err := staff.Load(ctx, b.directory, outcome.TenantID, b.countryCode)
	if err != nil {
		return Report{}, fmt.Errorf("load staff roster: %w", err)
	}
	recipients := roster.Except(outcome.ActingPhone)
	report := Report{Recipients: len(recipients)}
	for i, member := range recipients {
		if i > 0 && b.delay > 0 {
			if err := b.sleep(ctx, b.delay); err != nil {
				b.logger.Warn("broadcast interrupted",
					slog.String("tenant_id", outcome.TenantID),
					slog.Int("remaining", len(recipients)-i))
				report.Failed += len(recipients) - i
				metrics.NotificationsTotal.WithLabelValues(metrics.ResultFailed).Add(float64(len(recipients) - i))
				return report, nil
			}
		}
		to := phone.Normalize(member.Phone, b.countryCode)
		if _, err := b.sender.Send(ctx, outcome.AccountID, to, text); err != nil {
			report.Failed++
			metrics.NotificationsTotal.WithLabelValues(metrics.ResultFailed).Inc()
			b.logger.Warn("staff notification failed",
				slog.String("tenant_id", outcome.TenantID),
				slog.String("to", phone.Mask(to)),
				slog.String("kind", string(outcome.Kind)),
				slog.Any("error", err))
			continue
		}
		report.Sent++
		metrics.NotificationsTotal.WithLabelValues(metrics.ResultOK).Inc()
	}
	b.logger.Info("outcome broadcast",
		slog.String("tenant_id", outcome.TenantID),
		slog.String("kind", string(outcome.Kind)),
		slog.Int("sent", report.Sent),
		slog.Int("failed", report.Failed))
	return report, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
