package healthcheck

import (
	"context"
	"time"
)

// Report is the combined outcome of every registered checker.
type Report struct {
	Status    string        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Healthy reports whether no check failed. Warnings do not fail readiness.
func (r Report) Healthy() bool {
	return r.Status != StatusError
}

// Aggregator runs checkers in registration order.
type Aggregator struct {
	checkers []Checker
	now      func() time.Time
}

// NewAggregator creates an aggregator over the given checkers; nil entries are skipped.
func NewAggregator(checkers ...Checker) *Aggregator {
	list := make([]Checker, 0, len(checkers))
	for _, c := range checkers {
		if c != nil {
			list = append(list, c)
		}
	}
	return &Aggregator{checkers: list, now: time.Now}
}

// Run evaluates every checker and folds the worst status into the report.
func (a *Aggregator) Run(ctx context.Context) Report {
	report := Report{Status: StatusOK, Checks: []CheckResult{}, CheckedAt: a.now().UTC()}
	for _, checker := range a.checkers {
		for _, item := range checker.ListChecks(ctx) {
			if item.Status == "" {
				item.Status = StatusUnknown
			}
			if severity(item.Status) > severity(report.Status) {
				report.Status = item.Status
			}
			report.Checks = append(report.Checks, item)
		}
	}
	return report
}

func severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusUnknown:
		return 1
	case StatusWarn:
		return 2
	default:
		return 3
	}
}
