// Package jobs runs the periodic lease monitor and the terminal-lease
// reaper.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/halcyonops/sandbox-control-plane/internal/metrics"
	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

type Store interface {
	ListMonitoredLeases(ctx context.Context, pageToken string, pageSize int) ([]model.Lease, string, error)
	ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error)
}

// Orchestrator is the slice of the lifecycle service the monitor drives.
type Orchestrator interface {
	FreezeLease(ctx context.Context, leaseID, reason string) (*model.Lease, error)
	TerminateLease(ctx context.Context, leaseID string, reason model.TerminationReason) (*model.Lease, error)
}

type Runner struct {
	store        Store
	orchestrator Orchestrator

	monitorInterval time.Duration
	reaperInterval  time.Duration
	pageSize        int

	now func() time.Time
}

func NewRunner(st Store, orch Orchestrator) *Runner {
	return &Runner{
		store:           st,
		orchestrator:    orch,
		monitorInterval: 1 * time.Minute,
		reaperInterval:  1 * time.Hour,
		pageSize:        100,
		now:             time.Now,
	}
}

func (r *Runner) Start(ctx context.Context) {
	go r.runEvery(ctx, "lease_monitor", r.monitorInterval, r.monitorLeases)
	go r.runEvery(ctx, "lease_reaper", r.reaperInterval, r.reapLeases)
}

func (r *Runner) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	r.runOnce(ctx, name, fn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, name, fn)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	durMs := float64(time.Since(start).Milliseconds())
	labels := map[string]string{
		"job": name,
	}
	if err != nil {
		log.Printf("metric=job_run name=%s status=error duration_ms=%d err=%q", name, int64(durMs), err.Error())
		labels["status"] = "error"
		metrics.Default().IncCounter("sbx_job_runs_total", labels)
		metrics.Default().ObserveHistogram("sbx_job_duration_ms", durMs, map[string]string{"job": name})
		return
	}
	log.Printf("metric=job_run name=%s status=ok duration_ms=%d", name, int64(durMs))
	labels["status"] = "ok"
	metrics.Default().IncCounter("sbx_job_runs_total", labels)
	metrics.Default().ObserveHistogram("sbx_job_duration_ms", durMs, map[string]string{"job": name})
}

// monitorLeases sweeps every monitored lease once. A failure on one lease
// is logged and does not stop the sweep; only listing failures abort it.
func (r *Runner) monitorLeases(ctx context.Context) error {
	now := r.now()
	pageToken := ""
	for {
		leases, next, err := r.store.ListMonitoredLeases(ctx, pageToken, r.pageSize)
		if err != nil {
			return fmt.Errorf("list monitored leases: %w", err)
		}
		for _, l := range leases {
			if err := r.checkLease(ctx, l, now); err != nil {
				log.Printf("event=lease_monitor_action_failed lease=%s err=%q", l.UUID, err.Error())
			}
		}
		if next == "" {
			return nil
		}
		pageToken = next
	}
}

func (r *Runner) checkLease(ctx context.Context, l model.Lease, now time.Time) error {
	if l.ExpirationDate != nil && !now.Before(*l.ExpirationDate) {
		log.Printf("event=lease_expired lease=%s account=%s", l.UUID, l.AWSAccountID)
		_, err := r.orchestrator.TerminateLease(ctx, l.UUID, model.TerminationExpired)
		return err
	}
	if l.MaxSpend != nil && l.TotalCostAccrued >= *l.MaxSpend {
		log.Printf("event=lease_budget_exceeded lease=%s account=%s accrued=%.2f max=%.2f",
			l.UUID, l.AWSAccountID, l.TotalCostAccrued, *l.MaxSpend)
		_, err := r.orchestrator.TerminateLease(ctx, l.UUID, model.TerminationBudgetExceeded)
		return err
	}
	if l.Status != model.LeaseActive {
		return nil
	}
	if reason, crossed := crossedThreshold(l, now); crossed {
		log.Printf("event=lease_threshold_crossed lease=%s account=%s reason=%q", l.UUID, l.AWSAccountID, reason)
		_, err := r.orchestrator.FreezeLease(ctx, l.UUID, reason)
		return err
	}
	return nil
}

// crossedThreshold reports the first budget or duration threshold the lease
// has passed. Thresholds are percentages of maxSpend and of the
// start-to-expiration window.
func crossedThreshold(l model.Lease, now time.Time) (string, bool) {
	if l.MaxSpend != nil {
		for _, pct := range l.BudgetThresholds {
			if l.TotalCostAccrued >= *l.MaxSpend*pct/100 {
				return fmt.Sprintf("budget threshold %.0f%% crossed (%.2f of %.2f)", pct, l.TotalCostAccrued, *l.MaxSpend), true
			}
		}
	}
	if l.StartDate != nil && l.ExpirationDate != nil {
		window := l.ExpirationDate.Sub(*l.StartDate)
		if window > 0 {
			elapsed := now.Sub(*l.StartDate)
			used := float64(elapsed) / float64(window) * 100
			for _, pct := range l.DurationThresholds {
				if used >= pct {
					return fmt.Sprintf("duration threshold %.0f%% crossed", pct), true
				}
			}
		}
	}
	return "", false
}

func (r *Runner) reapLeases(ctx context.Context) error {
	n, err := r.store.ReapExpiredLeases(ctx, r.now())
	if err != nil {
		return fmt.Errorf("reap expired leases: %w", err)
	}
	if n > 0 {
		log.Printf("event=leases_reaped count=%d", n)
		metrics.Default().AddCounter("sbx_leases_reaped_total", uint64(n), nil)
	}
	return nil
}
