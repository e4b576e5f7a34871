/*
reconciler.go - Periodic balance reconciliation

PURPOSE:
  Runs ReconcileAll on a fixed interval so drift between supplier
  balances and their ledgers is repaired without an operator.

DESIGN:
  - Background goroutine driven by a ticker
  - Runs once immediately on Start
  - A zero interval disables the sweep entirely

USAGE:
  r := ledger.NewReconciler(svc, 6*time.Hour, logger)
  r.Start()
  defer r.Stop()

SEE ALSO:
  - report.go: ReconcileAll, RecalculateSupplierBalance
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler sweeps every supplier on an interval.
type Reconciler struct {
	svc      *Service
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun ReconcileAllResult
}

func NewReconciler(svc *Service, interval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{svc: svc, interval: interval, log: log}
}

// Enabled reports whether Start will launch the sweep.
func (r *Reconciler) Enabled() bool {
	return r.interval > 0
}

// Start launches the sweep. Calling Start twice is a no-op.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Enabled() {
		r.log.Info().Msg("reconciler disabled")
		return
	}
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)

	r.log.Info().Dur("interval", r.interval).Msg("reconciler started")
}

// Stop halts the sweep and waits for an in-flight run to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info().Msg("reconciler stopped")
}

// RunNow performs one sweep synchronously.
func (r *Reconciler) RunNow(ctx context.Context) (ReconcileAllResult, error) {
	res, err := r.svc.ReconcileAll(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("reconcile sweep failed")
		return res, err
	}

	r.mu.Lock()
	r.lastRun = res
	r.mu.Unlock()

	if res.Repaired > 0 || res.Failed > 0 {
		r.log.Warn().
			Int("checked", res.Checked).
			Int("repaired", res.Repaired).
			Int("failed", res.Failed).
			Msg("reconcile sweep found drift")
	} else {
		r.log.Debug().Int("checked", res.Checked).Msg("reconcile sweep clean")
	}
	return res, nil
}

// LastRun returns the result of the most recent completed sweep.
func (r *Reconciler) LastRun() ReconcileAllResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

func (r *Reconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	_, _ = r.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			_, _ = r.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}
