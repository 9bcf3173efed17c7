package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/download"
)

// scheduleReap removes a completed job after the fast-path delay.
func (e *Engine) scheduleReap(jobID string) {
	e.clock.AfterFunc(e.gc.FastDelay, func() {
		e.post(reapCmd{jobID: jobID})
	})
}

func (e *Engine) reap(ctx context.Context, jobID string) {
	err := e.store.Remove(ctx, jobID)
	switch {
	case err == nil:
		e.logger.Debug("job reclaimed", zap.String("job_id", jobID))
	case errors.Is(err, download.ErrJobNotTerminal):
		e.logger.Warn("reap skipped for live job", zap.String("job_id", jobID))
	default:
		e.logger.Error("reap job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (e *Engine) scheduleSweep() {
	e.sweepTimer = e.clock.AfterFunc(e.gc.SweepInterval, func() {
		e.post(sweepCmd{})
	})
}

// sweep drops terminal jobs older than the retention window, catching anything
// the fast path missed, then re-arms itself.
func (e *Engine) sweep(ctx context.Context) {
	cutoff := e.clock.Now().Add(-e.gc.Retention)
	reaped := e.store.ReapTerminal(ctx, cutoff)
	if len(reaped) > 0 {
		e.logger.Info("sweep reclaimed jobs", zap.Int("count", len(reaped)), zap.Time("cutoff", cutoff))
	}
	e.scheduleSweep()
}
