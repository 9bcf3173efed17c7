package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/download"
	"github.com/JakeFAU/mediafetch/internal/logging"
	"github.com/JakeFAU/mediafetch/internal/metrics"
	"github.com/JakeFAU/mediafetch/internal/retry"
)

// admit starts jobID if a slot is free, otherwise appends it to the queue.
func (e *Engine) admit(ctx context.Context, jobID string) {
	if !e.gov.TryAcquire() {
		job, err := e.store.Transition(ctx, jobID, download.StatusQueued, nil)
		if err != nil {
			e.logger.Warn("cannot queue job", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		e.gov.Enqueue(jobID)
		metrics.ObserveJob(string(download.StatusQueued))
		e.logger.Debug("job queued", logging.JobFields(job)...)
		return
	}

	job, err := e.store.Transition(ctx, jobID, download.StatusActive, nil)
	if err != nil {
		// The record vanished or moved on while waiting; give the slot back.
		e.gov.Release()
		e.logger.Warn("cannot activate job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(download.StatusActive))
	e.dispatch(ctx, job)
}

func (e *Engine) dispatch(ctx context.Context, job download.Job) {
	req := download.DispatchRequest{
		JobID:    job.ID,
		URL:      job.CanonicalURL,
		Filename: job.Filename,
		Dir:      e.settings.DownloadPath,
		Attempt:  job.Attempts + 1,
	}
	transportID, err := e.transport.Dispatch(ctx, req)
	if err != nil {
		e.logger.Warn("dispatch failed", append(logging.JobFields(job), zap.Error(err))...)
		e.fail(ctx, job.ID, &download.TransportError{Err: err})
		return
	}
	job, err = e.store.Update(ctx, job.ID, func(j *download.Job) {
		j.TransportID = transportID
	})
	if err != nil {
		e.logger.Error("record transport id", zap.String("job_id", req.JobID), zap.Error(err))
	}
	e.inflight[transportID] = job.ID
	e.logger.Info("download dispatched", logging.JobFields(job)...)
}

// release frees exactly one slot and refills it from the queue.
func (e *Engine) release(ctx context.Context) {
	e.gov.Release()
	e.drain(ctx)
}

// drain admits queued jobs in FIFO order while capacity remains. A failure
// during admission can call release again; the outer loop picks that up.
func (e *Engine) drain(ctx context.Context) {
	if e.draining {
		return
	}
	e.draining = true
	defer func() { e.draining = false }()
	for {
		jobID, ok := e.gov.Next()
		if !ok {
			break
		}
		e.admit(ctx, jobID)
	}
	e.publishOccupancy()
}

// handleSignal correlates a transport report to its job and finalizes or
// retries it. Anything that does not match an active job is an orphan.
func (e *Engine) handleSignal(ctx context.Context, sig download.Signal) {
	jobID, ok := e.inflight[sig.TransportID]
	if !ok {
		e.orphan(sig, "unknown transport id")
		return
	}
	delete(e.inflight, sig.TransportID)

	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.orphan(sig, "job no longer tracked")
		return
	}
	if job.Status != download.StatusActive || job.TransportID != sig.TransportID {
		e.orphan(sig, "job not awaiting this transfer")
		return
	}

	if sig.Outcome == download.OutcomeComplete {
		e.complete(ctx, job, sig)
		return
	}
	cause := sig.Err
	if cause == nil {
		cause = errors.New("transfer interrupted")
	}
	e.fail(ctx, job.ID, &download.TransportError{TransportID: sig.TransportID, Err: cause})
}

func (e *Engine) orphan(sig download.Signal, reason string) {
	metrics.ObserveOrphanSignal()
	e.logger.Warn("orphan signal discarded",
		zap.String("transport_id", sig.TransportID),
		zap.String("outcome", string(sig.Outcome)),
		zap.String("reason", reason),
	)
}

func (e *Engine) complete(ctx context.Context, job download.Job, sig download.Signal) {
	done, err := e.store.Transition(ctx, job.ID, download.StatusComplete, func(j *download.Job) {
		j.LastError = ""
		j.Location = sig.Location
		j.SHA256 = sig.Digest
	})
	if err != nil {
		e.logger.Error("complete job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(download.StatusComplete))
	metrics.ObserveTransfer(done.CanonicalURL, sig.Bytes)
	e.logger.Info("download complete", append(logging.JobFields(done),
		zap.String("location", sig.Location),
		zap.Int64("bytes", sig.Bytes),
		zap.String("sha256", sig.Digest),
	)...)
	e.notify(ctx, download.NotifyComplete, done)
	e.scheduleReap(done.ID)
	e.release(ctx)
}

// fail records a failed attempt on an active job, then either schedules a
// retry or marks the job failed. The slot is released exactly once.
func (e *Engine) fail(ctx context.Context, jobID string, cause error) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil || job.Status != download.StatusActive {
		e.logger.Warn("failure for inactive job ignored", zap.String("job_id", jobID), zap.Error(cause))
		return
	}

	// Attempts never decrease, even after MaxAttempts is lowered below them.
	attempts := job.Attempts + 1
	if attempts > e.settings.MaxAttempts {
		attempts = max(job.Attempts, e.settings.MaxAttempts)
	}
	decision := e.policy.Decide(attempts, retry.Settings{
		MaxAttempts: e.settings.MaxAttempts,
		BaseDelay:   e.settings.RetryDelay,
		AutoRetry:   e.settings.AutoRetry,
	})

	if decision.Retry {
		due := e.clock.Now().Add(decision.Delay)
		updated, err := e.store.Transition(ctx, jobID, download.StatusRetrying, func(j *download.Job) {
			j.Attempts = attempts
			j.LastError = cause.Error()
			j.TransportID = ""
			j.NextRetryAt = &due
		})
		if err != nil {
			e.logger.Error("schedule retry", zap.String("job_id", jobID), zap.Error(err))
		} else {
			metrics.ObserveJob(string(download.StatusRetrying))
			metrics.ObserveRetry()
			e.logger.Warn("download failed; retry scheduled", append(logging.JobFields(updated),
				zap.Duration("delay", decision.Delay),
				zap.Error(cause),
			)...)
			e.clock.AfterFunc(decision.Delay, func() {
				e.post(retryDueCmd{jobID: jobID})
			})
		}
	} else {
		failed, err := e.store.Transition(ctx, jobID, download.StatusFailed, func(j *download.Job) {
			j.Attempts = attempts
			j.LastError = cause.Error()
		})
		if err != nil {
			e.logger.Error("fail job", zap.String("job_id", jobID), zap.Error(err))
		} else {
			metrics.ObserveJob(string(download.StatusFailed))
			e.logger.Error("download failed", append(logging.JobFields(failed), zap.Error(cause))...)
			e.notify(ctx, download.NotifyFailed, failed)
		}
	}
	e.release(ctx)
}

// retryDue re-admits a job whose backoff elapsed. At capacity it joins the
// queue tail like any other job.
func (e *Engine) retryDue(ctx context.Context, jobID string) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil || job.Status != download.StatusRetrying {
		e.logger.Debug("stale retry timer", zap.String("job_id", jobID))
		return
	}
	e.logger.Debug("retry due", logging.JobFields(job)...)
	e.admit(ctx, jobID)
	e.publishOccupancy()
}

func (e *Engine) notify(ctx context.Context, kind download.NotificationKind, job download.Job) {
	if e.notifier == nil || !e.settings.Notifications {
		return
	}
	e.notifier.Notify(ctx, download.Notification{
		Kind:     kind,
		JobID:    job.ID,
		URL:      job.CanonicalURL,
		Filename: job.Filename,
		Error:    job.LastError,
		At:       e.clock.Now(),
	})
}
