package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/config"
	"github.com/JakeFAU/mediafetch/internal/download"
)

// command is the closed set of operations the loop executes.
type command interface {
	apply(ctx context.Context, e *Engine)
}

type result[T any] struct {
	val T
	err error
}

type submitCmd struct {
	job   download.Job
	reply chan error
}

type batchCmd struct {
	jobs  []download.Job
	reply chan []error
}

type statusCmd struct {
	reply chan download.Snapshot
}

type jobCmd struct {
	jobID string
	reply chan result[download.Job]
}

type settingsCmd struct {
	reply chan config.Settings
}

type updateConfigCmd struct {
	patch config.SettingsPatch
	reply chan result[config.Settings]
}

type signalCmd struct {
	sig   download.Signal
	reply chan struct{}
}

type retryDueCmd struct {
	jobID string
}

type reapCmd struct {
	jobID string
}

type sweepCmd struct{}

func (c submitCmd) apply(ctx context.Context, e *Engine) {
	c.reply <- e.accept(ctx, c.job)
}

func (c batchCmd) apply(ctx context.Context, e *Engine) {
	errs := make([]error, len(c.jobs))
	for i, job := range c.jobs {
		errs[i] = e.accept(ctx, job)
	}
	c.reply <- errs
}

func (c statusCmd) apply(ctx context.Context, e *Engine) {
	c.reply <- download.Snapshot{
		Active: e.gov.Active(),
		Queued: e.gov.Queued(),
		Jobs:   e.store.List(ctx),
	}
}

func (c jobCmd) apply(ctx context.Context, e *Engine) {
	job, err := e.store.Get(ctx, c.jobID)
	c.reply <- result[download.Job]{val: job, err: err}
}

func (c settingsCmd) apply(_ context.Context, e *Engine) {
	c.reply <- e.settings
}

func (c updateConfigCmd) apply(ctx context.Context, e *Engine) {
	next, err := e.updateSettings(ctx, c.patch)
	c.reply <- result[config.Settings]{val: next, err: err}
}

func (c signalCmd) apply(ctx context.Context, e *Engine) {
	e.handleSignal(ctx, c.sig)
	close(c.reply)
}

func (c retryDueCmd) apply(ctx context.Context, e *Engine) {
	e.retryDue(ctx, c.jobID)
}

func (c reapCmd) apply(ctx context.Context, e *Engine) {
	e.reap(ctx, c.jobID)
}

func (sweepCmd) apply(ctx context.Context, e *Engine) {
	e.sweep(ctx)
}

// Submit validates and canonicalizes rawURL, records a pending job and hands
// it to the governor. Only validation problems are returned as errors.
func (e *Engine) Submit(
	ctx context.Context,
	rawURL string,
	origin download.Origin,
	overrides download.Overrides,
) (string, error) {
	job, err := e.prepare(ctx, rawURL, origin, overrides)
	if err != nil {
		return "", err
	}
	reply := make(chan error, 1)
	if err := e.send(ctx, submitCmd{job: job, reply: reply}); err != nil {
		return "", err
	}
	acceptErr, err := await(ctx, e, reply)
	if err != nil {
		return "", err
	}
	if acceptErr != nil {
		return "", acceptErr
	}
	return job.ID, nil
}

// SubmitBatch submits items in order. Each item is validated independently;
// an invalid item does not prevent the others from being accepted.
func (e *Engine) SubmitBatch(
	ctx context.Context,
	items []download.BatchItem,
	origin download.Origin,
) ([]download.BatchResult, error) {
	results := make([]download.BatchResult, len(items))
	jobs := make([]download.Job, 0, len(items))
	slots := make([]int, 0, len(items))
	for i, item := range items {
		results[i].URL = item.URL
		job, err := e.prepare(ctx, item.URL, origin, download.Overrides{Filename: item.Filename})
		if err != nil {
			results[i].Err = err
			continue
		}
		jobs = append(jobs, job)
		slots = append(slots, i)
	}
	if len(jobs) == 0 {
		return results, nil
	}

	reply := make(chan []error, 1)
	if err := e.send(ctx, batchCmd{jobs: jobs, reply: reply}); err != nil {
		return nil, err
	}
	errs, err := await(ctx, e, reply)
	if err != nil {
		return nil, err
	}
	for k, idx := range slots {
		if errs[k] != nil {
			results[idx].Err = errs[k]
			continue
		}
		results[idx].JobID = jobs[k].ID
	}
	return results, nil
}

// Status returns the aggregate snapshot: active count, queued count and every
// tracked job in submission order.
func (e *Engine) Status(ctx context.Context) (download.Snapshot, error) {
	reply := make(chan download.Snapshot, 1)
	if err := e.send(ctx, statusCmd{reply: reply}); err != nil {
		return download.Snapshot{}, err
	}
	return await(ctx, e, reply)
}

// Job returns a single job record.
func (e *Engine) Job(ctx context.Context, jobID string) (download.Job, error) {
	reply := make(chan result[download.Job], 1)
	if err := e.send(ctx, jobCmd{jobID: jobID, reply: reply}); err != nil {
		return download.Job{}, err
	}
	res, err := await(ctx, e, reply)
	if err != nil {
		return download.Job{}, err
	}
	return res.val, res.err
}

// Settings returns the current configuration snapshot.
func (e *Engine) Settings(ctx context.Context) (config.Settings, error) {
	reply := make(chan config.Settings, 1)
	if err := e.send(ctx, settingsCmd{reply: reply}); err != nil {
		return config.Settings{}, err
	}
	return await(ctx, e, reply)
}

// UpdateConfig merges patch over the current settings, persists the result and
// swaps it in. Raising the concurrency limit admits queued jobs immediately.
func (e *Engine) UpdateConfig(ctx context.Context, patch config.SettingsPatch) (config.Settings, error) {
	reply := make(chan result[config.Settings], 1)
	if err := e.send(ctx, updateConfigCmd{patch: patch, reply: reply}); err != nil {
		return config.Settings{}, err
	}
	res, err := await(ctx, e, reply)
	if err != nil {
		return config.Settings{}, err
	}
	return res.val, res.err
}

// Signal delivers a transport completion report and waits until it has been
// handled. Transports may instead write to the channel given in Options.
func (e *Engine) Signal(ctx context.Context, sig download.Signal) error {
	reply := make(chan struct{})
	if err := e.send(ctx, signalCmd{sig: sig, reply: reply}); err != nil {
		return err
	}
	_, err := await(ctx, e, reply)
	return err
}

func (e *Engine) updateSettings(ctx context.Context, patch config.SettingsPatch) (config.Settings, error) {
	next := patch.Apply(e.settings)
	if err := next.Validate(); err != nil {
		return e.settings, &download.ValidationError{Field: "settings", Reason: err.Error()}
	}
	if e.configStore != nil {
		if err := e.configStore.Save(next); err != nil {
			e.logger.Error("persist settings failed", zap.Error(err))
			return e.settings, err
		}
	}
	prevLimit := e.gov.Limit()
	e.settings = next
	e.gov.SetLimit(next.MaxConcurrent)
	e.logger.Info("settings updated",
		zap.Int("max_concurrent", next.MaxConcurrent),
		zap.Int("max_attempts", next.MaxAttempts),
		zap.Duration("retry_delay", next.RetryDelay),
		zap.Bool("auto_retry", next.AutoRetry),
	)
	if next.MaxConcurrent > prevLimit {
		e.drain(ctx)
	}
	return next, nil
}

// IsStopped reports whether err means the engine is no longer running.
func IsStopped(err error) bool {
	return errors.Is(err, download.ErrEngineStopped)
}
