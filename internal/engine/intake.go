package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/download"
	"github.com/JakeFAU/mediafetch/internal/filename"
	"github.com/JakeFAU/mediafetch/internal/logging"
	"github.com/JakeFAU/mediafetch/internal/metrics"
)

// prepare runs on the caller's goroutine. It does the work that may block
// (the optional reachability probe) so the loop never waits on the network.
func (e *Engine) prepare(
	ctx context.Context,
	rawURL string,
	origin download.Origin,
	overrides download.Overrides,
) (download.Job, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := validateURL(rawURL); err != nil {
		return download.Job{}, err
	}

	resolved := e.enhancer.Enhance(ctx, rawURL, origin.PageURL)

	id, err := e.ids.NewID()
	if err != nil {
		return download.Job{}, fmt.Errorf("assign job id: %w", err)
	}

	now := e.clock.Now()
	name := filename.Derive(resolved.URL, origin.Title, now)
	if overrides.Filename != "" {
		name = filename.Override(overrides.Filename, origin.Title)
	}

	return download.Job{
		ID:           id,
		SourceURL:    rawURL,
		CanonicalURL: resolved.URL,
		Filename:     name,
		Origin:       origin,
		Status:       download.StatusPending,
		CreatedAt:    now,
	}, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return &download.ValidationError{Field: "url", Reason: "must not be empty"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return &download.ValidationError{Field: "url", Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &download.ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &download.ValidationError{Field: "url", Reason: "host is required"}
	}
	return nil
}

// accept creates the pending record and admits it in the same loop turn.
func (e *Engine) accept(ctx context.Context, job download.Job) error {
	if err := e.store.Create(ctx, job); err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	metrics.ObserveJob(string(download.StatusPending))
	e.logger.Debug("job accepted", logging.JobFields(job)...)
	e.logger.Debug("filename derived",
		zap.String("job_id", job.ID),
		zap.String("filename", job.Filename),
		zap.Bool("canonicalized", job.CanonicalURL != job.SourceURL),
	)
	e.admit(ctx, job.ID)
	e.publishOccupancy()
	return nil
}
