// Package probe checks whether a URL answers a HEAD request.
package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/download"
)

// Config controls the probe collector.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Prober implements download.Validator with a colly HEAD request.
type Prober struct {
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Prober.
func New(cfg Config, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	c := colly.NewCollector()
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	// Every status reaches OnResponse; OnError is left to network failures.
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Prober{base: c, logger: logger.Named("probe")}
}

// Probe reports Reachable for 2xx/3xx answers, Unreachable for HTTP error
// statuses and Unknown for anything else, including ctx expiry.
func (p *Prober) Probe(ctx context.Context, rawURL string) download.Reachability {
	collector := p.base.Clone()

	result := download.Unknown
	collector.OnResponse(func(r *colly.Response) {
		result = classify(r.StatusCode)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result = classify(r.StatusCode)
			return
		}
		p.logger.Debug("probe failed", zap.String("url", rawURL), zap.Error(err))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = collector.Head(rawURL)
	}()

	select {
	case <-ctx.Done():
		return download.Unknown
	case <-done:
		return result
	}
}

func classify(status int) download.Reachability {
	switch {
	case status >= http.StatusOK && status < http.StatusBadRequest:
		return download.Reachable
	case status >= http.StatusBadRequest:
		return download.Unreachable
	default:
		return download.Unknown
	}
}
