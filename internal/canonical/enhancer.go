package canonical

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/download"
	"github.com/JakeFAU/mediafetch/internal/metrics"
)

const defaultProbeTimeout = 5 * time.Second

// Result describes how a submitted URL was resolved.
type Result struct {
	URL      string                `json:"url"`
	Enhanced bool                  `json:"enhanced"`
	Rule     string                `json:"rule"`
	Probe    download.Reachability `json:"-"`
	Probed   bool                  `json:"probed"`
}

// Enhancer canonicalizes a URL and, when a Validator is configured, confirms
// the rewritten URL before using it.
type Enhancer struct {
	canon     *Canonicalizer
	validator download.Validator
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEnhancer wires a Canonicalizer with an optional Validator.
func NewEnhancer(canon *Canonicalizer, validator download.Validator, timeout time.Duration, logger *zap.Logger) *Enhancer {
	if canon == nil {
		canon = New(nil)
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enhancer{canon: canon, validator: validator, timeout: timeout, logger: logger}
}

// Enhance resolves rawURL using the origin page's host. It never fails: any
// problem falls back to rawURL. The probe is bounded by a single timeout.
func (e *Enhancer) Enhance(ctx context.Context, rawURL, pageURL string) Result {
	host := OriginHost(pageURL, rawURL)
	rule := e.canon.RuleFor(host)
	enhanced, err := e.canon.Rewrite(rawURL, host)
	if err != nil {
		e.logger.Debug("canonicalization failed; using original",
			zap.String("url", rawURL), zap.String("rule", rule), zap.Error(err))
		metrics.ObserveCanonicalization(rule, "failed")
		return Result{URL: rawURL, Rule: rule}
	}
	if enhanced == rawURL {
		metrics.ObserveCanonicalization(rule, "unchanged")
		return Result{URL: rawURL, Rule: rule}
	}
	if e.validator == nil {
		metrics.ObserveCanonicalization(rule, "rewritten")
		return Result{URL: enhanced, Enhanced: true, Rule: rule}
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	reach := e.validator.Probe(probeCtx, enhanced)
	if reach != download.Reachable {
		e.logger.Debug("enhanced url not confirmed; using original",
			zap.String("url", rawURL),
			zap.String("enhanced", enhanced),
			zap.Stringer("probe", reach),
		)
		metrics.ObserveCanonicalization(rule, "reverted_"+reach.String())
		return Result{URL: rawURL, Rule: rule, Probe: reach, Probed: true}
	}
	metrics.ObserveCanonicalization(rule, "rewritten")
	return Result{URL: enhanced, Enhanced: true, Rule: rule, Probe: reach, Probed: true}
}
