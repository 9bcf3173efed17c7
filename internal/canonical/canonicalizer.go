// Package canonical rewrites media URLs to their best-known highest-resolution form.
package canonical

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const defaultMaxPasses = 8

// ErrNoFixedPoint is returned when rewriting does not settle within the pass budget.
var ErrNoFixedPoint = errors.New("rewrite did not converge")

// Canonicalizer applies a host rule table with a generic fallback.
type Canonicalizer struct {
	rules     []HostRule
	fallback  []Step
	maxPasses int
}

// New builds a Canonicalizer over the given rules. Nil rules means DefaultRules.
func New(rules []HostRule) *Canonicalizer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Canonicalizer{
		rules:     rules,
		fallback:  FallbackSteps(),
		maxPasses: defaultMaxPasses,
	}
}

// Canonicalize returns the enhanced URL, or rawURL unchanged on any failure.
// Applying it to its own output returns the same output.
func (c *Canonicalizer) Canonicalize(rawURL, originHost string) string {
	out, err := c.Rewrite(rawURL, originHost)
	if err != nil {
		return rawURL
	}
	return out
}

// Rewrite is Canonicalize with the failure reported. On error the returned URL is rawURL.
func (c *Canonicalizer) Rewrite(rawURL, originHost string) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = rawURL, fmt.Errorf("canonicalize panic: %v", rec)
		}
	}()
	if _, err := url.Parse(rawURL); err != nil {
		return rawURL, fmt.Errorf("parse url: %w", err)
	}
	steps := c.stepsFor(originHost)
	cur := rawURL
	for range c.maxPasses {
		next := apply(steps, cur)
		if next == cur {
			if _, err := url.Parse(cur); err != nil {
				return rawURL, fmt.Errorf("parse rewritten url: %w", err)
			}
			return cur, nil
		}
		cur = next
	}
	return rawURL, ErrNoFixedPoint
}

// RuleFor returns the name of the host rule used for originHost, or "generic".
func (c *Canonicalizer) RuleFor(originHost string) string {
	for _, r := range c.rules {
		if r.matches(originHost) {
			return r.Name
		}
	}
	return "generic"
}

func (c *Canonicalizer) stepsFor(originHost string) []Step {
	for _, r := range c.rules {
		if r.matches(originHost) {
			return r.Steps
		}
	}
	return c.fallback
}

func apply(steps []Step, s string) string {
	for _, step := range steps {
		s = step(s)
	}
	return s
}

// OriginHost picks the host used for rule lookup: the page host when known,
// otherwise the media URL's own host.
func OriginHost(pageURL, rawURL string) string {
	for _, candidate := range []string{pageURL, rawURL} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		if u, err := url.Parse(candidate); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	return ""
}
