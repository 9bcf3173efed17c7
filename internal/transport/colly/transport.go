// Package collytransport fetches media with gocolly and saves it through a BlobStore.
package collytransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/download"
	"github.com/JakeFAU/mediafetch/internal/hash/sha256"
	"github.com/JakeFAU/mediafetch/internal/policy/ratelimit"
	"github.com/JakeFAU/mediafetch/internal/telemetry"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("transport closed")

const signalBuffer = 64

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	PerHostRPS   float64
	PerHostBurst int
}

// Transport runs each dispatched transfer on its own goroutine and reports
// exactly one Signal per transfer on Signals.
type Transport struct {
	cfg     Config
	base    *colly.Collector
	store   download.BlobStore
	limiter *ratelimit.Limiter
	logger  *zap.Logger

	signals chan download.Signal
	seq     atomic.Uint64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Transport that saves into store.
func New(cfg Config, store download.BlobStore, logger *zap.Logger) (*Transport, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodyBytes
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport())

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:     cfg,
		base:    c,
		store:   store,
		limiter: ratelimit.New(ratelimit.Config{PerHostRPS: cfg.PerHostRPS, PerHostBurst: cfg.PerHostBurst}),
		logger:  logger.Named("transport"),
		signals: make(chan download.Signal, signalBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Signals delivers completion reports. It is closed by Close once every
// transfer has finished.
func (t *Transport) Signals() <-chan download.Signal {
	return t.signals
}

// Dispatch starts a transfer and returns its transport ID immediately.
func (t *Transport) Dispatch(_ context.Context, req download.DispatchRequest) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrClosed
	}
	id := fmt.Sprintf("xfer-%d", t.seq.Add(1))
	t.wg.Add(1)
	go t.run(id, req)
	return id, nil
}

// Close aborts in-flight transfers, waits for them to report and closes the
// signal channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	close(t.signals)
	return nil
}

func (t *Transport) run(id string, req download.DispatchRequest) {
	defer t.wg.Done()
	sig := t.transfer(t.ctx, id, req)
	select {
	case t.signals <- sig:
	case <-t.ctx.Done():
		t.logger.Debug("signal dropped during shutdown", zap.String("transport_id", id))
	}
}

func (t *Transport) transfer(ctx context.Context, id string, req download.DispatchRequest) download.Signal {
	ctx, span := telemetry.Tracer().Start(ctx, "transfer", trace.WithAttributes(
		attribute.String("transport_id", id),
		attribute.String("job_id", req.JobID),
		attribute.Int("attempt", req.Attempt),
		attribute.String("url", req.URL),
	))
	defer span.End()

	logger := t.logger.With(
		zap.String("transport_id", id),
		zap.String("job_id", req.JobID),
		zap.Int("attempt", req.Attempt),
	)
	interrupted := func(err error) download.Signal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("transfer interrupted", zap.String("url", req.URL), zap.Error(err))
		return download.Signal{TransportID: id, Outcome: download.OutcomeInterrupted, Err: err}
	}

	if err := t.limiter.Wait(ctx, req.URL); err != nil {
		return interrupted(err)
	}
	body, contentType, err := t.fetch(ctx, req.URL)
	if err != nil {
		return interrupted(err)
	}
	location, err := t.store.PutObject(ctx, path.Join(req.Dir, req.Filename), contentType, bytes.NewReader(body))
	if err != nil {
		return interrupted(fmt.Errorf("save: %w", err))
	}
	span.SetAttributes(attribute.Int("bytes", len(body)), attribute.String("location", location))
	logger.Debug("transfer complete", zap.String("location", location), zap.Int("bytes", len(body)))
	return download.Signal{
		TransportID: id,
		Outcome:     download.OutcomeComplete,
		Location:    location,
		Bytes:       int64(len(body)),
		Digest:      sha256.Digest(body),
	}
}

// fetch runs a single GET on a clone of the base collector.
func (t *Transport) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	collector := t.base.Clone()
	collector.WithTransport(t.base.Transport())

	var (
		body        []byte
		contentType string
		fetchErr    error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("http %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, "", fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if err != nil {
			return nil, "", fmt.Errorf("colly visit failed: %w", err)
		}
		return body, contentType, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
