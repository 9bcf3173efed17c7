// Package engine orchestrates download jobs: intake, admission under the
// concurrency limit, completion handling, retries and reclamation.
//
// All job state is owned by a single goroutine (Run). Public methods turn
// into commands on one FIFO inbox and wait for the loop to answer, so every
// multi-step mutation (release then drain, fail then reschedule) completes
// before any other command observes the state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/canonical"
	"github.com/JakeFAU/mediafetch/internal/clock/system"
	"github.com/JakeFAU/mediafetch/internal/config"
	"github.com/JakeFAU/mediafetch/internal/download"
	"github.com/JakeFAU/mediafetch/internal/governor"
	"github.com/JakeFAU/mediafetch/internal/id/uuid"
	"github.com/JakeFAU/mediafetch/internal/metrics"
	"github.com/JakeFAU/mediafetch/internal/retry"
	"github.com/JakeFAU/mediafetch/internal/storage/memory"
)

const inboxSize = 64

// JobStore is the record keeper the engine mutates from its loop.
type JobStore interface {
	Create(ctx context.Context, job download.Job) error
	Get(ctx context.Context, jobID string) (download.Job, error)
	Transition(ctx context.Context, jobID string, to download.Status, mutate func(*download.Job)) (download.Job, error)
	Update(ctx context.Context, jobID string, mutate func(*download.Job)) (download.Job, error)
	List(ctx context.Context) []download.Job
	Remove(ctx context.Context, jobID string) error
	ReapTerminal(ctx context.Context, cutoff time.Time) []string
}

// ConfigStore persists merged settings updates.
type ConfigStore interface {
	Save(settings config.Settings) error
}

// RetryPolicy decides what happens after a failed attempt.
type RetryPolicy interface {
	Decide(attempts int, s retry.Settings) retry.Decision
}

// URLEnhancer resolves a submitted URL to the one that is fetched.
type URLEnhancer interface {
	Enhance(ctx context.Context, rawURL, pageURL string) canonical.Result
}

// Options configures an Engine. Transport is required; everything else has a
// working default.
type Options struct {
	Settings    config.Settings
	GC          config.GCConfig
	Transport   download.Transport
	Signals     <-chan download.Signal
	Enhancer    URLEnhancer
	Notifier    download.Notifier
	ConfigStore ConfigStore
	Store       JobStore
	Clock       download.Clock
	IDs         download.IDGenerator
	Policy      RetryPolicy
	Logger      *zap.Logger
}

// Engine is the orchestrator context. Construct with New and drive with Run.
type Engine struct {
	transport   download.Transport
	signals     <-chan download.Signal
	enhancer    URLEnhancer
	notifier    download.Notifier
	configStore ConfigStore
	store       JobStore
	clock       download.Clock
	ids         download.IDGenerator
	policy      RetryPolicy
	gc          config.GCConfig
	logger      *zap.Logger

	inbox chan command
	done  chan struct{}

	// Owned by the Run goroutine.
	settings   config.Settings
	gov        *governor.Governor
	inflight   map[string]string
	draining   bool
	sweepTimer download.Timer
}

// New validates options and builds an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = system.New()
	}
	store := opts.Store
	if store == nil {
		store = memory.NewJobStore(clk.Now)
	}
	ids := opts.IDs
	if ids == nil {
		ids = uuid.New()
	}
	policy := opts.Policy
	if policy == nil {
		policy = retry.NewLinearPolicy()
	}
	enhancer := opts.Enhancer
	if enhancer == nil {
		enhancer = canonical.NewEnhancer(nil, nil, 0, logger)
	}
	gc := opts.GC
	if gc.FastDelay <= 0 {
		gc.FastDelay = 5 * time.Minute
	}
	if gc.SweepInterval <= 0 {
		gc.SweepInterval = time.Hour
	}
	if gc.Retention <= 0 {
		gc.Retention = 24 * time.Hour
	}

	return &Engine{
		transport:   opts.Transport,
		signals:     opts.Signals,
		enhancer:    enhancer,
		notifier:    opts.Notifier,
		configStore: opts.ConfigStore,
		store:       store,
		clock:       clk,
		ids:         ids,
		policy:      policy,
		gc:          gc,
		logger:      logger.Named("engine"),
		inbox:       make(chan command, inboxSize),
		done:        make(chan struct{}),
		settings:    opts.Settings,
		gov:         governor.New(opts.Settings.MaxConcurrent),
		inflight:    make(map[string]string),
	}, nil
}

// Run processes commands and transport signals until ctx is done. It must be
// called exactly once; afterwards every method returns ErrEngineStopped.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.scheduleSweep()
	defer func() {
		if e.sweepTimer != nil {
			e.sweepTimer.Stop()
		}
	}()

	e.logger.Info("engine started",
		zap.Int("max_concurrent", e.settings.MaxConcurrent),
		zap.Int("max_attempts", e.settings.MaxAttempts),
		zap.Duration("retry_delay", e.settings.RetryDelay),
	)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping",
				zap.Int("active", e.gov.Active()),
				zap.Int("queued", e.gov.Queued()),
			)
			return nil
		case cmd := <-e.inbox:
			cmd.apply(ctx, e)
		case sig, ok := <-e.signals:
			if !ok {
				e.signals = nil
				continue
			}
			e.handleSignal(ctx, sig)
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// send enqueues cmd and blocks until the loop has accepted it.
func (e *Engine) send(ctx context.Context, cmd command) error {
	select {
	case <-e.done:
		return download.ErrEngineStopped
	default:
	}
	select {
	case e.inbox <- cmd:
		return nil
	case <-e.done:
		return download.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is used by timer callbacks, which have no caller context.
func (e *Engine) post(cmd command) {
	select {
	case e.inbox <- cmd:
	case <-e.done:
	}
}

func await[T any](ctx context.Context, e *Engine, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-e.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, download.ErrEngineStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Engine) publishOccupancy() {
	metrics.SetOccupancy(e.gov.Active(), e.gov.Queued())
}
