// Package supervisor sequences startup/shutdown ordering across the rest
// of the pipeline and exposes a single Healthy() probe for the ambient
// /healthz endpoint.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/seedfourtytwo/vote-latency-monitor/internal/clock"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/discovery"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/registry"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/store"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/stream"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/writer"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

// Options bundles every already-constructed component the Supervisor
// sequences. Construction (wiring config into each component) is the
// caller's job; Supervisor only owns lifecycle order.
type Options struct {
	Clock            *clock.SlotClock
	Registry         *registry.Registry
	Store            store.Store
	Writer           *writer.Writer
	Discovery        *discovery.Worker
	Stream           *stream.Manager
	StoreFatalWindow time.Duration
}

// Supervisor starts components in order: the slot clock and registry are
// passive and need no goroutine, then the writer, then discovery, then
// the stream manager. Shutdown reverses that order: the stream manager
// and discovery stop first so no new messages enter the pipeline, then
// the writer drains what's in flight and stops.
type Supervisor struct {
	opts   Options
	logger *zap.SugaredLogger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	healthy atomic.Bool
}

// New constructs a Supervisor. Clock, Registry, Store, and Writer must be
// non-nil.
func New(opts Options) (*Supervisor, error) {
	if opts.Clock == nil || opts.Registry == nil || opts.Store == nil || opts.Writer == nil {
		return nil, fmt.Errorf("supervisor: Clock, Registry, Store, and Writer are required")
	}
	if opts.StoreFatalWindow <= 0 {
		opts.StoreFatalWindow = 10 * time.Minute
	}
	return &Supervisor{opts: opts, logger: slog.Get()}, nil
}

// Run starts every component and blocks until ctx is cancelled, then
// shuts down in reverse order and waits for everything to exit. It
// returns only after a full, ordered shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.checkStoreReachable(runCtx); err != nil {
		return fmt.Errorf("supervisor: store unreachable at startup: %w", err)
	}

	// The writer runs on its own context, detached from ctx, so it keeps
	// draining until the stream manager has stopped producing.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.opts.Writer.Run(writerCtx)
	}()

	if s.opts.Discovery != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.opts.Discovery.Run(runCtx)
		}()
	}

	if s.opts.Stream != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.opts.Stream.Run(runCtx)
		}()
	}

	s.healthy.Store(true)
	s.logger.Infow("supervisor started all components")

	<-runCtx.Done()
	s.logger.Infow("supervisor shutting down")
	s.healthy.Store(false)
	s.wg.Wait()
	stopWriter()
	<-writerDone
	s.logger.Infow("supervisor shutdown complete")
	return nil
}

// Shutdown cancels the context Run is blocked on, triggering ordered
// teardown: Run waits for the stream manager and discovery to stop, then
// stops the writer, which flushes what is queued before its Run returns.
func (s *Supervisor) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Healthy reports whether the supervisor believes the pipeline is up.
// Runtime component failures are contained and retried internally and
// do not flip this to false; only startup failure or an explicit
// Shutdown does.
func (s *Supervisor) Healthy() bool {
	return s.healthy.Load()
}

// checkStoreReachable writes a single startup-probe point to confirm the
// store is reachable before starting the rest of the pipeline. A store
// that's unreachable at startup is fatal: the supervisor aborts rather
// than starting components that would have nowhere to write.
func (s *Supervisor) checkStoreReachable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	probe := store.Point{
		Measurement: "vote_latency_monitor_startup_probe",
		Fields:      map[string]int64{"ok": 1},
		Timestamp:   time.Now().UTC(),
	}
	return s.opts.Store.WriteBatch(ctx, []store.Point{probe})
}
