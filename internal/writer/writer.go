// Package writer implements the write pipeline: an ingress queue that
// absorbs bursts from the stream manager, a dedup cache that collapses
// records retransmitted by multiple subscriptions covering the same
// validator, a size-or-time batcher, and a worker pool that flushes
// batches to the configured store.Store with exponential-backoff retry.
package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/seedfourtytwo/vote-latency-monitor/internal/latency"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/pubkey"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/store"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

// DedupKey identifies a VoteLatencyRecord for dedup purposes: the same
// validator voting on the same slot and having it land in the same
// transaction slot is the same observation, however many subscriptions
// delivered it.
type DedupKey struct {
	VoteAccount [32]byte
	VotedOnSlot uint64
	LandedSlot  uint64
}

// Options configures a Writer. Defaults mirror pkg/config.Default().
type Options struct {
	Network              string
	Store                store.Store
	IngressQueueCapacity int
	BatchSize            int
	FlushInterval        time.Duration
	DedupLRUCapacity     int
	EnqueueTimeout       time.Duration
	StoreWriteTimeout    time.Duration
	WorkerCount          int
}

var (
	enqueuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vote_latency_monitor_writer_enqueued_total",
		Help: "Total number of records accepted onto the ingress queue.",
	})
	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vote_latency_monitor_writer_dropped_total",
		Help: "Total number of records dropped by the write pipeline.",
	}, []string{"reason"})
	dedupedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vote_latency_monitor_writer_deduped_total",
		Help: "Total number of records collapsed by the dedup cache.",
	})
	batchWriteCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vote_latency_monitor_writer_batch_writes_total",
		Help: "Total number of batch write attempts to the store, by outcome.",
	}, []string{"outcome"})
	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vote_latency_monitor_writer_queue_depth",
		Help: "Current depth of the writer's ingress queue.",
	})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, droppedCounter, dedupedCounter, batchWriteCounter, queueDepthGauge)
}

// Writer is the write pipeline. Create with New, start with Run, feed
// records with Enqueue, and stop by cancelling Run's context (Run
// flushes and drains before returning).
type Writer struct {
	opts   Options
	logger *zap.SugaredLogger

	ingress chan latency.Record
	dedup   *lru.Cache[DedupKey, struct{}]
	batches chan []store.Point

	wg sync.WaitGroup
}

// New constructs a Writer. opts.Store is required; zero or negative
// values elsewhere fall back to defaults (BatchSize 5000,
// IngressQueueCapacity 65536, FlushInterval 100ms, DedupLRUCapacity
// 10000, EnqueueTimeout 5s, StoreWriteTimeout 10s, WorkerCount 4).
func New(opts Options) (*Writer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("writer: Options.Store is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	if opts.IngressQueueCapacity <= 0 {
		opts.IngressQueueCapacity = 65_536
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 100 * time.Millisecond
	}
	if opts.DedupLRUCapacity <= 0 {
		opts.DedupLRUCapacity = 10_000
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 5 * time.Second
	}
	if opts.StoreWriteTimeout <= 0 {
		opts.StoreWriteTimeout = 10 * time.Second
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}

	cache, err := lru.New[DedupKey, struct{}](opts.DedupLRUCapacity)
	if err != nil {
		return nil, fmt.Errorf("writer: failed to build dedup cache: %w", err)
	}

	return &Writer{
		opts:    opts,
		logger:  slog.Get(),
		ingress: make(chan latency.Record, opts.IngressQueueCapacity),
		dedup:   cache,
		batches: make(chan []store.Point, opts.WorkerCount),
	}, nil
}

// Enqueue offers rec to the ingress queue, blocking up to
// opts.EnqueueTimeout before dropping it: a full queue sheds load rather
// than stalling the stream manager indefinitely.
func (w *Writer) Enqueue(ctx context.Context, rec latency.Record) {
	timer := time.NewTimer(w.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case w.ingress <- rec:
		enqueuedCounter.Inc()
		queueDepthGauge.Set(float64(len(w.ingress)))
	case <-timer.C:
		droppedCounter.WithLabelValues("queue_full").Inc()
		w.logger.Warnw("dropping record, ingress queue full", "vote_account", rec.VoteAccount.String())
	case <-ctx.Done():
	}
}

// Run drives the batcher and the worker pool until ctx is cancelled, then
// flushes whatever remains in the ingress queue before returning.
func (w *Writer) Run(ctx context.Context) {
	for i := 0; i < w.opts.WorkerCount; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	w.batcher(ctx)

	close(w.batches)
	w.wg.Wait()
}

// batcher accumulates records into a batch, flushing on whichever comes
// first: BatchSize records, or FlushInterval elapsing with a non-empty
// batch. On ctx cancellation it drains whatever is already queued and
// does a final flush.
func (w *Writer) batcher(ctx context.Context) {
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]store.Point, 0, w.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.batches <- batch
		batch = make([]store.Point, 0, w.opts.BatchSize)
	}

	for {
		select {
		case rec, ok := <-w.ingress:
			if !ok {
				flush()
				return
			}
			queueDepthGauge.Set(float64(len(w.ingress)))
			if p, keep := w.admit(rec); keep {
				batch = append(batch, p)
				if len(batch) >= w.opts.BatchSize {
					flush()
				}
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			w.drain(&batch)
			flush()
			return
		}
	}
}

// drain empties whatever is already sitting in the ingress queue into
// batch without blocking, used once on shutdown.
func (w *Writer) drain(batch *[]store.Point) {
	for {
		select {
		case rec, ok := <-w.ingress:
			if !ok {
				return
			}
			if p, keep := w.admit(rec); keep {
				*batch = append(*batch, p)
			}
		default:
			return
		}
	}
}

// admit applies the dedup cache and converts a surviving record into a
// store.Point with truncated tag identifiers.
func (w *Writer) admit(rec latency.Record) (store.Point, bool) {
	key := DedupKey{VoteAccount: rec.VoteAccount, VotedOnSlot: rec.VotedOnSlot, LandedSlot: rec.LandedSlot}
	if _, ok := w.dedup.Get(key); ok {
		dedupedCounter.Inc()
		return store.Point{}, false
	}
	w.dedup.Add(key, struct{}{})

	return store.Point{
		Measurement: "vote_latency",
		Tags: map[string]string{
			"network":      w.opts.Network,
			"validator_id": pubkey.ShortString(rec.Validator),
			"vote_account": pubkey.ShortString(rec.VoteAccount),
		},
		Fields: map[string]int64{
			"latency_slots": int64(rec.LatencySlots),
			"voted_slot":    int64(rec.VotedOnSlot),
			"landed_slot":   int64(rec.LandedSlot),
		},
		Timestamp: rec.Timestamp,
	}, true
}

// worker pulls batches off w.batches and writes them to the store with
// exponential-backoff retry, distinguishing retryable from fatal errors.
func (w *Writer) worker() {
	defer w.wg.Done()
	for batch := range w.batches {
		w.writeWithRetry(batch)
	}
}

func (w *Writer) writeWithRetry(batch []store.Point) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2

	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.StoreWriteTimeout)
		defer cancel()

		err := w.opts.Store.WriteBatch(ctx, batch)
		if err == nil {
			return nil
		}

		var re *store.RetryableError
		if asRetryable(err, &re) && !re.Retryable {
			return backoff.Permanent(err)
		}
		w.logger.Warnw("store write attempt failed", "attempt", attempt, "batch_size", len(batch), "err", err)
		return err
	}

	// One initial attempt plus up to 4 retries: at most 5 attempts.
	err := backoff.Retry(op, backoff.WithMaxRetries(bo, 4))
	if err != nil {
		batchWriteCounter.WithLabelValues("failure").Inc()
		droppedCounter.WithLabelValues("store_write_failed").Add(float64(len(batch)))
		w.logger.Errorw("dropping batch after exhausting retries", "batch_size", len(batch), "err", err)
		return
	}
	batchWriteCounter.WithLabelValues("success").Inc()
}

func asRetryable(err error, target **store.RetryableError) bool {
	re, ok := err.(*store.RetryableError)
	if !ok {
		return false
	}
	*target = re
	return true
}
