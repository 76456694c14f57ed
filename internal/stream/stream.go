// Package stream owns the subscription lifecycle: sharding validators
// into subscription batches, running each shard's connect/read/reconnect
// state machine, and dispatching incoming updates to the clock, decoder,
// and latency calculator.
package stream

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/seedfourtytwo/vote-latency-monitor/internal/clock"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/decoder"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/discovery"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/feed"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/latency"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/registry"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/writer"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

// State is a shard's position in its connect/read/reconnect state
// machine: IDLE -> CONNECTING -> READY <-> DEGRADED -> BACKOFF ->
// CONNECTING, with CLOSED terminal on shutdown.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateDegraded   State = "degraded"
	StateBackoff    State = "backoff"
	StateClosed     State = "closed"
)

var shardStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "vote_latency_monitor_stream_shard_state",
	Help: "1 if the shard is currently in the labeled state, 0 otherwise.",
}, []string{"shard", "state"})

var dialFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "vote_latency_monitor_stream_dial_failures_total",
	Help: "Total number of failed stream connect attempts.",
})

var accountUpdateCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "vote_latency_monitor_stream_account_updates_total",
	Help: "Total account updates received; telemetry only, never fed into latency calculation.",
})

func init() {
	prometheus.MustRegister(shardStateGauge, dialFailureCounter, accountUpdateCounter)
}

// Options configures the Manager. Defaults mirror pkg/config.Default().
type Options struct {
	FeedURL              string
	FeedToken            string
	Commitment           feed.CommitmentLevel
	MaxSubscriptions     int
	StreamBufferSize     int
	ConnectTimeout       time.Duration
	KeepaliveTimeout     time.Duration
	StallTimeout         time.Duration
	ReconfigureCoalesce  time.Duration
	Registry             *registry.Registry
	Clock                *clock.SlotClock
	Decoder              *decoder.Decoder
	Writer               *writer.Writer
	Changes              <-chan discovery.RegistryChangeEvent
	IncludeAccountFilter bool
}

// Manager owns one shard per batch of up to MaxSubscriptions validators
// and incrementally reshards as registry-change notifications arrive,
// keeping a stable vote-account -> shard assignment so that validators
// untouched by a change stay on their existing connection.
type Manager struct {
	opts   Options
	logger *zap.SugaredLogger

	mu          sync.Mutex
	shards      map[int]*shardWorker
	batches     map[int][]solana.PublicKey
	assign      map[solana.PublicKey]int
	nextShardID int
}

// pendingChange is one vote account added or removed by a coalesced
// RegistryChangeEvent, queued until the coalescing window elapses.
type pendingChange struct {
	pk    solana.PublicKey
	added bool
}

// New constructs a Manager. Run must be called to start shards.
func New(opts Options) *Manager {
	if opts.MaxSubscriptions <= 0 {
		opts.MaxSubscriptions = 50
	}
	if opts.StreamBufferSize <= 0 {
		opts.StreamBufferSize = 4096
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.KeepaliveTimeout <= 0 {
		opts.KeepaliveTimeout = 60 * time.Second
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 30 * time.Second
	}
	if opts.ReconfigureCoalesce <= 0 {
		opts.ReconfigureCoalesce = 5 * time.Second
	}
	if opts.Commitment == "" {
		opts.Commitment = feed.CommitmentConfirmed
	}
	return &Manager{opts: opts, logger: slog.Get()}
}

// Run builds the initial sharding from the current registry snapshot,
// starts one goroutine per shard, then coalesces registry-change events
// over ReconfigureCoalesce before applying them. It returns when ctx is
// cancelled, after every shard has stopped.
func (m *Manager) Run(ctx context.Context) {
	m.initialReshard(ctx)

	ticker := time.NewTicker(m.opts.ReconfigureCoalesce)
	defer ticker.Stop()
	var pending []pendingChange
	changes := m.opts.Changes

	for {
		select {
		case ev, ok := <-changes:
			if !ok {
				// No further registry changes; keep the current shards
				// running until ctx is cancelled.
				changes = nil
				continue
			}
			for _, pk := range ev.Added {
				pending = append(pending, pendingChange{pk: pk, added: true})
			}
			for _, pk := range ev.Removed {
				pending = append(pending, pendingChange{pk: pk, added: false})
			}
		case <-ticker.C:
			if len(pending) > 0 {
				m.applyChanges(ctx, pending)
				pending = nil
			}
		case <-ctx.Done():
			m.stopAll()
			return
		}
	}
}

// initialReshard partitions the current registry snapshot into batches
// of MaxSubscriptions vote accounts, sorted so the initial assignment is
// deterministic, and starts one shard per batch.
func (m *Manager) initialReshard(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.opts.Registry.Snapshot()
	accounts := snap.VoteAccounts()
	sortPubkeys(accounts)

	m.shards = make(map[int]*shardWorker)
	m.batches = make(map[int][]solana.PublicKey)
	m.assign = make(map[solana.PublicKey]int, len(accounts))
	if len(accounts) == 0 {
		return
	}

	batches := chunk(accounts, m.opts.MaxSubscriptions)
	for i, batch := range batches {
		for _, pk := range batch {
			m.assign[pk] = i
		}
		m.batches[i] = batch
		sw := newShardWorker(i, batch, snap, m.opts, m.logger)
		m.shards[i] = sw
		sw.start(ctx)
	}
	m.nextShardID = len(batches)
	m.logger.Infow("stream manager initial shard build", "validators", len(accounts), "shards", len(batches))
}

// applyChanges diffs a batch of coalesced additions/removals against the
// current vote-account -> shard assignment and stops/rebuilds only the
// shards whose membership actually changed; every other shard's
// connection is left running untouched.
func (m *Manager) applyChanges(ctx context.Context, changes []pendingChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	affected := make(map[int]struct{})
	for _, c := range changes {
		if c.added {
			if _, exists := m.assign[c.pk]; exists {
				continue
			}
			id := m.shardWithRoomLocked()
			m.assign[c.pk] = id
			m.batches[id] = append(m.batches[id], c.pk)
			affected[id] = struct{}{}
		} else {
			id, exists := m.assign[c.pk]
			if !exists {
				continue
			}
			delete(m.assign, c.pk)
			m.batches[id] = removePubkey(m.batches[id], c.pk)
			affected[id] = struct{}{}
		}
	}
	if len(affected) == 0 {
		return
	}

	snap := m.opts.Registry.Snapshot()
	for id := range affected {
		if old, ok := m.shards[id]; ok {
			old.stop()
			delete(m.shards, id)
		}
		batch := m.batches[id]
		if len(batch) == 0 {
			delete(m.batches, id)
			continue
		}
		sw := newShardWorker(id, batch, snap, m.opts, m.logger)
		m.shards[id] = sw
		sw.start(ctx)
	}
	m.logger.Infow("stream manager resharded", "validators", len(m.assign), "shards", len(m.shards), "shards_rebuilt", len(affected))
}

// shardWithRoomLocked returns a shard id with fewer than MaxSubscriptions
// members, reusing an existing shard over opening a new one. Caller must
// hold m.mu.
func (m *Manager) shardWithRoomLocked() int {
	for id, batch := range m.batches {
		if len(batch) < m.opts.MaxSubscriptions {
			return id
		}
	}
	id := m.nextShardID
	m.nextShardID++
	return id
}

func removePubkey(batch []solana.PublicKey, pk solana.PublicKey) []solana.PublicKey {
	for i, v := range batch {
		if v == pk {
			return append(batch[:i], batch[i+1:]...)
		}
	}
	return batch
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAllLocked()
}

func (m *Manager) stopAllLocked() {
	for _, sw := range m.shards {
		sw.stop()
	}
	m.shards = nil
	m.batches = nil
	m.assign = nil
}

func sortPubkeys(accounts []solana.PublicKey) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].String() < accounts[j].String()
	})
}

func chunk(accounts []solana.PublicKey, size int) [][]solana.PublicKey {
	var out [][]solana.PublicKey
	for i := 0; i < len(accounts); i += size {
		end := i + size
		if end > len(accounts) {
			end = len(accounts)
		}
		out = append(out, accounts[i:end])
	}
	return out
}

// shardWorker runs one subscription's connect/read/reconnect loop.
type shardWorker struct {
	id     int
	label  string
	batch  []solana.PublicKey
	snap   *registry.Snapshot
	opts   Options
	logger *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}
}

func newShardWorker(id int, batch []solana.PublicKey, snap *registry.Snapshot, opts Options, logger *zap.SugaredLogger) *shardWorker {
	return &shardWorker{
		id:     id,
		label:  shardLabel(id),
		batch:  batch,
		snap:   snap,
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func shardLabel(id int) string {
	return "shard-" + strconv.Itoa(id)
}

func (sw *shardWorker) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	sw.cancel = cancel
	go sw.run(ctx)
}

func (sw *shardWorker) stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *shardWorker) setState(s State) {
	for _, st := range []State{StateIdle, StateConnecting, StateReady, StateDegraded, StateBackoff, StateClosed} {
		v := 0.0
		if st == s {
			v = 1
		}
		shardStateGauge.WithLabelValues(sw.label, string(st)).Set(v)
	}
}

// run drives CONNECTING -> READY <-> DEGRADED -> BACKOFF -> CONNECTING
// until ctx is cancelled, at which point it transitions to CLOSED.
func (sw *shardWorker) run(ctx context.Context) {
	defer close(sw.done)
	defer sw.setState(StateClosed)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 60 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sw.setState(StateConnecting)
		client, str, err := sw.connect(ctx)
		if err != nil {
			dialFailureCounter.Inc()
			sw.logger.Warnw("shard connect failed", "shard", sw.label, "err", err)
			sw.setState(StateBackoff)
			if !sleepBackoff(ctx, bo) {
				return
			}
			continue
		}

		sw.setState(StateReady)
		bo.Reset()
		degraded := sw.readLoop(ctx, str)
		client.Close()
		if !degraded {
			return // ctx cancelled
		}
		sw.setState(StateDegraded)
		sw.setState(StateBackoff)
		if !sleepBackoff(ctx, bo) {
			return
		}
	}
}

func (sw *shardWorker) connect(ctx context.Context) (*feed.Client, *feed.Stream, error) {
	client, err := feed.Dial(ctx, sw.opts.FeedURL, sw.opts.FeedToken, sw.opts.ConnectTimeout, sw.opts.KeepaliveTimeout)
	if err != nil {
		return nil, nil, err
	}

	req := sw.buildRequest()
	str, err := client.Subscribe(ctx, req)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, str, nil
}

func (sw *shardWorker) buildRequest() feed.SubscribeRequest {
	accountInclude := make([]string, len(sw.batch))
	for i, pk := range sw.batch {
		accountInclude[i] = pk.String()
	}

	req := feed.SubscribeRequest{
		Slots: map[string]feed.SlotFilter{"all": {}},
		Transactions: map[string]feed.TransactionFilter{
			"votes": {Vote: true, Failed: false, AccountInclude: accountInclude},
		},
		Commitment: sw.opts.Commitment,
	}
	if sw.opts.IncludeAccountFilter {
		req.Accounts = map[string]feed.AccountFilter{"votes": {Account: accountInclude}}
	}
	return req
}

// readLoop receives updates until the stream errors, stalls past
// StallTimeout, or ctx is cancelled. It returns true if the shard should
// reconnect (transient failure or stall), false if the caller should stop
// entirely (ctx cancelled).
func (sw *shardWorker) readLoop(ctx context.Context, str *feed.Stream) bool {
	updates := make(chan *feed.SubscribeUpdate, sw.opts.bufferSize())
	errs := make(chan error, 1)

	go func() {
		for {
			upd, err := str.Recv()
			if err != nil {
				errs <- err
				return
			}
			select {
			case updates <- upd:
			case <-ctx.Done():
				return
			}
		}
	}()

	stall := time.NewTimer(sw.opts.StallTimeout)
	defer stall.Stop()

	for {
		select {
		case upd := <-updates:
			stall.Reset(sw.opts.StallTimeout)
			sw.dispatch(upd)
		case err := <-errs:
			sw.logger.Warnw("shard stream error", "shard", sw.label, "err", err)
			return true
		case <-stall.C:
			sw.logger.Warnw("shard stalled, reconnecting", "shard", sw.label, "timeout", sw.opts.StallTimeout)
			return true
		case <-ctx.Done():
			_ = str.CloseSend()
			return false
		}
	}
}

func (o Options) bufferSize() int {
	return o.StreamBufferSize
}

// dispatch classifies an incoming update and routes it: slot updates to
// the clock, transaction updates through the decoder and latency
// calculator into the writer, account updates to telemetry only.
func (sw *shardWorker) dispatch(upd *feed.SubscribeUpdate) {
	switch upd.Kind {
	case feed.UpdateKindSlot:
		if upd.SlotUpdate != nil {
			sw.opts.Clock.Observe(upd.SlotUpdate.Slot)
		}
	case feed.UpdateKindTransaction:
		if upd.TransactionUpdate != nil {
			sw.dispatchTransaction(upd.TransactionUpdate)
		}
	case feed.UpdateKindAccount:
		accountUpdateCounter.Inc()
	case feed.UpdateKindPing:
	}
}

func (sw *shardWorker) dispatchTransaction(tx *feed.TransactionUpdate) {
	validator, voteAccount, ok := sw.resolveValidator(tx.AccountKeys)
	if !ok {
		return
	}

	instructions := make([]decoder.Instruction, 0, len(tx.Instructions))
	for _, ins := range tx.Instructions {
		if ins.ProgramIDIndex < 0 || ins.ProgramIDIndex >= len(tx.AccountKeys) {
			continue
		}
		instructions = append(instructions, decoder.Instruction{
			ProgramID: tx.AccountKeys[ins.ProgramIDIndex],
			Data:      ins.Data,
		})
	}

	votedSlots := sw.opts.Decoder.DecodeTransaction(instructions, tx.Slot)
	if len(votedSlots) == 0 {
		return
	}

	records := latency.Calculate(latency.Input{
		VotedSlots:  votedSlots,
		LandedSlot:  tx.Slot,
		Validator:   validator,
		VoteAccount: voteAccount,
		ReceiveTime: time.Now().UTC(),
	})

	ctx := context.Background()
	for _, rec := range records {
		sw.opts.Writer.Enqueue(ctx, rec)
	}
}

// resolveValidator finds which account key names a vote account this
// shard subscribed to, and returns that account's validator identity
// from the registry snapshot taken at shard-build time.
func (sw *shardWorker) resolveValidator(keys []string) (validator, voteAccount solana.PublicKey, ok bool) {
	for _, k := range keys {
		pk, err := solana.PublicKeyFromBase58(k)
		if err != nil {
			continue
		}
		if info, found := sw.snap.Lookup(pk); found {
			return info.Identity, info.VoteAccount, true
		}
	}
	return solana.PublicKey{}, solana.PublicKey{}, false
}

func sleepBackoff(ctx context.Context, bo *backoff.ExponentialBackOff) bool {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
