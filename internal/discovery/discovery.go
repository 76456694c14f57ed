// Package discovery periodically refreshes the validator registry from
// the upstream getVoteAccounts JSON-RPC call, applies the configured
// filters, and notifies the stream manager of the resulting
// additions/removals.
package discovery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/seedfourtytwo/vote-latency-monitor/internal/registry"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/rpc"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

// RegistryChangeEvent describes the vote accounts added/removed by one
// discovery cycle. The notification channel is unidirectional: the
// discovery worker publishes, the stream manager subscribes, and neither
// owns the other.
type RegistryChangeEvent struct {
	Added   []solana.PublicKey
	Removed []solana.PublicKey
	Epoch   int64
}

// Options configures one Worker.
type Options struct {
	Client            *rpc.Client
	Registry          *registry.Registry
	Interval          time.Duration
	MinStakeLamports  uint64
	IncludeDelinquent bool
	Whitelist         []string
	Blacklist         []string
	// Changes receives one RegistryChangeEvent per completed refresh
	// cycle that produced a non-empty diff. Must be buffered or drained
	// promptly; the worker does not block forever trying to send.
	Changes chan<- RegistryChangeEvent
}

// Worker periodically refreshes the registry from the upstream RPC node.
type Worker struct {
	opts   Options
	logger *zap.SugaredLogger

	whitelist map[string]struct{}
	blacklist map[string]struct{}

	lastVoteAccounts map[solana.PublicKey]struct{}
}

// New constructs a Worker from Options.
func New(opts Options) *Worker {
	w := &Worker{
		opts:   opts,
		logger: slog.Get(),
	}
	if len(opts.Whitelist) > 0 {
		w.whitelist = toSet(opts.Whitelist)
	}
	if len(opts.Blacklist) > 0 {
		w.blacklist = toSet(opts.Blacklist)
	}
	return w
}

func toSet(keys []string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

// Run blocks, refreshing the registry once immediately and then on every
// tick of opts.Interval, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.refreshWithRetry(ctx)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("discovery worker stopping")
			return
		case <-ticker.C:
			w.refreshWithRetry(ctx)
		}
	}
}

// refreshWithRetry runs one discovery cycle with exponential backoff and
// jitter (base 1s, cap 60s, factor 2, ±25% jitter), bounded per cycle. On
// permanent failure it logs and retains the previous registry snapshot
// rather than blanking out validators on a transient RPC outage.
func (w *Worker) refreshWithRetry(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25

	operation := func() error {
		return w.refreshOnce(ctx)
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx))
	if err != nil {
		w.logger.Errorw("discovery refresh failed after retries, retaining previous registry", "error", err)
	}
}

// refreshOnce performs a single getVoteAccounts call, applies the stake
// threshold and whitelist/blacklist filters in that order, diffs against
// the previous set, and atomically replaces the registry's content.
func (w *Worker) refreshOnce(ctx context.Context) error {
	voteAccounts, err := w.opts.Client.GetVoteAccounts(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		w.logger.Warnw("getVoteAccounts failed", "error", err)
		return err
	}

	var candidates []rpc.VoteAccount
	candidates = append(candidates, voteAccounts.Current...)
	if w.opts.IncludeDelinquent {
		candidates = append(candidates, voteAccounts.Delinquent...)
	}

	delinquentSet := make(map[string]struct{}, len(voteAccounts.Delinquent))
	for _, v := range voteAccounts.Delinquent {
		delinquentSet[v.VotePubkey] = struct{}{}
	}

	var validators []registry.ValidatorInfo
	for _, v := range candidates {
		if uint64(v.ActivatedStake) < w.opts.MinStakeLamports {
			continue
		}
		if w.whitelist != nil {
			_, inNode := w.whitelist[v.NodePubkey]
			_, inVote := w.whitelist[v.VotePubkey]
			if !inNode && !inVote {
				continue
			}
		}
		if w.blacklist != nil {
			_, inNode := w.blacklist[v.NodePubkey]
			_, inVote := w.blacklist[v.VotePubkey]
			if inNode || inVote {
				continue
			}
		}

		identity, err := solana.PublicKeyFromBase58(v.NodePubkey)
		if err != nil {
			w.logger.Debugw("skipping validator with malformed identity pubkey", "identity", v.NodePubkey, "error", err)
			continue
		}
		voteAccount, err := solana.PublicKeyFromBase58(v.VotePubkey)
		if err != nil {
			w.logger.Debugw("skipping validator with malformed vote-account pubkey", "vote_account", v.VotePubkey, "error", err)
			continue
		}
		_, delinquent := delinquentSet[v.VotePubkey]
		validators = append(validators, registry.ValidatorInfo{
			Identity:       identity,
			VoteAccount:    voteAccount,
			ActivatedStake: uint64(v.ActivatedStake),
			Delinquent:     delinquent,
		})
	}

	snap := w.opts.Registry.Replace(validators)
	w.notifyChange(snap)
	w.logger.Infow("registry refreshed", "validator_count", snap.Len())
	return nil
}

// notifyChange diffs the new vote-account set against the previously
// observed one and publishes a RegistryChangeEvent if anything changed.
func (w *Worker) notifyChange(snap *registry.Snapshot) {
	next := make(map[solana.PublicKey]struct{}, snap.Len())
	for _, k := range snap.VoteAccounts() {
		next[k] = struct{}{}
	}

	var added, removed []solana.PublicKey
	for k := range next {
		if _, ok := w.lastVoteAccounts[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range w.lastVoteAccounts {
		if _, ok := next[k]; !ok {
			removed = append(removed, k)
		}
	}
	w.lastVoteAccounts = next

	if len(added) == 0 && len(removed) == 0 {
		return
	}
	if w.opts.Changes == nil {
		return
	}
	select {
	case w.opts.Changes <- RegistryChangeEvent{Added: added, Removed: removed}:
	default:
		w.logger.Warn("registry change channel full, dropping change notification")
	}
}
