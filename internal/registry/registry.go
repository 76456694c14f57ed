// Package registry implements an in-memory, read-mostly set of active
// vote accounts, refreshed wholesale by the discovery worker and read by
// every other component without ever blocking on a refresh.
package registry

import (
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
)

// ValidatorInfo is one entry of the registry: identity + vote-account
// pubkeys, active stake, delinquency, and the epoch it was last
// refreshed in.
type ValidatorInfo struct {
	Identity       solana.PublicKey
	VoteAccount    solana.PublicKey
	ActivatedStake uint64
	Delinquent     bool
	Epoch          int64
}

// Snapshot is an immutable view of the registry at one point in time.
// Safe to share across goroutines without copying or locking.
type Snapshot struct {
	byVoteAccount map[solana.PublicKey]ValidatorInfo
}

// Contains reports whether voteAccount is present in this snapshot.
func (s *Snapshot) Contains(voteAccount solana.PublicKey) bool {
	if s == nil {
		return false
	}
	_, ok := s.byVoteAccount[voteAccount]
	return ok
}

// Lookup returns the ValidatorInfo for voteAccount, if present.
func (s *Snapshot) Lookup(voteAccount solana.PublicKey) (ValidatorInfo, bool) {
	if s == nil {
		return ValidatorInfo{}, false
	}
	v, ok := s.byVoteAccount[voteAccount]
	return v, ok
}

// VoteAccounts returns every vote-account pubkey currently tracked.
func (s *Snapshot) VoteAccounts() []solana.PublicKey {
	if s == nil {
		return nil
	}
	out := make([]solana.PublicKey, 0, len(s.byVoteAccount))
	for k := range s.byVoteAccount {
		out = append(out, k)
	}
	return out
}

// Len returns the number of tracked validators.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byVoteAccount)
}

// NewSnapshot builds an immutable Snapshot from a slice of ValidatorInfo.
func NewSnapshot(validators []ValidatorInfo) *Snapshot {
	m := make(map[solana.PublicKey]ValidatorInfo, len(validators))
	for _, v := range validators {
		m[v.VoteAccount] = v
	}
	return &Snapshot{byVoteAccount: m}
}

// Registry holds the current Snapshot behind an atomic pointer, giving
// readers a cheap, lock-free reference and the discovery worker — the
// single writer — a whole-map atomic swap on Replace.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(NewSnapshot(nil))
	return r
}

// Snapshot returns the current immutable snapshot. Never blocks.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Replace atomically swaps in a new snapshot built from validators.
func (r *Registry) Replace(validators []ValidatorInfo) *Snapshot {
	snap := NewSnapshot(validators)
	r.current.Store(snap)
	return snap
}

// Contains reports whether voteAccount is present in the current snapshot.
func (r *Registry) Contains(voteAccount solana.PublicKey) bool {
	return r.Snapshot().Contains(voteAccount)
}

// VoteAccounts returns every vote-account pubkey in the current snapshot.
func (r *Registry) VoteAccounts() []solana.PublicKey {
	return r.Snapshot().VoteAccounts()
}
