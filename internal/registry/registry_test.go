package registry

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
)

func mustKey(t *testing.T, s string) solana.PublicKey {
	t.Helper()
	var k solana.PublicKey
	copy(k[:], s)
	return k
}

func TestRegistry_ReplaceIsAtomicSwap(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Snapshot().Len())

	v1 := mustKey(t, "vote-account-one")
	v2 := mustKey(t, "vote-account-two")

	first := r.Replace([]ValidatorInfo{{VoteAccount: v1, ActivatedStake: 100}})
	assert.True(t, r.Contains(v1))
	assert.False(t, r.Contains(v2))

	// A reader holding `first` must never observe the later replace.
	second := r.Replace([]ValidatorInfo{{VoteAccount: v2, ActivatedStake: 200}})
	assert.True(t, first.Contains(v1))
	assert.False(t, first.Contains(v2))
	assert.True(t, second.Contains(v2))
	assert.False(t, second.Contains(v1))

	assert.True(t, r.Contains(v2))
	assert.False(t, r.Contains(v1))
}

func TestRegistry_VoteAccounts(t *testing.T) {
	r := New()
	v1 := mustKey(t, "a")
	v2 := mustKey(t, "b")
	r.Replace([]ValidatorInfo{{VoteAccount: v1}, {VoteAccount: v2}})
	accounts := r.VoteAccounts()
	assert.Len(t, accounts, 2)
}
