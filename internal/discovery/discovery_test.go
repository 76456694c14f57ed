package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedfourtytwo/vote-latency-monitor/internal/registry"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/rpc"
)

func fakeServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

const voteAccountsJSON = `{
	"jsonrpc": "2.0",
	"id": 1,
	"result": {
		"current": [
			{"nodePubkey":"11111111111111111111111111111112","votePubkey":"11111111111111111111111111111113","activatedStake":200000000000000,"epochVoteAccount":true},
			{"nodePubkey":"11111111111111111111111111111114","votePubkey":"11111111111111111111111111111115","activatedStake":1000,"epochVoteAccount":true}
		],
		"delinquent": [
			{"nodePubkey":"11111111111111111111111111111116","votePubkey":"11111111111111111111111111111117","activatedStake":500000000000000,"epochVoteAccount":false}
		]
	}
}`

// A stake threshold keeps only validators at or above it.
func TestWorker_StakeThresholdFilter(t *testing.T) {
	server := fakeServer(t, voteAccountsJSON)
	defer server.Close()

	reg := registry.New()
	w := New(Options{
		Client:            rpc.NewRPCClient(server.URL, time.Second),
		Registry:          reg,
		Interval:          time.Hour,
		MinStakeLamports:  100_000_000_000_000, // 100k SOL
		IncludeDelinquent: true,
	})

	require.NoError(t, w.refreshOnce(context.Background()))

	snap := reg.Snapshot()
	assert.Equal(t, 2, snap.Len())
}

func TestWorker_ExcludeDelinquent(t *testing.T) {
	server := fakeServer(t, voteAccountsJSON)
	defer server.Close()

	reg := registry.New()
	w := New(Options{
		Client:            rpc.NewRPCClient(server.URL, time.Second),
		Registry:          reg,
		Interval:          time.Hour,
		IncludeDelinquent: false,
	})

	require.NoError(t, w.refreshOnce(context.Background()))
	assert.Equal(t, 2, reg.Snapshot().Len())
}

func TestWorker_Whitelist(t *testing.T) {
	server := fakeServer(t, voteAccountsJSON)
	defer server.Close()

	reg := registry.New()
	w := New(Options{
		Client:            rpc.NewRPCClient(server.URL, time.Second),
		Registry:          reg,
		Interval:          time.Hour,
		IncludeDelinquent: true,
		Whitelist:         []string{"11111111111111111111111111111113"},
	})

	require.NoError(t, w.refreshOnce(context.Background()))
	assert.Equal(t, 1, reg.Snapshot().Len())
}

func TestWorker_NotifiesRegistryChanges(t *testing.T) {
	server := fakeServer(t, voteAccountsJSON)
	defer server.Close()

	changes := make(chan RegistryChangeEvent, 4)
	reg := registry.New()
	w := New(Options{
		Client:            rpc.NewRPCClient(server.URL, time.Second),
		Registry:          reg,
		Interval:          time.Hour,
		IncludeDelinquent: true,
		Changes:           changes,
	})

	require.NoError(t, w.refreshOnce(context.Background()))

	select {
	case ev := <-changes:
		assert.Len(t, ev.Added, 3)
		assert.Empty(t, ev.Removed)
	default:
		t.Fatal("expected a registry change event")
	}

	// Running again with the same data should produce no further changes.
	require.NoError(t, w.refreshOnce(context.Background()))
	select {
	case ev := <-changes:
		t.Fatalf("unexpected change event: %+v", ev)
	default:
	}
}
