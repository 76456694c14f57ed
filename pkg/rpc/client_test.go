package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetVoteAccounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{
			"jsonrpc": "2.0",
			"id": 1,
			"result": {
				"current": [{"nodePubkey":"node1","votePubkey":"vote1","activatedStake":1000,"epochVoteAccount":true}],
				"delinquent": [{"nodePubkey":"node2","votePubkey":"vote2","activatedStake":0,"epochVoteAccount":false}]
			}
		}`))
	}))
	defer server.Close()

	client := NewRPCClient(server.URL, time.Second)
	got, err := client.GetVoteAccounts(context.Background(), CommitmentConfirmed)
	require.NoError(t, err)
	assert.Len(t, got.Current, 1)
	assert.Equal(t, "vote1", got.Current[0].VotePubkey)
	assert.Len(t, got.Delinquent, 1)
}

func TestClient_GetVoteAccounts_RpcError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node unhealthy"}}`))
	}))
	defer server.Close()

	client := NewRPCClient(server.URL, time.Second)
	_, err := client.GetVoteAccounts(context.Background(), CommitmentConfirmed)
	require.Error(t, err)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.True(t, rpcErr.IsRetryable())
}
