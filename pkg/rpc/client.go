// Package rpc is a small JSON-RPC client for the upstream Solana-like
// node, trimmed to getVoteAccounts, which the discovery worker uses, plus
// getSlot, getHealth and getVersion, which nothing in this module calls.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
	"go.uber.org/zap"
)

type (
	Client struct {
		HttpClient  http.Client
		RpcUrl      string
		HttpTimeout time.Duration
		logger      *zap.SugaredLogger
	}

	Request struct {
		Jsonrpc string `json:"jsonrpc"`
		Id      int    `json:"id"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
	}

	Commitment string
)

const (
	// LamportsInSol is the number of lamports in 1 SOL (a billion)
	LamportsInSol = 1_000_000_000
	// CommitmentFinalized level offers the highest level of certainty for a transaction on the Solana blockchain.
	CommitmentFinalized Commitment = "finalized"
	// CommitmentConfirmed level is reached when a transaction is included in a block that has been voted on
	// by a supermajority (66%+) of the network's stake.
	CommitmentConfirmed Commitment = "confirmed"
	// CommitmentProcessed level represents a transaction that has been received by the network and included in a block.
	CommitmentProcessed Commitment = "processed"
)

// RpcCallCounter counts RPC calls made, labeled by method, for the
// /metrics endpoint.
var RpcCallCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vote_latency_monitor_rpc_calls_total",
		Help: "Total number of upstream JSON-RPC calls made, labeled by method.",
	},
	[]string{"method"},
)

var rpcErrorCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vote_latency_monitor_rpc_errors_total",
		Help: "Total number of upstream JSON-RPC call failures, labeled by method.",
	},
	[]string{"method"},
)

func init() {
	prometheus.MustRegister(RpcCallCounter, rpcErrorCounter)
}

func NewRPCClient(rpcAddr string, httpTimeout time.Duration) *Client {
	return &Client{HttpClient: http.Client{}, RpcUrl: rpcAddr, HttpTimeout: httpTimeout, logger: slog.Get()}
}

// getResponse is the internal helper for making RPC calls.
func getResponse[T any](
	ctx context.Context, client *Client, method string, params []any, rpcResponse *Response[T],
) error {
	RpcCallCounter.WithLabelValues(method).Inc()
	logger := slog.Get()
	logger.Debugf("rpc call: method=%s params=%v", method, params)

	request := &Request{Jsonrpc: "2.0", Id: 1, Method: method, Params: params}
	buffer, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, client.HttpTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", client.RpcUrl, bytes.NewBuffer(buffer))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := client.HttpClient.Do(req)
	if err != nil {
		rpcErrorCounter.WithLabelValues(method).Inc()
		return fmt.Errorf("%s rpc call failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rpcErrorCounter.WithLabelValues(method).Inc()
		return fmt.Errorf("error processing %s rpc call: %w", method, err)
	}
	logger.Debugf("%s response: %v", method, string(body))

	if err = json.Unmarshal(body, rpcResponse); err != nil {
		rpcErrorCounter.WithLabelValues(method).Inc()
		return fmt.Errorf("failed to decode %s response body: %w", method, err)
	}

	if rpcResponse.Error.Code != 0 {
		rpcResponse.Error.Method = method
		rpcErrorCounter.WithLabelValues(method).Inc()
		return &rpcResponse.Error
	}
	return nil
}

// GetVoteAccounts returns the account info and associated stake for all the voting accounts in the current bank.
// See API docs: https://solana.com/docs/rpc/http/getvoteaccounts
func (c *Client) GetVoteAccounts(ctx context.Context, commitment Commitment) (*VoteAccounts, error) {
	config := map[string]string{"commitment": string(commitment)}
	var resp Response[VoteAccounts]
	if err := getResponse(ctx, c, "getVoteAccounts", []any{config}, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// GetSlot returns the slot that has reached the given or default commitment level.
// See API docs: https://solana.com/docs/rpc/http/getslot
func (c *Client) GetSlot(ctx context.Context, commitment Commitment) (uint64, error) {
	config := map[string]string{"commitment": string(commitment)}
	var resp Response[uint64]
	if err := getResponse(ctx, c, "getSlot", []any{config}, &resp); err != nil {
		return 0, err
	}
	return resp.Result, nil
}

// GetHealth returns the current health of the node.
// See API docs: https://solana.com/docs/rpc/http/gethealth
func (c *Client) GetHealth(ctx context.Context) (string, error) {
	var resp Response[string]
	if err := getResponse(ctx, c, "getHealth", []any{}, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

// GetVersion returns the current node software version.
// See API docs: https://solana.com/docs/rpc/http/getversion
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	var resp Response[struct {
		Version string `json:"solana-core"`
	}]
	if err := getResponse(ctx, c, "getVersion", []any{}, &resp); err != nil {
		return "", err
	}
	return resp.Result.Version, nil
}
