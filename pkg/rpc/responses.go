package rpc

import "fmt"

type (
	Error struct {
		Message string         `json:"message"`
		Code    int64          `json:"code"`
		Data    map[string]any `json:"data"`
		// Method is not returned by the RPC, rather added by the client for visibility purposes
		Method string
	}

	Response[T any] struct {
		Jsonrpc string `json:"jsonrpc"`
		Result  T      `json:"result,omitempty"`
		Error   Error  `json:"error,omitempty"`
		Id      int    `json:"id"`
	}

	// VoteAccount is one entry of the getVoteAccounts result, per
	// https://solana.com/docs/rpc/http/getvoteaccounts
	VoteAccount struct {
		ActivatedStake   int64  `json:"activatedStake"`
		LastVote         int64  `json:"lastVote"`
		NodePubkey       string `json:"nodePubkey"`
		RootSlot         int64  `json:"rootSlot"`
		VotePubkey       string `json:"votePubkey"`
		Commission       int    `json:"commission"`
		EpochVoteAccount bool   `json:"epochVoteAccount"`
	}

	VoteAccounts struct {
		Current    []VoteAccount `json:"current"`
		Delinquent []VoteAccount `json:"delinquent"`
	}
)

func (e *Error) Error() string {
	return fmt.Sprintf("%s rpc error (code: %d): %s (data: %v)", e.Method, e.Code, e.Message, e.Data)
}

// IsRetryable reports whether this RPC error represents a transient
// condition worth retrying.
func (e *Error) IsRetryable() bool {
	// JSON-RPC errors in the -32000..-32099 server-error range are
	// node-side/server conditions; anything else (bad params, method not
	// found) is a permanent client-side mistake.
	return e.Code <= -32000 && e.Code >= -32099
}
