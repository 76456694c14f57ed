// Package store models a narrow, pluggable time-series-store capability:
// WriteBatch(points) and Close(), nothing more. Any backend satisfying
// this interface is pluggable; the rest of the pipeline depends on no
// backend specifics. The concrete implementation writes through
// InfluxCommunity/influxdb3-go/v2; any other backend only needs to
// satisfy the Store interface.
package store

import (
	"context"
	"time"
)

// Point is one row to be written: the "vote_latency" measurement with
// tags {validator_id, vote_account, network} (pubkey tags are truncated
// to keep tag cardinality manageable; full pubkeys are not written) and
// integer fields {latency_slots, voted_slot, landed_slot}.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]int64
	Timestamp   time.Time
}

// Store is the capability the write pipeline depends on.
// Implementations must treat WriteBatch as atomic-or-nothing for the
// batch it's given; retry policy around transient failures lives in the
// caller (internal/writer), not here.
type Store interface {
	WriteBatch(ctx context.Context, points []Point) error
	Close() error
}

// RetryableError wraps a store error with whether it's worth retrying
// (network failure, 5xx, 429) versus fatal for the batch (4xx other than
// 429, schema error).
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }
