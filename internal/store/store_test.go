package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_WriteBatch_AccumulatesPoints(t *testing.T) {
	s := NewMockStore()
	p1 := Point{Measurement: "vote_latency", Tags: map[string]string{"validator_id": "abcd1234"}, Fields: map[string]int64{"latency_slots": 3}, Timestamp: time.Now()}
	p2 := Point{Measurement: "vote_latency", Tags: map[string]string{"validator_id": "efgh5678"}, Fields: map[string]int64{"latency_slots": 5}, Timestamp: time.Now()}

	require.NoError(t, s.WriteBatch(context.Background(), []Point{p1}))
	require.NoError(t, s.WriteBatch(context.Background(), []Point{p2}))

	assert.Len(t, s.Batches(), 2)
	assert.Len(t, s.Points(), 2)
}

func TestMockStore_FailNextWith(t *testing.T) {
	s := NewMockStore()
	wantErr := &RetryableError{Err: errors.New("boom"), Retryable: true}
	s.FailNextWith(wantErr)

	err := s.WriteBatch(context.Background(), []Point{{Measurement: "vote_latency"}})
	require.Error(t, err)
	var re *RetryableError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Retryable)

	// subsequent call succeeds since FailNextWith only applies once.
	require.NoError(t, s.WriteBatch(context.Background(), []Point{{Measurement: "vote_latency"}}))
}

func TestMockStore_Close(t *testing.T) {
	s := NewMockStore()
	assert.False(t, s.Closed())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
}

func TestRetryableError_Unwrap(t *testing.T) {
	base := errors.New("underlying")
	err := &RetryableError{Err: base, Retryable: false}
	assert.Equal(t, base, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "underlying")
}
