package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedfourtytwo/vote-latency-monitor/internal/clock"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/registry"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/store"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/writer"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

func init() {
	slog.Init()
}

func newTestWriter(t *testing.T, mock *store.MockStore) *writer.Writer {
	t.Helper()
	w, err := writer.New(writer.Options{Store: mock, BatchSize: 10, FlushInterval: 20 * time.Millisecond, WorkerCount: 1})
	require.NoError(t, err)
	return w
}

func TestSupervisor_RunAndShutdown(t *testing.T) {
	mock := store.NewMockStore()
	sup, err := New(Options{
		Clock:    clock.New(),
		Registry: registry.New(),
		Store:    mock,
		Writer:   newTestWriter(t, mock),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	require.Eventually(t, func() bool { return sup.Healthy() }, time.Second, 5*time.Millisecond)

	sup.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down in time")
	}
	assert.False(t, sup.Healthy())
}

func TestSupervisor_AbortsStartupWhenStoreUnreachable(t *testing.T) {
	mock := store.NewMockStore()
	mock.FailNextWith(&store.RetryableError{Err: errors.New("connection refused"), Retryable: true})

	sup, err := New(Options{
		Clock:    clock.New(),
		Registry: registry.New(),
		Store:    mock,
		Writer:   newTestWriter(t, mock),
	})
	require.NoError(t, err)

	err = sup.Run(context.Background())
	require.Error(t, err)
	assert.False(t, sup.Healthy())
}

func TestNew_RequiresCoreComponents(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
