package store

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"go.uber.org/zap"

	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

// InfluxStore writes VoteLatencyRecord points to an InfluxDB 3 (or
// InfluxDB Cloud) database using the line-protocol writer in
// InfluxCommunity/influxdb3-go/v2: a thin wrapper struct holding an
// http.Client-backed SDK client, the same shape as pkg/rpc.Client.
type InfluxStore struct {
	client *influxdb3.Client
	logger *zap.SugaredLogger
}

// InfluxConfig configures a new InfluxStore.
type InfluxConfig struct {
	Host     string
	Token    string
	Database string
}

// NewInfluxStore dials the configured InfluxDB host. Connection is lazy
// in the underlying SDK; a bad host/token only surfaces on first write.
func NewInfluxStore(cfg InfluxConfig) (*InfluxStore, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.Host,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct influxdb3 client: %w", err)
	}
	return &InfluxStore{client: client, logger: slog.Get()}, nil
}

// WriteBatch converts Points to influxdb3.Point values and issues a
// single write request for the whole batch.
func (s *InfluxStore) WriteBatch(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	converted := make([]*influxdb3.Point, 0, len(points))
	for _, p := range points {
		fields := make(map[string]interface{}, len(p.Fields))
		for k, v := range p.Fields {
			fields[k] = v
		}
		converted = append(converted, influxdb3.NewPoint(p.Measurement, p.Tags, fields, p.Timestamp))
	}

	if err := s.client.WritePoints(ctx, converted); err != nil {
		classified := classifyWriteError(err)
		s.logger.Warnw("store write failed", "points", len(points), "err", err, "retryable", classified.(*RetryableError).Retryable)
		return classified
	}
	return nil
}

// Close releases the underlying HTTP client's resources.
func (s *InfluxStore) Close() error {
	return s.client.Close()
}

// classifyWriteError determines whether a write failure is retryable by
// looking for a status code in the error text: 429, 500, 502, 503 and 504
// are retryable; 400, 401, 403 and 404 are not. Any other error,
// including one carrying a different 4xx code, is treated as retryable.
func classifyWriteError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return &RetryableError{Err: err, Retryable: true}
	case containsStatus(msg, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout):
		return &RetryableError{Err: err, Retryable: true}
	case containsStatus(msg, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound):
		return &RetryableError{Err: err, Retryable: false}
	default:
		// Unclassified errors (e.g. dial/timeout failures) are assumed
		// transient network conditions.
		return &RetryableError{Err: err, Retryable: true}
	}
}

func containsStatus(msg string, codes ...int) bool {
	for _, c := range codes {
		if strings.Contains(msg, fmt.Sprintf("%d", c)) {
			return true
		}
	}
	return false
}
