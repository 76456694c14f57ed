package rpc

import (
	"os"
	"testing"

	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

func TestMain(m *testing.M) {
	slog.Init()
	code := m.Run()
	os.Exit(code)
}
