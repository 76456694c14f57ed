package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seedfourtytwo/vote-latency-monitor/internal/clock"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/decoder"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/discovery"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/feed"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/metrics"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/registry"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/store"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/stream"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/supervisor"
	"github.com/seedfourtytwo/vote-latency-monitor/internal/writer"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/config"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/rpc"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

func main() {
	slog.Init()
	logger := slog.Get()
	ctx := context.Background()

	cfg, err := config.FromCLI(ctx, os.Args[1:])
	if err != nil {
		logger.Errorw("configuration error", "err", err)
		os.Exit(1)
	}

	rpcClient := rpc.NewRPCClient(cfg.RpcUrl, cfg.HttpTimeout)

	influxStore, err := store.NewInfluxStore(store.InfluxConfig{
		Host:     cfg.StoreURL,
		Token:    cfg.StoreToken,
		Database: cfg.StoreDB,
	})
	if err != nil {
		logger.Errorw("failed to construct store client", "err", err)
		os.Exit(2)
	}

	slotClock := clock.New()
	validatorRegistry := registry.New()

	changes := make(chan discovery.RegistryChangeEvent, 1)
	discoveryWorker := discovery.New(discovery.Options{
		Client:            rpcClient,
		Registry:          validatorRegistry,
		Interval:          cfg.DiscoveryInterval,
		MinStakeLamports:  cfg.MinStakeLamports,
		IncludeDelinquent: cfg.IncludeDelinquent,
		Whitelist:         cfg.Whitelist,
		Blacklist:         cfg.Blacklist,
		Changes:           changes,
	})

	writePipeline, err := writer.New(writer.Options{
		Network:              cfg.Network,
		Store:                influxStore,
		IngressQueueCapacity: cfg.IngressQueueCapacity,
		BatchSize:            cfg.BatchSize,
		FlushInterval:        cfg.FlushInterval,
		DedupLRUCapacity:     cfg.DedupLRUCapacity,
		EnqueueTimeout:       cfg.EnqueueTimeout,
		StoreWriteTimeout:    cfg.StoreWriteTimeout,
	})
	if err != nil {
		logger.Errorw("failed to construct write pipeline", "err", err)
		os.Exit(1)
	}

	streamManager := stream.New(stream.Options{
		FeedURL:             cfg.FeedUrl,
		FeedToken:           cfg.FeedToken,
		Commitment:          feed.CommitmentConfirmed,
		MaxSubscriptions:    cfg.MaxSubscriptions,
		StreamBufferSize:    cfg.StreamBufferSize,
		ConnectTimeout:      cfg.ConnectTimeout,
		KeepaliveTimeout:    cfg.KeepaliveTimeout,
		StallTimeout:        cfg.StallTimeout,
		ReconfigureCoalesce: cfg.ReconfigureCoalesce,
		Registry:            validatorRegistry,
		Clock:               slotClock,
		Decoder:             decoder.New(),
		Writer:              writePipeline,
		Changes:             changes,
	})

	sup, err := supervisor.New(supervisor.Options{
		Clock:            slotClock,
		Registry:         validatorRegistry,
		Store:            influxStore,
		Writer:           writePipeline,
		Discovery:        discoveryWorker,
		Stream:           streamManager,
		StoreFatalWindow: cfg.StoreFatalWindow,
	})
	if err != nil {
		logger.Errorw("failed to construct supervisor", "err", err)
		os.Exit(1)
	}

	metricsServer := metrics.Serve(cfg.MetricsListenAddress, sup.Healthy)
	logger.Infow("metrics listening", "address", cfg.MetricsListenAddress)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(runCtx) }()

	exitCode := 0
	select {
	case err := <-runErr:
		// Run returned on its own, before any shutdown signal: the
		// startup dependency check failed and the supervisor aborted.
		if err != nil {
			logger.Errorw("supervisor aborted startup", "err", err)
			exitCode = 2
		}
	case <-runCtx.Done():
		logger.Infow("shutdown signal received", "grace", cfg.ShutdownGrace)
		select {
		case err := <-runErr:
			if err != nil {
				logger.Errorw("supervisor exited with error", "err", err)
				exitCode = 3
			}
		case <-time.After(cfg.ShutdownGrace):
			logger.Warnw("shutdown grace period exceeded, exiting anyway")
			exitCode = 3
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metrics.Shutdown(shutdownCtx, metricsServer)
	_ = influxStore.Close()

	os.Exit(exitCode)
}
