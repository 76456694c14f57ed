// Package config loads the vote-latency-monitor configuration from CLI
// flags, with every option overridable by an environment variable named
// VLM_<SECTION>_<NAME>. Invalid configuration is a fatal, startup-only
// error (exit code 1) — never surfaced once the supervisor is running.
package config

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully-resolved runtime configuration for every component.
type Config struct {
	// Network / upstream
	Network      string
	RpcUrl       string
	FeedUrl      string
	FeedToken    string
	HttpTimeout  time.Duration

	// Discovery worker
	DiscoveryInterval  time.Duration
	MinStakeLamports   uint64
	IncludeDelinquent  bool
	Whitelist          []string
	Blacklist          []string

	// Stream / subscription manager
	MaxSubscriptions    int
	StreamBufferSize    int
	ConnectTimeout      time.Duration
	KeepaliveTimeout    time.Duration
	StallTimeout        time.Duration
	ReconfigureCoalesce time.Duration

	// Write pipeline
	IngressQueueCapacity int
	BatchSize            int
	FlushInterval        time.Duration
	DedupLRUCapacity     int
	EnqueueTimeout       time.Duration
	StoreWriteTimeout    time.Duration
	StoreFatalWindow     time.Duration

	// Store
	StoreURL   string
	StoreToken string
	StoreDB    string

	// Ambient
	MetricsListenAddress string
	ShutdownGrace        time.Duration
	LogLevel             string
}

// Default returns the configuration's baseline values before CLI flags
// and environment variables are applied.
func Default() Config {
	return Config{
		Network:              "mainnet-beta",
		HttpTimeout:          30 * time.Second,
		DiscoveryInterval:    time.Hour, // "one epoch" ~ approximated; overridable
		IncludeDelinquent:    true,
		MaxSubscriptions:     50,
		StreamBufferSize:     4096,
		ConnectTimeout:       30 * time.Second,
		KeepaliveTimeout:     60 * time.Second,
		StallTimeout:         30 * time.Second,
		ReconfigureCoalesce:  5 * time.Second,
		IngressQueueCapacity: 65536,
		BatchSize:            5000,
		FlushInterval:        100 * time.Millisecond,
		DedupLRUCapacity:     10000,
		EnqueueTimeout:       5 * time.Second,
		StoreWriteTimeout:    10 * time.Second,
		StoreFatalWindow:     10 * time.Minute,
		MetricsListenAddress: ":9100",
		ShutdownGrace:        30 * time.Second,
		LogLevel:             "info",
	}
}

// FromCLI parses args with its own flag set (flag.CommandLine is not
// used), applies environment overrides, validates, and returns
// the resolved Config. The returned error is always a configuration error
// and should be treated as fatal by the caller.
func FromCLI(_ context.Context, args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("vote-latency-monitor", flag.ContinueOnError)
	fs.StringVar(&cfg.Network, "network", cfg.Network, "network name tag attached to written records")
	fs.StringVar(&cfg.RpcUrl, "rpc-url", "", "upstream Solana JSON-RPC URL")
	fs.StringVar(&cfg.FeedUrl, "feed-url", "", "upstream push-feed (Geyser-style) URL")
	fs.StringVar(&cfg.FeedToken, "feed-token", "", "bearer token sent as x-token on the push feed")
	fs.DurationVar(&cfg.HttpTimeout, "http-timeout", cfg.HttpTimeout, "JSON-RPC call timeout")
	fs.DurationVar(&cfg.DiscoveryInterval, "discovery-interval", cfg.DiscoveryInterval, "validator registry refresh interval")
	fs.Uint64Var(&cfg.MinStakeLamports, "min-stake-lamports", 0, "minimum active stake for inclusion")
	fs.BoolVar(&cfg.IncludeDelinquent, "include-delinquent", cfg.IncludeDelinquent, "include delinquent validators in the registry")
	var whitelist, blacklist string
	fs.StringVar(&whitelist, "whitelist", "", "comma-separated identity/vote-account pubkeys to keep exclusively")
	fs.StringVar(&blacklist, "blacklist", "", "comma-separated identity/vote-account pubkeys to drop")
	fs.IntVar(&cfg.MaxSubscriptions, "max-subscriptions", cfg.MaxSubscriptions, "validators per subscription stream")
	fs.IntVar(&cfg.StreamBufferSize, "stream-buffer-size", cfg.StreamBufferSize, "per-stream dispatch buffer size")
	fs.IntVar(&cfg.IngressQueueCapacity, "ingress-queue-capacity", cfg.IngressQueueCapacity, "write-pipeline ingress queue capacity")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "write-pipeline batch size")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "write-pipeline batch flush interval")
	fs.IntVar(&cfg.DedupLRUCapacity, "dedup-lru-capacity", cfg.DedupLRUCapacity, "write-pipeline dedup LRU capacity")
	fs.DurationVar(&cfg.EnqueueTimeout, "enqueue-timeout", cfg.EnqueueTimeout, "max time a record blocks on a full ingress queue")
	fs.StringVar(&cfg.StoreURL, "store-url", "", "time-series store write endpoint")
	fs.StringVar(&cfg.StoreToken, "store-token", "", "time-series store auth token")
	fs.StringVar(&cfg.StoreDB, "store-database", "vote_latency", "time-series store database/bucket name")
	fs.StringVar(&cfg.MetricsListenAddress, "metrics-listen-address", cfg.MetricsListenAddress, "Prometheus /metrics bind address")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "bounded drain time on shutdown")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	applyEnvOverrides(&cfg, &whitelist, &blacklist)

	if whitelist != "" {
		cfg.Whitelist = splitAndTrim(whitelist)
	}
	if blacklist != "" {
		cfg.Blacklist = splitAndTrim(blacklist)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides maps VLM_<SECTION>_<NAME> environment variables onto
// cfg. It runs after flag parsing, so a set environment variable overrides
// both the compiled default and any value given on the command line.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config, whitelist, blacklist *string) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	u64 := func(key string, dst *uint64) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	i := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	b := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if bv, err := strconv.ParseBool(v); err == nil {
				*dst = bv
			}
		}
	}

	str("VLM_NETWORK_NAME", &cfg.Network)
	str("VLM_UPSTREAM_RPC_URL", &cfg.RpcUrl)
	str("VLM_UPSTREAM_FEED_URL", &cfg.FeedUrl)
	str("VLM_UPSTREAM_FEED_TOKEN", &cfg.FeedToken)
	dur("VLM_UPSTREAM_HTTP_TIMEOUT", &cfg.HttpTimeout)
	dur("VLM_DISCOVERY_INTERVAL", &cfg.DiscoveryInterval)
	u64("VLM_DISCOVERY_MIN_STAKE_LAMPORTS", &cfg.MinStakeLamports)
	b("VLM_DISCOVERY_INCLUDE_DELINQUENT", &cfg.IncludeDelinquent)
	str("VLM_DISCOVERY_WHITELIST", whitelist)
	str("VLM_DISCOVERY_BLACKLIST", blacklist)
	i("VLM_STREAM_MAX_SUBSCRIPTIONS", &cfg.MaxSubscriptions)
	i("VLM_STREAM_BUFFER_SIZE", &cfg.StreamBufferSize)
	dur("VLM_STREAM_CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	dur("VLM_STREAM_KEEPALIVE_TIMEOUT", &cfg.KeepaliveTimeout)
	dur("VLM_STREAM_STALL_TIMEOUT", &cfg.StallTimeout)
	dur("VLM_STREAM_RECONFIGURE_COALESCE", &cfg.ReconfigureCoalesce)
	i("VLM_WRITER_INGRESS_QUEUE_CAPACITY", &cfg.IngressQueueCapacity)
	i("VLM_WRITER_BATCH_SIZE", &cfg.BatchSize)
	dur("VLM_WRITER_FLUSH_INTERVAL", &cfg.FlushInterval)
	i("VLM_WRITER_DEDUP_LRU_CAPACITY", &cfg.DedupLRUCapacity)
	dur("VLM_WRITER_ENQUEUE_TIMEOUT", &cfg.EnqueueTimeout)
	dur("VLM_WRITER_STORE_WRITE_TIMEOUT", &cfg.StoreWriteTimeout)
	dur("VLM_WRITER_STORE_FATAL_WINDOW", &cfg.StoreFatalWindow)
	str("VLM_STORE_URL", &cfg.StoreURL)
	str("VLM_STORE_TOKEN", &cfg.StoreToken)
	str("VLM_STORE_DATABASE", &cfg.StoreDB)
	str("VLM_METRICS_LISTEN_ADDRESS", &cfg.MetricsListenAddress)
	dur("VLM_SUPERVISOR_SHUTDOWN_GRACE", &cfg.ShutdownGrace)
	str("VLM_LOG_LEVEL", &cfg.LogLevel)
}

func (c *Config) validate() error {
	if c.RpcUrl == "" {
		return fmt.Errorf("configuration: rpc-url is required")
	}
	if _, err := url.ParseRequestURI(c.RpcUrl); err != nil {
		return fmt.Errorf("configuration: invalid rpc-url: %w", err)
	}
	if c.FeedUrl == "" {
		return fmt.Errorf("configuration: feed-url is required")
	}
	feedURL, err := url.ParseRequestURI(c.FeedUrl)
	if err != nil {
		return fmt.Errorf("configuration: invalid feed-url: %w", err)
	}
	switch feedURL.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("configuration: feed-url scheme must be http or https, got %q", feedURL.Scheme)
	}
	if len(c.Whitelist) > 0 && len(c.Blacklist) > 0 {
		return fmt.Errorf("configuration: whitelist and blacklist are mutually exclusive")
	}
	if c.MaxSubscriptions <= 0 {
		return fmt.Errorf("configuration: max-subscriptions must be positive, got %d", c.MaxSubscriptions)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("configuration: batch-size must be positive, got %d", c.BatchSize)
	}
	if c.IngressQueueCapacity < c.BatchSize {
		return fmt.Errorf(
			"configuration: ingress-queue-capacity (%d) must be >= batch-size (%d)",
			c.IngressQueueCapacity, c.BatchSize,
		)
	}
	if c.DedupLRUCapacity <= 0 {
		return fmt.Errorf("configuration: dedup-lru-capacity must be positive, got %d", c.DedupLRUCapacity)
	}
	return nil
}

// FeedUsesTLS reports whether the feed endpoint requires TLS, inferred solely
// from its URL scheme.
func (c *Config) FeedUsesTLS() bool {
	u, err := url.Parse(c.FeedUrl)
	if err != nil {
		return false
	}
	return u.Scheme == "https"
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
