package feed

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

// subscribeMethod is the de-facto Yellowstone/Geyser streaming RPC. There
// is no generated service stub to call it through, so Client drives
// ClientConn.NewStream with this fully-qualified method name directly.
const subscribeMethod = "/geyser.Geyser/Subscribe"

var subscribeStreamDesc = &grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
	ClientStreams: true,
}

// Client dials one push-feed endpoint. TLS is inferred from the URL
// scheme: https:// enables TLS with system roots, http:// is plaintext.
type Client struct {
	conn   *grpc.ClientConn
	token  string
	logger *zap.SugaredLogger
}

// Dial connects to target, which must be an http(s):// URL. connectTimeout
// bounds the initial handshake only; long-lived stream I/O is unbounded by
// this deadline. keepaliveTimeout, if positive, configures grpc keepalive
// pings so a dead TCP connection is detected without waiting on a read.
func Dial(ctx context.Context, target string, token string, connectTimeout, keepaliveTimeout time.Duration) (*Client, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("feed: invalid url %q: %w", target, err)
	}
	host := u.Host
	if host == "" {
		host = u.Path
	}

	var creds credentials.TransportCredentials
	if strings.EqualFold(u.Scheme, "https") {
		creds = credentials.NewTLS(&tls.Config{})
	} else {
		creds = insecure.NewCredentials()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
		grpc.WithBlock(),
	}
	if keepaliveTimeout > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTimeout / 2,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}))
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, host, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("feed: dial %s: %w", host, err)
	}

	return &Client{conn: conn, token: token, logger: slog.Get()}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Stream wraps one Subscribe call: send the filter once, then Recv
// updates until the server closes the stream or ctx is cancelled.
type Stream struct {
	cs grpc.ClientStream
}

// Subscribe opens a new stream with req as its initial filter.
// Reconfiguration is implemented by closing the stream and calling
// Subscribe again with the updated filter, never by mutating a stream in
// place.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) (*Stream, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-token", c.token)
	}
	cs, err := c.conn.NewStream(ctx, subscribeStreamDesc, subscribeMethod)
	if err != nil {
		return nil, fmt.Errorf("feed: open stream: %w", err)
	}
	if err := cs.SendMsg(&req); err != nil {
		return nil, fmt.Errorf("feed: send subscribe request: %w", err)
	}
	return &Stream{cs: cs}, nil
}

// Recv blocks for the next update. It returns io.EOF-wrapping errors from
// the underlying stream unchanged so callers can distinguish a clean
// server-side close from a transport failure.
func (s *Stream) Recv() (*SubscribeUpdate, error) {
	var upd SubscribeUpdate
	if err := s.cs.RecvMsg(&upd); err != nil {
		return nil, err
	}
	return &upd, nil
}

// CloseSend signals the server this client has no more messages to send;
// it does not stop inbound delivery, which ends when the server closes
// its side or the stream's context is cancelled.
func (s *Stream) CloseSend() error {
	return s.cs.CloseSend()
}
