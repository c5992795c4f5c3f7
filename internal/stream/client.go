package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/skillnet-labs/examchain-backend/internal/config"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
)

// StreamMethod is the full gRPC method name of the data stream.
const StreamMethod = "/examchain.stream.v1.Stream/StreamData"

const bytesPerMB = 1024 * 1024

// Subscription is a live stream subscription. Recv blocks until the next
// message arrives or the stream fails.
type Subscription interface {
	Recv() (*StreamDataResponse, error)
}

// Client opens stream subscriptions against the chain stream server.
type Client interface {
	Subscribe(ctx context.Context, req *StreamDataRequest) (Subscription, error)
	Close() error
}

// rawMessage carries already-encoded protobuf bytes through gRPC. The
// message codec lives in this package, so gRPC only moves frames.
type rawMessage struct {
	data []byte
}

// rawCodec is a passthrough gRPC codec for rawMessage values.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("rawCodec: expected *rawMessage, got %T", v)
	}
	return m.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("rawCodec: expected *rawMessage, got %T", v)
	}
	m.data = data
	return nil
}

func (rawCodec) Name() string { return "raw-proto" }

var streamDesc = &grpc.StreamDesc{
	StreamName:    "StreamData",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCClient is the production stream client backed by a gRPC connection.
type GRPCClient struct {
	conn *grpc.ClientConn
	log  *logger.Logger
}

// NewClient connects to the stream server described by the configuration.
// Endpoints on port 443 use TLS, everything else is plaintext.
func NewClient(cfg config.StreamConfig, log *logger.Logger) (*GRPCClient, error) {
	creds := insecure.NewCredentials()
	if strings.HasSuffix(cfg.ServerURL, ":443") {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	conn, err := grpc.NewClient(
		cfg.ServerURL,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(rawCodec{}),
			grpc.MaxCallRecvMsgSize(cfg.MaxRecvMsgSizeMB*bytesPerMB),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream connection to %s: %w", cfg.ServerURL, err)
	}

	return &GRPCClient{
		conn: conn,
		log:  log,
	}, nil
}

// Subscribe opens the data stream and sends the subscription request. The
// returned subscription delivers messages until the context is cancelled or
// the stream fails.
func (c *GRPCClient) Subscribe(ctx context.Context, req *StreamDataRequest) (Subscription, error) {
	grpcStream, err := c.conn.NewStream(ctx, streamDesc, StreamMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	if err := grpcStream.SendMsg(&rawMessage{data: req.Marshal()}); err != nil {
		return nil, fmt.Errorf("failed to send subscription request: %w", err)
	}

	if err := grpcStream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send side: %w", err)
	}

	c.log.Debugw("stream subscription opened",
		"startingBlock", req.StartingCursor,
		"finality", req.Finality,
		"batchSize", req.BatchSize)

	return &grpcSubscription{stream: grpcStream}, nil
}

// Close tears down the underlying connection. Any open subscription fails
// on its next Recv.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

type grpcSubscription struct {
	stream grpc.ClientStream
}

func (s *grpcSubscription) Recv() (*StreamDataResponse, error) {
	var msg rawMessage
	if err := s.stream.RecvMsg(&msg); err != nil {
		return nil, err
	}

	var resp StreamDataResponse
	if err := resp.Unmarshal(msg.data); err != nil {
		return nil, fmt.Errorf("failed to decode stream message: %w", err)
	}

	return &resp, nil
}
