package attestation

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	publicrpcv1 "github.com/certusone/wormhole/node/pkg/proto/publicrpc/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// DefaultFetchTimeout bounds a single GetSignedVAA call.
const DefaultFetchTimeout = 10 * time.Second

// GuardianClient fetches signed VAAs from a guardian public RPC endpoint.
type GuardianClient struct {
	conn    *grpc.ClientConn
	client  publicrpcv1.PublicRPCServiceClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewGuardianClient connects to a guardian public RPC endpoint (host:port).
func NewGuardianClient(logger *zap.Logger, endpoint string, useTLS bool, timeout time.Duration) (*GuardianClient, error) {
	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	logger.Info("Connecting to guardian public RPC",
		zap.String("endpoint", endpoint),
		zap.Bool("tls", useTLS))

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to guardian RPC: %w", err)
	}

	c := NewGuardianClientWithRPC(logger, publicrpcv1.NewPublicRPCServiceClient(conn), timeout)
	c.conn = conn
	return c, nil
}

// NewGuardianClientWithRPC wraps an existing public RPC client.
func NewGuardianClientWithRPC(logger *zap.Logger, client publicrpcv1.PublicRPCServiceClient, timeout time.Duration) *GuardianClient {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &GuardianClient{
		client:  client,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "GuardianClient")),
	}
}

// Close closes the underlying connection, if this client owns one.
func (c *GuardianClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Fetch performs one GetSignedVAA call.
func (c *GuardianClient) Fetch(ctx context.Context, key transfer.AttestationKey) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("Requesting signed VAA", zap.Stringer("key", key))

	resp, err := c.client.GetSignedVAA(ctx, &publicrpcv1.GetSignedVAARequest{
		MessageId: &publicrpcv1.MessageID{
			EmitterChain:   publicrpcv1.ChainID(key.EmitterChain),
			EmitterAddress: key.EmitterAddress.String(),
			Sequence:       key.Sequence,
		},
	})
	if err != nil {
		st := status.Convert(err)
		classification := Classify(st.Code(), st.Message())
		c.logger.Debug("GetSignedVAA failed",
			zap.Stringer("key", key),
			zap.Stringer("code", st.Code()),
			zap.Bool("retryable", classification.Class == Retryable))
		return outcomeFor(classification)
	}

	attestation, err := Decode(key, resp.VaaBytes)
	if err != nil {
		return Outcome{}, err
	}

	c.logger.Debug("Received signed VAA",
		zap.Stringer("key", key),
		zap.Int("vaaLength", len(resp.VaaBytes)))

	return Outcome{Status: Found, Attestation: attestation}, nil
}
