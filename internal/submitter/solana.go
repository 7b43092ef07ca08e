package submitter

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal/clients"
	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// DefaultSolanaSubmitTimeout bounds one call to the redemption service,
// which posts the VAA and redeems it in several transactions.
const DefaultSolanaSubmitTimeout = 180 * time.Second

// SolanaTokenBridge is the part of the Solana token bridge a destination
// needs. clients.SolanaClient implements it.
type SolanaTokenBridge interface {
	ClaimExists(ctx context.Context, key transfer.AttestationKey) (bool, error)
	Redeem(ctx context.Context, vaaBytes []byte) (string, error)
}

// SolanaDestination redeems transfers on the Solana token bridge. A
// completed transfer leaves a claim account derived from the message key.
type SolanaDestination struct {
	bridge  SolanaTokenBridge
	timeout time.Duration
	logger  *zap.Logger
}

func NewSolanaDestination(logger *zap.Logger, bridge SolanaTokenBridge, timeout time.Duration) *SolanaDestination {
	if timeout <= 0 {
		timeout = DefaultSolanaSubmitTimeout
	}
	return &SolanaDestination{
		bridge:  bridge,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "SolanaDestination")),
	}
}

func (d *SolanaDestination) IsCompleted(ctx context.Context, att transfer.SignedAttestation) (bool, error) {
	exists, err := d.bridge.ClaimExists(ctx, att.Key)
	if err != nil {
		return false, err
	}
	d.logger.Debug("Checked claim account", zap.Stringer("key", att.Key), zap.Bool("exists", exists))
	return exists, nil
}

func (d *SolanaDestination) SubmitRedemption(ctx context.Context, att transfer.SignedAttestation) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	sig, err := d.bridge.Redeem(ctx, att.Raw)
	if err != nil {
		var refused *clients.RedeemRefusedError
		if errors.As(err, &refused) {
			return "", &RejectedError{Reason: refused.Reason, TxID: refused.Signature}
		}
		return "", err
	}

	d.logger.Info("Redemption confirmed on Solana",
		zap.Stringer("key", att.Key),
		zap.String("signature", sig))

	return sig, nil
}
