// Package submitter redeems signed attestations on a destination chain.
package submitter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// Destination is the destination-chain handle a Redeemer works against.
type Destination interface {
	// IsCompleted reports whether the destination chain has already consumed
	// the attestation.
	IsCompleted(ctx context.Context, att transfer.SignedAttestation) (bool, error)
	// SubmitRedemption submits the attestation and returns the destination
	// transaction id. A refusal by the chain is returned as *RejectedError.
	SubmitRedemption(ctx context.Context, att transfer.SignedAttestation) (string, error)
}

// RejectedError means the destination chain refused the redemption.
type RejectedError struct {
	Reason string
	TxID   string // set when the transaction was mined and reverted
}

func (e *RejectedError) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("redemption rejected in tx %s: %s", e.TxID, e.Reason)
	}
	return fmt.Sprintf("redemption rejected: %s", e.Reason)
}

// Redeemer submits an attestation at most once per call, after confirming
// the destination has not consumed it yet. Failed submissions are returned
// to the caller and never retried here.
type Redeemer struct {
	destination Destination
	logger      *zap.Logger
}

func NewRedeemer(logger *zap.Logger, destination Destination) *Redeemer {
	return &Redeemer{
		destination: destination,
		logger:      logger.With(zap.String("component", "Redeemer")),
	}
}

// Redeem returns StatusAlreadyRedeemed without submitting anything when the
// destination reports the attestation as completed.
func (r *Redeemer) Redeem(ctx context.Context, att transfer.SignedAttestation) (transfer.RedemptionResult, error) {
	completed, err := r.destination.IsCompleted(ctx, att)
	if err != nil {
		return transfer.RedemptionResult{}, fmt.Errorf("failed to query completion of %s: %w", att.Key, err)
	}
	if completed {
		r.logger.Info("Attestation already redeemed, skipping submission", zap.Stringer("key", att.Key))
		return transfer.RedemptionResult{Key: att.Key, Status: transfer.StatusAlreadyRedeemed}, nil
	}

	r.logger.Info("Submitting redemption",
		zap.Stringer("key", att.Key),
		zap.Int("vaaLength", len(att.Raw)))

	txID, err := r.destination.SubmitRedemption(ctx, att)
	if err != nil {
		return transfer.RedemptionResult{}, fmt.Errorf("failed to redeem %s: %w", att.Key, err)
	}

	r.logger.Info("Redemption submitted",
		zap.Stringer("key", att.Key),
		zap.String("txID", txID))

	return transfer.RedemptionResult{
		Key:             att.Key,
		DestinationTxID: txID,
		Status:          transfer.StatusRedeemed,
	}, nil
}
