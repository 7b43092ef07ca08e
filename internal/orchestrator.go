// Package internal composes the relay stages: source transfer, key
// derivation, attestation polling and redemption.
package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal/attestation"
	"github.com/wormhole-demo/bridge-relay/internal/keys"
	"github.com/wormhole-demo/bridge-relay/internal/retry"
	"github.com/wormhole-demo/bridge-relay/internal/submitter"
	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// SourceChain submits transfers and attestations and returns the logs of
// confirmed transactions.
type SourceChain interface {
	SubmitTransfer(ctx context.Context, req transfer.Request) (transfer.Submitted, error)
	SubmitAttestation(ctx context.Context, req transfer.AttestRequest) (transfer.Submitted, error)
	TransactionLogs(ctx context.Context, txID string) ([]byte, error)
}

// Orchestrator runs relays. It keeps no state between calls, so any number
// of relays may run concurrently and a failed one can be resumed from the
// source transaction or the attestation key.
type Orchestrator struct {
	source   SourceChain
	deriver  keys.Deriver
	fetcher  attestation.Fetcher
	redeemer *submitter.Redeemer
	policy   retry.Policy
	logger   *zap.Logger
}

func NewOrchestrator(
	logger *zap.Logger,
	source SourceChain,
	deriver keys.Deriver,
	fetcher attestation.Fetcher,
	redeemer *submitter.Redeemer,
	policy retry.Policy,
) (*Orchestrator, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	return &Orchestrator{
		source:   source,
		deriver:  deriver,
		fetcher:  fetcher,
		redeemer: redeemer,
		policy:   policy,
		logger:   logger.With(zap.String("component", "Orchestrator")),
	}, nil
}

// Relay submits req on the source chain and carries it through to
// redemption. Source submission is not idempotent: after a failure past
// the submit stage, use Resume with the returned TxID instead of calling
// Relay again.
func (o *Orchestrator) Relay(ctx context.Context, req transfer.Request) (transfer.RedemptionResult, error) {
	logger := o.runLogger()
	logger.Info("Starting relay",
		zap.Stringer("sourceChain", req.SourceChain),
		zap.Stringer("destinationChain", req.DestinationChain),
		zap.String("asset", req.Asset),
		zap.Uint64("amount", req.Amount))

	submitted, err := o.source.SubmitTransfer(ctx, req)
	if err != nil {
		return o.fail(logger, &RelayError{Stage: StageSubmit, Err: err})
	}

	logger.Info("Source transfer confirmed",
		zap.String("txID", submitted.TxID),
		zap.Uint64("slot", submitted.Slot))

	return o.resume(ctx, logger, submitted)
}

// Attest publishes the asset meta of req.Asset on the source chain and
// registers the asset on the destination. The orchestrator must be built
// with a destination that accepts asset meta attestations.
func (o *Orchestrator) Attest(ctx context.Context, req transfer.AttestRequest) (transfer.RedemptionResult, error) {
	logger := o.runLogger()
	logger.Info("Starting asset attestation",
		zap.Stringer("sourceChain", req.SourceChain),
		zap.Stringer("destinationChain", req.DestinationChain),
		zap.String("asset", req.Asset))

	submitted, err := o.source.SubmitAttestation(ctx, req)
	if err != nil {
		return o.fail(logger, &RelayError{Stage: StageSubmit, Err: err})
	}

	logger.Info("Source attestation confirmed",
		zap.String("txID", submitted.TxID),
		zap.Uint64("slot", submitted.Slot))

	return o.resume(ctx, logger, submitted)
}

// Resume continues a relay whose source transaction is already confirmed,
// starting from the log lookup.
func (o *Orchestrator) Resume(ctx context.Context, submitted transfer.Submitted) (transfer.RedemptionResult, error) {
	logger := o.runLogger()
	logger.Info("Resuming relay from source transaction", zap.String("txID", submitted.TxID))
	return o.resume(ctx, logger, submitted)
}

// ResumeKey continues a relay whose attestation key is known, starting
// from the fetch stage.
func (o *Orchestrator) ResumeKey(ctx context.Context, key transfer.AttestationKey) (transfer.RedemptionResult, error) {
	logger := o.runLogger()
	logger.Info("Resuming relay from attestation key", zap.Stringer("key", key))
	return o.complete(ctx, logger, "", key)
}

func (o *Orchestrator) resume(ctx context.Context, logger *zap.Logger, submitted transfer.Submitted) (transfer.RedemptionResult, error) {
	logs, err := o.source.TransactionLogs(ctx, submitted.TxID)
	if err != nil {
		return o.fail(logger, &RelayError{Stage: StageDerive, TxID: submitted.TxID, Err: fmt.Errorf("failed to get transaction logs: %w", err)})
	}

	key, err := o.deriver.Derive(submitted, logs)
	if err != nil {
		return o.fail(logger, &RelayError{Stage: StageDerive, TxID: submitted.TxID, Err: err})
	}

	logger.Info("Derived attestation key",
		zap.String("txID", submitted.TxID),
		zap.Stringer("key", key))

	return o.complete(ctx, logger, submitted.TxID, key)
}

func (o *Orchestrator) complete(ctx context.Context, logger *zap.Logger, txID string, key transfer.AttestationKey) (transfer.RedemptionResult, error) {
	att, err := o.fetch(ctx, logger, key)
	if err != nil {
		return o.fail(logger, &RelayError{Stage: StageFetch, TxID: txID, Key: &key, Err: err})
	}

	result, err := o.redeemer.Redeem(ctx, att)
	if err != nil {
		return o.fail(logger, &RelayError{Stage: StageRedeem, TxID: txID, Key: &key, Err: err})
	}

	relayResults.WithLabelValues(string(StageRedeem), result.Status.String()).Inc()
	redemptions.WithLabelValues(result.Status.String()).Inc()

	logger.Info("Relay complete",
		zap.Stringer("key", key),
		zap.Stringer("status", result.Status),
		zap.String("destinationTxID", result.DestinationTxID))

	return result, nil
}

func (o *Orchestrator) fetch(ctx context.Context, logger *zap.Logger, key transfer.AttestationKey) (transfer.SignedAttestation, error) {
	op := attestation.PollOperation(o.fetcher, key)
	counted := func(ctx context.Context) (transfer.SignedAttestation, error) {
		fetchAttempts.Inc()
		return op(ctx)
	}

	start := time.Now()
	att, err := retry.Poll(ctx, o.policy, counted, retry.WithNotify(func(attempt int, next time.Duration, err error) {
		logger.Info("Signed VAA not available yet, retrying",
			zap.Stringer("key", key),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", o.policy.MaxAttempts),
			zap.Duration("nextRetry", next))
	}))
	if err != nil {
		return transfer.SignedAttestation{}, err
	}

	logger.Info("Fetched signed VAA",
		zap.Stringer("key", key),
		zap.Int("vaaLength", len(att.Raw)),
		zap.Int("signaturesLength", len(att.Signatures)),
		zap.Duration("took", time.Since(start)))

	return att, nil
}

func (o *Orchestrator) fail(logger *zap.Logger, err *RelayError) (transfer.RedemptionResult, error) {
	outcome := Outcome(err.Err)
	relayResults.WithLabelValues(string(err.Stage), outcome).Inc()

	fields := []zap.Field{
		zap.String("stage", string(err.Stage)),
		zap.String("outcome", outcome),
		zap.String("txID", err.TxID),
		zap.Error(err.Err),
	}
	if err.Key != nil {
		fields = append(fields, zap.Stringer("key", err.Key))
	}

	if errors.Is(err.Err, retry.ErrCancelled) {
		logger.Warn("Relay cancelled", fields...)
	} else {
		logger.Error("Relay failed", fields...)
	}
	return transfer.RedemptionResult{}, err
}

func (o *Orchestrator) runLogger() *zap.Logger {
	return o.logger.With(zap.String("runID", uuid.NewString()))
}
