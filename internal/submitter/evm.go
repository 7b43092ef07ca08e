package submitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// DefaultEVMSubmitTimeout bounds sending completeTransfer and waiting for
// its receipt.
const DefaultEVMSubmitTimeout = 60 * time.Second

// EVMTokenBridge is the part of the EVM token bridge a destination needs.
// clients.EVMClient implements it.
type EVMTokenBridge interface {
	IsTransferCompleted(ctx context.Context, digest common.Hash) (bool, error)
	CompleteTransfer(ctx context.Context, vaaBytes []byte) (*types.Receipt, error)
}

// EVMDestination redeems transfers on an EVM token bridge. Completion is
// tracked by the contract keyed by the VAA signing digest.
type EVMDestination struct {
	bridge  EVMTokenBridge
	timeout time.Duration
	logger  *zap.Logger
}

func NewEVMDestination(logger *zap.Logger, bridge EVMTokenBridge, timeout time.Duration) *EVMDestination {
	if timeout <= 0 {
		timeout = DefaultEVMSubmitTimeout
	}
	return &EVMDestination{
		bridge:  bridge,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "EVMDestination")),
	}
}

func (d *EVMDestination) IsCompleted(ctx context.Context, att transfer.SignedAttestation) (bool, error) {
	v, err := vaaLib.Unmarshal(att.Raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse VAA %s: %w", att.Key, err)
	}
	digest := v.SigningDigest()

	completed, err := d.bridge.IsTransferCompleted(ctx, digest)
	if err != nil {
		return false, err
	}

	d.logger.Debug("Checked transfer completion",
		zap.Stringer("key", att.Key),
		zap.String("digest", digest.Hex()),
		zap.Bool("completed", completed))

	return completed, nil
}

func (d *EVMDestination) SubmitRedemption(ctx context.Context, att transfer.SignedAttestation) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	receipt, err := d.bridge.CompleteTransfer(ctx, att.Raw)
	txHash, err := checkReceipt("completeTransfer", receipt, err)
	if err != nil {
		return "", err
	}

	d.logger.Info("completeTransfer mined",
		zap.Stringer("key", att.Key),
		zap.String("txHash", txHash),
		zap.Uint64("gasUsed", receipt.GasUsed))

	return txHash, nil
}

// checkReceipt turns the result of a token bridge call into a tx hash or a
// RejectedError.
func checkReceipt(method string, receipt *types.Receipt, err error) (string, error) {
	if err != nil {
		// JSON-RPC errors carry the node's verdict (reverted gas
		// estimation, invalid VAA); anything else is a transport failure.
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return "", &RejectedError{Reason: rpcErr.Error()}
		}
		return "", err
	}

	txHash := receipt.TxHash.Hex()
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", &RejectedError{Reason: method + " reverted", TxID: txHash}
	}
	return txHash, nil
}

// EVMWrappedAssets is the part of the EVM token bridge that registers
// wrapped assets. clients.EVMClient implements it.
type EVMWrappedAssets interface {
	WrappedAsset(ctx context.Context, tokenChain uint16, tokenAddress [32]byte) (common.Address, error)
	CreateWrapped(ctx context.Context, vaaBytes []byte) (*types.Receipt, error)
}

// EVMAttestDestination registers attested assets on an EVM token bridge.
// An asset counts as redeemed once the bridge maps its origin to a wrapped
// token.
type EVMAttestDestination struct {
	bridge  EVMWrappedAssets
	timeout time.Duration
	logger  *zap.Logger
}

func NewEVMAttestDestination(logger *zap.Logger, bridge EVMWrappedAssets, timeout time.Duration) *EVMAttestDestination {
	if timeout <= 0 {
		timeout = DefaultEVMSubmitTimeout
	}
	return &EVMAttestDestination{
		bridge:  bridge,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "EVMAttestDestination")),
	}
}

func (d *EVMAttestDestination) IsCompleted(ctx context.Context, att transfer.SignedAttestation) (bool, error) {
	v, err := vaaLib.Unmarshal(att.Raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse VAA %s: %w", att.Key, err)
	}
	meta, err := transfer.DecodeAssetMeta(v.Payload)
	if err != nil {
		return false, fmt.Errorf("VAA %s: %w", att.Key, err)
	}

	wrapped, err := d.bridge.WrappedAsset(ctx, uint16(meta.TokenChain), meta.TokenAddress)
	if err != nil {
		return false, err
	}

	d.logger.Debug("Checked wrapped asset",
		zap.Stringer("key", att.Key),
		zap.Stringer("tokenChain", meta.TokenChain),
		zap.Stringer("tokenAddress", meta.TokenAddress),
		zap.String("symbol", meta.Symbol),
		zap.String("wrapped", wrapped.Hex()))

	return wrapped != (common.Address{}), nil
}

func (d *EVMAttestDestination) SubmitRedemption(ctx context.Context, att transfer.SignedAttestation) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	receipt, err := d.bridge.CreateWrapped(ctx, att.Raw)
	txHash, err := checkReceipt("createWrapped", receipt, err)
	if err != nil {
		return "", err
	}

	d.logger.Info("createWrapped mined",
		zap.Stringer("key", att.Key),
		zap.String("txHash", txHash))

	return txHash, nil
}
