package clients

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// Token bridge and ERC20 functions used by the relay.
const tokenBridgeABIJSON = `[
	{
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "uint16", "name": "recipientChain", "type": "uint16"},
			{"internalType": "bytes32", "name": "recipient", "type": "bytes32"},
			{"internalType": "uint256", "name": "arbiterFee", "type": "uint256"},
			{"internalType": "uint32", "name": "nonce", "type": "uint32"}
		],
		"name": "transferTokens",
		"outputs": [{"internalType": "uint64", "name": "sequence", "type": "uint64"}],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "tokenAddress", "type": "address"},
			{"internalType": "uint32", "name": "nonce", "type": "uint32"}
		],
		"name": "attestToken",
		"outputs": [{"internalType": "uint64", "name": "sequence", "type": "uint64"}],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "bytes", "name": "encodedVm", "type": "bytes"}],
		"name": "createWrapped",
		"outputs": [{"internalType": "address", "name": "token", "type": "address"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint16", "name": "tokenChainId", "type": "uint16"},
			{"internalType": "bytes32", "name": "tokenAddress", "type": "bytes32"}
		],
		"name": "wrappedAsset",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "bytes", "name": "encodedVm", "type": "bytes"}],
		"name": "completeTransfer",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "bytes32", "name": "hash", "type": "bytes32"}],
		"name": "isTransferCompleted",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const coreBridgeABIJSON = `[{
	"inputs": [],
	"name": "messageFee",
	"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

const erc20ABIJSON = `[{
	"inputs": [
		{"internalType": "address", "name": "spender", "type": "address"},
		{"internalType": "uint256", "name": "amount", "type": "uint256"}
	],
	"name": "approve",
	"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

var (
	tokenBridgeABI = mustParseABI(tokenBridgeABIJSON)
	coreBridgeABI  = mustParseABI(coreBridgeABIJSON)
	erc20ABI       = mustParseABI(erc20ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// gasLimitBuffer is added, in percent, on top of estimated gas.
const gasLimitBuffer = 20

// EVMClient talks to the Wormhole token bridge on an EVM chain.
type EVMClient struct {
	client      *ethclient.Client
	privateKey  *ecdsa.PrivateKey
	address     common.Address
	coreBridge  common.Address
	tokenBridge common.Address
	logger      *zap.Logger
}

// NewEVMClient creates a new client for EVM-compatible blockchains
func NewEVMClient(logger *zap.Logger, rpcURL, privateKeyHex string, coreBridge, tokenBridge common.Address) (*EVMClient, error) {
	client := &EVMClient{
		coreBridge:  coreBridge,
		tokenBridge: tokenBridge,
		logger:      logger.With(zap.String("component", "EVMClient")),
	}

	client.logger.Info("Connecting to EVM chain",
		zap.String("rpcURL", rpcURL),
		zap.String("coreBridge", coreBridge.Hex()),
		zap.String("tokenBridge", tokenBridge.Hex()))
	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM node: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}

	client.client = ethClient
	client.privateKey = privateKey
	client.address = crypto.PubkeyToAddress(*publicKeyECDSA)

	return client, nil
}

// GetAddress returns the public address for this client
func (c *EVMClient) GetAddress() common.Address {
	return c.address
}

// ChainID returns the EVM chain id of the connected node.
func (c *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.client.ChainID(ctx)
}

// TransferTokens approves the token bridge to spend amount of token and
// calls transferTokens. It returns the mined receipt of the transfer.
func (c *EVMClient) TransferTokens(
	ctx context.Context,
	token common.Address,
	amount *big.Int,
	recipientChain uint16,
	recipient [32]byte,
	nonce uint32,
) (*types.Receipt, error) {
	approveData, err := erc20ABI.Pack("approve", c.tokenBridge, amount)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %w", err)
	}

	c.logger.Debug("Approving token bridge",
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()))

	fee, err := c.MessageFee(ctx)
	if err != nil {
		return nil, err
	}

	approval, err := c.sendAndWait(ctx, token, nil, approveData)
	if err != nil {
		return nil, fmt.Errorf("failed to approve token bridge: %w", err)
	}
	if approval.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("approve reverted in tx %s", approval.TxHash.Hex())
	}

	transferData, err := tokenBridgeABI.Pack("transferTokens",
		token, amount, recipientChain, recipient, big.NewInt(0), nonce)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %w", err)
	}

	receipt, err := c.sendAndWait(ctx, c.tokenBridge, fee, transferData)
	if err != nil {
		return nil, fmt.Errorf("failed to send transferTokens: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transferTokens reverted in tx %s", receipt.TxHash.Hex())
	}

	c.logger.Info("Token transfer confirmed",
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()))

	return receipt, nil
}

// CompleteTransfer submits a signed transfer VAA to completeTransfer and
// waits for the receipt. Reverted receipts are returned without error.
func (c *EVMClient) CompleteTransfer(ctx context.Context, vaaBytes []byte) (*types.Receipt, error) {
	c.logger.Debug("Sending completeTransfer", zap.Int("vaaLength", len(vaaBytes)))

	data, err := tokenBridgeABI.Pack("completeTransfer", vaaBytes)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %w", err)
	}
	return c.sendAndWait(ctx, c.tokenBridge, nil, data)
}

// AttestToken publishes the asset meta of token and returns the mined
// receipt. The core bridge message fee is paid as value.
func (c *EVMClient) AttestToken(ctx context.Context, token common.Address, nonce uint32) (*types.Receipt, error) {
	fee, err := c.MessageFee(ctx)
	if err != nil {
		return nil, err
	}

	data, err := tokenBridgeABI.Pack("attestToken", token, nonce)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %w", err)
	}

	receipt, err := c.sendAndWait(ctx, c.tokenBridge, fee, data)
	if err != nil {
		return nil, fmt.Errorf("failed to send attestToken: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("attestToken reverted in tx %s", receipt.TxHash.Hex())
	}

	c.logger.Info("Token attestation confirmed",
		zap.String("token", token.Hex()),
		zap.String("txHash", receipt.TxHash.Hex()))

	return receipt, nil
}

// CreateWrapped submits a signed asset meta VAA to createWrapped and waits
// for the receipt. Reverted receipts are returned without error.
func (c *EVMClient) CreateWrapped(ctx context.Context, vaaBytes []byte) (*types.Receipt, error) {
	c.logger.Debug("Sending createWrapped", zap.Int("vaaLength", len(vaaBytes)))

	data, err := tokenBridgeABI.Pack("createWrapped", vaaBytes)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %w", err)
	}
	return c.sendAndWait(ctx, c.tokenBridge, nil, data)
}

// WrappedAsset returns the wrapped token registered for an origin asset,
// or the zero address.
func (c *EVMClient) WrappedAsset(ctx context.Context, tokenChain uint16, tokenAddress [32]byte) (common.Address, error) {
	values, err := c.call(ctx, tokenBridgeABI, c.tokenBridge, "wrappedAsset", tokenChain, tokenAddress)
	if err != nil {
		return common.Address{}, err
	}
	wrapped, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected wrappedAsset result %T", values[0])
	}
	return wrapped, nil
}

// MessageFee returns the core bridge fee for publishing a message.
func (c *EVMClient) MessageFee(ctx context.Context) (*big.Int, error) {
	values, err := c.call(ctx, coreBridgeABI, c.coreBridge, "messageFee")
	if err != nil {
		return nil, err
	}
	fee, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected messageFee result %T", values[0])
	}
	return fee, nil
}

func (c *EVMClient) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %w", err)
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("ABI unpack error: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}

// IsTransferCompleted reports whether the token bridge has consumed the VAA
// with the given signing digest.
func (c *EVMClient) IsTransferCompleted(ctx context.Context, digest common.Hash) (bool, error) {
	values, err := c.call(ctx, tokenBridgeABI, c.tokenBridge, "isTransferCompleted", digest)
	if err != nil {
		return false, err
	}
	completed, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isTransferCompleted result %T", values[0])
	}
	return completed, nil
}

// TransactionLogs returns the receipt logs of txHash as a JSON array.
func (c *EVMClient) TransactionLogs(ctx context.Context, txHash string) ([]byte, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}
	return json.Marshal(receipt.Logs)
}

func (c *EVMClient) sendAndWait(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	signedTx, err := c.sendTransaction(ctx, to, value, data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Waiting for transaction", zap.String("txHash", signedTx.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, c.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for tx %s: %w", signedTx.Hash().Hex(), err)
	}
	return receipt, nil
}

// sendTransaction signs and sends an EIP-1559 transaction calling to. A nil
// value sends no ether.
func (c *EVMClient) sendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	chainID, err := c.client.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block header: %w", err)
	}

	// 2x base fee absorbs fluctuations until inclusion.
	baseFee := header.BaseFee
	maxPriorityFeePerGas := big.NewInt(100000000) // 0.1 gwei tip
	maxFeePerGas := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFeePerGas.Add(maxFeePerGas, maxPriorityFeePerGas)

	// Estimation runs the call, so a revert surfaces here as a JSON-RPC error.
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:      c.address,
		To:        &to,
		GasFeeCap: maxFeePerGas,
		GasTipCap: maxPriorityFeePerGas,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gas += gas * gasLimitBuffer / 100

	c.logger.Debug("Gas fees calculated",
		zap.String("baseFee", baseFee.String()),
		zap.String("maxFeePerGas", maxFeePerGas.String()),
		zap.String("maxPriorityFeePerGas", maxPriorityFeePerGas.String()),
		zap.Uint64("gasLimit", gas))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: maxPriorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.NewLondonSigner(chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx, nil
}

// EVMSource submits token bridge transfers and attestations on an EVM chain.
type EVMSource struct {
	client *EVMClient
	logger *zap.Logger
}

func NewEVMSource(logger *zap.Logger, client *EVMClient) *EVMSource {
	return &EVMSource{
		client: client,
		logger: logger.With(zap.String("component", "EVMSource")),
	}
}

// SubmitTransfer sends the transfer and returns once its receipt is mined.
// Asset is the ERC20 token address.
func (s *EVMSource) SubmitTransfer(ctx context.Context, req transfer.Request) (transfer.Submitted, error) {
	if !common.IsHexAddress(req.Asset) {
		return transfer.Submitted{}, fmt.Errorf("invalid ERC20 token address %q", req.Asset)
	}

	s.logger.Info("Submitting token bridge transfer",
		zap.String("token", req.Asset),
		zap.Uint64("amount", req.Amount),
		zap.Stringer("destinationChain", req.DestinationChain))

	receipt, err := s.client.TransferTokens(ctx,
		common.HexToAddress(req.Asset),
		new(big.Int).SetUint64(req.Amount),
		uint16(req.DestinationChain),
		req.Recipient,
		req.Nonce)
	if err != nil {
		return transfer.Submitted{}, err
	}

	return transfer.Submitted{
		Request: req,
		TxID:    receipt.TxHash.Hex(),
		Slot:    receipt.BlockNumber.Uint64(),
	}, nil
}

func (s *EVMSource) TransactionLogs(ctx context.Context, txID string) ([]byte, error) {
	return s.client.TransactionLogs(ctx, txID)
}

// SubmitAttestation publishes the asset meta of the ERC20 token in Asset.
func (s *EVMSource) SubmitAttestation(ctx context.Context, req transfer.AttestRequest) (transfer.Submitted, error) {
	if !common.IsHexAddress(req.Asset) {
		return transfer.Submitted{}, fmt.Errorf("invalid ERC20 token address %q", req.Asset)
	}

	s.logger.Info("Submitting token attestation",
		zap.String("token", req.Asset),
		zap.Stringer("destinationChain", req.DestinationChain))

	receipt, err := s.client.AttestToken(ctx, common.HexToAddress(req.Asset), req.Nonce)
	if err != nil {
		return transfer.Submitted{}, err
	}

	return transfer.Submitted{
		Request: req.Request(),
		TxID:    receipt.TxHash.Hex(),
		Slot:    receipt.BlockNumber.Uint64(),
	}, nil
}
