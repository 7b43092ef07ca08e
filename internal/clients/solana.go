package clients

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal/retry"
	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// Token bridge PDA seeds
var (
	SeedConfig          = []byte("config")
	SeedAuthoritySigner = []byte("authority_signer")
	SeedCustodySigner   = []byte("custody_signer")
	SeedEmitter         = []byte("emitter")
	SeedWrappedMeta     = []byte("meta")
)

// Core bridge PDA seeds
var (
	SeedBridge       = []byte("Bridge")
	SeedSequence     = []byte("Sequence")
	SeedFeeCollector = []byte("fee_collector")
)

// Token bridge instruction indexes.
const (
	instructionAttestToken    = 1
	instructionTransferNative = 5
)

// AttestTokenData is the borsh payload of attest_token.
type AttestTokenData struct {
	Nonce uint32
}

// TransferNativeData is the borsh payload of transfer_native.
type TransferNativeData struct {
	Nonce         uint32
	Amount        uint64
	Fee           uint64
	TargetAddress [32]byte
	TargetChain   uint16
}

// BridgeData is the core bridge config account.
type BridgeData struct {
	GuardianSetIndex          uint32
	LastLamports              uint64
	GuardianSetExpirationTime uint32
	Fee                       uint64
}

// TransferNativeAccounts are the PDAs transfer_native touches for a mint.
type TransferNativeAccounts struct {
	Config          solana.PublicKey
	Custody         solana.PublicKey
	AuthoritySigner solana.PublicKey
	CustodySigner   solana.PublicKey
	Bridge          solana.PublicKey
	Emitter         solana.PublicKey
	Sequence        solana.PublicKey
	FeeCollector    solana.PublicKey
}

// AttestTokenAccounts are the PDAs attest_token touches for a mint.
type AttestTokenAccounts struct {
	Config       solana.PublicKey
	WrappedMeta  solana.PublicKey
	SPLMetadata  solana.PublicKey
	Bridge       solana.PublicKey
	Emitter      solana.PublicKey
	Sequence     solana.PublicKey
	FeeCollector solana.PublicKey
}

// confirmationPolicy polls signature status once per second for ~1.5 min.
var confirmationPolicy = retry.Fixed(90, time.Second)

var errNotConfirmed = errors.New("transaction not confirmed yet")

// SolanaClient handles interactions with the Wormhole token bridge on Solana
type SolanaClient struct {
	client        *rpc.Client
	payer         solana.PrivateKey
	coreBridge    solana.PublicKey
	tokenBridge   solana.PublicKey
	redeemService *RedeemServiceClient
	logger        *zap.Logger
}

// NewSolanaClient creates a new Solana client. Redemption requires
// redeemServiceURL; without it the client can only transfer and check
// claims.
func NewSolanaClient(logger *zap.Logger, rpcURL, privateKeyBase58, coreBridge, tokenBridge, redeemServiceURL string) (*SolanaClient, error) {
	client := &SolanaClient{
		client: rpc.New(rpcURL),
		logger: logger.With(zap.String("component", "SolanaClient")),
	}

	client.logger.Info("Connecting to Solana", zap.String("rpcURL", rpcURL))

	if privateKeyBase58 != "" {
		privKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		client.payer = privKey
	}

	var err error
	client.coreBridge, err = solana.PublicKeyFromBase58(coreBridge)
	if err != nil {
		return nil, fmt.Errorf("invalid core bridge program ID: %w", err)
	}
	client.tokenBridge, err = solana.PublicKeyFromBase58(tokenBridge)
	if err != nil {
		return nil, fmt.Errorf("invalid token bridge program ID: %w", err)
	}

	if redeemServiceURL != "" {
		client.redeemService = NewRedeemServiceClient(logger, redeemServiceURL)
	}

	client.logger.Info("Solana client initialized",
		zap.String("coreBridge", client.coreBridge.String()),
		zap.String("tokenBridge", client.tokenBridge.String()),
		zap.String("redeemServiceURL", redeemServiceURL))

	return client, nil
}

// TokenBridge returns the token bridge program ID.
func (c *SolanaClient) TokenBridge() solana.PublicKey {
	return c.tokenBridge
}

// pdaDeriver derives PDAs and keeps the first failure.
type pdaDeriver struct {
	err error
}

func (d *pdaDeriver) derive(name string, program solana.PublicKey, seeds ...[]byte) solana.PublicKey {
	if d.err != nil {
		return solana.PublicKey{}
	}
	key, _, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		d.err = fmt.Errorf("failed to derive %s PDA: %w", name, err)
	}
	return key
}

// DeriveTransferNativeAccounts derives the token and core bridge PDAs used
// by transfer_native for mint.
func DeriveTransferNativeAccounts(coreBridge, tokenBridge, mint solana.PublicKey) (*TransferNativeAccounts, error) {
	var d pdaDeriver
	accounts := TransferNativeAccounts{
		Config:          d.derive("config", tokenBridge, SeedConfig),
		Custody:         d.derive("custody", tokenBridge, mint[:]),
		AuthoritySigner: d.derive("authority signer", tokenBridge, SeedAuthoritySigner),
		CustodySigner:   d.derive("custody signer", tokenBridge, SeedCustodySigner),
		Emitter:         d.derive("emitter", tokenBridge, SeedEmitter),
		Bridge:          d.derive("bridge", coreBridge, SeedBridge),
		FeeCollector:    d.derive("fee collector", coreBridge, SeedFeeCollector),
	}
	accounts.Sequence = d.derive("sequence", coreBridge, SeedSequence, accounts.Emitter[:])
	if d.err != nil {
		return nil, d.err
	}
	return &accounts, nil
}

// DeriveAttestTokenAccounts derives the PDAs used by attest_token for mint.
// SPLMetadata is the Metaplex metadata account of the mint.
func DeriveAttestTokenAccounts(coreBridge, tokenBridge, mint solana.PublicKey) (*AttestTokenAccounts, error) {
	var d pdaDeriver
	accounts := AttestTokenAccounts{
		Config:       d.derive("config", tokenBridge, SeedConfig),
		WrappedMeta:  d.derive("wrapped meta", tokenBridge, SeedWrappedMeta, mint[:]),
		Emitter:      d.derive("emitter", tokenBridge, SeedEmitter),
		Bridge:       d.derive("bridge", coreBridge, SeedBridge),
		FeeCollector: d.derive("fee collector", coreBridge, SeedFeeCollector),
	}
	accounts.Sequence = d.derive("sequence", coreBridge, SeedSequence, accounts.Emitter[:])
	if d.err != nil {
		return nil, d.err
	}

	metadata, _, err := solana.FindTokenMetadataAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token metadata PDA: %w", err)
	}
	accounts.SPLMetadata = metadata
	return &accounts, nil
}

// BuildAttestTokenInstruction builds the token bridge attest_token
// instruction. message is a fresh keypair that must sign the transaction.
func BuildAttestTokenInstruction(
	coreBridge, tokenBridge solana.PublicKey,
	accounts *AttestTokenAccounts,
	payer, message, mint solana.PublicKey,
	nonce uint32,
) (*solana.GenericInstruction, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(instructionAttestToken)
	if err := bin.NewBorshEncoder(buf).Encode(AttestTokenData{Nonce: nonce}); err != nil {
		return nil, fmt.Errorf("failed to encode attest_token data: %w", err)
	}

	metas := []*solana.AccountMeta{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: accounts.Config, IsSigner: false, IsWritable: false},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.WrappedMeta, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.SPLMetadata, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.Bridge, IsSigner: false, IsWritable: true},
		{PublicKey: message, IsSigner: true, IsWritable: true},
		{PublicKey: accounts.Emitter, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.Sequence, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.FeeCollector, IsSigner: false, IsWritable: true},
		{PublicKey: solana.SysVarClockPubkey, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SysVarRentPubkey, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: coreBridge, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(tokenBridge, metas, buf.Bytes()), nil
}

// BuildTransferNativeInstruction builds the token bridge transfer_native
// instruction. message is a fresh keypair that must sign the transaction.
func BuildTransferNativeInstruction(
	coreBridge, tokenBridge solana.PublicKey,
	accounts *TransferNativeAccounts,
	payer, message, from, mint solana.PublicKey,
	data TransferNativeData,
) (*solana.GenericInstruction, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(instructionTransferNative)
	if err := bin.NewBorshEncoder(buf).Encode(data); err != nil {
		return nil, fmt.Errorf("failed to encode transfer_native data: %w", err)
	}

	metas := []*solana.AccountMeta{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: accounts.Config, IsSigner: false, IsWritable: false},
		{PublicKey: from, IsSigner: false, IsWritable: true},
		{PublicKey: mint, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.Custody, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.AuthoritySigner, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.CustodySigner, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.Bridge, IsSigner: false, IsWritable: true},
		{PublicKey: message, IsSigner: true, IsWritable: true},
		{PublicKey: accounts.Emitter, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.Sequence, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.FeeCollector, IsSigner: false, IsWritable: true},
		{PublicKey: solana.SysVarClockPubkey, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SysVarRentPubkey, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: coreBridge, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(tokenBridge, metas, buf.Bytes()), nil
}

// ClaimAddress returns the token bridge claim PDA of a message. The account
// exists once the transfer has been completed on Solana.
func ClaimAddress(tokenBridge solana.PublicKey, key transfer.AttestationKey) (solana.PublicKey, error) {
	chain := make([]byte, 2)
	binary.BigEndian.PutUint16(chain, uint16(key.EmitterChain))
	sequence := make([]byte, 8)
	binary.BigEndian.PutUint64(sequence, key.Sequence)

	claim, _, err := solana.FindProgramAddress([][]byte{key.EmitterAddress[:], chain, sequence}, tokenBridge)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive claim PDA: %w", err)
	}
	return claim, nil
}

// bridgeFee reads the message fee from the core bridge config account.
func (c *SolanaClient) bridgeFee(ctx context.Context, bridge solana.PublicKey) (uint64, error) {
	info, err := c.client.GetAccountInfo(ctx, bridge)
	if err != nil {
		return 0, fmt.Errorf("failed to get bridge config %s: %w", bridge, err)
	}

	var data BridgeData
	if err := bin.NewBorshDecoder(info.Value.Data.GetBinary()).Decode(&data); err != nil {
		return 0, fmt.Errorf("failed to decode bridge config: %w", err)
	}
	return data.Fee, nil
}

// TransferNative locks amount of mint from the payer's associated token
// account in the token bridge custody and publishes a transfer message. It
// returns the confirmed signature and slot.
func (c *SolanaClient) TransferNative(
	ctx context.Context,
	mint solana.PublicKey,
	amount uint64,
	targetChain uint16,
	targetAddress [32]byte,
	nonce uint32,
) (string, uint64, error) {
	if len(c.payer) == 0 {
		return "", 0, fmt.Errorf("no Solana private key configured")
	}
	payer := c.payer.PublicKey()

	accounts, err := DeriveTransferNativeAccounts(c.coreBridge, c.tokenBridge, mint)
	if err != nil {
		return "", 0, err
	}

	from, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return "", 0, fmt.Errorf("failed to derive token account: %w", err)
	}

	fee, err := c.bridgeFee(ctx, accounts.Bridge)
	if err != nil {
		return "", 0, err
	}

	message, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", 0, fmt.Errorf("failed to create message keypair: %w", err)
	}

	c.logger.Debug("Building transfer_native transaction",
		zap.String("mint", mint.String()),
		zap.String("from", from.String()),
		zap.Uint64("amount", amount),
		zap.Uint64("bridgeFee", fee),
		zap.String("message", message.PublicKey().String()))

	approve, err := token.NewApproveInstruction(amount, from, accounts.AuthoritySigner, payer, []solana.PublicKey{}).ValidateAndBuild()
	if err != nil {
		return "", 0, fmt.Errorf("failed to build approve instruction: %w", err)
	}

	transferIx, err := BuildTransferNativeInstruction(c.coreBridge, c.tokenBridge, accounts,
		payer, message.PublicKey(), from, mint,
		TransferNativeData{
			Nonce:         nonce,
			Amount:        amount,
			TargetAddress: targetAddress,
			TargetChain:   targetChain,
		})
	if err != nil {
		return "", 0, err
	}

	instructions := []solana.Instruction{}
	if fee > 0 {
		instructions = append(instructions, system.NewTransferInstruction(fee, payer, accounts.FeeCollector).Build())
	}
	instructions = append(instructions, approve, transferIx)

	sig, err := c.sendTransaction(ctx, instructions, message)
	if err != nil {
		return "", 0, err
	}

	slot, err := c.waitConfirmed(ctx, sig)
	if err != nil {
		return "", 0, err
	}

	c.logger.Info("transfer_native confirmed",
		zap.String("signature", sig.String()),
		zap.Uint64("slot", slot))

	return sig.String(), slot, nil
}

// AttestToken publishes the asset meta of mint and returns the confirmed
// signature and slot.
func (c *SolanaClient) AttestToken(ctx context.Context, mint solana.PublicKey, nonce uint32) (string, uint64, error) {
	if len(c.payer) == 0 {
		return "", 0, fmt.Errorf("no Solana private key configured")
	}
	payer := c.payer.PublicKey()

	accounts, err := DeriveAttestTokenAccounts(c.coreBridge, c.tokenBridge, mint)
	if err != nil {
		return "", 0, err
	}

	fee, err := c.bridgeFee(ctx, accounts.Bridge)
	if err != nil {
		return "", 0, err
	}

	message, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", 0, fmt.Errorf("failed to create message keypair: %w", err)
	}

	attestIx, err := BuildAttestTokenInstruction(c.coreBridge, c.tokenBridge, accounts,
		payer, message.PublicKey(), mint, nonce)
	if err != nil {
		return "", 0, err
	}

	instructions := []solana.Instruction{}
	if fee > 0 {
		instructions = append(instructions, system.NewTransferInstruction(fee, payer, accounts.FeeCollector).Build())
	}
	instructions = append(instructions, attestIx)

	sig, err := c.sendTransaction(ctx, instructions, message)
	if err != nil {
		return "", 0, err
	}

	slot, err := c.waitConfirmed(ctx, sig)
	if err != nil {
		return "", 0, err
	}

	c.logger.Info("attest_token confirmed",
		zap.String("mint", mint.String()),
		zap.String("signature", sig.String()),
		zap.Uint64("slot", slot))

	return sig.String(), slot, nil
}

func (c *SolanaClient) sendTransaction(ctx context.Context, instructions []solana.Instruction, extraSigners ...solana.PrivateKey) (solana.Signature, error) {
	recentBlockhash, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recentBlockhash.Value.Blockhash,
		solana.TransactionPayer(c.payer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	signers := append([]solana.PrivateKey{c.payer}, extraSigners...)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if key.Equals(signers[i].PublicKey()) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("Transaction sent", zap.String("signature", sig.String()))

	return sig, nil
}

// waitConfirmed polls the signature status until the transaction is
// confirmed and returns its slot.
func (c *SolanaClient) waitConfirmed(ctx context.Context, sig solana.Signature) (uint64, error) {
	return retry.Poll(ctx, confirmationPolicy, func(ctx context.Context) (uint64, error) {
		out, err := c.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			c.logger.Debug("Signature status lookup failed", zap.Error(err))
			return 0, retry.Retryable(err)
		}
		if len(out.Value) == 0 || out.Value[0] == nil {
			return 0, retry.Retryable(errNotConfirmed)
		}

		st := out.Value[0]
		if st.Err != nil {
			return 0, fmt.Errorf("transaction %s failed: %v", sig, st.Err)
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return st.Slot, nil
		default:
			return 0, retry.Retryable(errNotConfirmed)
		}
	})
}

// TransactionLogs returns the log messages of a confirmed transaction
// joined by newlines.
func (c *SolanaClient) TransactionLogs(ctx context.Context, signature string) ([]byte, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	maxSupportedTransactionVersion := uint64(0)
	out, err := c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxSupportedTransactionVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	if out.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no metadata", signature)
	}

	return []byte(strings.Join(out.Meta.LogMessages, "\n")), nil
}

// ClaimExists reports whether the claim account for key exists.
func (c *SolanaClient) ClaimExists(ctx context.Context, key transfer.AttestationKey) (bool, error) {
	claim, err := ClaimAddress(c.tokenBridge, key)
	if err != nil {
		return false, err
	}

	info, err := c.client.GetAccountInfo(ctx, claim)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check claim account %s: %w", claim, err)
	}
	return info != nil && info.Value != nil, nil
}

// Redeem completes a transfer through the redemption service.
func (c *SolanaClient) Redeem(ctx context.Context, vaaBytes []byte) (string, error) {
	if c.redeemService == nil {
		return "", fmt.Errorf("no redemption service URL configured")
	}
	return c.redeemService.Redeem(ctx, vaaBytes)
}

// SolanaSource submits native token transfers and attestations through the
// Solana token bridge.
type SolanaSource struct {
	client *SolanaClient
	logger *zap.Logger
}

func NewSolanaSource(logger *zap.Logger, client *SolanaClient) *SolanaSource {
	return &SolanaSource{
		client: client,
		logger: logger.With(zap.String("component", "SolanaSource")),
	}
}

// SubmitTransfer sends transfer_native for the request. Asset is the SPL
// mint address.
func (s *SolanaSource) SubmitTransfer(ctx context.Context, req transfer.Request) (transfer.Submitted, error) {
	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return transfer.Submitted{}, fmt.Errorf("invalid mint %q: %w", req.Asset, err)
	}

	s.logger.Info("Submitting token bridge transfer",
		zap.String("mint", req.Asset),
		zap.Uint64("amount", req.Amount),
		zap.Stringer("destinationChain", req.DestinationChain))

	sig, slot, err := s.client.TransferNative(ctx, mint, req.Amount, uint16(req.DestinationChain), req.Recipient, req.Nonce)
	if err != nil {
		return transfer.Submitted{}, err
	}

	return transfer.Submitted{Request: req, TxID: sig, Slot: slot}, nil
}

// SubmitAttestation sends attest_token for the SPL mint in Asset.
func (s *SolanaSource) SubmitAttestation(ctx context.Context, req transfer.AttestRequest) (transfer.Submitted, error) {
	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return transfer.Submitted{}, fmt.Errorf("invalid mint %q: %w", req.Asset, err)
	}

	s.logger.Info("Submitting token attestation",
		zap.String("mint", req.Asset),
		zap.Stringer("destinationChain", req.DestinationChain))

	sig, slot, err := s.client.AttestToken(ctx, mint, req.Nonce)
	if err != nil {
		return transfer.Submitted{}, err
	}

	return transfer.Submitted{Request: req.Request(), TxID: sig, Slot: slot}, nil
}

func (s *SolanaSource) TransactionLogs(ctx context.Context, txID string) ([]byte, error) {
	return s.client.TransactionLogs(ctx, txID)
}
