package transfer

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Request describes a token transfer before it is submitted to the source chain.
type Request struct {
	SourceChain      vaaLib.ChainID // Wormhole chain id of the source chain
	DestinationChain vaaLib.ChainID // Wormhole chain id of the destination chain
	Asset            string         // Source asset (SPL mint or ERC20 address)
	Recipient        vaaLib.Address // Destination recipient, left-padded to 32 bytes
	Amount           uint64         // Amount in the asset's base units
	Nonce            uint32         // Wormhole message nonce
}

// AttestRequest registers a source asset on the destination chain. The
// resulting asset meta message goes through the same key derivation,
// polling and redemption as a transfer.
type AttestRequest struct {
	SourceChain      vaaLib.ChainID
	DestinationChain vaaLib.ChainID
	Asset            string // SPL mint or ERC20 address
	Nonce            uint32
}

// Request returns the attestation as a zero-amount Request so it can be
// carried by Submitted.
func (r AttestRequest) Request() Request {
	return Request{
		SourceChain:      r.SourceChain,
		DestinationChain: r.DestinationChain,
		Asset:            r.Asset,
		Nonce:            r.Nonce,
	}
}

// Submitted is a Request whose source transaction has been confirmed.
type Submitted struct {
	Request
	TxID string // Source transaction id (signature or hash)
	Slot uint64 // Slot or block number of inclusion
}

// AttestationKey identifies exactly one signed attestation.
type AttestationKey struct {
	EmitterChain   vaaLib.ChainID
	EmitterAddress vaaLib.Address
	Sequence       uint64
}

// String returns the Wormhole message id: chain/emitter/sequence.
func (k AttestationKey) String() string {
	return fmt.Sprintf("%d/%s/%d", uint16(k.EmitterChain), k.EmitterAddress.String(), k.Sequence)
}

// ParseAttestationKey parses a message id as produced by AttestationKey.String.
func ParseAttestationKey(s string) (AttestationKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return AttestationKey{}, fmt.Errorf("invalid message id %q: expected chain/emitter/sequence", s)
	}

	chain, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return AttestationKey{}, fmt.Errorf("invalid emitter chain %q: %w", parts[0], err)
	}

	emitterHex := strings.TrimPrefix(strings.ToLower(parts[1]), "0x")
	emitterBytes, err := hex.DecodeString(emitterHex)
	if err != nil || len(emitterBytes) != 32 {
		return AttestationKey{}, fmt.Errorf("invalid emitter address %q: must be 32 hex-encoded bytes", parts[1])
	}

	sequence, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return AttestationKey{}, fmt.Errorf("invalid sequence %q: %w", parts[2], err)
	}

	var emitter vaaLib.Address
	copy(emitter[:], emitterBytes)

	return AttestationKey{
		EmitterChain:   vaaLib.ChainID(chain),
		EmitterAddress: emitter,
		Sequence:       sequence,
	}, nil
}

// SignedAttestation is a guardian-signed VAA fetched for a key. Raw is handed
// to the destination chain untouched; Signatures and Payload are views into
// it and are never reinterpreted here.
type SignedAttestation struct {
	Key        AttestationKey
	Raw        []byte
	Signatures []byte
	Payload    []byte
}

type RedemptionStatus int

const (
	// StatusRedeemed means a redemption transaction was submitted by this call.
	StatusRedeemed RedemptionStatus = iota + 1
	// StatusAlreadyRedeemed means the destination chain had already consumed
	// the attestation and nothing was submitted.
	StatusAlreadyRedeemed
)

func (s RedemptionStatus) String() string {
	switch s {
	case StatusRedeemed:
		return "redeemed"
	case StatusAlreadyRedeemed:
		return "already_redeemed"
	default:
		return "unknown"
	}
}

// RedemptionResult is the outcome of a successful redemption attempt.
type RedemptionResult struct {
	Key             AttestationKey
	DestinationTxID string // empty when Status is StatusAlreadyRedeemed
	Status          RedemptionStatus
}

// Completed reports whether the transfer is settled on the destination chain.
func (r RedemptionResult) Completed() bool {
	return r.Status == StatusRedeemed || r.Status == StatusAlreadyRedeemed
}

// Token bridge payload ids.
const (
	PayloadTransfer  = 1
	PayloadAssetMeta = 2
)

const assetMetaLength = 100

// AssetMeta is the token bridge asset meta payload:
//
//	0      payload id (2)
//	1-32   token address
//	33-34  token chain
//	35     decimals
//	36-67  symbol, zero padded
//	68-99  name, zero padded
type AssetMeta struct {
	TokenAddress vaaLib.Address
	TokenChain   vaaLib.ChainID
	Decimals     uint8
	Symbol       string
	Name         string
}

// DecodeAssetMeta parses an asset meta payload.
func DecodeAssetMeta(payload []byte) (AssetMeta, error) {
	if len(payload) == 0 || payload[0] != PayloadAssetMeta {
		return AssetMeta{}, fmt.Errorf("not an asset meta payload")
	}
	if len(payload) < assetMetaLength {
		return AssetMeta{}, fmt.Errorf("asset meta payload too short: %d bytes", len(payload))
	}

	var meta AssetMeta
	copy(meta.TokenAddress[:], payload[1:33])
	meta.TokenChain = vaaLib.ChainID(binary.BigEndian.Uint16(payload[33:35]))
	meta.Decimals = payload[35]
	meta.Symbol = string(bytes.TrimRight(payload[36:68], "\x00"))
	meta.Name = string(bytes.TrimRight(payload[68:100], "\x00"))
	return meta, nil
}
