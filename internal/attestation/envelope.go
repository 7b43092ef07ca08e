package attestation

import (
	"fmt"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"google.golang.org/grpc/codes"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

const (
	vaaHeaderLength    = 6  // version + guardian set index + signature count
	vaaSignatureLength = 66 // guardian index + 65 byte signature
)

// Decode parses a signed VAA and checks that it is the attestation
// requested for key. Only envelopes the destination chains accept
// (vaaLib.SupportedVAAVersion) are decoded. Signatures and Payload are
// returned as views into raw.
//
// Signatures are not verified; the destination chain does that.
func Decode(key transfer.AttestationKey, raw []byte) (transfer.SignedAttestation, error) {
	v, err := vaaLib.Unmarshal(raw)
	if err != nil {
		return transfer.SignedAttestation{}, malformed(key, "%v", err)
	}

	got := transfer.AttestationKey{
		EmitterChain:   v.EmitterChain,
		EmitterAddress: v.EmitterAddress,
		Sequence:       v.Sequence,
	}
	if got != key {
		return transfer.SignedAttestation{}, malformed(key, "service returned VAA %s", got)
	}

	signaturesEnd := vaaHeaderLength + len(v.Signatures)*vaaSignatureLength
	return transfer.SignedAttestation{
		Key:        key,
		Raw:        raw,
		Signatures: raw[vaaHeaderLength:signaturesEnd],
		Payload:    raw[len(raw)-len(v.Payload):],
	}, nil
}

func malformed(key transfer.AttestationKey, format string, args ...any) error {
	return &ServiceError{
		Code:    codes.DataLoss,
		Message: fmt.Sprintf("invalid VAA for %s: %s", key, fmt.Sprintf(format, args...)),
	}
}
