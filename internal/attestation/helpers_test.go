package attestation

import (
	"testing"
	"time"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

func testKey(sequence uint64) transfer.AttestationKey {
	key := transfer.AttestationKey{
		EmitterChain: vaaLib.ChainIDSolana,
		Sequence:     sequence,
	}
	copy(key.EmitterAddress[:], []byte("emitter-address-for-tests-000000"))
	return key
}

// signedVAA builds a VAA for key signed by numGuardians throwaway keys.
func signedVAA(t *testing.T, key transfer.AttestationKey, payload []byte, numGuardians int) []byte {
	t.Helper()

	v := &vaaLib.VAA{
		Version:          vaaLib.SupportedVAAVersion,
		GuardianSetIndex: 0,
		Timestamp:        time.Unix(1650000000, 0),
		Nonce:            7,
		Sequence:         key.Sequence,
		ConsistencyLevel: 1,
		EmitterChain:     key.EmitterChain,
		EmitterAddress:   key.EmitterAddress,
		Payload:          payload,
	}
	for i := 0; i < numGuardians; i++ {
		gk, err := ethCrypto.GenerateKey()
		require.NoError(t, err)
		v.AddSignature(gk, uint8(i))
	}

	raw, err := v.Marshal()
	require.NoError(t, err)
	return raw
}
