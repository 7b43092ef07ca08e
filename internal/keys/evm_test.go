package keys

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

var (
	goerliCoreBridge  = common.HexToAddress("0x706abc4E45D419950511e474C7B9Ed348A4a716c")
	goerliTokenBridge = common.HexToAddress("0xF890982f9310df57d00f659cf4fd87e65adEd8d7")
)

func messageLog(t *testing.T, contract, sender common.Address, sequence uint64) *types.Log {
	data, err := CoreBridgeABI.Events["LogMessagePublished"].Inputs.NonIndexed().Pack(
		sequence, uint32(7), []byte{0x01, 0x02}, uint8(1))
	require.NoError(t, err)

	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			LogMessagePublishedTopic,
			common.BytesToHash(sender.Bytes()),
		},
		Data:   data,
		TxHash: common.HexToHash("0x01"),
	}
}

func encodeLogs(t *testing.T, logs ...*types.Log) []byte {
	raw, err := json.Marshal(logs)
	require.NoError(t, err)
	return raw
}

func TestLogMessagePublishedTopic(t *testing.T) {
	assert.Equal(t,
		common.HexToHash("0x6eb224fb001ed210e379b335e35efe88672a8ce935d981a6896b27ffdf52a3b2"),
		LogMessagePublishedTopic)
}

func TestEVMDeriverDerive(t *testing.T) {
	d := NewEVMDeriver(vaaLib.ChainIDEthereum, goerliCoreBridge, goerliTokenBridge)

	transferLog := &types.Log{
		Address: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Topics:  []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")},
		TxHash:  common.HexToHash("0x01"),
	}
	logs := encodeLogs(t,
		transferLog,
		messageLog(t, goerliCoreBridge, goerliTokenBridge, 42),
	)

	submitted := transfer.Submitted{
		Request: transfer.Request{SourceChain: vaaLib.ChainIDEthereum},
		TxID:    "0x01",
	}
	key, err := d.Derive(submitted, logs)
	require.NoError(t, err)
	assert.Equal(t, vaaLib.ChainIDEthereum, key.EmitterChain)
	assert.Equal(t, PadAddress(goerliTokenBridge), key.EmitterAddress)
	assert.Equal(t, uint64(42), key.Sequence)

	again, err := d.Derive(submitted, logs)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestEVMDeriverSkipsForeignEmitters(t *testing.T) {
	d := NewEVMDeriver(vaaLib.ChainIDEthereum, goerliCoreBridge, goerliTokenBridge)
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	logs := encodeLogs(t,
		messageLog(t, goerliCoreBridge, other, 5),  // another emitter
		messageLog(t, other, goerliTokenBridge, 6), // not the core contract
		messageLog(t, goerliCoreBridge, goerliTokenBridge, 9),
	)

	key, err := d.Derive(transfer.Submitted{TxID: "0x01"}, logs)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), key.Sequence)
}

func TestEVMDeriverInclusionNotFound(t *testing.T) {
	d := NewEVMDeriver(vaaLib.ChainIDEthereum, goerliCoreBridge, goerliTokenBridge)

	malformed := messageLog(t, goerliCoreBridge, goerliTokenBridge, 1)
	malformed.Data = []byte{0x01}

	tests := []struct {
		label string
		logs  []byte
	}{
		{label: "not json", logs: []byte("garbage")},
		{label: "no logs", logs: []byte("[]")},
		{label: "malformed event", logs: encodeLogs(t, malformed)},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			_, err := d.Derive(transfer.Submitted{TxID: "0x01"}, tc.logs)
			assert.ErrorIs(t, err, ErrInclusionNotFound)
		})
	}
}

func TestPadAddress(t *testing.T) {
	padded := PadAddress(goerliTokenBridge)
	assert.Equal(t, "000000000000000000000000f890982f9310df57d00f659cf4fd87e65aded8d7", padded.String())
}
