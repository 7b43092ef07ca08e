package keys

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

const logMessagePublishedABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
		{"indexed": false, "internalType": "uint64", "name": "sequence", "type": "uint64"},
		{"indexed": false, "internalType": "uint32", "name": "nonce", "type": "uint32"},
		{"indexed": false, "internalType": "bytes", "name": "payload", "type": "bytes"},
		{"indexed": false, "internalType": "uint8", "name": "consistencyLevel", "type": "uint8"}
	],
	"name": "LogMessagePublished",
	"type": "event"
}]`

// CoreBridgeABI holds the LogMessagePublished event of the Wormhole core contract.
var CoreBridgeABI = mustParseABI(logMessagePublishedABI)

// LogMessagePublishedTopic is the event signature hash of LogMessagePublished.
var LogMessagePublishedTopic = CoreBridgeABI.Events["LogMessagePublished"].ID

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// PadAddress left-pads an EVM address to a Wormhole address.
func PadAddress(addr common.Address) vaaLib.Address {
	var out vaaLib.Address
	copy(out[12:], addr.Bytes())
	return out
}

// EVMDeriver extracts the sequence from the LogMessagePublished event the
// core contract emits for a token bridge transfer. Logs are the JSON encoded
// receipt logs of the transaction.
type EVMDeriver struct {
	chain       vaaLib.ChainID
	coreBridge  common.Address
	tokenBridge common.Address
}

func NewEVMDeriver(chain vaaLib.ChainID, coreBridge, tokenBridge common.Address) *EVMDeriver {
	return &EVMDeriver{
		chain:       chain,
		coreBridge:  coreBridge,
		tokenBridge: tokenBridge,
	}
}

func (d *EVMDeriver) Derive(submitted transfer.Submitted, logs []byte) (transfer.AttestationKey, error) {
	if submitted.SourceChain != 0 && submitted.SourceChain != d.chain {
		return transfer.AttestationKey{}, fmt.Errorf("deriver for chain %s cannot derive keys for chain %s", d.chain, submitted.SourceChain)
	}

	var receiptLogs []*types.Log
	if err := json.Unmarshal(logs, &receiptLogs); err != nil {
		return transfer.AttestationKey{}, fmt.Errorf("%w: unreadable logs for tx %s: %v", ErrInclusionNotFound, submitted.TxID, err)
	}

	for _, l := range receiptLogs {
		if l == nil || l.Address != d.coreBridge {
			continue
		}
		if len(l.Topics) < 2 || l.Topics[0] != LogMessagePublishedTopic {
			continue
		}

		sender := common.BytesToAddress(l.Topics[1].Bytes())
		if sender != d.tokenBridge {
			continue
		}

		values, err := CoreBridgeABI.Unpack("LogMessagePublished", l.Data)
		if err != nil {
			return transfer.AttestationKey{}, fmt.Errorf("%w: malformed LogMessagePublished in tx %s: %v", ErrInclusionNotFound, submitted.TxID, err)
		}
		sequence, ok := values[0].(uint64)
		if !ok {
			return transfer.AttestationKey{}, fmt.Errorf("%w: unexpected sequence type %T in tx %s", ErrInclusionNotFound, values[0], submitted.TxID)
		}

		return transfer.AttestationKey{
			EmitterChain:   d.chain,
			EmitterAddress: PadAddress(sender),
			Sequence:       sequence,
		}, nil
	}

	return transfer.AttestationKey{}, fmt.Errorf("%w: tx %s", ErrInclusionNotFound, submitted.TxID)
}
