package keys

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// SolanaSequenceLogPrefix is the log line the core bridge prints when it
// posts a message.
const SolanaSequenceLogPrefix = "Program log: Sequence: "

// SeedEmitter is the token bridge PDA seed of its emitter account.
var SeedEmitter = []byte("emitter")

// SolanaEmitterAddress returns the Wormhole emitter address of a Solana
// token bridge program.
func SolanaEmitterAddress(tokenBridge solana.PublicKey) (vaaLib.Address, error) {
	emitter, _, err := solana.FindProgramAddress([][]byte{SeedEmitter}, tokenBridge)
	if err != nil {
		return vaaLib.Address{}, fmt.Errorf("failed to derive emitter PDA: %w", err)
	}
	return vaaLib.Address(emitter), nil
}

// SolanaDeriver reads the sequence number from the log messages of a
// token bridge transfer. Logs are the transaction's log messages joined by
// newlines.
type SolanaDeriver struct {
	emitter vaaLib.Address
}

func NewSolanaDeriver(tokenBridge solana.PublicKey) (*SolanaDeriver, error) {
	emitter, err := SolanaEmitterAddress(tokenBridge)
	if err != nil {
		return nil, err
	}
	return &SolanaDeriver{emitter: emitter}, nil
}

// Emitter returns the emitter address the deriver attributes sequences to.
func (d *SolanaDeriver) Emitter() vaaLib.Address {
	return d.emitter
}

func (d *SolanaDeriver) Derive(submitted transfer.Submitted, logs []byte) (transfer.AttestationKey, error) {
	if submitted.SourceChain != 0 && submitted.SourceChain != vaaLib.ChainIDSolana {
		return transfer.AttestationKey{}, fmt.Errorf("solana deriver cannot derive keys for chain %s", submitted.SourceChain)
	}

	scanner := bufio.NewScanner(bytes.NewReader(logs))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, SolanaSequenceLogPrefix) {
			continue
		}

		raw := strings.TrimPrefix(line, SolanaSequenceLogPrefix)
		sequence, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return transfer.AttestationKey{}, fmt.Errorf("%w: malformed sequence %q in tx %s", ErrInclusionNotFound, raw, submitted.TxID)
		}

		return transfer.AttestationKey{
			EmitterChain:   vaaLib.ChainIDSolana,
			EmitterAddress: d.emitter,
			Sequence:       sequence,
		}, nil
	}
	if err := scanner.Err(); err != nil {
		return transfer.AttestationKey{}, fmt.Errorf("%w: unreadable logs for tx %s: %v", ErrInclusionNotFound, submitted.TxID, err)
	}

	return transfer.AttestationKey{}, fmt.Errorf("%w: tx %s", ErrInclusionNotFound, submitted.TxID)
}
