// Package keys derives the attestation lookup key of a submitted transfer
// from the logs of its confirmed source transaction.
package keys

import (
	"errors"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// ErrInclusionNotFound means the source transaction's logs carry no
// well-formed sequence emission for the configured emitter.
var ErrInclusionNotFound = errors.New("sequence emission not found in transaction logs")

// Deriver computes the AttestationKey of a transfer. Implementations are pure
// functions of the log content; fetching the logs is the caller's job.
type Deriver interface {
	Derive(submitted transfer.Submitted, logs []byte) (transfer.AttestationKey, error)
}
