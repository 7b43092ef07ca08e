package internal

import (
	"errors"
	"fmt"

	"github.com/wormhole-demo/bridge-relay/internal/attestation"
	"github.com/wormhole-demo/bridge-relay/internal/keys"
	"github.com/wormhole-demo/bridge-relay/internal/retry"
	"github.com/wormhole-demo/bridge-relay/internal/submitter"
	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// Stage names the step of a relay at which it failed.
type Stage string

const (
	StageSubmit Stage = "submit"
	StageDerive Stage = "derive"
	StageFetch  Stage = "fetch"
	StageRedeem Stage = "redeem"
)

// RelayError carries enough context to resume a failed relay by hand: the
// source transaction, and the attestation key once it has been derived.
type RelayError struct {
	Stage Stage
	TxID  string
	Key   *transfer.AttestationKey
	Err   error
}

func (e *RelayError) Error() string {
	switch {
	case e.Key != nil:
		return fmt.Sprintf("relay failed at %s (tx %s, key %s): %v", e.Stage, e.TxID, e.Key, e.Err)
	case e.TxID != "":
		return fmt.Sprintf("relay failed at %s (tx %s): %v", e.Stage, e.TxID, e.Err)
	default:
		return fmt.Sprintf("relay failed at %s: %v", e.Stage, e.Err)
	}
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// Outcome labels a relay error for metrics and logs.
func Outcome(err error) string {
	var (
		serviceErr  *attestation.ServiceError
		exhausted   *retry.BudgetExhaustedError
		rejectedErr *submitter.RejectedError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, retry.ErrCancelled):
		return "cancelled"
	case errors.Is(err, keys.ErrInclusionNotFound):
		return "inclusion_not_found"
	case errors.As(err, &exhausted):
		return "budget_exhausted"
	case errors.As(err, &serviceErr):
		return "service_error"
	case errors.As(err, &rejectedErr):
		return "rejected"
	default:
		return "error"
	}
}
