// Package attestation fetches guardian-signed VAAs from a Wormhole
// attestation service and classifies service responses.
package attestation

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"

	"github.com/wormhole-demo/bridge-relay/internal/retry"
	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// ErrNotYetAvailable is the retryable reason recorded while guardians have
// not reached quorum on a message.
var ErrNotYetAvailable = errors.New("signed attestation not yet available")

type Status int

const (
	Found Status = iota + 1
	NotYetAvailable
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotYetAvailable:
		return "not_yet_available"
	default:
		return "unknown"
	}
}

// Outcome is the non-error result of one fetch attempt. Attestation is only
// set when Status is Found.
type Outcome struct {
	Status      Status
	Attestation transfer.SignedAttestation
}

// Fetcher performs a single lookup of the signed attestation for a key.
// Terminal failures are returned as *ServiceError.
type Fetcher interface {
	Fetch(ctx context.Context, key transfer.AttestationKey) (Outcome, error)
}

// ServiceError is a terminal failure reported by, or while reaching, the
// attestation service.
type ServiceError struct {
	Code    codes.Code
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("attestation service error (%s): %s", e.Code, e.Message)
}

type Class int

const (
	Retryable Class = iota + 1
	Terminal
)

// Classification tags a non-success service status.
type Classification struct {
	Class  Class
	Code   codes.Code
	Reason string
}

// Classify decides whether a non-success status may be retried. NotFound,
// meaning the guardians have not published the VAA yet, is the only
// retryable code. Anything else (bad key, auth, unreachable host, timeouts)
// is terminal and must surface to the caller.
func Classify(code codes.Code, message string) Classification {
	if code == codes.NotFound {
		return Classification{Class: Retryable, Code: code, Reason: message}
	}
	return Classification{Class: Terminal, Code: code, Reason: message}
}

// outcomeFor turns a classified status into the fetch result.
func outcomeFor(c Classification) (Outcome, error) {
	if c.Class == Retryable {
		return Outcome{Status: NotYetAvailable}, nil
	}
	return Outcome{}, &ServiceError{Code: c.Code, Message: c.Reason}
}

// PollOperation adapts a Fetcher to the retry scheduler: Found ends polling,
// NotYetAvailable is retried and a ServiceError stops immediately.
func PollOperation(f Fetcher, key transfer.AttestationKey) retry.Operation[transfer.SignedAttestation] {
	return func(ctx context.Context) (transfer.SignedAttestation, error) {
		out, err := f.Fetch(ctx, key)
		if err != nil {
			return transfer.SignedAttestation{}, err
		}

		switch out.Status {
		case Found:
			return out.Attestation, nil
		case NotYetAvailable:
			return transfer.SignedAttestation{}, retry.Retryable(ErrNotYetAvailable)
		default:
			return transfer.SignedAttestation{}, fmt.Errorf("unexpected fetch outcome %d for %s", out.Status, key)
		}
	}
}
