package submitter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal/clients"
	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

type fakeSolanaBridge struct {
	claimed map[transfer.AttestationKey]bool
	sig     string
	err     error
	redeems int
}

func (f *fakeSolanaBridge) ClaimExists(ctx context.Context, key transfer.AttestationKey) (bool, error) {
	return f.claimed[key], nil
}

func (f *fakeSolanaBridge) Redeem(ctx context.Context, vaaBytes []byte) (string, error) {
	f.redeems++
	return f.sig, f.err
}

func TestSolanaDestinationIsCompleted(t *testing.T) {
	att := testAttestation()
	bridge := &fakeSolanaBridge{claimed: map[transfer.AttestationKey]bool{att.Key: true}}
	d := NewSolanaDestination(zap.NewNop(), bridge, 0)

	completed, err := d.IsCompleted(context.Background(), att)
	require.NoError(t, err)
	assert.True(t, completed)

	other := att
	other.Key.Sequence++
	completed, err = d.IsCompleted(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestSolanaDestinationSubmit(t *testing.T) {
	bridge := &fakeSolanaBridge{sig: "5Gx..sig"}
	d := NewSolanaDestination(zap.NewNop(), bridge, time.Second)

	sig, err := d.SubmitRedemption(context.Background(), testAttestation())
	require.NoError(t, err)
	assert.Equal(t, "5Gx..sig", sig)
	assert.Equal(t, 1, bridge.redeems)
}

func TestSolanaDestinationRefused(t *testing.T) {
	bridge := &fakeSolanaBridge{err: &clients.RedeemRefusedError{Reason: "VAA already executed"}}
	d := NewSolanaDestination(zap.NewNop(), bridge, time.Second)

	_, err := d.SubmitRedemption(context.Background(), testAttestation())
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "VAA already executed", rejected.Reason)
}
