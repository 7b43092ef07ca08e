package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"

	"github.com/wormhole-demo/bridge-relay/internal/attestation"
	"github.com/wormhole-demo/bridge-relay/internal/keys"
	"github.com/wormhole-demo/bridge-relay/internal/retry"
	"github.com/wormhole-demo/bridge-relay/internal/submitter"
	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

type fakeSource struct {
	txID      string
	submitErr error
	logs      []byte
	submits   int
	lookups   []string
}

func (f *fakeSource) SubmitTransfer(ctx context.Context, req transfer.Request) (transfer.Submitted, error) {
	f.submits++
	if f.submitErr != nil {
		return transfer.Submitted{}, f.submitErr
	}
	return transfer.Submitted{Request: req, TxID: f.txID, Slot: 100}, nil
}

func (f *fakeSource) SubmitAttestation(ctx context.Context, req transfer.AttestRequest) (transfer.Submitted, error) {
	f.submits++
	if f.submitErr != nil {
		return transfer.Submitted{}, f.submitErr
	}
	return transfer.Submitted{Request: req.Request(), TxID: f.txID, Slot: 100}, nil
}

func (f *fakeSource) TransactionLogs(ctx context.Context, txID string) ([]byte, error) {
	f.lookups = append(f.lookups, txID)
	return f.logs, nil
}

type fixedDeriver struct {
	key   transfer.AttestationKey
	calls int
}

func (d *fixedDeriver) Derive(submitted transfer.Submitted, logs []byte) (transfer.AttestationKey, error) {
	d.calls++
	return d.key, nil
}

// scriptedFetcher returns NotYetAvailable until foundOn, then Found. A zero
// foundOn never finds anything.
type scriptedFetcher struct {
	foundOn int
	err     error
	payload []byte
	calls   int
}

func (f *scriptedFetcher) Fetch(ctx context.Context, key transfer.AttestationKey) (attestation.Outcome, error) {
	f.calls++
	if f.err != nil {
		return attestation.Outcome{}, f.err
	}
	if f.foundOn == 0 || f.calls < f.foundOn {
		return attestation.Outcome{Status: attestation.NotYetAvailable}, nil
	}
	return attestation.Outcome{
		Status:      attestation.Found,
		Attestation: transfer.SignedAttestation{Key: key, Raw: f.payload, Payload: f.payload},
	}, nil
}

type fakeDestination struct {
	completed bool
	txID      string
	submitErr error
	submitted []transfer.SignedAttestation
}

func (f *fakeDestination) IsCompleted(ctx context.Context, att transfer.SignedAttestation) (bool, error) {
	return f.completed, nil
}

func (f *fakeDestination) SubmitRedemption(ctx context.Context, att transfer.SignedAttestation) (string, error) {
	f.submitted = append(f.submitted, att)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.completed = true
	return f.txID, nil
}

const chainA, chainB = vaaLib.ChainIDSolana, vaaLib.ChainIDEthereum

func testRequest() transfer.Request {
	return transfer.Request{
		SourceChain:      chainA,
		DestinationChain: chainB,
		Asset:            "So11111111111111111111111111111111111111112",
		Amount:           10000,
	}
}

func testKey() transfer.AttestationKey {
	key := transfer.AttestationKey{EmitterChain: chainA, Sequence: 42}
	key.EmitterAddress[31] = 0xee
	return key
}

type harness struct {
	source  *fakeSource
	deriver *fixedDeriver
	fetcher *scriptedFetcher
	dest    *fakeDestination
	orch    *Orchestrator
}

func newHarness(t *testing.T, maxAttempts int, fetcher *scriptedFetcher) *harness {
	h := &harness{
		source:  &fakeSource{txID: "tx1"},
		deriver: &fixedDeriver{key: testKey()},
		fetcher: fetcher,
		dest:    &fakeDestination{txID: "tx2"},
	}

	logger := zaptest.NewLogger(t)
	orch, err := NewOrchestrator(logger, h.source, h.deriver, h.fetcher,
		submitter.NewRedeemer(logger, h.dest), retry.Fixed(maxAttempts, time.Millisecond))
	require.NoError(t, err)
	h.orch = orch
	return h
}

func TestRelayRedeemsAfterThreeFetches(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{foundOn: 3, payload: []byte("payload")})

	result, err := h.orch.Relay(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, transfer.StatusRedeemed, result.Status)
	assert.Equal(t, "tx2", result.DestinationTxID)
	assert.Equal(t, testKey(), result.Key)
	assert.Equal(t, 3, h.fetcher.calls)
	assert.Equal(t, 1, h.source.submits)
	assert.Equal(t, []string{"tx1"}, h.source.lookups)
	require.Len(t, h.dest.submitted, 1)
	assert.Equal(t, []byte("payload"), h.dest.submitted[0].Raw)
}

func TestRelayBudgetExhausted(t *testing.T) {
	h := newHarness(t, 2, &scriptedFetcher{})

	_, err := h.orch.Relay(context.Background(), testRequest())

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, StageFetch, relayErr.Stage)
	assert.Equal(t, "tx1", relayErr.TxID)
	require.NotNil(t, relayErr.Key)
	assert.Equal(t, testKey(), *relayErr.Key)

	var exhausted *retry.BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, attestation.ErrNotYetAvailable)
	assert.Equal(t, 2, h.fetcher.calls)
	assert.Empty(t, h.dest.submitted)
	assert.Equal(t, "budget_exhausted", Outcome(err))
}

func TestRelayServiceErrorStopsAfterOneAttempt(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{err: &attestation.ServiceError{Code: codes.PermissionDenied, Message: "denied"}})

	_, err := h.orch.Relay(context.Background(), testRequest())

	var serviceErr *attestation.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, codes.PermissionDenied, serviceErr.Code)
	assert.Equal(t, 1, h.fetcher.calls)
	assert.Equal(t, "service_error", Outcome(err))
}

func TestRelaySubmitFailure(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{foundOn: 1})
	h.source.submitErr = errors.New("insufficient funds")

	_, err := h.orch.Relay(context.Background(), testRequest())

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, StageSubmit, relayErr.Stage)
	assert.Nil(t, relayErr.Key)
	assert.Empty(t, h.source.lookups)
	assert.Equal(t, 0, h.fetcher.calls)
}

func TestRelayAlreadyRedeemed(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{foundOn: 1})
	h.dest.completed = true

	result, err := h.orch.Relay(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusAlreadyRedeemed, result.Status)
	assert.Empty(t, h.dest.submitted)
}

func TestRelayRejected(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{foundOn: 1})
	h.dest.submitErr = &submitter.RejectedError{Reason: "invalid VAA"}

	_, err := h.orch.Relay(context.Background(), testRequest())

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, StageRedeem, relayErr.Stage)
	var rejected *submitter.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Len(t, h.dest.submitted, 1)
	assert.Equal(t, "rejected", Outcome(err))
}

func TestRelayCancelled(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Relay(ctx, testRequest())

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, StageFetch, relayErr.Stage)
	assert.ErrorIs(t, err, retry.ErrCancelled)
	assert.Equal(t, 0, h.fetcher.calls)
	assert.Equal(t, "cancelled", Outcome(err))
}

func TestResumeSkipsSubmission(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{foundOn: 2})

	submitted := transfer.Submitted{Request: testRequest(), TxID: "tx1"}
	first, err := h.orch.Resume(context.Background(), submitted)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusRedeemed, first.Status)

	// Resuming a finished relay finds it completed and submits nothing.
	second, err := h.orch.Resume(context.Background(), submitted)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusAlreadyRedeemed, second.Status)

	assert.Equal(t, 0, h.source.submits)
	assert.Equal(t, 2, h.deriver.calls)
	assert.Len(t, h.dest.submitted, 1)
}

func TestResumeKey(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{foundOn: 1})

	result, err := h.orch.ResumeKey(context.Background(), testKey())
	require.NoError(t, err)
	assert.Equal(t, "tx2", result.DestinationTxID)
	assert.Equal(t, 0, h.source.submits)
	assert.Empty(t, h.source.lookups)
	assert.Equal(t, 0, h.deriver.calls)
}

func TestResumeWithSolanaLogs(t *testing.T) {
	tokenBridge := solana.MustPublicKeyFromBase58("DZnkkTmCiFWfYTfT41X3Rd1kDgozqzxWaHqsw6W4x2oe")
	deriver, err := keys.NewSolanaDeriver(tokenBridge)
	require.NoError(t, err)

	source := &fakeSource{logs: []byte("Program log: Instruction: TransferNative\nProgram log: Sequence: 42\n")}
	fetcher := &scriptedFetcher{foundOn: 1}
	dest := &fakeDestination{txID: "tx2"}
	orch, err := NewOrchestrator(zap.NewNop(), source, deriver, fetcher,
		submitter.NewRedeemer(zap.NewNop(), dest), retry.Fixed(3, time.Millisecond))
	require.NoError(t, err)

	result, err := orch.Resume(context.Background(), transfer.Submitted{Request: testRequest(), TxID: "tx1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), result.Key.Sequence)
	assert.Equal(t, vaaLib.ChainIDSolana, result.Key.EmitterChain)
	assert.Equal(t, deriver.Emitter(), result.Key.EmitterAddress)

	source.logs = []byte("Program log: Instruction: TransferNative\n")
	_, err = orch.Resume(context.Background(), transfer.Submitted{Request: testRequest(), TxID: "tx3"})
	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, StageDerive, relayErr.Stage)
	assert.ErrorIs(t, err, keys.ErrInclusionNotFound)
	assert.Equal(t, "inclusion_not_found", Outcome(err))
}

func TestNewOrchestratorRejectsInvalidPolicy(t *testing.T) {
	_, err := NewOrchestrator(zap.NewNop(), &fakeSource{}, &fixedDeriver{}, &scriptedFetcher{},
		submitter.NewRedeemer(zap.NewNop(), &fakeDestination{}), retry.Fixed(0, time.Second))
	assert.Error(t, err)
}

func TestRelayErrorMessage(t *testing.T) {
	key := testKey()
	err := &RelayError{Stage: StageFetch, TxID: "tx1", Key: &key, Err: errors.New("boom")}
	assert.Contains(t, err.Error(), "fetch")
	assert.Contains(t, err.Error(), key.String())
	assert.Equal(t, "relay failed at submit: boom", (&RelayError{Stage: StageSubmit, Err: errors.New("boom")}).Error())
}

func testAttestRequest() transfer.AttestRequest {
	return transfer.AttestRequest{
		SourceChain:      chainA,
		DestinationChain: chainB,
		Asset:            "So11111111111111111111111111111111111111112",
		Nonce:            7,
	}
}

func TestAttestRegistersAsset(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{foundOn: 2, payload: []byte("meta")})

	result, err := h.orch.Attest(context.Background(), testAttestRequest())
	require.NoError(t, err)

	assert.Equal(t, transfer.StatusRedeemed, result.Status)
	assert.Equal(t, "tx2", result.DestinationTxID)
	assert.Equal(t, testKey(), result.Key)
	assert.Equal(t, 1, h.source.submits)
	assert.Equal(t, []string{"tx1"}, h.source.lookups)
	assert.Equal(t, 1, h.deriver.calls)
	require.Len(t, h.dest.submitted, 1)
	assert.Equal(t, []byte("meta"), h.dest.submitted[0].Raw)
}

func TestAttestSubmitFailure(t *testing.T) {
	h := newHarness(t, 5, &scriptedFetcher{foundOn: 1})
	h.source.submitErr = errors.New("mint not found")

	_, err := h.orch.Attest(context.Background(), testAttestRequest())

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, StageSubmit, relayErr.Stage)
	assert.Empty(t, h.source.lookups)
	assert.Equal(t, 0, h.fetcher.calls)
	assert.Empty(t, h.dest.submitted)
}
