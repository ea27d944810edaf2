package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/types"
)

type burnFixture struct {
	solana   *fakeChain
	aptos    *fakeChain
	signer   *fakeSigner
	executor *BurnExecutor
}

func newBurnFixture() *burnFixture {
	f := &burnFixture{
		solana: newFakeChain(types.DomainSolana),
		aptos:  newFakeChain(types.DomainAptos),
		signer: newFakeSigner(types.DomainSolana, "SoLSigner"),
	}
	f.executor = NewBurnExecutor(chain.NewRegistry(f.solana, f.aptos), chain.NewStaticSessions(f.signer), zap.NewNop())
	return f
}

func burnRequest(amount string) types.TransferRequest {
	return types.TransferRequest{
		ID:                   "t1",
		SourceDomain:         types.DomainSolana,
		DestinationDomain:    types.DomainAptos,
		Amount:               decimal.RequireFromString(amount),
		DestinationRecipient: testAptosRecipient,
	}
}

func TestSubmitBurn(t *testing.T) {
	f := newBurnFixture()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.executor.now = func() time.Time { return at }

	receipt, err := f.executor.SubmitBurn(context.Background(), burnRequest("2.5"))
	require.NoError(t, err)

	assert.Equal(t, "solana-burn-1", receipt.TransactionID)
	assert.Equal(t, types.DomainSolana, receipt.SourceDomain)
	assert.Equal(t, at, receipt.SubmittedAt)
	assert.Equal(t, 1, f.signer.signCalls())
}

func TestSubmitBurnInvalidAmount(t *testing.T) {
	for _, amount := range []string{"0", "-1", "1.0000001"} {
		f := newBurnFixture()
		_, err := f.executor.SubmitBurn(context.Background(), burnRequest(amount))

		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
		assert.Zero(t, f.signer.signCalls(), "nothing is signed for %s", amount)
		assert.Empty(t, f.solana.submissions())
	}
}

func TestSubmitBurnSigningRejected(t *testing.T) {
	f := newBurnFixture()
	f.signer.errs = []error{errors.New("User rejected the request")}

	_, err := f.executor.SubmitBurn(context.Background(), burnRequest("1"))

	assert.ErrorIs(t, err, ErrSigningRejected)
	assert.Empty(t, f.solana.submissions(), "no broadcast without a signature")
}

func TestSubmitBurnSigningFailed(t *testing.T) {
	f := newBurnFixture()
	f.signer.errs = []error{errors.New("failed to sign transaction: hardware wallet error 0x6985")}

	_, err := f.executor.SubmitBurn(context.Background(), burnRequest("1"))

	assert.ErrorIs(t, err, ErrSigningFailed)
	assert.NotEqual(t, KindUserDeclined, Classify(err))
	assert.Contains(t, err.Error(), "hardware wallet error")
	assert.Empty(t, f.solana.submissions())
}

func TestSubmitBurnSignatureIgnoresCancellation(t *testing.T) {
	f := newBurnFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.executor.SubmitBurn(ctx, burnRequest("1"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.signer.signCalls())
	assert.NoError(t, f.signer.sawCtxErr, "signature prompt is not cancelled")
	assert.Empty(t, f.solana.submissions(), "abandoned transfer is not broadcast")
}

func TestSubmitBurnSubmissionFailed(t *testing.T) {
	f := newBurnFixture()
	f.solana.submitErrs = []error{errors.New("rpc unavailable")}

	_, err := f.executor.SubmitBurn(context.Background(), burnRequest("1"))

	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Equal(t, KindTransient, Classify(err))
}

func TestSubmitBurnSignerMismatch(t *testing.T) {
	f := newBurnFixture()
	req := burnRequest("1")
	req.SourceSigner = "SomebodyElse"

	_, err := f.executor.SubmitBurn(context.Background(), req)

	assert.ErrorIs(t, err, ErrStaleSignerSession)
	assert.Zero(t, f.signer.signCalls())
}

func TestSubmitBurnReconnectsStaleSession(t *testing.T) {
	f := newBurnFixture()
	sessions := chain.NewStaticSessions(f.signer)
	sessions.Disconnect(types.DomainSolana)
	f.executor.sessions = sessions

	_, err := f.executor.SubmitBurn(context.Background(), burnRequest("1"))
	require.NoError(t, err)
}
