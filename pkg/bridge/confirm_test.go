package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/types"
)

type waitRecorder struct {
	waits []time.Duration
}

func (w *waitRecorder) sleep(ctx context.Context, d time.Duration) error {
	w.waits = append(w.waits, d)
	return ctx.Err()
}

func newTestWaiter(c *fakeChain, sleeper retry.Sleeper) *ConfirmationWaiter {
	return NewConfirmationWaiter(chain.NewRegistry(c), zap.NewNop(), retry.WithSleeper(sleeper))
}

func TestScenarioBChainFailureIsImmediate(t *testing.T) {
	solana := newFakeChain(types.DomainSolana)
	solana.statuses = []statusReply{{status: types.Failed(`{"InstructionError":[0,{"Custom":1}]}`)}}
	rec := &waitRecorder{}

	err := newTestWaiter(solana, rec.sleep).AwaitConfirmation(context.Background(),
		types.BurnReceipt{TransactionID: "sig", SourceDomain: types.DomainSolana}, 30, 2*time.Second)

	assert.ErrorIs(t, err, ErrChainReportedFailure)
	assert.NotErrorIs(t, err, ErrConfirmationTimeout)
	assert.Contains(t, err.Error(), "InstructionError")
	assert.Equal(t, 1, solana.lookups("sig"))
	assert.Empty(t, rec.waits)
}

func TestAwaitConfirmationPollsUntilFinal(t *testing.T) {
	aptos := newFakeChain(types.DomainAptos)
	aptos.statuses = []statusReply{
		{status: types.Pending()},
		{err: errors.New("node overloaded")},
		{status: types.Confirmed()},
	}
	rec := &waitRecorder{}

	err := newTestWaiter(aptos, rec.sleep).Await(context.Background(), types.DomainAptos, "0xabc", 30, 2*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 3, aptos.lookups("0xabc"))
	// first poll is immediate, then a fixed interval
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.waits)
}

func TestAwaitConfirmationTimeout(t *testing.T) {
	solana := newFakeChain(types.DomainSolana)
	solana.statuses = []statusReply{{status: types.Pending()}}

	err := newTestWaiter(solana, noSleep).Await(context.Background(), types.DomainSolana, "sig", 30, 2*time.Second)

	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.Equal(t, KindExhaustion, Classify(err))
	assert.Equal(t, 30, solana.lookups("sig"))
}

func TestAwaitConfirmationCancelled(t *testing.T) {
	solana := newFakeChain(types.DomainSolana)
	solana.statuses = []statusReply{{status: types.Pending()}}

	ctx, cancel := context.WithCancel(context.Background())
	cancelling := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := newTestWaiter(solana, cancelling).Await(ctx, types.DomainSolana, "sig", 30, time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, solana.lookups("sig"))
}

func TestAwaitConfirmationUnknownDomain(t *testing.T) {
	err := newTestWaiter(newFakeChain(types.DomainSolana), noSleep).Await(context.Background(), types.DomainAptos, "x", 1, time.Second)
	assert.ErrorIs(t, err, chain.ErrUnsupportedDomain)
}
