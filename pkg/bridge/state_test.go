package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cctp-bridge/pkg/types"
)

func TestTransferStateAdvance(t *testing.T) {
	s := newTransferState("t1")

	for _, stage := range stageOrder[1:] {
		require.NoError(t, s.advance(stage))
	}
	assert.Equal(t, StageMintConfirmed, s.Stage)
	assert.Equal(t, stageOrder[1:], s.Entered)

	assert.ErrorIs(t, s.advance(StageMintConfirmed), ErrInvalidTransition)
}

func TestTransferStateRejectsSkipsAndReentry(t *testing.T) {
	s := newTransferState("t1")

	assert.ErrorIs(t, s.advance(StageBurnConfirmed), ErrInvalidTransition, "skipping a stage")
	require.NoError(t, s.advance(StageBurnSubmitted))
	assert.ErrorIs(t, s.advance(StageBurnSubmitted), ErrInvalidTransition, "re-entering a stage")
	assert.ErrorIs(t, s.advance(StageIdle), ErrInvalidTransition, "going back")
	assert.Equal(t, []Stage{StageBurnSubmitted}, s.Entered)
}

func TestTransferStateFail(t *testing.T) {
	s := newTransferState("t1")
	require.NoError(t, s.advance(StageBurnSubmitted))

	boom := errors.New("boom")
	s.fail(boom, KindTransient)
	assert.Equal(t, StageFailed, s.Stage)
	assert.Equal(t, StageBurnSubmitted, s.FailedStage)
	assert.Equal(t, boom, s.LastError)

	// terminal states stay put
	s.fail(errors.New("again"), KindProtocol)
	assert.Equal(t, boom, s.LastError)
	assert.ErrorIs(t, s.advance(StageBurnConfirmed), ErrInvalidTransition)
}

func TestTransferStateSnapshotIsDeep(t *testing.T) {
	s := newTransferState("t1")
	require.NoError(t, s.advance(StageBurnSubmitted))
	s.BurnReceipt = &types.BurnReceipt{TransactionID: "burn"}
	s.Attempts[StageBurnSubmitted] = 2

	snap := s.Snapshot()
	s.BurnReceipt.TransactionID = "changed"
	s.Attempts[StageBurnSubmitted] = 5
	s.Entered[0] = StageFailed

	assert.Equal(t, "burn", snap.BurnReceipt.TransactionID)
	assert.Equal(t, 2, snap.Attempts[StageBurnSubmitted])
	assert.Equal(t, StageBurnSubmitted, snap.Entered[0])
}
