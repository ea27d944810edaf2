package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/relay"
	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/status"
	"cctp-bridge/pkg/types"
)

var allStages = []Stage{
	StageBurnSubmitted,
	StageBurnConfirmed,
	StageAttestationPending,
	StageAttestationReady,
	StageMintSubmitted,
	StageMintConfirmed,
}

type harness struct {
	solana    *fakeChain
	aptos     *fakeChain
	solSigner *fakeSigner
	aptSigner *fakeSigner
	sessions  *chain.StaticSessions
	fetcher   *fakeFetcher
	reporter  *status.Reporter
	relay     *httptest.Server
	relayHits atomic.Int32

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		solana:    newFakeChain(types.DomainSolana),
		aptos:     newFakeChain(types.DomainAptos),
		solSigner: newFakeSigner(types.DomainSolana, testSolanaRecipient),
		aptSigner: newFakeSigner(types.DomainAptos, testAptosRecipient),
		fetcher:   &fakeFetcher{},
		reporter:  status.NewReporter(),
	}
	h.sessions = chain.NewStaticSessions(h.solSigner, h.aptSigner)
	h.relay = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.relayHits.Add(1)
		w.Write([]byte(`{"data":{"transaction":{"hash":"aptos-relay-mint","finalRecipient":"` + testAptosRecipient + `"}}}`))
	}))
	t.Cleanup(h.relay.Close)
	return h
}

func (h *harness) orchestrator(opts ...Option) *Orchestrator {
	registry := chain.NewRegistry(h.solana, h.aptos)
	deps := Dependencies{
		Chains:       registry,
		Sessions:     h.sessions,
		Attestations: h.fetcher,
		Minters: map[types.Domain]Minter{
			types.DomainSolana: NewRelayMinter(relay.NewClient(h.relay.URL, nil), retry.Fixed(3, time.Second), nil, retry.WithSleeper(noSleep)),
			types.DomainAptos:  NewDirectMinter(registry, nil),
		},
		Reporter: h.reporter,
		Logger:   zap.NewNop(),
	}
	cfg := Config{
		ConfirmationAttempts: 3,
		ConfirmationInterval: 2 * time.Second,
		ConfirmationRounds:   1,
		AttestationPolicy: func(types.Domain) retry.Policy {
			return retry.Exponential(15, time.Second, time.Minute, 2)
		},
		ManualMintURL: testManualMintURL,
	}
	opts = append([]Option{WithSleeper(noSleep), WithListener(ListenerFunc(h.record))}, opts...)
	return New(deps, cfg, opts...)
}

func (h *harness) record(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *harness) eventsOf(typ EventType) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func solanaToAptos() types.TransferRequest {
	return types.TransferRequest{
		SourceDomain:         types.DomainSolana,
		DestinationDomain:    types.DomainAptos,
		Amount:               decimal.RequireFromString("2.5"),
		DestinationRecipient: testAptosRecipient,
	}
}

func aptosToSolana() types.TransferRequest {
	return types.TransferRequest{
		SourceDomain:         types.DomainAptos,
		DestinationDomain:    types.DomainSolana,
		Amount:               decimal.RequireFromString("2.5"),
		DestinationRecipient: testSolanaRecipient,
	}
}

// assertRecoveryInvariant checks that failures after a burn carry a link and earlier ones do not
func assertRecoveryInvariant(t *testing.T, state TransferState) {
	t.Helper()
	if state.BurnReceipt != nil {
		require.NotNil(t, state.Recovery)
		assert.Equal(t, state.BurnReceipt.TransactionID, state.Recovery.BurnTransactionID)
	} else {
		assert.Nil(t, state.Recovery)
	}
}

func TestRunSolanaToAptosThroughRelay(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{pendingReply(), readyReply(types.DomainSolana)}

	state, err := h.orchestrator().Run(context.Background(), solanaToAptos())
	require.NoError(t, err)

	assert.Equal(t, StageMintConfirmed, state.Stage)
	assert.Equal(t, allStages, state.Entered)
	assert.Equal(t, "solana-burn-1", state.BurnReceipt.TransactionID)
	assert.Equal(t, "aptos-relay-mint", state.MintReceipt.TransactionID)
	assert.False(t, state.MintReceipt.ConfirmedAt.IsZero())
	assert.Equal(t, 1, state.Attempts[StageAttestationPending])
	assert.Nil(t, state.Recovery)
	assert.Equal(t, int32(1), h.relayHits.Load())
	assert.Equal(t, 1, h.aptos.lookups("aptos-relay-mint"), "relay mint is confirmed on the destination")

	entries := h.reporter.Entries()
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, status.StatusSuccess, e.Status, e.Message)
	}
	assert.Equal(t, "https://explorer.test/solana/solana-burn-1", entries[0].Link)
	assert.Equal(t, "Minted 2.5 USDC to "+testAptosRecipient+" on Aptos", entries[3].Message)
	assert.Equal(t, "https://explorer.test/aptos/aptos-relay-mint", entries[3].Link)
	assert.Len(t, h.eventsOf(EventCompleted), 1)
}

func TestRunAptosToSolanaDirect(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainAptos)}

	state, err := h.orchestrator().Run(context.Background(), aptosToSolana())
	require.NoError(t, err)

	assert.Equal(t, StageMintConfirmed, state.Stage)
	assert.Equal(t, "solana-mint-1", state.MintReceipt.TransactionID)
	assert.Equal(t, 1, h.aptSigner.signCalls(), "burn signed on Aptos")
	assert.Equal(t, 1, h.solSigner.signCalls(), "mint signed on Solana")
	assert.Zero(t, h.relayHits.Load())
}

func TestRunStagesAreMonotonic(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainSolana)}

	_, err := h.orchestrator().Run(context.Background(), solanaToAptos())
	require.NoError(t, err)

	var entered []Stage
	for _, e := range h.eventsOf(EventStageEntered) {
		entered = append(entered, e.Stage)
	}
	assert.Equal(t, allStages, entered)
}

func TestScenarioCStaleSessionDuringMint(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainAptos)}
	h.solSigner.errs = []error{errors.New("WalletNotConnectedError: wallet not connected")}

	state, err := h.orchestrator().Run(context.Background(), aptosToSolana())
	require.NoError(t, err)
	assert.Equal(t, StageMintConfirmed, state.Stage)
	assert.Equal(t, allStages, state.Entered)
	assert.Equal(t, 2, h.solSigner.signCalls())
	assert.Equal(t, []string{"solana-mint-1"}, h.solana.submissions())

	entries := h.reporter.Entries()
	recoveries := 0
	recoveryAt := -1
	for i, e := range entries {
		if strings.Contains(e.Message, "reconnected") {
			recoveries++
			recoveryAt = i
		}
	}
	require.Equal(t, 1, recoveries)
	require.Equal(t, len(entries)-2, recoveryAt)
	assert.Equal(t, status.StatusSuccess, entries[recoveryAt+1].Status)
	assert.Contains(t, entries[recoveryAt+1].Message, "Minted")
}

func TestRunStaleSessionTwiceFails(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainAptos)}
	h.solSigner.errs = []error{errors.New("wallet not connected"), errors.New("wallet not connected")}

	state, err := h.orchestrator().Run(context.Background(), aptosToSolana())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, KindSession, stageErr.Kind)
	assert.Equal(t, StageAttestationReady, state.FailedStage)
	assert.Empty(t, h.solana.submissions())
	assertRecoveryInvariant(t, state)
}

func TestRunMintSignerSwappedDuringWait(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainAptos)}
	req := aptosToSolana()
	req.SourceSigner = testAptosRecipient
	req.DestinationSigner = "SomebodyElseEntirely"

	state, err := h.orchestrator().Run(context.Background(), req)

	require.ErrorIs(t, err, ErrStaleSignerSession)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, KindSession, stageErr.Kind)
	assert.Equal(t, StageAttestationReady, state.FailedStage)
	assert.Zero(t, h.solSigner.signCalls(), "mint is not signed by another account")
	assert.Empty(t, h.solana.submissions())
	assertRecoveryInvariant(t, state)
}

func TestScenarioDAttestationTimeout(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{pendingReply()}

	state, err := h.orchestrator().Run(context.Background(), solanaToAptos())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.ErrorIs(t, err, ErrAttestationTimeout)
	assert.Equal(t, StageAttestationPending, stageErr.Stage)
	assert.Equal(t, KindExhaustion, stageErr.Kind)
	assert.Equal(t, 15, h.fetcher.fetches())

	assert.Equal(t, StageFailed, state.Stage)
	assert.Equal(t, StageAttestationPending, state.FailedStage)
	assert.Equal(t, allStages[:3], state.Entered)
	assert.Nil(t, state.MintReceipt)
	assert.Zero(t, h.relayHits.Load(), "no mint without a ready attestation")

	wantLink := testManualMintURL + "?signature=solana-burn-1&sourceDomain=5&finalRecipient=" + testAptosRecipient
	require.NotNil(t, state.Recovery)
	assert.Equal(t, wantLink, state.Recovery.URL(testManualMintURL))

	last, ok := h.reporter.Last()
	require.True(t, ok)
	assert.Equal(t, status.StatusError, last.Status)
	assert.Equal(t, wantLink, last.Link)

	// the polling line was updated in place, then closed as failed
	entries := h.reporter.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, status.StatusError, entries[2].Status)
	assert.Contains(t, entries[2].Message, "attempt 15/15")
}

func TestRunChainFailureCarriesRecoveryLink(t *testing.T) {
	h := newHarness(t)
	h.solana.statuses = []statusReply{{status: types.Failed("InstructionError")}}

	state, err := h.orchestrator().Run(context.Background(), solanaToAptos())

	assert.ErrorIs(t, err, ErrChainReportedFailure)
	assert.Equal(t, StageBurnSubmitted, state.FailedStage)
	assert.Equal(t, KindProtocol, state.ErrorKind)
	assert.Equal(t, 1, h.solana.lookups("solana-burn-1"))
	assert.Zero(t, h.fetcher.fetches())
	assertRecoveryInvariant(t, state)
}

func TestRunConfirmationRounds(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainSolana)}
	// still pending after the first budget of 3 polls, final in the second round
	h.solana.statuses = []statusReply{
		{status: types.Pending()}, {status: types.Pending()}, {status: types.Pending()},
		{status: types.Confirmed()},
	}

	o := h.orchestrator()
	o.cfg.ConfirmationRounds = 2
	state, err := o.Run(context.Background(), solanaToAptos())

	require.NoError(t, err)
	assert.Equal(t, StageMintConfirmed, state.Stage)
	assert.Equal(t, 4, h.solana.lookups("solana-burn-1"))
}

func TestRunFailureBeforeBurnHasNoLink(t *testing.T) {
	h := newHarness(t)
	h.solana.submitErrs = []error{errors.New("blockhash not found")}

	state, err := h.orchestrator().Run(context.Background(), solanaToAptos())

	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Equal(t, StageIdle, state.FailedStage)
	assert.Empty(t, state.Entered)
	assertRecoveryInvariant(t, state)

	entries := h.reporter.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, status.StatusError, entries[0].Status)
	assert.Equal(t, status.StatusError, entries[1].Status)
	assert.Empty(t, entries[1].Link)
}

func TestRunUserDeclined(t *testing.T) {
	h := newHarness(t)
	h.solSigner.errs = []error{types.ErrSigningRejected}

	state, err := h.orchestrator().Run(context.Background(), solanaToAptos())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, KindUserDeclined, stageErr.Kind)
	assert.Nil(t, state.Recovery)
	assert.Empty(t, h.solana.submissions())

	entries := h.reporter.Entries()
	require.Len(t, entries, 1, "decline closes the pending line without a new entry")
	assert.Equal(t, status.StatusError, entries[0].Status)
	assert.Empty(t, entries[0].Link)
}

func TestRunInvalidAmount(t *testing.T) {
	h := newHarness(t)
	req := solanaToAptos()
	req.Amount = decimal.Zero

	state, err := h.orchestrator().Run(context.Background(), req)

	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, StageIdle, state.FailedStage)
	assert.Zero(t, h.solSigner.signCalls())
}

func TestRunCancelledDuringAttestation(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{pendingReply()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.onFetch = func(call int) {
		if call == 2 {
			cancel()
		}
	}

	state, err := h.orchestrator().Run(ctx, solanaToAptos())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCancelled, state.ErrorKind)
	assert.Equal(t, 2, h.fetcher.fetches())
	assertRecoveryInvariant(t, state)
}

func TestResumeFromRecoveryLink(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainSolana)}

	link, err := ParseRecoveryLink(testManualMintURL + "?signature=5xBurn&sourceDomain=5&finalRecipient=" + testAptosRecipient)
	require.NoError(t, err)

	state, err := h.orchestrator().Resume(context.Background(), link)
	require.NoError(t, err)

	assert.Equal(t, StageMintConfirmed, state.Stage)
	assert.Equal(t, allStages[2:], state.Entered, "resume never re-enters burn stages")
	assert.Equal(t, "5xBurn", state.BurnReceipt.TransactionID)
	assert.Empty(t, h.solana.submissions(), "no second burn")
	assert.Zero(t, h.solSigner.signCalls())

	last, _ := h.reporter.Last()
	assert.Contains(t, last.Message, "2.5 USDC")
}

func TestResumePollsByAttestationID(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainSolana)}
	link := RecoveryLink{BurnTransactionID: " 5xBurn\n", SourceDomain: types.DomainSolana, DestinationRecipient: testAptosRecipient}

	state, err := h.orchestrator().Resume(context.Background(), link)
	require.NoError(t, err)
	require.NotNil(t, state.Attestation)
	assert.Equal(t, "5xBurn", state.Attestation.TransactionID)
}

func TestResumeMalformedBurnID(t *testing.T) {
	h := newHarness(t)
	link := RecoveryLink{BurnTransactionID: "bad-signature", SourceDomain: types.DomainSolana, DestinationRecipient: testAptosRecipient}

	state, err := h.orchestrator().Resume(context.Background(), link)

	assert.ErrorIs(t, err, chain.ErrInvalidTransactionID)
	assert.Equal(t, KindProtocol, state.ErrorKind)
	assert.Zero(t, h.fetcher.fetches())
	assertRecoveryInvariant(t, state)
}

func TestResumeInvalidLink(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator().Resume(context.Background(), RecoveryLink{SourceDomain: types.DomainSolana})
	assert.ErrorIs(t, err, ErrInvalidRecoveryLink)
	assert.Zero(t, h.fetcher.fetches())
}

func TestOrchestratorIsSingleUse(t *testing.T) {
	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainSolana)}
	o := h.orchestrator()

	res := <-o.Start(context.Background(), solanaToAptos())
	require.NoError(t, res.Err)
	assert.Equal(t, StageMintConfirmed, res.State.Stage)
	assert.Equal(t, StageMintConfirmed, o.State().Stage)

	_, err := o.Run(context.Background(), solanaToAptos())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestMetricsListener(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	h := newHarness(t)
	h.fetcher.replies = []fetchReply{readyReply(types.DomainAptos)}
	_, err := h.orchestrator(WithListener(metrics)).Run(context.Background(), aptosToSolana())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("aptos->solana", string(StageMintConfirmed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.completed.WithLabelValues("aptos->solana")))

	failing := newHarness(t)
	failing.fetcher.replies = []fetchReply{pendingReply()}
	_, err = failing.orchestrator(WithListener(metrics)).Run(context.Background(), solanaToAptos())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues(string(StageAttestationPending), string(KindExhaustion))))
	assert.Equal(t, 14.0, testutil.ToFloat64(metrics.retries.WithLabelValues(string(StageAttestationPending))))
}
