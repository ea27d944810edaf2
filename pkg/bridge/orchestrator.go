package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cctp-bridge/pkg/attestation"
	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/status"
	"cctp-bridge/pkg/types"
)

// Config holds the polling budgets of one transfer
type Config struct {
	ConfirmationAttempts int
	ConfirmationInterval time.Duration
	// ConfirmationRounds is how many full confirmation budgets are spent before giving up
	ConfirmationRounds int
	AttestationPolicy  func(source types.Domain) retry.Policy
	ManualMintURL      string
}

// DefaultConfig returns the budgets used when nothing is configured
func DefaultConfig() Config {
	return Config{
		ConfirmationAttempts: DefaultConfirmationAttempts,
		ConfirmationInterval: DefaultConfirmationInterval,
		ConfirmationRounds:   1,
		AttestationPolicy:    attestation.DefaultPolicy,
	}
}

// Dependencies are the shared, stateless collaborators of an orchestrator
type Dependencies struct {
	Chains       chain.Registry
	Sessions     chain.SessionProvider
	Attestations attestation.Fetcher
	// Minters is keyed by the burn's source domain
	Minters  map[types.Domain]Minter
	Lookup   MintLookup
	Reporter *status.Reporter
	Logger   *zap.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithListener subscribes l to transfer events
func WithListener(l Listener) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithSleeper replaces every wait of the transfer, mostly for tests
func WithSleeper(s retry.Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Result is delivered by Start when the transfer ends
type Result struct {
	State TransferState
	Err   error
}

// Orchestrator drives one transfer from burn to mint. It is single use.
type Orchestrator struct {
	cfg       Config
	chains    chain.Registry
	sessions  chain.SessionProvider
	reporter  *status.Reporter
	logger    *zap.Logger
	listeners []Listener
	sleep     retry.Sleeper
	now       func() time.Time

	burner *BurnExecutor
	waiter *ConfirmationWaiter
	poller *attestation.Poller
	minter *MintExecutor

	started atomic.Bool

	mu    sync.RWMutex
	req   types.TransferRequest
	state *TransferState
	// live lists the sessions that must survive until the mint
	live []SessionPin
}

// New creates an orchestrator for a single transfer
func New(deps Dependencies, cfg Config, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.ConfirmationAttempts <= 0 {
		cfg.ConfirmationAttempts = defaults.ConfirmationAttempts
	}
	if cfg.ConfirmationInterval <= 0 {
		cfg.ConfirmationInterval = defaults.ConfirmationInterval
	}
	if cfg.ConfirmationRounds <= 0 {
		cfg.ConfirmationRounds = defaults.ConfirmationRounds
	}
	if cfg.AttestationPolicy == nil {
		cfg.AttestationPolicy = defaults.AttestationPolicy
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = status.NewReporter()
	}

	o := &Orchestrator{
		cfg:      cfg,
		chains:   deps.Chains,
		sessions: deps.Sessions,
		reporter: reporter,
		logger:   logger,
		sleep:    retry.Sleep,
		now:      time.Now,
		state:    newTransferState(""),
	}
	for _, opt := range opts {
		opt(o)
	}

	retryOpts := []retry.Option{retry.WithSleeper(o.sleep)}
	o.burner = NewBurnExecutor(deps.Chains, deps.Sessions, logger)
	o.burner.now = o.now
	o.waiter = NewConfirmationWaiter(deps.Chains, logger, retryOpts...)
	o.poller = attestation.NewPoller(deps.Attestations, logger, retryOpts...)
	o.minter = NewMintExecutor(deps.Sessions, deps.Minters, deps.Lookup, logger)
	return o
}

// Reporter returns the action log of the transfer
func (o *Orchestrator) Reporter() *status.Reporter {
	return o.reporter
}

// State returns a snapshot of the transfer state
func (o *Orchestrator) State() TransferState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Snapshot()
}

// Start runs the transfer in its own goroutine
func (o *Orchestrator) Start(ctx context.Context, req types.TransferRequest) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		state, err := o.Run(ctx, req)
		out <- Result{State: state, Err: err}
	}()
	return out
}

// Run burns, waits for finality and the attestation, then mints. The returned
// error is a *StageError; once the burn exists the state carries a recovery link.
func (o *Orchestrator) Run(ctx context.Context, req types.TransferRequest) (TransferState, error) {
	if !o.started.CompareAndSwap(false, true) {
		return TransferState{}, ErrAlreadyStarted
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	o.mu.Lock()
	o.req = req
	o.state = newTransferState(req.ID)
	o.live = []SessionPin{{Domain: req.SourceDomain, Address: req.SourceSigner}}
	o.mu.Unlock()

	o.logger.Info("transfer started",
		zap.String("transfer", req.ID),
		zap.Stringer("source", req.SourceDomain),
		zap.Stringer("destination", req.DestinationDomain),
		zap.String("amount", req.Amount.String()),
		zap.String("recipient", req.DestinationRecipient))

	if err := req.Validate(); err != nil {
		return o.terminate(err)
	}

	return o.runSteps(ctx, o.burn, o.confirmBurn, o.awaitAttestation, o.mint)
}

// Resume picks up a burned but unminted transfer at the attestation wait
func (o *Orchestrator) Resume(ctx context.Context, link RecoveryLink) (TransferState, error) {
	if !o.started.CompareAndSwap(false, true) {
		return TransferState{}, ErrAlreadyStarted
	}

	req := types.TransferRequest{
		ID:                   uuid.New().String(),
		SourceDomain:         link.SourceDomain,
		DestinationDomain:    link.SourceDomain.Counterpart(),
		DestinationRecipient: link.DestinationRecipient,
	}

	o.mu.Lock()
	o.req = req
	o.state = newTransferState(req.ID)
	o.mu.Unlock()

	if err := link.Validate(); err != nil {
		return o.terminate(err)
	}

	o.mu.Lock()
	// the burn is already final; no stage before the attestation wait is entered
	o.state.BurnReceipt = &types.BurnReceipt{
		TransactionID: link.BurnTransactionID,
		SourceDomain:  link.SourceDomain,
	}
	o.state.Stage = StageBurnConfirmed
	o.mu.Unlock()

	o.logger.Info("resuming transfer",
		zap.String("transfer", req.ID),
		zap.String("burn", link.BurnTransactionID),
		zap.Stringer("source", link.SourceDomain))
	o.reporter.Append(fmt.Sprintf("Resuming from %s burn %s", chainLabel(link.SourceDomain), link.BurnTransactionID),
		status.StatusSuccess, status.WithLink(o.explorerURL(link.SourceDomain, link.BurnTransactionID)))

	return o.runSteps(ctx, o.awaitAttestation, o.mint)
}

func (o *Orchestrator) runSteps(ctx context.Context, steps ...func(context.Context) error) (TransferState, error) {
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return o.terminate(err)
		}
	}

	state := o.State()
	o.logger.Info("transfer completed",
		zap.String("transfer", state.TransferID),
		zap.String("mint", state.MintReceipt.TransactionID))
	o.emit(Event{Type: EventCompleted, Stage: state.Stage, State: state})
	return state, nil
}

func (o *Orchestrator) burn(ctx context.Context) error {
	req := o.request()
	o.reporter.Append(fmt.Sprintf("Burning %s USDC on %s", req.Amount, chainLabel(req.SourceDomain)), status.StatusPending)

	receipt, err := o.burner.SubmitBurn(ctx, req)
	if err != nil {
		return err
	}

	o.update(func(s *TransferState) { s.BurnReceipt = &receipt })
	if err := o.advance(StageBurnSubmitted); err != nil {
		return err
	}
	o.reporter.UpdateLast(fmt.Sprintf("Burn submitted on %s", chainLabel(req.SourceDomain)),
		status.StatusSuccess, status.WithLink(o.explorerURL(req.SourceDomain, receipt.TransactionID)))
	return nil
}

func (o *Orchestrator) confirmBurn(ctx context.Context) error {
	req := o.request()
	burn := o.State().BurnReceipt

	label := fmt.Sprintf("Waiting for %s finality", chainLabel(req.SourceDomain))
	o.reporter.Append(label, status.StatusPending)

	if err := o.awaitFinal(ctx, req.SourceDomain, burn.TransactionID, label); err != nil {
		return err
	}
	if err := o.advance(StageBurnConfirmed); err != nil {
		return err
	}
	o.reporter.UpdateLast(fmt.Sprintf("Burn finalized on %s", chainLabel(req.SourceDomain)), status.StatusSuccess)
	return nil
}

func (o *Orchestrator) awaitAttestation(ctx context.Context) error {
	if err := o.advance(StageAttestationPending); err != nil {
		return err
	}
	burn := o.State().BurnReceipt

	source, err := o.chains.Get(burn.SourceDomain)
	if err != nil {
		return err
	}
	attestationID, err := source.AttestationID(ctx, burn.TransactionID)
	if err != nil {
		return err
	}

	policy := o.cfg.AttestationPolicy(burn.SourceDomain)
	label := "Waiting for Circle attestation"
	o.reporter.Append(label, status.StatusPending)

	record, err := o.poller.Poll(ctx, burn.SourceDomain, attestationID, policy, o.onRetry(label, policy.MaxAttempts))
	if record.TransactionID != "" {
		o.update(func(s *TransferState) { s.Attestation = &record })
	}
	if err != nil {
		return err
	}

	if err := o.advance(StageAttestationReady); err != nil {
		return err
	}
	o.reporter.UpdateLast("Attestation received", status.StatusSuccess)
	return nil
}

func (o *Orchestrator) mint(ctx context.Context) error {
	req := o.request()
	state := o.State()
	if state.Attestation == nil || !state.Attestation.Ready() {
		return ErrAttestationNotReady
	}
	record := *state.Attestation
	dst := req.DestinationDomain

	o.reporter.Append(fmt.Sprintf("Minting USDC on %s", chainLabel(dst)), status.StatusPending)

	receipt, err := o.minter.SubmitMint(ctx, record, req.DestinationRecipient, req.DestinationSigner, o.liveSessions()...)
	if errors.Is(err, ErrStaleSignerSession) {
		receipt, err = o.resubmitAfterReconnect(ctx, record, err)
	}
	if err != nil {
		return err
	}

	o.update(func(s *TransferState) { s.MintReceipt = &receipt })
	if err := o.advance(StageMintSubmitted); err != nil {
		return err
	}
	link := o.explorerURL(dst, receipt.TransactionID)
	o.reporter.UpdateLast(fmt.Sprintf("Mint submitted on %s", chainLabel(dst)), status.StatusPending, status.WithLink(link))

	if !receipt.AlreadyMinted {
		if err := o.awaitFinal(ctx, dst, receipt.TransactionID, fmt.Sprintf("Waiting for %s mint confirmation", chainLabel(dst))); err != nil {
			return err
		}
	}

	confirmedAt := o.now()
	o.update(func(s *TransferState) { s.MintReceipt.ConfirmedAt = confirmedAt })
	if err := o.advance(StageMintConfirmed); err != nil {
		return err
	}

	msg := fmt.Sprintf("Minted %s USDC to %s on %s", o.amountLabel(), receipt.Recipient, chainLabel(dst))
	if receipt.AlreadyMinted {
		msg = fmt.Sprintf("Already minted to %s on %s", receipt.Recipient, chainLabel(dst))
	}
	o.reporter.UpdateLast(msg, status.StatusSuccess, status.WithLink(link))
	return nil
}

// resubmitAfterReconnect is the single reconnect and resubmit cycle for a mint
// whose signer session went stale
func (o *Orchestrator) resubmitAfterReconnect(ctx context.Context, record types.AttestationRecord, cause error) (types.MintReceipt, error) {
	req := o.request()
	o.logger.Warn("mint signer session stale, reconnecting",
		zap.String("transfer", req.ID),
		zap.Error(cause))

	o.update(func(s *TransferState) { s.countAttempt() })
	o.emit(Event{Type: EventRetry, Stage: o.State().Stage, Attempt: 1, Err: cause, State: o.State()})

	pins := o.liveSessions()
	if o.minter.RequiresSigner(record.Domain) {
		pins = append(pins, SessionPin{Domain: req.DestinationDomain, Address: req.DestinationSigner})
	}
	for _, pin := range pins {
		signer, err := o.sessions.Reconnect(ctx, pin.Domain)
		if err != nil {
			return types.MintReceipt{}, fmt.Errorf("%w: %s reconnect failed: %w", ErrStaleSignerSession, pin.Domain, err)
		}
		if err := checkPinned(signer, pin.Domain, pin.Address); err != nil {
			return types.MintReceipt{}, err
		}
	}

	o.reporter.UpdateLast("Signer session was stale, reconnected", status.StatusSuccess)
	o.reporter.Append(fmt.Sprintf("Resubmitting mint on %s", chainLabel(req.DestinationDomain)), status.StatusPending)
	return o.minter.SubmitMint(ctx, record, req.DestinationRecipient, req.DestinationSigner, o.liveSessions()...)
}

// awaitFinal spends up to ConfirmationRounds full confirmation budgets
func (o *Orchestrator) awaitFinal(ctx context.Context, domain types.Domain, txID, label string) error {
	rounds := o.cfg.ConfirmationRounds
	var err error
	for round := 1; round <= rounds; round++ {
		err = o.waiter.Await(ctx, domain, txID, o.cfg.ConfirmationAttempts, o.cfg.ConfirmationInterval,
			o.onRetry(label, o.cfg.ConfirmationAttempts))
		if err == nil || !errors.Is(err, ErrConfirmationTimeout) || round == rounds {
			return err
		}

		o.logger.Warn("confirmation budget spent, starting another round",
			zap.Stringer("domain", domain),
			zap.String("tx", txID),
			zap.Int("round", round+1),
			zap.Int("rounds", rounds))
		o.reporter.UpdateLast(fmt.Sprintf("%s (round %d/%d)", label, round+1, rounds), status.StatusPending)
		if err := o.sleep(ctx, o.cfg.ConfirmationInterval); err != nil {
			return err
		}
	}
	return err
}

// onRetry keeps one log line per polling step and counts the attempts
func (o *Orchestrator) onRetry(label string, maxAttempts int) retry.Option {
	return retry.WithNotify(func(a retry.Attempt) {
		o.update(func(s *TransferState) { s.countAttempt() })
		state := o.State()
		o.reporter.UpdateLast(fmt.Sprintf("%s (attempt %d/%d)", label, a.Number+1, maxAttempts), status.StatusPending)
		o.emit(Event{Type: EventRetry, Stage: state.Stage, Attempt: a.Number, Err: a.Err, State: state})
	})
}

// terminate records the failure, logs it once and wraps it in a StageError
func (o *Orchestrator) terminate(err error) (TransferState, error) {
	kind := Classify(err)

	o.mu.Lock()
	stage := o.state.Stage
	o.state.fail(err, kind)
	if burn := o.state.BurnReceipt; burn != nil {
		o.state.Recovery = &RecoveryLink{
			BurnTransactionID:    burn.TransactionID,
			SourceDomain:         burn.SourceDomain,
			DestinationRecipient: o.req.DestinationRecipient,
		}
	}
	state := o.state.Snapshot()
	o.mu.Unlock()

	o.logger.Error("transfer failed",
		zap.String("transfer", state.TransferID),
		zap.String("stage", string(stage)),
		zap.String("kind", string(kind)),
		zap.Error(err))

	last, hasLast := o.reporter.Last()
	switch {
	case state.Recovery != nil:
		if hasLast && last.Status == status.StatusPending {
			o.reporter.UpdateLast(last.Message, status.StatusError)
		}
		o.reporter.Append(fmt.Sprintf("Transfer failed while %s: %v. The burn is final; finish the mint with the recovery link", stageLabel(stage), err),
			status.StatusError, status.WithLink(state.Recovery.URL(o.cfg.ManualMintURL)))
	case kind == KindUserDeclined:
		o.reporter.UpdateLast("Transfer cancelled: signature request rejected", status.StatusError)
	default:
		if hasLast && last.Status == status.StatusPending {
			o.reporter.UpdateLast(last.Message, status.StatusError)
		}
		o.reporter.Append(fmt.Sprintf("Transfer failed while %s: %v", stageLabel(stage), err), status.StatusError)
	}

	o.emit(Event{Type: EventFailed, Stage: stage, Err: err, Kind: kind, State: state})
	return state, &StageError{Stage: stage, Kind: kind, Err: err}
}

func (o *Orchestrator) advance(to Stage) error {
	o.mu.Lock()
	err := o.state.advance(to)
	state := o.state.Snapshot()
	o.mu.Unlock()
	if err != nil {
		return err
	}

	o.logger.Debug("stage entered", zap.String("transfer", state.TransferID), zap.String("stage", string(to)))
	o.emit(Event{Type: EventStageEntered, Stage: to, State: state})
	return nil
}

func (o *Orchestrator) update(fn func(*TransferState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(o.state)
}

func (o *Orchestrator) request() types.TransferRequest {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.req
}

func (o *Orchestrator) liveSessions() []SessionPin {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]SessionPin(nil), o.live...)
}

func (o *Orchestrator) emit(e Event) {
	e.Request = o.request()
	e.At = o.now()
	for _, l := range o.listeners {
		l.OnEvent(e)
	}
}

func (o *Orchestrator) explorerURL(domain types.Domain, txID string) string {
	client, err := o.chains.Get(domain)
	if err != nil {
		return ""
	}
	return client.ExplorerURL(txID)
}

// amountLabel falls back to the burn message amount when resuming
func (o *Orchestrator) amountLabel() string {
	state := o.State()
	req := o.request()
	if !req.Amount.IsZero() {
		return req.Amount.String()
	}
	if state.Attestation == nil {
		return "the"
	}
	msg, err := attestation.ParseMessageHex(state.Attestation.Message)
	if err != nil {
		return "the"
	}
	body, err := msg.BurnMessage()
	if err != nil || body.Amount == nil {
		return "the"
	}
	return decimal.NewFromBigInt(new(big.Int).Set(body.Amount), -types.USDCDecimals).String()
}

func chainLabel(d types.Domain) string {
	switch d {
	case types.DomainSolana:
		return "Solana"
	case types.DomainAptos:
		return "Aptos"
	default:
		return d.String()
	}
}

func stageLabel(s Stage) string {
	switch s {
	case StageIdle:
		return "burning"
	case StageBurnSubmitted:
		return "waiting for burn finality"
	case StageBurnConfirmed, StageAttestationPending:
		return "waiting for the attestation"
	case StageAttestationReady:
		return "minting"
	case StageMintSubmitted:
		return "waiting for mint confirmation"
	default:
		return string(s)
	}
}
