package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/relay"
	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/types"
)

// MintRequest is the input handed to a Minter
type MintRequest struct {
	Attestation types.AttestationRecord
	Recipient   string
	// Signer is the destination signer, nil for minters that do not sign
	Signer types.Signer
}

// Minter submits the destination side of a transfer
type Minter interface {
	// RequiresSigner reports whether the mint is signed by the destination signer
	RequiresSigner() bool
	Mint(ctx context.Context, req MintRequest) (types.MintReceipt, error)
}

// MintLookup finds a mint that already consumed an attestation
type MintLookup interface {
	FindMint(ctx context.Context, record types.AttestationRecord) (types.MintReceipt, bool, error)
}

// DirectMinter builds receive_message on the destination chain and signs it
// with the destination signer
type DirectMinter struct {
	chains chain.Registry
	logger *zap.Logger
}

// NewDirectMinter creates a minter that submits receive_message itself
func NewDirectMinter(chains chain.Registry, logger *zap.Logger) *DirectMinter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectMinter{chains: chains, logger: logger}
}

func (m *DirectMinter) RequiresSigner() bool { return true }

// Mint submits the mint and returns once it is broadcast
func (m *DirectMinter) Mint(ctx context.Context, req MintRequest) (types.MintReceipt, error) {
	destination, err := m.chains.Get(req.Attestation.Domain.Counterpart())
	if err != nil {
		return types.MintReceipt{}, err
	}

	message, err := hexutil.Decode(req.Attestation.Message)
	if err != nil {
		return types.MintReceipt{}, fmt.Errorf("%w: message: %w", ErrAttestationService, err)
	}
	attestation, err := hexutil.Decode(req.Attestation.Attestation)
	if err != nil {
		return types.MintReceipt{}, fmt.Errorf("%w: attestation: %w", ErrAttestationService, err)
	}

	tx, err := destination.BuildMint(ctx, chain.MintParams{
		SourceDomain: req.Attestation.Domain,
		Message:      message,
		Attestation:  attestation,
		Recipient:    req.Recipient,
		Signer:       req.Signer,
	})
	if err != nil {
		if isNotConnected(err) {
			return types.MintReceipt{}, fmt.Errorf("%w: %w", ErrStaleSignerSession, err)
		}
		return types.MintReceipt{}, fmt.Errorf("build mint: %w", err)
	}

	sig, err := req.Signer.SignMessage(context.WithoutCancel(ctx), tx.SigningMessage)
	if err != nil {
		return types.MintReceipt{}, signingError(err)
	}
	if err := ctx.Err(); err != nil {
		return types.MintReceipt{}, err
	}

	txID, err := destination.SubmitSignedTransaction(ctx, tx, sig)
	if err != nil {
		var rejected *ChainRejectedError
		switch {
		case errors.As(err, &rejected):
			return types.MintReceipt{}, err
		case isNotConnected(err):
			return types.MintReceipt{}, fmt.Errorf("%w: %w", ErrStaleSignerSession, err)
		default:
			return types.MintReceipt{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
		}
	}

	m.logger.Info("mint submitted",
		zap.String("burn", req.Attestation.TransactionID),
		zap.String("tx", txID))
	return types.MintReceipt{TransactionID: txID, Recipient: req.Recipient}, nil
}

// RelayMinter asks the relay service to mint on the caller's behalf
type RelayMinter struct {
	client *relay.Client
	policy retry.Policy
	logger *zap.Logger
	opts   []retry.Option
}

// DefaultRelayPolicy polls the relay while it reports pending
func DefaultRelayPolicy() retry.Policy {
	return retry.Exponential(10, 3*time.Second, 30*time.Second, 1.5)
}

// NewRelayMinter creates a relay backed minter
func NewRelayMinter(client *relay.Client, policy retry.Policy, logger *zap.Logger, opts ...retry.Option) *RelayMinter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayMinter{
		client: client,
		policy: policy.WithRetryable(relayRetryable),
		logger: logger,
		opts:   append([]retry.Option{retry.WithLogger(logger)}, opts...),
	}
}

func (m *RelayMinter) RequiresSigner() bool { return false }

// Mint posts the burn to the relay until it returns the mint transaction
func (m *RelayMinter) Mint(ctx context.Context, req MintRequest) (types.MintReceipt, error) {
	payload := relay.NewRequest(req.Attestation.TransactionID, req.Attestation.Domain, req.Recipient)

	// attestation is already ready, so the first request goes out immediately
	policy := m.policy
	policy.InitialWait = 0

	res, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (relay.Result, error) {
		return m.client.RequestMint(ctx, payload)
	}, m.opts...)
	if err != nil {
		return types.MintReceipt{}, fmt.Errorf("relay mint for %s: %w", req.Attestation.TransactionID, err)
	}

	m.logger.Info("relay minted",
		zap.String("burn", req.Attestation.TransactionID),
		zap.String("tx", res.TransactionID))
	return types.MintReceipt{TransactionID: res.TransactionID, Recipient: res.FinalRecipient}, nil
}

// relayRetryable retries pending answers, transport errors and 5xx
func relayRetryable(err error) bool {
	if errors.Is(err, relay.ErrPending) {
		return true
	}
	var resp *relay.ErrorResponse
	if errors.As(err, &resp) {
		return resp.StatusCode >= 500 || resp.StatusCode == 429
	}
	return errors.Is(err, relay.ErrRelayFailed)
}

// MintExecutor guards and dispatches the destination mint of one transfer
type MintExecutor struct {
	sessions chain.SessionProvider
	minters  map[types.Domain]Minter
	lookup   MintLookup
	logger   *zap.Logger
	inFlight atomic.Bool
}

// NewMintExecutor creates an executor. minters is keyed by source domain.
func NewMintExecutor(sessions chain.SessionProvider, minters map[types.Domain]Minter, lookup MintLookup, logger *zap.Logger) *MintExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MintExecutor{
		sessions: sessions,
		minters:  minters,
		lookup:   lookup,
		logger:   logger,
	}
}

// RequiresSigner reports whether mints of burns from source need a destination signer
func (e *MintExecutor) RequiresSigner(source types.Domain) bool {
	m, ok := e.minters[source]
	return ok && m.RequiresSigner()
}

// SessionPin names a signer session that must still be connected. A non-empty
// Address pins the session to the account it had when the transfer started.
type SessionPin struct {
	Domain  types.Domain
	Address string
}

// SubmitMint mints record for recipient. destinationSigner pins the address of
// the destination signer when the minter signs; live lists additional sessions
// that must still be connected. Only one call may run at a time.
func (e *MintExecutor) SubmitMint(ctx context.Context, record types.AttestationRecord, recipient, destinationSigner string, live ...SessionPin) (types.MintReceipt, error) {
	if !record.Ready() {
		return types.MintReceipt{}, fmt.Errorf("%w: %s is %s", ErrAttestationNotReady, record.TransactionID, record.Status)
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return types.MintReceipt{}, ErrMintInFlight
	}
	defer e.inFlight.Store(false)

	minter, ok := e.minters[record.Domain]
	if !ok {
		return types.MintReceipt{}, fmt.Errorf("%w: no minter for burns from %s", chain.ErrUnsupportedDomain, record.Domain)
	}
	destination := record.Domain.Counterpart()

	// Sessions may have dropped during the attestation wait
	for _, pin := range live {
		if _, err := liveSigner(ctx, e.sessions, pin.Domain, pin.Address, e.logger); err != nil {
			return types.MintReceipt{}, err
		}
	}

	req := MintRequest{Attestation: record, Recipient: recipient}
	if minter.RequiresSigner() {
		signer, err := liveSigner(ctx, e.sessions, destination, destinationSigner, e.logger)
		if err != nil {
			return types.MintReceipt{}, err
		}
		req.Signer = signer
	}

	receipt, err := minter.Mint(ctx, req)
	if err != nil {
		var rejected *ChainRejectedError
		if errors.As(err, &rejected) && rejected.NonceConsumed && e.lookup != nil {
			existing, found, lookupErr := e.lookup.FindMint(ctx, record)
			if lookupErr != nil {
				e.logger.Warn("mint lookup failed", zap.String("burn", record.TransactionID), zap.Error(lookupErr))
			}
			if found {
				e.logger.Info("attestation already used, reporting existing mint",
					zap.String("burn", record.TransactionID),
					zap.String("tx", existing.TransactionID))
				existing.AlreadyMinted = true
				if existing.Recipient == "" {
					existing.Recipient = recipient
				}
				return existing, nil
			}
		}
		return types.MintReceipt{}, err
	}

	if receipt.Recipient == "" {
		receipt.Recipient = recipient
	}
	return receipt, nil
}
