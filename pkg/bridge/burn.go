package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/types"
)

// BurnExecutor builds, signs and broadcasts the source chain burn
type BurnExecutor struct {
	chains   chain.Registry
	sessions chain.SessionProvider
	logger   *zap.Logger
	now      func() time.Time
}

// NewBurnExecutor creates a burn executor
func NewBurnExecutor(chains chain.Registry, sessions chain.SessionProvider, logger *zap.Logger) *BurnExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BurnExecutor{
		chains:   chains,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// SubmitBurn burns req.Amount on the source chain. The signature request is
// never cancelled or timed out; nothing is broadcast unless it succeeds.
func (b *BurnExecutor) SubmitBurn(ctx context.Context, req types.TransferRequest) (types.BurnReceipt, error) {
	amount, err := req.BaseUnits()
	if err != nil {
		return types.BurnReceipt{}, err
	}
	if err := req.Validate(); err != nil {
		return types.BurnReceipt{}, err
	}

	source, err := b.chains.Get(req.SourceDomain)
	if err != nil {
		return types.BurnReceipt{}, err
	}
	destination, err := b.chains.Get(req.DestinationDomain)
	if err != nil {
		return types.BurnReceipt{}, err
	}

	signer, err := liveSigner(ctx, b.sessions, req.SourceDomain, req.SourceSigner, b.logger)
	if err != nil {
		return types.BurnReceipt{}, err
	}

	// Mint recipient in the destination chain's 32-byte encoding
	recipient, err := destination.EncodeRecipient(ctx, req.DestinationRecipient)
	if err != nil {
		return types.BurnReceipt{}, fmt.Errorf("encode recipient %s: %w", req.DestinationRecipient, err)
	}

	tx, err := source.BuildBurn(ctx, chain.BurnParams{
		Amount:            amount,
		DestinationDomain: req.DestinationDomain,
		MintRecipient:     recipient,
		Signer:            signer,
	})
	if err != nil {
		return types.BurnReceipt{}, fmt.Errorf("build burn: %w", err)
	}

	b.logger.Info("requesting burn signature",
		zap.String("transfer", req.ID),
		zap.Stringer("source", req.SourceDomain),
		zap.String("signer", signer.Address()),
		zap.Uint64("amount", amount))

	sig, err := signer.SignMessage(context.WithoutCancel(ctx), tx.SigningMessage)
	if err != nil {
		return types.BurnReceipt{}, signingError(err)
	}
	// Abandoned while the prompt was open: nothing has been broadcast yet
	if err := ctx.Err(); err != nil {
		return types.BurnReceipt{}, err
	}

	txID, err := source.SubmitSignedTransaction(ctx, tx, sig)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.BurnReceipt{}, ctxErr
		}
		return types.BurnReceipt{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	b.logger.Info("burn submitted", zap.String("transfer", req.ID), zap.String("tx", txID))
	return types.BurnReceipt{
		TransactionID: txID,
		SourceDomain:  req.SourceDomain,
		SubmittedAt:   b.now(),
	}, nil
}

// liveSigner asks the provider for the current signer and makes one silent
// reconnect when the session is stale. expected pins the signer address when set.
func liveSigner(ctx context.Context, sessions chain.SessionProvider, domain types.Domain, expected string, logger *zap.Logger) (types.Signer, error) {
	signer, err := sessions.Signer(ctx, domain)
	if err != nil {
		if !errors.Is(err, types.ErrSessionStale) && !isNotConnected(err) {
			return nil, err
		}
		logger.Debug("signer session stale, reconnecting", zap.Stringer("domain", domain), zap.Error(err))
		signer, err = sessions.Reconnect(ctx, domain)
		if err != nil {
			return nil, fmt.Errorf("%w: %s reconnect failed: %w", ErrStaleSignerSession, domain, err)
		}
	}

	if err := checkPinned(signer, domain, expected); err != nil {
		return nil, err
	}
	return signer, nil
}

// checkPinned fails when expected is set and the connected signer has another address
func checkPinned(signer types.Signer, domain types.Domain, expected string) error {
	if expected != "" && !strings.EqualFold(signer.Address(), expected) {
		return fmt.Errorf("%w: connected %s signer %s is not %s", ErrStaleSignerSession, domain, signer.Address(), expected)
	}
	return nil
}

// signingError normalises wallet errors into the bridge taxonomy. Only an
// explicit refusal counts as declined; key or device failures are ErrSigningFailed.
func signingError(err error) error {
	switch {
	case errors.Is(err, ErrStaleSignerSession), errors.Is(err, ErrSigningRejected):
		return err
	case isNotConnected(err):
		return fmt.Errorf("%w: %w", ErrStaleSignerSession, err)
	case isRejection(err):
		return fmt.Errorf("%w: %w", ErrSigningRejected, err)
	default:
		return fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
}

var (
	notConnectedMarkers = []string{"not connected", "disconnected", "session expired", "wallet locked"}
	rejectionMarkers    = []string{"rejected", "denied", "declined", "cancelled", "canceled", "refused"}
)

func isNotConnected(err error) bool {
	return containsAny(err, notConnectedMarkers)
}

func isRejection(err error) bool {
	return containsAny(err, rejectionMarkers)
}

func containsAny(err error, markers []string) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
