package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/types"
)

const (
	DefaultConfirmationAttempts = 30
	DefaultConfirmationInterval = 2 * time.Second
)

var errNotFinal = errors.New("transaction not final yet")

// ConfirmationWaiter polls a chain until a transaction is final
type ConfirmationWaiter struct {
	chains chain.Registry
	logger *zap.Logger
	opts   []retry.Option
}

// NewConfirmationWaiter creates a waiter. Extra retry options apply to every wait.
func NewConfirmationWaiter(chains chain.Registry, logger *zap.Logger, opts ...retry.Option) *ConfirmationWaiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfirmationWaiter{
		chains: chains,
		logger: logger,
		opts:   append([]retry.Option{retry.WithLogger(logger)}, opts...),
	}
}

// AwaitConfirmation waits for the burn in receipt to reach finality
func (w *ConfirmationWaiter) AwaitConfirmation(ctx context.Context, receipt types.BurnReceipt, maxAttempts int, interval time.Duration, opts ...retry.Option) error {
	return w.Await(ctx, receipt.SourceDomain, receipt.TransactionID, maxAttempts, interval, opts...)
}

// Await polls txID on domain, the first time immediately and then every interval.
// A failure reported by the chain ends the wait at once; running out of
// attempts yields ErrConfirmationTimeout.
func (w *ConfirmationWaiter) Await(ctx context.Context, domain types.Domain, txID string, maxAttempts int, interval time.Duration, opts ...retry.Option) error {
	client, err := w.chains.Get(domain)
	if err != nil {
		return err
	}

	policy := retry.Fixed(maxAttempts, interval).WithRetryable(func(err error) bool {
		return !errors.Is(err, ErrChainReportedFailure)
	})

	_, err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		status, err := client.GetTransactionStatus(ctx, txID)
		if err != nil {
			// lookup errors spend an attempt like a pending answer
			w.logger.Debug("status lookup failed",
				zap.Stringer("domain", domain),
				zap.String("tx", txID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return struct{}{}, err
		}

		switch status.Kind {
		case types.ConfirmationConfirmed:
			return struct{}{}, nil
		case types.ConfirmationFailed:
			return struct{}{}, fmt.Errorf("%w: %s", ErrChainReportedFailure, status.Reason)
		default:
			return struct{}{}, errNotFinal
		}
	}, append(append([]retry.Option{}, w.opts...), opts...)...)

	if err == nil {
		w.logger.Debug("transaction final", zap.Stringer("domain", domain), zap.String("tx", txID))
		return nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Errorf("%w: %s on %s not final after %d attempts (last: %v)", ErrConfirmationTimeout, txID, domain, exhausted.Attempts, exhausted.Last)
	}
	return err
}
