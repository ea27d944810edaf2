package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/types"
)

const DefaultMaxAttempts = 15

// Fetcher performs one attestation lookup
type Fetcher interface {
	FetchAttestation(ctx context.Context, domain types.Domain, txID string) (types.AttestationRecord, error)
}

// DefaultPolicy returns the polling schedule for burns originating on domain.
// Solana burns are usually indexed faster, so their schedule grows slower.
func DefaultPolicy(source types.Domain) retry.Policy {
	if source == types.DomainSolana {
		return retry.Exponential(DefaultMaxAttempts, 10*time.Second, 60*time.Second, 1.5)
	}
	return retry.Exponential(DefaultMaxAttempts, 5*time.Second, 60*time.Second, 2)
}

// Poller repeatedly fetches an attestation until it is ready
type Poller struct {
	fetcher Fetcher
	logger  *zap.Logger
	opts    []retry.Option
}

// NewPoller creates a poller. Extra retry options apply to every Poll call.
func NewPoller(fetcher Fetcher, logger *zap.Logger, opts ...retry.Option) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher: fetcher,
		logger:  logger,
		opts:    append([]retry.Option{retry.WithLogger(logger)}, opts...),
	}
}

// Poll waits policy.InitialWait, then fetches until the attestation is ready.
// Pending and not-indexed answers are polled through; service errors are retried
// within the same budget. Exhaustion yields ErrTimeout, or ErrServiceError when
// the final attempt failed at the service.
func (p *Poller) Poll(ctx context.Context, domain types.Domain, txID string, policy retry.Policy, opts ...retry.Option) (types.AttestationRecord, error) {
	policy = policy.WithRetryable(func(err error) bool {
		return errors.Is(err, ErrNotReady) || errors.Is(err, ErrServiceError)
	})

	var last types.AttestationRecord
	record, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (types.AttestationRecord, error) {
		rec, err := p.fetcher.FetchAttestation(ctx, domain, txID)
		last = rec
		if err != nil {
			p.logger.Warn("attestation fetch failed",
				zap.Stringer("domain", domain),
				zap.String("tx", txID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return rec, err
		}
		if !rec.Ready() {
			p.logger.Debug("attestation not ready",
				zap.String("tx", txID),
				zap.String("status", string(rec.Status)),
				zap.Int("attempt", attempt))
			return rec, fmt.Errorf("%w: %s", ErrNotReady, rec.Status)
		}
		if err := checkSource(rec, domain); err != nil {
			last.Status = types.AttestationError
			last.Reason = err.Error()
			return rec, err
		}
		return rec, nil
	}, append(append([]retry.Option{}, p.opts...), opts...)...)

	if err == nil {
		return record, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		if errors.Is(exhausted.Last, ErrServiceError) {
			return last, fmt.Errorf("attestation for %s still failing: %w", txID, err)
		}
		return last, fmt.Errorf("%w: %s after %d attempts", ErrTimeout, txID, exhausted.Attempts)
	}
	return last, err
}

// checkSource rejects attestations whose message was not emitted by the burn's domain
func checkSource(rec types.AttestationRecord, domain types.Domain) error {
	msg, err := ParseMessageHex(rec.Message)
	if err != nil {
		return &ServiceError{Err: err}
	}
	if msg.SourceDomain != domain {
		return &ServiceError{Err: fmt.Errorf("message source domain %d does not match %d", msg.SourceDomain, domain)}
	}
	return nil
}
