package bridge

import (
	"context"
	"errors"
	"fmt"

	"cctp-bridge/pkg/attestation"
	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/relay"
	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/types"
)

var (
	ErrInvalidAmount        = types.ErrInvalidAmount
	ErrSigningRejected      = types.ErrSigningRejected
	ErrSigningFailed        = errors.New("signing failed")
	ErrStaleSignerSession   = types.ErrSessionStale
	ErrSubmissionFailed     = errors.New("transaction submission failed")
	ErrChainReportedFailure = errors.New("chain reported transaction failure")
	ErrConfirmationTimeout  = errors.New("confirmation timeout")
	ErrAttestationTimeout   = attestation.ErrTimeout
	ErrAttestationService   = attestation.ErrServiceError
	ErrAttestationNotReady  = errors.New("attestation not ready")
	ErrMintInFlight         = errors.New("mint already in flight")
	ErrChainRejected        = chain.ErrRejected

	// ErrInvalidTransition is returned when a stage change is not exactly one step forward
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrAlreadyStarted is returned when an orchestrator is run twice
	ErrAlreadyStarted = errors.New("orchestrator already started")
	// ErrInvalidRecoveryLink is returned for links missing the burn, domain or recipient
	ErrInvalidRecoveryLink = errors.New("invalid recovery link")
)

// ChainRejectedError is the chain's refusal of a transaction. NonceConsumed marks
// an attestation that was already used to mint.
type ChainRejectedError = chain.RejectedError

// ErrorKind groups errors by how the transfer reacts to them
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindUserDeclined ErrorKind = "user_declined"
	KindTransient    ErrorKind = "transient"
	KindSession      ErrorKind = "session"
	KindProtocol     ErrorKind = "protocol"
	KindExhaustion   ErrorKind = "exhaustion"
	KindCancelled    ErrorKind = "cancelled"
)

// Classify maps an error to its kind. Order matters: an exhausted budget
// whose last attempt hit a service error is still exhaustion.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrSigningRejected):
		return KindUserDeclined
	case errors.Is(err, ErrStaleSignerSession):
		return KindSession
	case errors.Is(err, retry.ErrExhausted),
		errors.Is(err, ErrConfirmationTimeout),
		errors.Is(err, ErrAttestationTimeout):
		return KindExhaustion
	case errors.Is(err, ErrChainReportedFailure),
		errors.Is(err, ErrChainRejected),
		errors.Is(err, ErrAttestationService),
		errors.Is(err, ErrAttestationNotReady),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidRecoveryLink),
		errors.Is(err, chain.ErrInvalidTransactionID),
		errors.Is(err, chain.ErrRecipientMismatch),
		errors.Is(err, relay.ErrRelayFailed):
		return KindProtocol
	default:
		return KindTransient
	}
}

// StageError is the terminal error of a transfer
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("transfer failed at %s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
