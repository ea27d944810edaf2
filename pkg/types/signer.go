package types

import (
	"context"
	"errors"
)

var (
	// ErrSigningRejected means the wallet or user declined to sign
	ErrSigningRejected = errors.New("signature request rejected")
	// ErrSessionStale means the signer session is disconnected or no longer valid
	ErrSessionStale = errors.New("signer session is stale")
)

// Signer is a live signing capability for one chain
type Signer interface {
	Domain() Domain
	Address() string
	PublicKey() []byte
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}
