package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cctp-bridge/pkg/types"
)

var (
	// ErrSubmission means the signed transaction could not be broadcast
	ErrSubmission = errors.New("transaction submission failed")
	// ErrRejected means the chain refused the transaction
	ErrRejected = errors.New("transaction rejected by chain")
	// ErrUnsupportedDomain means no client is registered for a domain
	ErrUnsupportedDomain = errors.New("unsupported domain")
	// ErrInvalidTransactionID means a transaction id is malformed for its chain
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	// ErrRecipientMismatch means the mint recipient does not match the attested message
	ErrRecipientMismatch = errors.New("recipient does not match attested mint recipient")
)

// RejectedError carries the chain's reason for refusing a transaction
type RejectedError struct {
	Domain        types.Domain
	Reason        string
	NonceConsumed bool
}

func (e *RejectedError) Error() string {
	if e.NonceConsumed {
		return fmt.Sprintf("%s rejected transaction: message nonce already used (%s)", e.Domain, e.Reason)
	}
	return fmt.Sprintf("%s rejected transaction: %s", e.Domain, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// nonceConsumedMarkers are substrings the programs emit when a CCTP message was already received
var nonceConsumedMarkers = []string{
	"nonce already used",
	"enonce_already_used",
	"already in use",
}

func newRejectedError(domain types.Domain, reason string) *RejectedError {
	lower := strings.ToLower(reason)
	consumed := false
	for _, m := range nonceConsumedMarkers {
		if strings.Contains(lower, m) {
			consumed = true
			break
		}
	}
	return &RejectedError{Domain: domain, Reason: reason, NonceConsumed: consumed}
}

// BurnParams describes a deposit_for_burn on the source chain
type BurnParams struct {
	Amount            uint64
	DestinationDomain types.Domain
	MintRecipient     [32]byte
	Signer            types.Signer
}

// MintParams describes a receive_message on the destination chain
type MintParams struct {
	SourceDomain types.Domain
	Message      []byte
	Attestation  []byte
	Recipient    string
	Signer       types.Signer
}

// Transaction is an unsigned chain transaction together with the bytes the signer must sign
type Transaction struct {
	Domain         types.Domain
	SignerAddress  string
	SigningMessage []byte

	solana *solanaTx
	aptos  *aptosTx
}

// Client is the chain surface used by the bridge: build, submit and look up transactions.
// Implementations hold no per-transfer state.
type Client interface {
	Domain() types.Domain
	BuildBurn(ctx context.Context, params BurnParams) (*Transaction, error)
	BuildMint(ctx context.Context, params MintParams) (*Transaction, error)
	SubmitSignedTransaction(ctx context.Context, tx *Transaction, signature []byte) (string, error)
	GetTransactionStatus(ctx context.Context, txID string) (types.ConfirmationStatus, error)
	// AttestationID returns the form of txID the attestation service indexes burns by
	AttestationID(ctx context.Context, txID string) (string, error)
	// EncodeRecipient converts a wallet address into the 32-byte CCTP mint recipient
	EncodeRecipient(ctx context.Context, address string) ([32]byte, error)
	ExplorerURL(txID string) string
}

// Registry looks up chain clients by domain
type Registry map[types.Domain]Client

// NewRegistry indexes the given clients by their domain
func NewRegistry(clients ...Client) Registry {
	r := make(Registry, len(clients))
	for _, c := range clients {
		r[c.Domain()] = c
	}
	return r
}

// Get returns the client for domain
func (r Registry) Get(domain types.Domain) (Client, error) {
	c, ok := r[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDomain, domain)
	}
	return c, nil
}
