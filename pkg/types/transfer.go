package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of decimals of USDC on both chains
const USDCDecimals = 6

// ErrInvalidAmount is returned for amounts that are not positive or have more precision than USDC
var ErrInvalidAmount = errors.New("invalid amount")

// TransferRequest describes one USDC transfer between two CCTP domains
type TransferRequest struct {
	ID                   string          `json:"id"`
	SourceDomain         Domain          `json:"source_domain"`
	DestinationDomain    Domain          `json:"destination_domain"`
	Amount               decimal.Decimal `json:"amount"`
	SourceSigner         string          `json:"source_signer,omitempty"`
	DestinationRecipient string          `json:"destination_recipient"`
	DestinationSigner    string          `json:"destination_signer,omitempty"`
}

// BaseUnits converts the amount to USDC base units (6 decimals)
func (r TransferRequest) BaseUnits() (uint64, error) {
	if !r.Amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, r.Amount)
	}
	units := r.Amount.Shift(USDCDecimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, r.Amount, USDCDecimals)
	}
	if !units.BigInt().IsUint64() {
		return 0, fmt.Errorf("%w: %s is too large", ErrInvalidAmount, r.Amount)
	}
	return units.BigInt().Uint64(), nil
}

// Validate checks the request shape before anything is signed
func (r TransferRequest) Validate() error {
	if !r.SourceDomain.Valid() || !r.DestinationDomain.Valid() {
		return fmt.Errorf("unsupported route %s -> %s", r.SourceDomain, r.DestinationDomain)
	}
	if r.SourceDomain == r.DestinationDomain {
		return fmt.Errorf("source and destination must differ")
	}
	if strings.TrimSpace(r.DestinationRecipient) == "" {
		return fmt.Errorf("destination recipient is required")
	}
	_, err := r.BaseUnits()
	return err
}

// BurnReceipt is the result of a successfully broadcast burn
type BurnReceipt struct {
	TransactionID string    `json:"transaction_id"`
	SourceDomain  Domain    `json:"source_domain"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// ConfirmationKind classifies a chain status lookup
type ConfirmationKind string

const (
	ConfirmationPending   ConfirmationKind = "pending"
	ConfirmationConfirmed ConfirmationKind = "confirmed"
	ConfirmationFailed    ConfirmationKind = "failed"
)

// ConfirmationStatus is the chain's view of a submitted transaction
type ConfirmationStatus struct {
	Kind   ConfirmationKind `json:"kind"`
	Reason string           `json:"reason,omitempty"`
}

func Pending() ConfirmationStatus   { return ConfirmationStatus{Kind: ConfirmationPending} }
func Confirmed() ConfirmationStatus { return ConfirmationStatus{Kind: ConfirmationConfirmed} }

// Failed builds a failed status carrying the chain's reason
func Failed(reason string) ConfirmationStatus {
	return ConfirmationStatus{Kind: ConfirmationFailed, Reason: reason}
}

// AttestationStatus is the parsed state of an attestation lookup
type AttestationStatus string

const (
	AttestationPending  AttestationStatus = "pending"
	AttestationReady    AttestationStatus = "ready"
	AttestationNotFound AttestationStatus = "not_found"
	AttestationError    AttestationStatus = "error"
)

// AttestationRecord holds the message and attestation for a burn
type AttestationRecord struct {
	Domain        Domain            `json:"domain"`
	TransactionID string            `json:"transaction_id"`
	Message       string            `json:"message,omitempty"`
	Attestation   string            `json:"attestation,omitempty"`
	EventNonce    string            `json:"event_nonce,omitempty"`
	MessageHash   string            `json:"message_hash,omitempty"`
	Status        AttestationStatus `json:"status"`
	Reason        string            `json:"reason,omitempty"`
}

// Ready reports whether the record can be used for a mint
func (a AttestationRecord) Ready() bool {
	return a.Status == AttestationReady && a.Message != "" && a.Attestation != ""
}

// MintReceipt is the result of a destination mint
type MintReceipt struct {
	TransactionID string    `json:"transaction_id"`
	Recipient     string    `json:"recipient"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
	AlreadyMinted bool      `json:"already_minted,omitempty"`
}
