package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDomain(t *testing.T) {
	for _, in := range []string{"solana", "SOL", "5", " Solana "} {
		d, err := ParseDomain(in)
		require.NoError(t, err, in)
		assert.Equal(t, DomainSolana, d)
	}
	for _, in := range []string{"aptos", "apt", "9"} {
		d, err := ParseDomain(in)
		require.NoError(t, err, in)
		assert.Equal(t, DomainAptos, d)
	}

	_, err := ParseDomain("0")
	assert.Error(t, err)
	_, err = ParseDomain("ethereum")
	assert.Error(t, err)
}

func TestBaseUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   uint64
		err    bool
	}{
		{"1", 1_000_000, false},
		{"0.000001", 1, false},
		{"12.5", 12_500_000, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"0.0000001", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			req := TransferRequest{Amount: decimal.RequireFromString(tt.amount)}
			got, err := req.BaseUnits()
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	req := TransferRequest{
		SourceDomain:         DomainSolana,
		DestinationDomain:    DomainAptos,
		Amount:               decimal.NewFromInt(5),
		DestinationRecipient: "0x1",
	}
	assert.NoError(t, req.Validate())

	same := req
	same.DestinationDomain = DomainSolana
	assert.Error(t, same.Validate())

	noRecipient := req
	noRecipient.DestinationRecipient = ""
	assert.Error(t, noRecipient.Validate())
}

func TestAttestationRecordReady(t *testing.T) {
	assert.True(t, AttestationRecord{Status: AttestationReady, Message: "0x01", Attestation: "0x02"}.Ready())
	assert.False(t, AttestationRecord{Status: AttestationReady, Message: "0x01"}.Ready())
	assert.False(t, AttestationRecord{Status: AttestationPending, Message: "0x01", Attestation: "0x02"}.Ready())
}
