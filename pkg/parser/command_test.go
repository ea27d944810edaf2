package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cctp-bridge/pkg/types"
)

func TestParseTransferCommand(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		amount    string
		source    types.Domain
		dest      types.Domain
		recipient string
	}{
		{"full form", "bridge 10 USDC from solana to aptos", "10", types.DomainSolana, types.DomainAptos, ""},
		{"short form", "2.5 sol to apt", "2.5", types.DomainSolana, types.DomainAptos, ""},
		{"mixed case", "  1.25 usdc FROM Aptos TO Solana ", "1.25", types.DomainAptos, types.DomainSolana, ""},
		{"numeric domains", "3 USDC from 5 to 9", "3", types.DomainSolana, types.DomainAptos, ""},
		{"recipient keyword", "100 USDC from aptos to solana recipient 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", "100", types.DomainAptos, types.DomainSolana, "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"},
		{"second to", "5 USDC from solana to aptos to 0xAbC123", "5", types.DomainSolana, types.DomainAptos, "0xAbC123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseTransferCommand(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.amount, cmd.Amount.String())
			assert.Equal(t, tt.source, cmd.SourceDomain)
			assert.Equal(t, tt.dest, cmd.DestinationDomain)
			assert.Equal(t, tt.recipient, cmd.Recipient)
		})
	}
}

func TestParseTransferCommandErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no route", "10 USDC"},
		{"unknown chain", "10 USDC from ethereum to aptos"},
		{"same chain", "10 USDC from solana to solana"},
		{"zero", "0 USDC from solana to aptos"},
		{"too precise", "0.0000001 USDC from solana to aptos"},
		{"negative", "-1 USDC from solana to aptos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransferCommand(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestCommandRequest(t *testing.T) {
	cmd, err := ParseTransferCommand("2 USDC from solana to aptos")
	require.NoError(t, err)

	req := cmd.Request("0xdefault")
	assert.Equal(t, "0xdefault", req.DestinationRecipient)
	require.NoError(t, req.Validate())

	cmd.Recipient = "0xexplicit"
	assert.Equal(t, "0xexplicit", cmd.Request("0xdefault").DestinationRecipient)
}
