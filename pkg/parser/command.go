package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"cctp-bridge/pkg/types"
)

// Command is a parsed transfer instruction
type Command struct {
	Amount            decimal.Decimal
	SourceDomain      types.Domain
	DestinationDomain types.Domain
	Recipient         string
}

// <amount> [USDC] [FROM] <chain> TO <chain> [TO|RECIPIENT <address>]
var commandPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s+(?:USDC\s+)?(?:FROM\s+)?([A-Z0-9]+)\s+TO\s+([A-Z0-9]+)(?:\s+(?:TO|RECIPIENT)\s+(\S+))?$`)

// ParseTransferCommand parses a natural language transfer command
// Examples:
//   - "bridge 10 USDC from solana to aptos"
//   - "2.5 solana to aptos"
//   - "100 USDC from aptos to solana recipient 7xKX..."
func ParseTransferCommand(command string) (*Command, error) {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) > 0 && strings.EqualFold(fields[0], "bridge") {
		fields = fields[1:]
	}

	// Addresses are case sensitive, so only the keywords are upper-cased
	recipient := ""
	if n := len(fields); n >= 2 {
		kw := strings.ToUpper(fields[n-2])
		if kw == "RECIPIENT" || (kw == "TO" && countKeyword(fields[:n-2], "TO") > 0) {
			recipient = fields[n-1]
			fields = fields[:n-2]
		}
	}

	normalized := strings.ToUpper(strings.Join(fields, " "))
	matches := commandPattern.FindStringSubmatch(normalized)
	if matches == nil {
		return nil, fmt.Errorf("invalid transfer command format. Expected: '<amount> USDC from <chain> to <chain>' (e.g., '10 USDC from solana to aptos')")
	}

	amount, err := decimal.NewFromString(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", matches[1], err)
	}
	source, err := types.ParseDomain(matches[2])
	if err != nil {
		return nil, err
	}
	dest, err := types.ParseDomain(matches[3])
	if err != nil {
		return nil, err
	}

	cmd := &Command{
		Amount:            amount,
		SourceDomain:      source,
		DestinationDomain: dest,
		Recipient:         recipient,
	}
	if err := ValidateCommand(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ValidateCommand validates that a command describes a bridgeable transfer
func ValidateCommand(cmd *Command) error {
	if !cmd.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", types.ErrInvalidAmount)
	}
	if units := cmd.Amount.Shift(types.USDCDecimals); !units.Equal(units.Truncate(0)) {
		return fmt.Errorf("%w: USDC has %d decimals", types.ErrInvalidAmount, types.USDCDecimals)
	}
	if cmd.SourceDomain == cmd.DestinationDomain {
		return fmt.Errorf("source and destination chains must differ")
	}
	return nil
}

func countKeyword(fields []string, kw string) int {
	n := 0
	for _, f := range fields {
		if strings.EqualFold(f, kw) {
			n++
		}
	}
	return n
}

// Request turns the command into a transfer request. An explicit recipient
// on the command wins over fallback.
func (c *Command) Request(fallbackRecipient string) types.TransferRequest {
	recipient := c.Recipient
	if recipient == "" {
		recipient = fallbackRecipient
	}
	return types.TransferRequest{
		SourceDomain:         c.SourceDomain,
		DestinationDomain:    c.DestinationDomain,
		Amount:               c.Amount,
		DestinationRecipient: recipient,
	}
}
