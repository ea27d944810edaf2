package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Domain is a CCTP domain identifier
type Domain uint32

const (
	DomainSolana Domain = 5
	DomainAptos  Domain = 9
)

// String returns the chain name for the domain
func (d Domain) String() string {
	switch d {
	case DomainSolana:
		return "solana"
	case DomainAptos:
		return "aptos"
	default:
		return fmt.Sprintf("domain-%d", uint32(d))
	}
}

// Valid reports whether the domain is one this tool can bridge between
func (d Domain) Valid() bool {
	return d == DomainSolana || d == DomainAptos
}

// Counterpart returns the other side of a Solana/Aptos transfer
func (d Domain) Counterpart() Domain {
	if d == DomainSolana {
		return DomainAptos
	}
	return DomainSolana
}

// ParseDomain accepts a chain name, a short alias or a numeric domain id
func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "solana", "sol":
		return DomainSolana, nil
	case "aptos", "apt":
		return DomainAptos, nil
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown chain %q", s)
	}
	d := Domain(n)
	if !d.Valid() {
		return 0, fmt.Errorf("unsupported CCTP domain %d", n)
	}
	return d, nil
}
