package bridge

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"cctp-bridge/pkg/types"
)

// RecoveryLink is everything the manual mint flow needs to finish a transfer
// without burning again
type RecoveryLink struct {
	BurnTransactionID    string       `json:"burn_transaction_id"`
	SourceDomain         types.Domain `json:"source_domain"`
	DestinationRecipient string       `json:"destination_recipient"`
}

// Validate checks that the link can drive a resume
func (l RecoveryLink) Validate() error {
	if strings.TrimSpace(l.BurnTransactionID) == "" {
		return fmt.Errorf("%w: missing burn signature", ErrInvalidRecoveryLink)
	}
	if !l.SourceDomain.Valid() {
		return fmt.Errorf("%w: unsupported source domain %d", ErrInvalidRecoveryLink, uint32(l.SourceDomain))
	}
	if strings.TrimSpace(l.DestinationRecipient) == "" {
		return fmt.Errorf("%w: missing final recipient", ErrInvalidRecoveryLink)
	}
	return nil
}

// URL renders the link against the manual mint page base URL, keeping the
// signature, sourceDomain, finalRecipient parameter order
func (l RecoveryLink) URL(base string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep +
		"signature=" + url.QueryEscape(l.BurnTransactionID) +
		"&sourceDomain=" + strconv.FormatUint(uint64(l.SourceDomain), 10) +
		"&finalRecipient=" + url.QueryEscape(l.DestinationRecipient)
}

// ParseRecoveryLink reads a manual mint URL back into a link
func ParseRecoveryLink(raw string) (RecoveryLink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return RecoveryLink{}, fmt.Errorf("%w: %w", ErrInvalidRecoveryLink, err)
	}
	q := u.Query()

	domainID, err := strconv.ParseUint(q.Get("sourceDomain"), 10, 32)
	if err != nil {
		return RecoveryLink{}, fmt.Errorf("%w: sourceDomain %q", ErrInvalidRecoveryLink, q.Get("sourceDomain"))
	}

	link := RecoveryLink{
		BurnTransactionID:    q.Get("signature"),
		SourceDomain:         types.Domain(domainID),
		DestinationRecipient: q.Get("finalRecipient"),
	}
	return link, link.Validate()
}
