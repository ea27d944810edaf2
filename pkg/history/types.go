package history

import (
	"time"

	"cctp-bridge/pkg/types"
)

// Status is the outcome of a recorded transfer
type Status string

const (
	StatusInProgress Status = "in_progress" // Transfer is running or was interrupted
	StatusCompleted  Status = "completed"   // Mint confirmed
	StatusFailed     Status = "failed"      // Transfer ended with an error
)

// Record is the persisted summary of one transfer
type Record struct {
	// Identity
	ID          string    `json:"id"`
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"last_updated"`

	// Route
	SourceDomain      types.Domain `json:"source_domain"`
	DestinationDomain types.Domain `json:"destination_domain"`
	Amount            string       `json:"amount,omitempty"`
	Recipient         string       `json:"recipient"`

	// Progress
	Stage    string         `json:"stage"`
	Status   Status         `json:"status"`
	Attempts map[string]int `json:"attempts,omitempty"`

	// Chain artifacts
	BurnTx        string `json:"burn_tx,omitempty"`
	MintTx        string `json:"mint_tx,omitempty"`
	AlreadyMinted bool   `json:"already_minted,omitempty"`

	// Failure details
	FailedStage string `json:"failed_stage,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	RecoveryURL string `json:"recovery_url,omitempty"`
}

// Route renders the direction, e.g. "solana -> aptos"
func (r *Record) Route() string {
	return r.SourceDomain.String() + " -> " + r.DestinationDomain.String()
}

func (r *Record) clone() *Record {
	out := *r
	if r.Attempts != nil {
		out.Attempts = make(map[string]int, len(r.Attempts))
		for k, v := range r.Attempts {
			out.Attempts[k] = v
		}
	}
	return &out
}
