package bridge

import (
	"fmt"

	"cctp-bridge/pkg/types"
)

// Stage is a step of the transfer state machine
type Stage string

const (
	StageIdle               Stage = "idle"
	StageBurnSubmitted      Stage = "burn_submitted"
	StageBurnConfirmed      Stage = "burn_confirmed"
	StageAttestationPending Stage = "attestation_pending"
	StageAttestationReady   Stage = "attestation_ready"
	StageMintSubmitted      Stage = "mint_submitted"
	StageMintConfirmed      Stage = "mint_confirmed"
	StageFailed             Stage = "failed"
)

// stageOrder is the only path a transfer may take
var stageOrder = []Stage{
	StageIdle,
	StageBurnSubmitted,
	StageBurnConfirmed,
	StageAttestationPending,
	StageAttestationReady,
	StageMintSubmitted,
	StageMintConfirmed,
}

func (s Stage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether no further transition is possible
func (s Stage) Terminal() bool {
	return s == StageMintConfirmed || s == StageFailed
}

// TransferState is the single mutable record of one transfer. It is owned by
// one Orchestrator; callers only ever see snapshots.
type TransferState struct {
	TransferID  string                   `json:"transfer_id"`
	Stage       Stage                    `json:"stage"`
	FailedStage Stage                    `json:"failed_stage,omitempty"`
	BurnReceipt *types.BurnReceipt       `json:"burn_receipt,omitempty"`
	Attestation *types.AttestationRecord `json:"attestation,omitempty"`
	MintReceipt *types.MintReceipt       `json:"mint_receipt,omitempty"`
	LastError   error                    `json:"-"`
	ErrorKind   ErrorKind                `json:"error_kind,omitempty"`
	Attempts    map[Stage]int            `json:"attempts,omitempty"`
	Recovery    *RecoveryLink            `json:"recovery,omitempty"`
	Entered     []Stage                  `json:"entered"`
}

func newTransferState(id string) *TransferState {
	return &TransferState{
		TransferID: id,
		Stage:      StageIdle,
		Attempts:   make(map[Stage]int),
	}
}

// advance moves exactly one step forward
func (s *TransferState) advance(to Stage) error {
	if s.Stage.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, s.Stage)
	}
	from := s.Stage.index()
	if to.index() != from+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Stage, to)
	}
	s.Stage = to
	s.Entered = append(s.Entered, to)
	return nil
}

// fail records the terminal failure of the current stage
func (s *TransferState) fail(err error, kind ErrorKind) {
	if s.Stage.Terminal() {
		return
	}
	s.FailedStage = s.Stage
	s.Stage = StageFailed
	s.LastError = err
	s.ErrorKind = kind
}

func (s *TransferState) countAttempt() {
	s.Attempts[s.Stage]++
}

// Snapshot returns a deep copy safe to hand to other goroutines
func (s *TransferState) Snapshot() TransferState {
	out := *s
	if s.BurnReceipt != nil {
		b := *s.BurnReceipt
		out.BurnReceipt = &b
	}
	if s.Attestation != nil {
		a := *s.Attestation
		out.Attestation = &a
	}
	if s.MintReceipt != nil {
		m := *s.MintReceipt
		out.MintReceipt = &m
	}
	if s.Recovery != nil {
		r := *s.Recovery
		out.Recovery = &r
	}
	out.Attempts = make(map[Stage]int, len(s.Attempts))
	for k, v := range s.Attempts {
		out.Attempts[k] = v
	}
	out.Entered = append([]Stage(nil), s.Entered...)
	return out
}
