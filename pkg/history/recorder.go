package history

import (
	"go.uber.org/zap"

	"cctp-bridge/pkg/bridge"
)

// Recorder persists a record after every transfer event
type Recorder struct {
	storage       *Storage
	manualMintURL string
	logger        *zap.Logger
}

// NewRecorder creates a bridge listener writing to storage
func NewRecorder(storage *Storage, manualMintURL string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{storage: storage, manualMintURL: manualMintURL, logger: logger}
}

// OnEvent implements bridge.Listener. Storage errors are logged, never
// propagated into the transfer.
func (r *Recorder) OnEvent(e bridge.Event) {
	record := FromEvent(e, r.manualMintURL)
	if err := r.storage.Upsert(record); err != nil {
		r.logger.Warn("failed to record transfer", zap.String("transfer", record.ID), zap.Error(err))
	}
}

// FromEvent builds the record for the transfer state carried by e
func FromEvent(e bridge.Event, manualMintURL string) *Record {
	state := e.State
	record := &Record{
		ID:                e.Request.ID,
		LastUpdated:       e.At,
		SourceDomain:      e.Request.SourceDomain,
		DestinationDomain: e.Request.DestinationDomain,
		Recipient:         e.Request.DestinationRecipient,
		Stage:             string(state.Stage),
		Status:            StatusInProgress,
	}
	if !e.Request.Amount.IsZero() {
		record.Amount = e.Request.Amount.String()
	}
	if record.ID == "" {
		record.ID = state.TransferID
	}

	if len(state.Attempts) > 0 {
		record.Attempts = make(map[string]int, len(state.Attempts))
		for stage, n := range state.Attempts {
			record.Attempts[string(stage)] = n
		}
	}
	if state.BurnReceipt != nil {
		record.BurnTx = state.BurnReceipt.TransactionID
	}
	if state.MintReceipt != nil {
		record.MintTx = state.MintReceipt.TransactionID
		record.AlreadyMinted = state.MintReceipt.AlreadyMinted
	}

	switch state.Stage {
	case bridge.StageMintConfirmed:
		record.Status = StatusCompleted
	case bridge.StageFailed:
		record.Status = StatusFailed
		record.FailedStage = string(state.FailedStage)
		record.ErrorKind = string(state.ErrorKind)
		if state.LastError != nil {
			record.Error = state.LastError.Error()
		}
		if state.Recovery != nil {
			record.RecoveryURL = state.Recovery.URL(manualMintURL)
		}
	}

	return record
}
