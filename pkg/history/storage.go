package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cctp-bridge/pkg/types"
)

const (
	DefaultStorageFileName = ".cctp-bridge-transfers.json"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("transfer not found")

// Storage handles persistence of transfer records
type Storage struct {
	filePath string
	mu       sync.RWMutex
	records  map[string]*Record
}

// TransferStorage represents the JSON structure for storage
type TransferStorage struct {
	Transfers map[string]*Record `json:"transfers"`
}

// NewStorage creates a new storage instance
func NewStorage(filePath string) (*Storage, error) {
	if filePath == "" {
		// Default to home directory
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultStorageFileName)
	}

	storage := &Storage{
		filePath: filePath,
		records:  make(map[string]*Record),
	}

	// Load existing records if file exists
	if err := storage.load(); err != nil {
		// If file doesn't exist, that's okay - we'll create it on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load transfers: %w", err)
		}
	}

	return storage, nil
}

// load reads records from the storage file
func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var stored TransferStorage
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to unmarshal transfers: %w", err)
	}

	s.records = stored.Transfers
	if s.records == nil {
		s.records = make(map[string]*Record)
	}

	return nil
}

// saveLocked writes records to the storage file. Caller holds the lock.
func (s *Storage) saveLocked() error {
	data, err := json.MarshalIndent(TransferStorage{Transfers: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transfers: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write transfers: %w", err)
	}

	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Upsert creates or replaces a record
func (s *Storage) Upsert(record *Record) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Created.IsZero() {
		if existing, ok := s.records[record.ID]; ok {
			record.Created = existing.Created
		} else {
			record.Created = record.LastUpdated
		}
	}
	s.records[record.ID] = record.clone()
	return s.saveLocked()
}

// Get retrieves a record by id
func (s *Storage) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return record.clone(), nil
}

// FindByBurn returns the most recent record for a burn transaction
func (s *Storage) FindByBurn(burnTx string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Record
	for _, record := range s.records {
		if record.BurnTx != burnTx {
			continue
		}
		if found == nil || record.LastUpdated.After(found.LastUpdated) {
			found = record
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: burn %s", ErrNotFound, burnTx)
	}

	return found.clone(), nil
}

// FindMint reports a confirmed mint already recorded for the attestation's burn
func (s *Storage) FindMint(ctx context.Context, attestation types.AttestationRecord) (types.MintReceipt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if record.BurnTx == attestation.TransactionID && record.SourceDomain == attestation.Domain && record.MintTx != "" && record.Status == StatusCompleted {
			return types.MintReceipt{
				TransactionID: record.MintTx,
				Recipient:     record.Recipient,
				ConfirmedAt:   record.LastUpdated,
			}, true, nil
		}
	}

	return types.MintReceipt{}, false, nil
}

// Delete removes a record from storage
func (s *Storage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(s.records, id)
	return s.saveLocked()
}

// List returns all records, newest first
func (s *Storage) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Created.After(records[j].Created)
	})

	return records
}

// ListByStatus returns records filtered by status, newest first
func (s *Storage) ListByStatus(status Status) []*Record {
	var out []*Record
	for _, record := range s.List() {
		if record.Status == status {
			out = append(out, record)
		}
	}
	return out
}

// Count returns the total number of records
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// GetFilePath returns the storage file path
func (s *Storage) GetFilePath() string {
	return s.filePath
}
