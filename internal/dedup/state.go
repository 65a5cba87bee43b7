package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// CurrentVersion is the current state file format version
	CurrentVersion = 2

	// legacyVersion files hold a flat fingerprint map with no account scope.
	legacyVersion = 1
)

// State is a file-backed fingerprint store scoped by account.
// Fingerprints carried over from unscoped state files are kept as legacy
// entries and match for every account.
type State struct {
	mu       sync.RWMutex
	path     string
	accounts map[string]map[string]*FingerprintRecord
	legacy   map[string]*FingerprintRecord
	metadata StateMetadata
}

// FingerprintRecord tracks a dedupe hash across multiple observations.
type FingerprintRecord struct {
	FirstSeen     time.Time `json:"firstSeen"`
	LastSeen      time.Time `json:"lastSeen"`
	Count         int       `json:"count"`
	TransactionID string    `json:"transactionId"`
}

// StateMetadata contains aggregate statistics about the state.
type StateMetadata struct {
	LastUpdated       time.Time `json:"lastUpdated"`
	TotalFingerprints int       `json:"totalFingerprints"`
}

type stateFile struct {
	Version      int                                      `json:"version"`
	Accounts     map[string]map[string]*FingerprintRecord `json:"accounts,omitempty"`
	Fingerprints map[string]*FingerprintRecord            `json:"fingerprints,omitempty"`
	Metadata     StateMetadata                            `json:"metadata"`
}

// NewState creates an empty state that saves to path.
func NewState(path string) *State {
	return &State{
		path:     path,
		accounts: make(map[string]map[string]*FingerprintRecord),
		legacy:   make(map[string]*FingerprintRecord),
		metadata: StateMetadata{LastUpdated: time.Now()},
	}
}

// LoadState loads a state file from disk.
// Returns os.IsNotExist error if file doesn't exist (caller should handle).
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err // Preserve os.IsNotExist for caller
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	s := NewState(path)
	s.metadata = file.Metadata

	switch file.Version {
	case CurrentVersion:
		for acct, hashes := range file.Accounts {
			if hashes != nil {
				s.accounts[acct] = hashes
			}
		}
		if file.Fingerprints != nil {
			s.legacy = file.Fingerprints
		}
	case legacyVersion:
		if file.Fingerprints != nil {
			s.legacy = file.Fingerprints
		}
	default:
		return nil, fmt.Errorf("unsupported state file version %d (current version: %d)", file.Version, CurrentVersion)
	}

	return s, nil
}

// OpenState loads path, or returns an empty state when the file does not exist yet.
func OpenState(path string) (*State, error) {
	s, err := LoadState(path)
	if os.IsNotExist(err) {
		return NewState(path), nil
	}
	return s, err
}

// Path returns the file the state saves to.
func (s *State) Path() string { return s.path }

// ExistsByHash implements Lookup.
func (s *State) ExistsByHash(_ context.Context, accountID, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[accountID][hash]
	return ok, nil
}

// ExistsLegacy implements Lookup.
func (s *State) ExistsLegacy(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.legacy[hash]; ok {
		return true, nil
	}
	for _, hashes := range s.accounts {
		for _, rec := range hashes {
			if rec.TransactionID == hash {
				return true, nil
			}
		}
	}
	return false, nil
}

// RecordHash implements Recorder.
// If new: creates record with firstSeen=now, count=1.
// If exists: updates lastSeen, increments count.
func (s *State) RecordHash(_ context.Context, accountID, hash, transactionID string) error {
	return s.Record(accountID, hash, transactionID, time.Now())
}

// Record registers hash for accountID observed at timestamp.
func (s *State) Record(accountID, hash, transactionID string, timestamp time.Time) error {
	if accountID == "" {
		return fmt.Errorf("account ID cannot be empty")
	}
	if hash == "" {
		return fmt.Errorf("hash cannot be empty")
	}
	if transactionID == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hashes, ok := s.accounts[accountID]
	if !ok {
		hashes = make(map[string]*FingerprintRecord)
		s.accounts[accountID] = hashes
	}

	if record, exists := hashes[hash]; exists {
		if timestamp.After(record.LastSeen) {
			record.LastSeen = timestamp
		}
		record.Count++
		return nil
	}

	hashes[hash] = &FingerprintRecord{
		FirstSeen:     timestamp,
		LastSeen:      timestamp,
		Count:         1,
		TransactionID: transactionID,
	}
	return nil
}

// Get returns the record for hash in accountID, or nil.
func (s *State) Get(accountID, hash string) *FingerprintRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[accountID][hash]
}

// TotalFingerprints returns the number of account-scoped and legacy fingerprints.
func (s *State) TotalFingerprints() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked()
}

func (s *State) countLocked() int {
	n := len(s.legacy)
	for _, hashes := range s.accounts {
		n += len(hashes)
	}
	return n
}

// Metadata returns the statistics from the last save or load.
func (s *State) Metadata() StateMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

// Save atomically writes the state to its path.
// Uses atomic write pattern: write to temp file, then rename.
// Ensures parent directory exists.
func (s *State) Save() error {
	if s.path == "" {
		return fmt.Errorf("state has no file path")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	s.mu.Lock()
	s.metadata.LastUpdated = time.Now()
	s.metadata.TotalFingerprints = s.countLocked()
	file := stateFile{
		Version:  CurrentVersion,
		Accounts: s.accounts,
		Metadata: s.metadata,
	}
	if len(s.legacy) > 0 {
		file.Fingerprints = s.legacy
	}
	data, err := json.MarshalIndent(file, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, s.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
