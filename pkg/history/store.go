package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultFileName = ".zerodust-history.json"
)

// Status is the outcome of a confirmed sweep attempt
type Status string

const (
	StatusSubmitted Status = "submitted" // Transaction accepted by the node
	StatusFailed    Status = "failed"    // Final quote or submission failed
)

// Record is one confirmed sweep attempt
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	SourceChainID      uint64 `json:"source_chain_id"`
	SourceChain        string `json:"source_chain"`
	DestinationChainID uint64 `json:"destination_chain_id"`
	DestinationChain   string `json:"destination_chain"`
	Address            string `json:"address"`

	Amount          string  `json:"amount"` // Native units, decimal
	Symbol          string  `json:"symbol"`
	AmountUSD       float64 `json:"amount_usd"`
	TotalFeeUSD     float64 `json:"total_fee_usd"`
	UserReceivesUSD float64 `json:"user_receives_usd"`

	Status Status `json:"status"`
	TxHash string `json:"tx_hash,omitempty"`
	Step   string `json:"step,omitempty"`  // Failing step
	Error  string `json:"error,omitempty"` // Failure message shown to the user
}

// fileFormat is the JSON structure on disk
type fileFormat struct {
	Records []*Record `json:"records"`
}

// Store persists sweep records in a JSON file
type Store struct {
	filePath string
	mu       sync.RWMutex
	records  []*Record
}

// NewStore opens the history file, creating nothing until the first Append.
// An empty path means $HOME/.zerodust-history.json.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	s := &Store{filePath: filePath}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal history: %w", err)
	}

	s.mu.Lock()
	s.records = f.Records
	s.mu.Unlock()
	return nil
}

// save writes all records; the caller holds the lock
func (s *Store) save() error {
	data, err := json.MarshalIndent(fileFormat{Records: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Append stores a record, assigning an ID and timestamp when missing
func (s *Store) Append(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.ID == rec.ID {
			return fmt.Errorf("record '%s' already exists", rec.ID)
		}
	}

	s.records = append(s.records, rec)
	if err := s.save(); err != nil {
		s.records = s.records[:len(s.records)-1]
		return err
	}
	return nil
}

// Get retrieves a record by ID or unique ID prefix
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match *Record
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
		if len(id) >= 4 && len(r.ID) > len(id) && r.ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("record prefix '%s' is ambiguous", id)
			}
			match = r
		}
	}
	if match == nil {
		return nil, fmt.Errorf("record '%s' not found", id)
	}
	return match, nil
}

// List returns all records, newest first
func (s *Store) List() []*Record {
	return s.filter(func(*Record) bool { return true })
}

// ListByStatus returns records with the given status, newest first
func (s *Store) ListByStatus(status Status) []*Record {
	return s.filter(func(r *Record) bool { return r.Status == status })
}

func (s *Store) filter(keep func(*Record) bool) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			list = append(list, r)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	return list
}

// Count returns the number of stored records
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Path returns the history file path
func (s *Store) Path() string {
	return s.filePath
}
