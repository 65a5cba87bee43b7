package parser

import (
	"fmt"
	"time"
)

// Metadata contains context about the file being ingested.
// Extracted from directory structure: ~/statements/{account}/[{period}/]file.ext
//
// Create instances using NewMetadata(filePath, detectedAt). AccountID and Period
// are empty when the path does not follow that layout; the caller then supplies
// the account explicitly.
type Metadata struct {
	filePath   string
	accountID  string // Inferred from directory (e.g., "acc-everyday")
	period     string // Optional period directory (e.g., "2025-10")
	size       int64
	detectedAt time.Time
}

// NewMetadata creates a new Metadata instance with validated required fields.
func NewMetadata(filePath string, detectedAt time.Time) (*Metadata, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if detectedAt.IsZero() {
		return nil, fmt.Errorf("detected time cannot be zero")
	}
	return &Metadata{
		filePath:   filePath,
		detectedAt: detectedAt,
	}, nil
}

// FilePath returns the file path
func (m *Metadata) FilePath() string { return m.filePath }

// AccountID returns the account inferred from the directory structure
func (m *Metadata) AccountID() string { return m.accountID }

// Period returns the period directory, if any
func (m *Metadata) Period() string { return m.period }

// Size returns the file size in bytes
func (m *Metadata) Size() int64 { return m.size }

// DetectedAt returns the timestamp when the file was detected
func (m *Metadata) DetectedAt() time.Time { return m.detectedAt }

// SetAccountID sets the inferred account
func (m *Metadata) SetAccountID(accountID string) { m.accountID = accountID }

// SetPeriod sets the period
func (m *Metadata) SetPeriod(period string) { m.period = period }

// SetSize sets the file size
func (m *Metadata) SetSize(size int64) { m.size = size }

// FileInfo returns a " from <path>" suffix for error messages, or "" without a path.
func FileInfo(meta *Metadata) string {
	if meta != nil && meta.FilePath() != "" {
		return fmt.Sprintf(" from %s", meta.FilePath())
	}
	return ""
}
