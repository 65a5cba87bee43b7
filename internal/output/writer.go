// Package output writes preview and import results as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/store"
)

// Write serializes v to JSON with 2-space indentation
func Write(v any, w io.Writer) error {
	if v == nil {
		return fmt.Errorf("nothing to write")
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode result as JSON: %w", err)
	}

	return nil
}

// WriteToFile writes v to filePath, or to stdout when filePath is empty.
func WriteToFile(v any, filePath string) (err error) {
	if filePath == "" {
		return Write(v, os.Stdout)
	}

	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", filePath, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output file %s: %w", filePath, closeErr)
		}
	}()

	if err = Write(v, f); err != nil {
		return fmt.Errorf("failed to write result to %s: %w", filePath, err)
	}

	return nil
}

// ImportLog is the JSON file of import batches kept when no database is used.
type ImportLog struct {
	Imports []domain.ImportBatch `json:"imports"`
}

// LoadImportLog reads an existing import log.
func LoadImportLog(filePath string) (*ImportLog, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	f, err := os.Open(filePath)
	if err != nil {
		// unwrapped so callers can check os.IsNotExist
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close %s: %v\n", filePath, closeErr)
		}
	}()

	var log ImportLog
	if err := json.NewDecoder(f).Decode(&log); err != nil {
		return nil, fmt.Errorf("failed to decode import log JSON: %w", err)
	}

	return &log, nil
}

// AppendImport adds batch to the import log at filePath, creating the file if
// needed. A batch whose source hash is already logged gives store.ErrDuplicateFile
// and leaves the file unchanged.
func AppendImport(filePath string, batch *domain.ImportBatch) error {
	if batch == nil {
		return fmt.Errorf("batch cannot be nil")
	}

	log, err := LoadImportLog(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load import log: %w", err)
		}
		log = &ImportLog{}
	}

	if err := log.add(*batch); err != nil {
		return err
	}

	return WriteToFile(log, filePath)
}

func (l *ImportLog) add(batch domain.ImportBatch) error {
	for _, existing := range l.Imports {
		if existing.ImportID == batch.ImportID {
			return fmt.Errorf("import %s already logged", batch.ImportID)
		}
		if batch.SourceHash != "" && existing.SourceHash == batch.SourceHash {
			return fmt.Errorf("%s matches import %s: %w", batch.SourceName, existing.ImportID, store.ErrDuplicateFile)
		}
	}
	l.Imports = append(l.Imports, batch)
	return nil
}
