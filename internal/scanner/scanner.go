// Package scanner finds statement files under a directory tree.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/detect"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

// Scanner walks directory tree and finds statement files
type Scanner struct {
	rootDir string
	now     func() time.Time
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir, now: time.Now}
}

// ScanResult represents a found file with metadata
type ScanResult struct {
	Path     string
	FileType detect.FileType
	Metadata *parser.Metadata
}

// Scan walks the directory tree and finds all statement files in lexical order.
// Hidden files and directories are skipped.
func (s *Scanner) Scan() ([]ScanResult, error) {
	var results []ScanResult

	rootDir := s.expandHome(s.rootDir)

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path != rootDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		fileType, ok := statementFileType(path)
		if !ok {
			return nil
		}

		meta, err := s.extractMetadata(path, rootDir)
		if err != nil {
			return err
		}
		if info, err := d.Info(); err == nil {
			meta.SetSize(info.Size())
		}

		results = append(results, ScanResult{
			Path:     path,
			FileType: fileType,
			Metadata: meta,
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	return results, nil
}

// statementFileType classifies known statement extensions.
func statementFileType(path string) (detect.FileType, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return detect.FileTypeDelimited, true
	case ".ofx", ".qfx":
		return detect.FileTypeInterchange, true
	default:
		return "", false
	}
}

// extractMetadata parses directory structure to extract account and period
// Path structure: {root}/{account}/{period?}/file.ext
func (s *Scanner) extractMetadata(filePath, rootDir string) (*parser.Metadata, error) {
	meta, err := parser.NewMetadata(filePath, s.now())
	if err != nil {
		return nil, err
	}

	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		relPath = filePath
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	if len(parts) >= 2 {
		meta.SetAccountID(parts[0])
	}
	if len(parts) >= 3 && looksLikePeriod(parts[1]) {
		meta.SetPeriod(parts[1])
	}

	return meta, nil
}

// looksLikePeriod checks for a YYYY-MM directory name
func looksLikePeriod(str string) bool {
	if len(str) != 7 || str[4] != '-' {
		return false
	}
	for i, r := range str {
		if i != 4 && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// expandHome expands ~ to home directory
func (s *Scanner) expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
