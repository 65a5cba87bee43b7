// Package pipeline turns statement files into deduplicated canonical transactions.
//
// Preview maps and dedupe-checks a file without writing anything. Import does
// the same, then applies the caller's splits, category assignments and forced
// re-imports and hands one batch to an Inserter.
package pipeline

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/dedup"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/detect"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/mapper"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parsers/ofx"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/store"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/validate"
)

// SampleRows is the number of leading rows checked by format validation.
const SampleRows = 5

// formatFieldMapped names the format of imports driven by a FieldMapping.
const formatFieldMapped = "field-mapped"

const formatInterchange = "ofx"

// Inserter persists an import batch in one all-or-nothing operation.
type Inserter interface {
	InsertTransactions(ctx context.Context, batch *domain.ImportBatch) error
}

// Pipeline orchestrates reading, mapping, deduplicating and persisting statements.
type Pipeline struct {
	dedup    *dedup.Engine
	inserter Inserter
	ofx      *ofx.Parser
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// New creates a pipeline. lookup may be nil (in-file duplicates only);
// inserter may be nil for preview-only use.
func New(lookup dedup.Lookup, inserter Inserter, log zerolog.Logger) *Pipeline {
	log = log.With().Str("component", "pipeline").Logger()
	return &Pipeline{
		dedup:    dedup.NewEngine(lookup, log),
		inserter: inserter,
		ofx:      ofx.NewParser(log),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// PreviewOptions configures Preview.
type PreviewOptions struct {
	// FieldMapping overrides format detection for delimited files. An
	// incomplete mapping is ignored.
	FieldMapping *mapper.FieldMapping
}

// PreviewResult is what Preview found in a file.
type PreviewResult struct {
	Records        []*domain.StatementLine `json:"records"`
	Duplicates     []*domain.StatementLine `json:"duplicates"`
	TotalRecords   int                     `json:"totalRecords"`
	DuplicateCount int                     `json:"duplicateCount"`
	DetectedFormat string                  `json:"detectedFormat"`
	FileType       detect.FileType         `json:"fileType"`
	Validation     *detect.Validation      `json:"validation,omitempty"`
	Headers        []string                `json:"headers,omitempty"`
	Malformed      int                     `json:"malformed"`
	RowErrors      []RowError              `json:"rowErrors,omitempty"`
	SourceHash     string                  `json:"sourceHash,omitempty"`
}

// ImportOptions configures Import. Row keys are source indices (0-based data rows).
type ImportOptions struct {
	FieldMapping        *mapper.FieldMapping
	CategoryAssignments map[int]string
	Splits              map[int]Split
	ForceReimport       []int
}

// ImportResult summarises a completed import.
type ImportResult struct {
	ImportID       string     `json:"importId"`
	ImportedCount  int        `json:"importedCount"`
	DuplicateCount int        `json:"duplicateCount"`
	ErrorCount     int        `json:"errorCount"`
	TotalRecords   int        `json:"totalRecords"`
	DetectedFormat string     `json:"detectedFormat"`
	RowErrors      []RowError `json:"rowErrors,omitempty"`
}

// scan is the mapped content of one file.
type scan struct {
	fileType   detect.FileType
	format     string
	headers    []string
	validation *detect.Validation
	lines      []*domain.StatementLine
	rowErrors  []RowError
	total      int
	sourceHash string
}

// Preview maps and dedupe-checks r without writing. Malformed rows are
// counted and skipped; a result is returned whenever the file itself is readable.
func (p *Pipeline) Preview(ctx context.Context, r io.Reader, name string, acct domain.AccountConfig, opts PreviewOptions) (*PreviewResult, error) {
	mapping := opts.FieldMapping
	if mapping != nil && !mapping.Complete() {
		mapping = nil
	}

	s, err := p.scan(ctx, r, name, acct, mapping, false)
	if err != nil {
		return nil, err
	}

	batch, err := p.dedup.CheckBatch(ctx, acct.AccountID, s.lines)
	if err != nil {
		return nil, err
	}

	res := &PreviewResult{
		Records:        s.lines,
		Duplicates:     batch.Duplicates,
		TotalRecords:   s.total,
		DuplicateCount: batch.UniqueDuplicates(),
		DetectedFormat: s.format,
		FileType:       s.fileType,
		Validation:     s.validation,
		Headers:        s.headers,
		Malformed:      len(s.rowErrors),
		RowErrors:      s.rowErrors,
		SourceHash:     s.sourceHash,
	}
	if res.Records == nil {
		res.Records = []*domain.StatementLine{}
	}
	if res.Duplicates == nil {
		res.Duplicates = []*domain.StatementLine{}
	}

	p.log.Info().
		Str("file", name).
		Str("format", s.format).
		Int("records", res.TotalRecords).
		Int("duplicates", len(res.Duplicates)).
		Int("malformed", res.Malformed).
		Msg("Preview complete")
	return res, nil
}

// Import maps r, skips stored duplicates that are not forced, and inserts the
// rest as one batch. Nothing is written when any file-level check fails.
func (p *Pipeline) Import(ctx context.Context, r io.Reader, name string, acct domain.AccountConfig, opts ImportOptions) (*ImportResult, error) {
	if p.inserter == nil {
		return nil, errors.New("pipeline has no inserter")
	}
	if opts.FieldMapping != nil && !opts.FieldMapping.Complete() {
		return nil, &Error{
			Code:    CodeMissingFieldMapping,
			Message: "field mapping must name date, description and amount columns",
		}
	}
	for idx, split := range opts.Splits {
		if err := split.Validate(); err != nil {
			return nil, &Error{
				Code:    CodeValidationFailed,
				Message: fmt.Sprintf("invalid split for row %d", idx),
				Err:     err,
			}
		}
	}

	s, err := p.scan(ctx, r, name, acct, opts.FieldMapping, true)
	if err != nil {
		return nil, err
	}

	checked, err := p.dedup.CheckBatch(ctx, acct.AccountID, s.lines)
	if err != nil {
		return nil, err
	}

	forced := make(map[int]bool, len(opts.ForceReimport))
	for _, idx := range opts.ForceReimport {
		forced[idx] = true
	}

	importID := p.newID()
	batch := &domain.ImportBatch{
		ImportID:   importID,
		AccountID:  acct.AccountID,
		UserID:     acct.UserID,
		SourceName: name,
		SourceHash: s.sourceHash,
		Format:     s.format,
		CreatedAt:  p.now(),
	}

	res := &ImportResult{
		ImportID:       importID,
		TotalRecords:   s.total,
		DetectedFormat: s.format,
		ErrorCount:     len(s.rowErrors),
		RowErrors:      s.rowErrors,
	}

	duplicate := make(map[*domain.StatementLine]bool, len(checked.Duplicates))
	for _, l := range checked.Duplicates {
		duplicate[l] = true
	}

	for _, line := range s.lines {
		isForced := false
		if duplicate[line] {
			if !forced[line.SourceIndex] {
				res.DuplicateCount++
				continue
			}
			isForced = true
		}

		batch.Lines = append(batch.Lines, *line)

		if split, ok := opts.Splits[line.SourceIndex]; ok && split.Active() {
			batch.Transactions = append(batch.Transactions, applySplit(line, split, acct, importID, isForced, p.newID)...)
			continue
		}

		txn := line.ToTransaction(p.newID(), importID)
		txn.Forced = isForced
		txn.SetCategory(opts.CategoryAssignments[line.SourceIndex])
		batch.Transactions = append(batch.Transactions, txn)
	}

	if len(batch.Transactions) == 0 {
		p.log.Info().Str("file", name).Int("duplicates", res.DuplicateCount).Msg("Nothing to import")
		return res, nil
	}

	if v := validate.ValidateBatch(batch); !v.Valid() {
		return nil, &Error{
			Code:    CodeValidationFailed,
			Message: "import batch failed validation",
			Issues:  v.Messages(),
		}
	}

	if err := p.inserter.InsertTransactions(ctx, batch); err != nil {
		if errors.Is(err, store.ErrDuplicateFile) {
			return nil, &Error{Code: CodeDuplicateFile, Message: fmt.Sprintf("%s was already imported", name), Err: err}
		}
		return nil, fmt.Errorf("failed to insert transactions: %w", err)
	}

	res.ImportedCount = len(batch.Transactions)
	p.log.Info().
		Str("file", name).
		Str("import", importID).
		Int("imported", res.ImportedCount).
		Int("duplicates", res.DuplicateCount).
		Int("errors", res.ErrorCount).
		Msg("Import complete")
	return res, nil
}

// scan reads r once, mapping every row. requireMapping selects Import
// behaviour for undetectable delimited layouts.
func (p *Pipeline) scan(ctx context.Context, r io.Reader, name string, acct domain.AccountConfig, mapping *mapper.FieldMapping, requireMapping bool) (*scan, error) {
	h := sha256.New()
	br := bufio.NewReader(io.TeeReader(r, h))

	header, err := br.Peek(detect.HeaderSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	metaPath := name
	if metaPath == "" {
		metaPath = "upload"
	}
	meta, err := parser.NewMetadata(metaPath, p.now())
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata: %w", err)
	}

	detection := detect.Classify(name, header)
	if detection.Basis == detect.BasisFallback {
		p.log.Debug().Str("file", name).Msg("Content is neither interchange nor delimited-looking, reading as delimited")
	} else {
		p.log.Debug().Str("file", name).Str("type", string(detection.Type)).Str("basis", string(detection.Basis)).Msg("Detected file type")
	}

	s := &scan{fileType: detection.Type}
	if s.fileType == detect.FileTypeInterchange {
		err = p.scanInterchange(ctx, br, meta, acct, s)
	} else {
		err = p.scanDelimited(ctx, br, meta, acct, mapping, requireMapping, s)
	}
	if err != nil {
		return nil, err
	}

	// Field-mapped layouts are free-form, so only recognised statements are
	// registered by file hash.
	if s.format != formatFieldMapped {
		s.sourceHash, err = finishHash(br, h)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func finishHash(r io.Reader, h hash.Hash) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *Pipeline) scanInterchange(ctx context.Context, r io.Reader, meta *parser.Metadata, acct domain.AccountConfig, s *scan) error {
	stmt, err := p.ofx.Parse(ctx, r, meta)
	if err != nil {
		return fmt.Errorf("parsing failed: %w", err)
	}

	s.format = formatInterchange
	for _, txn := range stmt.Transactions {
		s.total++
		line, err := mapper.MapInterchange(txn, acct)
		if err != nil {
			s.skip(p.log, txn.Index, txn.Index+1, err)
			continue
		}
		s.lines = append(s.lines, line)
	}
	return nil
}

func (p *Pipeline) scanDelimited(ctx context.Context, r io.Reader, meta *parser.Metadata, acct domain.AccountConfig, mapping *mapper.FieldMapping, requireMapping bool, s *scan) error {
	reader, err := csv.NewReader(r, meta)
	if err != nil {
		return err
	}
	s.headers = reader.Headers()

	var m mapper.Mapper
	var format detect.Format
	if mapping != nil {
		if missing := mapping.Missing(s.headers); len(missing) > 0 {
			issues := make([]string, len(missing))
			for i, col := range missing {
				issues[i] = fmt.Sprintf("Column %q not found", col)
			}
			return &Error{Code: CodeValidationFailed, Message: "field mapping does not match the file", Headers: s.headers, Issues: issues}
		}
		fm, err := mapper.NewFieldMapped(*mapping)
		if err != nil {
			return &Error{Code: CodeMissingFieldMapping, Message: err.Error(), Headers: s.headers}
		}
		m = fm
		s.format = formatFieldMapped
	} else {
		format = detect.DetectFormat(s.headers)
		if format == detect.FormatUnknown {
			if requireMapping {
				return &Error{
					Code:    CodeMissingFieldMapping,
					Message: "statement layout not recognised; supply a field mapping for date, description and amount",
					Headers: s.headers,
				}
			}
			return &Error{
				Code:    CodeUnknownFormat,
				Message: "statement layout not recognised; map the columns manually",
				Headers: s.headers,
			}
		}
		m, err = mapper.ForFormat(format)
		if err != nil {
			return err
		}
		s.format = string(format)
	}

	var sample []*parser.Record
	validated := mapping != nil
	process := func(rec *parser.Record) {
		line, err := m.Map(rec, acct)
		if err != nil {
			s.skip(p.log, rec.Index(), rec.Line(), err)
			return
		}
		s.lines = append(s.lines, line)
	}
	check := func() error {
		validated = true
		rows := make([]map[string]string, len(sample))
		for i, rec := range sample {
			rows[i] = rec.Map()
		}
		v := detect.Validate(format, rows)
		s.validation = &v
		if !v.Valid {
			return &Error{
				Code:    CodeValidationFailed,
				Message: fmt.Sprintf("file does not look like a %s", detect.DisplayName(format)),
				Headers: s.headers,
				Issues:  v.Issues,
			}
		}
		for _, rec := range sample {
			process(rec)
		}
		return nil
	}

	for {
		rec, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, parser.ErrMalformedRecord) {
			s.skip(p.log, s.total, 0, err)
			s.total++
			continue
		}
		if err != nil {
			return err
		}
		s.total++

		if !validated {
			sample = append(sample, rec)
			if len(sample) == SampleRows {
				if err := check(); err != nil {
					return err
				}
			}
			continue
		}
		process(rec)
	}

	if !validated {
		return check()
	}
	return nil
}

func (s *scan) skip(log zerolog.Logger, index, line int, err error) {
	log.Debug().Err(err).Int("index", index).Int("line", line).Msg("Skipping row")
	s.rowErrors = append(s.rowErrors, RowError{Index: index, Line: line, Err: err})
}
