package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/config"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/mapper"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/output"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/rules"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/scanner"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/suggest"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ui"
)

const (
	version = "0.1.0"
)

const (
	modePreview = "preview"
	modeImport  = "import"
	modeSuggest = "suggest"
)

// options holds the parsed command line.
type options struct {
	showVersion bool
	mode        string
	file        string
	inputDir    string
	accountID   string
	userID      string
	polarity    bool
	dbPath      string
	statePath   string
	mappingFile string
	force       string
	outputFile  string
	description string
	amount      string
	rulesFile   string
	verbose     bool
}

const usageText = `stmtingest - Bank statement ingestion and categorisation

Usage:
  stmtingest -mode preview|import|suggest [flags]

Flags:
`

const examplesText = `
Examples:
  # Preview a statement without writing anything
  stmtingest -mode preview -file ~/Downloads/statement.csv -account everyday

  # Import every statement under a directory ({root}/{account}/{YYYY-MM}/file)
  stmtingest -mode import -input ~/statements -user me

  # Import a layout the detector does not know, forcing row 3 past deduplication
  stmtingest -mode import -file export.csv -account savings -mapping mapping.json -force 3

  # Track imports in a JSON state file instead of a database
  stmtingest -mode import -file statement.ofx -account everyday -state state.json

  # Suggest a category
  stmtingest -mode suggest -user me -description "COUNTDOWN AUCKLAND" -amount 54.20

`

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("stmtingest", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&opts.showVersion, "version", false, "Show version")

	fs.StringVar(&opts.mode, "mode", modePreview, "Operation: preview, import or suggest")
	fs.StringVar(&opts.file, "file", "", "Statement file to process")
	fs.StringVar(&opts.inputDir, "input", "", "Directory of statements to process")

	fs.StringVar(&opts.accountID, "account", "", "Account ID (default: the directory name under -input)")
	fs.StringVar(&opts.userID, "user", "default", "User owning the account, rules and history")
	fs.BoolVar(&opts.polarity, "polarity", true, "Positive raw amounts increase the balance")

	fs.StringVar(&opts.dbPath, "db", "", "SQLite database (default: "+config.EnvDBPath+")")
	fs.StringVar(&opts.statePath, "state", "", "JSON deduplication state file, used instead of a database")

	fs.StringVar(&opts.mappingFile, "mapping", "", "JSON field mapping for unrecognised layouts")
	fs.StringVar(&opts.force, "force", "", "Comma-separated row indices to import even if duplicated")

	fs.StringVar(&opts.outputFile, "output", "", "Output JSON file (default: stdout)")

	fs.StringVar(&opts.description, "description", "", "Description to categorise in suggest mode")
	fs.StringVar(&opts.amount, "amount", "0", "Amount to categorise in suggest mode")

	fs.StringVar(&opts.rulesFile, "rules", "", "Keyword rules YAML file (default: embedded rules)")
	fs.BoolVar(&opts.verbose, "verbose", false, "Show detailed logs")

	fs.Usage = func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
		fmt.Fprint(stderr, examplesText)
	}
	return fs
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printHint(err)
		os.Exit(1)
	}
}

// printHint adds recovery advice for errors a user can fix.
func printHint(err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		return
	}
	switch pe.Code {
	case pipeline.CodeUnknownFormat, pipeline.CodeMissingFieldMapping:
		if len(pe.Headers) > 0 {
			fmt.Fprintf(os.Stderr, "\nFile headers: %s\n", strings.Join(pe.Headers, ", "))
		}
		fmt.Fprint(os.Stderr, "Supply a mapping with -mapping, e.g. {\"date\": \"Date\", \"amount\": \"Amount\", \"description\": [\"Payee\", \"Memo\"]}\n")
	case pipeline.CodeDuplicateFile:
		fmt.Fprint(os.Stderr, "\nThis exact file was imported before. Nothing was written.\n")
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := newFlagSet(&opts, stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "stmtingest version %s\n", version)
		return nil
	}

	if err := opts.validate(); err != nil {
		fs.Usage()
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.WithLevel(logger.New(), cfg.LogLevel)
	if err != nil {
		return err
	}
	ctx = logger.WithContext(ctx, log)

	var seed *rules.Seed
	if opts.rulesFile != "" {
		seed, err = rules.LoadFromFile(opts.rulesFile)
	} else {
		seed, err = rules.LoadEmbedded()
	}
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, &opts, cfg, seed, log)
	if err != nil {
		return err
	}
	defer be.Close()

	engine, err := be.suggestEngine(opts.userID, cfg, log)
	if err != nil {
		return err
	}

	if opts.mode == modeSuggest {
		return runSuggest(ctx, &opts, engine, stdout)
	}
	return runFiles(ctx, &opts, cfg, be, engine, stdout)
}

func (o *options) validate() error {
	switch o.mode {
	case modePreview, modeImport:
		if o.file == "" && o.inputDir == "" {
			return errors.New("-file or -input is required")
		}
		if o.file != "" && o.inputDir != "" {
			return errors.New("-file and -input cannot be combined")
		}
		if o.file != "" && strings.TrimSpace(o.accountID) == "" {
			return errors.New("-account is required with -file")
		}
		if o.force != "" && o.file == "" {
			return errors.New("-force applies to a single -file")
		}
	case modeSuggest:
		if strings.TrimSpace(o.description) == "" {
			return errors.New("-description is required in suggest mode")
		}
	default:
		return fmt.Errorf("unknown mode %q (want preview, import or suggest)", o.mode)
	}
	if strings.TrimSpace(o.userID) == "" {
		return errors.New("-user cannot be empty")
	}
	return nil
}

// statementFile is one file to process and the account it belongs to.
type statementFile struct {
	path      string
	accountID string
}

// fileReport is the JSON result for one file.
type fileReport struct {
	File    string                  `json:"file"`
	Account string                  `json:"account"`
	Preview *pipeline.PreviewResult `json:"preview,omitempty"`
	Import  *pipeline.ImportResult  `json:"import,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Code    pipeline.Code           `json:"code,omitempty"`
}

func runFiles(ctx context.Context, opts *options, cfg *config.Config, be *backend, engine *suggest.Engine, stdout io.Writer) error {
	title := "Previewing Statements"
	if opts.mode == modeImport {
		title = "Importing Statements"
	}
	ui.Header(title)

	ui.Step(1, 3, "Locating statements")
	files, err := collectFiles(opts)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no statement files found in %s\n\nPlease check:\n  - Directory path is correct\n  - Files have supported extensions (.qfx, .ofx, .csv)\n  - Files sit in an account directory: {root}/{account}/file", opts.inputDir)
	}
	ui.Success(fmt.Sprintf("Found %d statement file(s)", len(files)))

	ui.Step(2, 3, "Loading options")
	mapping, err := loadMapping(opts.mappingFile)
	if err != nil {
		return err
	}
	forced, err := parseIndices(opts.force)
	if err != nil {
		return err
	}
	if mapping != nil {
		ui.Info(fmt.Sprintf("Using field mapping from %s", opts.mappingFile))
	}
	ui.Info(fmt.Sprintf("Storage: %s", be.name))

	ui.Step(3, 3, "Processing statements")
	p := pipeline.New(be.lookup, be.inserter, logger.FromContext(ctx))

	reports := make([]fileReport, 0, len(files))
	var failed int
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		acct, err := domain.NewAccountConfig(f.accountID, opts.userID, opts.polarity)
		if err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}

		report := fileReport{File: f.path, Account: acct.AccountID}
		if opts.mode == modeImport {
			report.Import, err = importFile(ctx, p, engine, f.path, *acct, mapping, forced, cfg.ConfidenceThreshold)
		} else {
			report.Preview, err = previewFile(ctx, p, f.path, *acct, mapping)
		}
		if err != nil {
			// A single file can be reported in full by main.
			if len(files) == 1 {
				return fmt.Errorf("%s: %w", f.path, err)
			}
			failed++
			report.Error = err.Error()
			report.Code = pipeline.CodeOf(err)
			ui.Error(fmt.Sprintf("%s: %v", filepath.Base(f.path), err))
		} else {
			printReport(report)
		}
		reports = append(reports, report)
	}

	var result any = reports
	if len(reports) == 1 {
		result = reports[0]
	}
	if opts.outputFile != "" {
		if err := output.WriteToFile(result, opts.outputFile); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		ui.Success(fmt.Sprintf("Results written to %s", opts.outputFile))
	} else if err := output.Write(result, stdout); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(files))
	}
	return nil
}

// collectFiles resolves -file or scans -input.
func collectFiles(opts *options) ([]statementFile, error) {
	if opts.file != "" {
		return []statementFile{{path: opts.file, accountID: opts.accountID}}, nil
	}

	results, err := scanner.New(opts.inputDir).Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory %s: %w", opts.inputDir, err)
	}

	files := make([]statementFile, 0, len(results))
	for _, r := range results {
		acct := opts.accountID
		if acct == "" {
			acct = r.Metadata.AccountID()
		}
		if acct == "" {
			ui.Warning(fmt.Sprintf("Skipping %s: not inside an account directory", r.Path))
			continue
		}
		files = append(files, statementFile{path: r.Path, accountID: acct})
	}
	return files, nil
}

func previewFile(ctx context.Context, p *pipeline.Pipeline, path string, acct domain.AccountConfig, mapping *mapper.FieldMapping) (*pipeline.PreviewResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return p.Preview(ctx, f, filepath.Base(path), acct, pipeline.PreviewOptions{FieldMapping: mapping})
}

func importFile(ctx context.Context, p *pipeline.Pipeline, engine *suggest.Engine, path string, acct domain.AccountConfig, mapping *mapper.FieldMapping, forced []int, threshold float64) (*pipeline.ImportResult, error) {
	log := logger.WithFields(logger.FromContext(ctx), map[string]any{"file": path, "account": acct.AccountID})

	assignments, err := suggestAssignments(ctx, p, engine, path, acct, mapping, threshold)
	if err != nil {
		// Import reports file-level problems itself.
		log.Debug().Err(err).Msg("Skipping automatic categorisation")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return p.Import(ctx, f, filepath.Base(path), acct, pipeline.ImportOptions{
		FieldMapping:        mapping,
		CategoryAssignments: assignments,
		ForceReimport:       forced,
	})
}

// suggestAssignments previews path and auto-assigns categories to the rows
// whose best suggestion reaches threshold, keyed by source index.
func suggestAssignments(ctx context.Context, p *pipeline.Pipeline, engine *suggest.Engine, path string, acct domain.AccountConfig, mapping *mapper.FieldMapping, threshold float64) (map[int]string, error) {
	preview, err := previewFile(ctx, p, path, acct, mapping)
	if err != nil {
		return nil, err
	}

	txns := make([]*domain.Transaction, len(preview.Records))
	for i, l := range preview.Records {
		t := l.ToTransaction("", "")
		txns[i] = &t
	}

	assigned, err := engine.AutoAssign(ctx, txns, threshold)
	if err != nil {
		return nil, err
	}

	out := make(map[int]string, len(assigned))
	for _, a := range assigned {
		out[preview.Records[a.Index].SourceIndex] = a.Suggestion.CategoryID
	}
	return out, nil
}

func printReport(r fileReport) {
	ui.Success(filepath.Base(r.File))
	ui.Field("Account", r.Account)
	switch {
	case r.Preview != nil:
		ui.Field("Format", r.Preview.DetectedFormat)
		ui.Field("Records", r.Preview.TotalRecords)
		ui.Field("Duplicates", len(r.Preview.Duplicates))
		if r.Preview.Malformed > 0 {
			ui.Field("Malformed rows", r.Preview.Malformed)
		}
		if v := r.Preview.Validation; v != nil {
			ui.Field("Format confidence", fmt.Sprintf("%d%%", v.Confidence))
		}
	case r.Import != nil:
		ui.Field("Format", r.Import.DetectedFormat)
		ui.Field("Imported", r.Import.ImportedCount)
		ui.Field("Duplicates skipped", r.Import.DuplicateCount)
		if r.Import.ErrorCount > 0 {
			ui.Field("Rows skipped", r.Import.ErrorCount)
		}
	}
}

func runSuggest(ctx context.Context, opts *options, engine *suggest.Engine, stdout io.Writer) error {
	amt, err := decimal.NewFromString(strings.TrimSpace(opts.amount))
	if err != nil {
		return fmt.Errorf("invalid -amount %q: %w", opts.amount, err)
	}

	res, err := engine.SuggestResult(ctx, opts.description, amt.Abs())
	if err != nil {
		return fmt.Errorf("failed to suggest categories: %w", err)
	}

	ui.Header("Category Suggestions")
	if len(res.Suggestions) == 0 {
		ui.Info("No suggestions")
	}
	for _, s := range res.Suggestions {
		name := s.CategoryName
		if name == "" {
			name = s.CategoryID
		}
		ui.Field(name, fmt.Sprintf("%.0f%% (%s)", s.Confidence*100, s.Source))
	}
	for _, d := range res.Degraded {
		ui.Warning(d.Error())
	}

	suggestions := res.Suggestions
	if suggestions == nil {
		suggestions = []domain.CategorySuggestion{}
	}
	if opts.outputFile != "" {
		return output.WriteToFile(suggestions, opts.outputFile)
	}
	return output.Write(suggestions, stdout)
}

// loadMapping reads a FieldMapping JSON file. An empty path means no mapping.
func loadMapping(path string) (*mapper.FieldMapping, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	var m mapper.FieldMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file %s: %w", path, err)
	}
	if !m.Complete() {
		return nil, fmt.Errorf("mapping file %s: %w", path, mapper.ErrIncompleteMapping)
	}
	return &m, nil
}

// parseIndices parses "1, 3,4" into row indices.
func parseIndices(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid row index %q in -force", part)
		}
		out = append(out, n)
	}
	return out, nil
}
