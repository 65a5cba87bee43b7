package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/config"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/dedup"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/firestore"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/output"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/rules"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/store"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/store/sqlite"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/suggest"
)

// backend is the storage a run reads and writes. Unset sources are skipped.
type backend struct {
	name       string
	lookup     dedup.Lookup
	inserter   pipeline.Inserter
	rules      suggest.KeywordRuleStore
	history    suggest.HistoryStore
	categories suggest.CategoryStore
	feedback   suggest.FeedbackStore
	frequency  suggest.FrequencyService
	closer     func() error
}

// Close releases the backend.
func (b *backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// openBackend picks the storage, in order: -state, -db, STMT_FIRESTORE_PROJECT,
// then the default SQLite database. The seed rules are written to database
// backends for the user; the state backend reads them directly.
func openBackend(ctx context.Context, opts *options, cfg *config.Config, seed *rules.Seed, log zerolog.Logger) (*backend, error) {
	switch {
	case opts.statePath != "":
		return openStateBackend(opts.statePath, seed)
	case opts.dbPath == "" && cfg.FirestoreProject != "":
		return openFirestoreBackend(ctx, cfg.FirestoreProject, opts.userID, seed, log)
	default:
		return openSQLiteBackend(ctx, cfg.DBPath, opts.userID, seed, log)
	}
}

func openSQLiteBackend(ctx context.Context, path, userID string, seed *rules.Seed, log zerolog.Logger) (*backend, error) {
	s, err := sqlite.Open(ctx, path, log)
	if err != nil {
		return nil, err
	}
	if _, err := s.SeedRules(ctx, userID, seed); err != nil {
		s.Close()
		return nil, err
	}
	return &backend{
		name:       "sqlite " + path,
		lookup:     s,
		inserter:   s,
		rules:      s,
		history:    s,
		categories: s,
		feedback:   s,
		frequency:  s.Frequency(userID),
		closer:     s.Close,
	}, nil
}

func openFirestoreBackend(ctx context.Context, projectID, userID string, seed *rules.Seed, log zerolog.Logger) (*backend, error) {
	c, err := firestore.NewClient(ctx, projectID, "", firestore.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if _, err := c.SeedRules(ctx, userID, seed); err != nil {
		c.Close()
		return nil, err
	}
	return &backend{
		name:       "firestore " + projectID,
		lookup:     c,
		inserter:   c,
		rules:      c,
		history:    c,
		categories: c,
		feedback:   c,
		closer:     c.Close,
	}, nil
}

func openStateBackend(path string, seed *rules.Seed) (*backend, error) {
	state, err := dedup.OpenState(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load state file %q: %w\n\nThe state file exists but cannot be loaded.\nDeleting it will cause all transactions to be imported as NEW.", path, err)
	}
	return &backend{
		name:       "state " + path,
		lookup:     state,
		inserter:   &stateInserter{state: state, logPath: importLogPath(path)},
		rules:      seed,
		categories: seed,
	}, nil
}

// suggestEngine builds the suggestion engine for userID. A configured
// frequency service URL replaces the backend's own frequency source.
func (b *backend) suggestEngine(userID string, cfg *config.Config, log zerolog.Logger) (*suggest.Engine, error) {
	freq := b.frequency
	if cfg.FrequencyURL != "" {
		var hopts []suggest.HTTPFrequencyOption
		if cfg.FrequencyToken != "" {
			hopts = append(hopts, suggest.WithBearerToken(cfg.FrequencyToken))
		}
		hopts = append(hopts, suggest.WithRateLimit(cfg.FrequencyRPS, int(cfg.FrequencyRPS)))

		client, err := suggest.NewHTTPFrequencyClient(cfg.FrequencyURL, hopts...)
		if err != nil {
			return nil, err
		}
		freq = client
	}

	return suggest.NewEngine(suggest.Config{
		UserID:           userID,
		Rules:            b.rules,
		History:          b.history,
		Categories:       b.categories,
		Frequency:        freq,
		FrequencyTimeout: cfg.FrequencyTimeout,
		Feedback:         b.feedback,
		BatchSize:        cfg.BatchSize,
		Logger:           log,
	})
}

// importLogPath is the import log kept next to a state file: state.json -> state.imports.json.
func importLogPath(statePath string) string {
	ext := filepath.Ext(statePath)
	return strings.TrimSuffix(statePath, ext) + ".imports.json"
}

// stateInserter persists imports to a JSON import log and records their hashes
// in the state file.
type stateInserter struct {
	state   *dedup.State
	logPath string
}

// InsertTransactions implements pipeline.Inserter. The log is written before the
// state, so a failed state save leaves a logged import whose hashes are not
// recorded; the source hash still blocks re-importing the same file.
func (s *stateInserter) InsertTransactions(ctx context.Context, b *domain.ImportBatch) error {
	for _, t := range b.Transactions {
		if t.DedupeHash == "" || t.Forced {
			continue
		}
		found, err := s.state.ExistsByHash(ctx, b.AccountID, t.DedupeHash)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("hash %s: %w", t.DedupeHash, store.ErrDuplicateTransaction)
		}
	}

	if err := output.AppendImport(s.logPath, b); err != nil {
		return err
	}

	for _, t := range b.Transactions {
		if t.DedupeHash == "" {
			continue
		}
		if err := s.state.RecordHash(ctx, b.AccountID, t.DedupeHash, t.TransactionID); err != nil {
			return fmt.Errorf("failed to record hash: %w", err)
		}
	}
	if err := s.state.Save(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}
