// Package dedup detects statement lines that were already imported into an account.
package dedup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// Lookup answers whether a dedupe hash is already stored.
type Lookup interface {
	// ExistsByHash checks the account-scoped hash registry
	ExistsByHash(ctx context.Context, accountID, hash string) (bool, error)

	// ExistsLegacy checks hashes stored before account scoping was introduced
	ExistsLegacy(ctx context.Context, hash string) (bool, error)
}

// Recorder registers hashes after a successful import.
type Recorder interface {
	RecordHash(ctx context.Context, accountID, hash, transactionID string) error
}

// Engine checks lines against a Lookup. It keeps no state between calls.
type Engine struct {
	lookup Lookup
	log    zerolog.Logger
}

// NewEngine returns an engine backed by lookup. A nil lookup only detects
// repeats within a batch.
func NewEngine(lookup Lookup, log zerolog.Logger) *Engine {
	return &Engine{lookup: lookup, log: log}
}

// Exists reports whether hash is stored for accountID or in the legacy registry.
func (e *Engine) Exists(ctx context.Context, accountID, hash string) (bool, error) {
	if e.lookup == nil || hash == "" {
		return false, nil
	}

	found, err := e.lookup.ExistsByHash(ctx, accountID, hash)
	if err != nil {
		return false, fmt.Errorf("failed to look up hash for account %s: %w", accountID, err)
	}
	if found {
		return true, nil
	}

	found, err = e.lookup.ExistsLegacy(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("failed to look up legacy hash: %w", err)
	}
	return found, nil
}

// Batch splits lines into those not seen before and duplicates.
type Batch struct {
	Accepted   []*domain.StatementLine
	Duplicates []*domain.StatementLine
}

// UniqueDuplicates counts distinct hashes among the duplicates.
func (b *Batch) UniqueDuplicates() int {
	seen := make(map[string]struct{}, len(b.Duplicates))
	for _, l := range b.Duplicates {
		seen[l.DedupeHash] = struct{}{}
	}
	return len(seen)
}

// IsDuplicate reports whether the line at sourceIndex was flagged.
func (b *Batch) IsDuplicate(sourceIndex int) bool {
	for _, l := range b.Duplicates {
		if l.SourceIndex == sourceIndex {
			return true
		}
	}
	return false
}

// CheckBatch classifies lines for accountID, in order. A line whose hash
// appeared earlier in the same batch is a duplicate even if nothing is stored.
// Lines without a hash are always accepted.
func (e *Engine) CheckBatch(ctx context.Context, accountID string, lines []*domain.StatementLine) (*Batch, error) {
	batch := &Batch{}
	seen := make(map[string]struct{}, len(lines))

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if line.DedupeHash == "" {
			batch.Accepted = append(batch.Accepted, line)
			continue
		}

		if _, ok := seen[line.DedupeHash]; ok {
			e.log.Debug().Int("index", line.SourceIndex).Msg("Repeated row within batch")
			batch.Duplicates = append(batch.Duplicates, line)
			continue
		}
		seen[line.DedupeHash] = struct{}{}

		exists, err := e.Exists(ctx, accountID, line.DedupeHash)
		if err != nil {
			return nil, err
		}
		if exists {
			batch.Duplicates = append(batch.Duplicates, line)
			continue
		}
		batch.Accepted = append(batch.Accepted, line)
	}

	e.log.Debug().
		Str("account", accountID).
		Int("accepted", len(batch.Accepted)).
		Int("duplicates", len(batch.Duplicates)).
		Msg("Dedupe check complete")
	return batch, nil
}
