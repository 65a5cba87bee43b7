package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/store"
)

// ExistsByHash implements dedup.Lookup.
func (s *Store) ExistsByHash(ctx context.Context, accountID, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE account_id = ? AND dedupe_hash = ?
	`, accountID, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up dedupe hash: %w", err)
	}
	return n > 0, nil
}

// ExistsLegacy implements dedup.Lookup. Rows stored before dedupe hashes had
// their own column used the hash as the transaction id, so either a
// registered legacy hash or a transaction with that id matches.
func (s *Store) ExistsLegacy(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM legacy_hashes WHERE dedupe_hash = ?)
			OR EXISTS(SELECT 1 FROM transactions WHERE transaction_id = ?)
	`, hash, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up legacy hash: %w", err)
	}
	return n > 0, nil
}

// AddLegacyHash registers a hash recorded before dedupe was account scoped.
func (s *Store) AddLegacyHash(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO legacy_hashes (dedupe_hash) VALUES (?)`, hash)
	if err != nil {
		return fmt.Errorf("failed to add legacy hash: %w", err)
	}
	return nil
}

// InsertTransactions implements pipeline.Inserter. The import record, its
// statement lines and its transactions are written in one transaction.
// A repeated source hash gives store.ErrDuplicateFile and a repeated
// non-forced dedupe hash gives store.ErrDuplicateTransaction.
func (s *Store) InsertTransactions(ctx context.Context, b *domain.ImportBatch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Warn().Err(rbErr).Str("import", b.ImportID).Msg("Rollback failed")
			}
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO statement_imports (import_id, account_id, user_id, source_name, source_hash, format, transaction_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ImportID, b.AccountID, b.UserID, b.SourceName, nullString(b.SourceHash), b.Format, len(b.Transactions), formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record import: %w", asStoreError(err, store.ErrDuplicateFile))
	}

	lineStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO statement_lines (
			statement_line_id, import_id, account_id, transaction_date, processed_date,
			description, description_norm, raw_amount, transaction_type, signed_amount,
			instrument_id, bank_reference, fit_id, dedupe_hash, norm_version, raw_row,
			source_index, line, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement line insert: %w", err)
	}
	defer lineStmt.Close()

	norms := make(map[int]string, len(b.Lines))
	for _, l := range b.Lines {
		norms[l.SourceIndex] = l.NormalizedDescription
		_, err = lineStmt.ExecContext(ctx,
			l.StatementLineID, b.ImportID, l.AccountID, l.Date, nullString(l.ProcessedDate),
			l.Description, l.NormalizedDescription, l.RawAmount.String(), string(l.Type), l.SignedAmount.String(),
			nullString(l.InstrumentID), nullString(l.BankReference), nullString(l.ProviderID), l.DedupeHash, l.NormVersion, nullString(l.RawJSON),
			l.SourceIndex, l.Line, formatTime(l.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert statement line %d: %w", l.SourceIndex, err)
		}
	}

	txnStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (
			transaction_id, import_id, account_id, user_id, transaction_date,
			description, description_norm, raw_amount, transaction_type, signed_amount,
			dedupe_hash, category_id, split_index, split_total, forced, source_index
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare transaction insert: %w", err)
	}
	defer txnStmt.Close()

	for _, t := range b.Transactions {
		var splitIndex, splitTotal sql.NullInt64
		if t.Split != nil {
			splitIndex = sql.NullInt64{Int64: int64(t.Split.Index), Valid: true}
			splitTotal = sql.NullInt64{Int64: int64(t.Split.Total), Valid: true}
		}
		var category sql.NullString
		if t.CategoryID != nil {
			category = sql.NullString{String: *t.CategoryID, Valid: true}
		}

		_, err = txnStmt.ExecContext(ctx,
			t.TransactionID, b.ImportID, t.AccountID, t.UserID, t.Date,
			t.Description, norms[t.SourceIndex], t.RawAmount.String(), string(t.Type), t.SignedAmount.String(),
			nullString(t.DedupeHash), category, splitIndex, splitTotal, t.Forced, t.SourceIndex)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", t.TransactionID, asStoreError(err, store.ErrDuplicateTransaction))
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}

	s.log.Debug().
		Str("import", b.ImportID).
		Str("account", b.AccountID).
		Int("transactions", len(b.Transactions)).
		Msg("Import stored")
	return nil
}

// Transactions returns the stored transactions of an account in import order.
func (s *Store) Transactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, import_id, account_id, user_id, transaction_date, description,
			raw_amount, transaction_type, signed_amount, dedupe_hash, category_id,
			split_index, split_total, forced, source_index
		FROM transactions
		WHERE account_id = ?
		ORDER BY rowid
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t                      domain.Transaction
			raw, signed, txnType   string
			hash, category         sql.NullString
			splitIndex, splitTotal sql.NullInt64
		)
		if err := rows.Scan(&t.TransactionID, &t.ImportID, &t.AccountID, &t.UserID, &t.Date, &t.Description,
			&raw, &txnType, &signed, &hash, &category, &splitIndex, &splitTotal, &t.Forced, &t.SourceIndex); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if t.RawAmount, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("transaction %s has invalid raw amount %q: %w", t.TransactionID, raw, err)
		}
		if t.SignedAmount, err = decimal.NewFromString(signed); err != nil {
			return nil, fmt.Errorf("transaction %s has invalid signed amount %q: %w", t.TransactionID, signed, err)
		}
		t.Type = domain.TxnType(txnType)
		t.DedupeHash = hash.String
		if category.Valid {
			t.SetCategory(category.String)
		}
		if splitIndex.Valid {
			t.Split = &domain.SplitInfo{Index: int(splitIndex.Int64), Total: int(splitTotal.Int64)}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTransactionCategory assigns or clears the category of a stored transaction.
func (s *Store) SetTransactionCategory(ctx context.Context, transactionID, categoryID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET category_id = ? WHERE transaction_id = ?
	`, nullString(categoryID), transactionID)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	return requireAffected(res, "transaction "+transactionID)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
