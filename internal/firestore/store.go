package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/rules"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/store"
)

// MaxBatchWrites is the largest number of documents one import may write.
// Firestore transactions accept at most 500 writes.
const MaxBatchWrites = 500

// ExistsByHash implements dedup.Lookup.
func (c *Client) ExistsByHash(ctx context.Context, accountID, hash string) (bool, error) {
	return c.exists(ctx, c.collection(dedupeCollection).Doc(dedupeDocID(accountID, hash)))
}

// ExistsLegacy implements dedup.Lookup.
func (c *Client) ExistsLegacy(ctx context.Context, hash string) (bool, error) {
	found, err := c.exists(ctx, c.collection(legacyCollection).Doc(hash))
	if err != nil || found {
		return found, err
	}
	return c.exists(ctx, c.collection(transactionsCollection).Doc(hash))
}

func (c *Client) exists(ctx context.Context, ref *firestore.DocumentRef) (bool, error) {
	_, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", ref.Path, err)
	}
	return true, nil
}

// batchWrites counts the documents InsertTransactions writes for b.
func batchWrites(b *domain.ImportBatch) int {
	n := len(b.Transactions) + len(b.Lines)
	if b.SourceHash != "" {
		n++
	}
	for _, t := range b.Transactions {
		if t.DedupeHash != "" && !t.Forced {
			n++
		}
	}
	return n
}

// InsertTransactions implements pipeline.Inserter in one Firestore transaction.
// The source hash and every non-forced dedupe hash are reserved with marker
// documents; an existing marker gives store.ErrDuplicateFile or
// store.ErrDuplicateTransaction.
func (c *Client) InsertTransactions(ctx context.Context, b *domain.ImportBatch) error {
	if n := batchWrites(b); n > MaxBatchWrites {
		return fmt.Errorf("import %s needs %d writes, more than the %d Firestore allows in one transaction", b.ImportID, n, MaxBatchWrites)
	}

	var importRef *firestore.DocumentRef
	if b.SourceHash != "" {
		importRef = c.collection(importsCollection).Doc(b.SourceHash)
	}

	type reservation struct {
		ref  *firestore.DocumentRef
		data DedupeMarker
	}
	var reservations []reservation
	for _, t := range b.Transactions {
		if t.DedupeHash == "" || t.Forced {
			continue
		}
		reservations = append(reservations, reservation{
			ref:  c.collection(dedupeCollection).Doc(dedupeDocID(b.AccountID, t.DedupeHash)),
			data: DedupeMarker{AccountID: b.AccountID, DedupeHash: t.DedupeHash, TransactionID: t.TransactionID},
		})
	}

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := c.Firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Reads first: Firestore rejects reads after writes in a transaction.
		var refs []*firestore.DocumentRef
		if importRef != nil {
			refs = append(refs, importRef)
		}
		for _, r := range reservations {
			refs = append(refs, r.ref)
		}
		if len(refs) > 0 {
			snaps, err := tx.GetAll(refs)
			if err != nil {
				return fmt.Errorf("failed to read markers: %w", err)
			}
			for i, snap := range snaps {
				if !snap.Exists() {
					continue
				}
				if importRef != nil && i == 0 {
					return fmt.Errorf("%s: %w", b.SourceName, store.ErrDuplicateFile)
				}
				return fmt.Errorf("hash %s: %w", snap.Ref.ID, store.ErrDuplicateTransaction)
			}
		}

		if importRef != nil {
			if err := tx.Create(importRef, Import{
				ImportID:         b.ImportID,
				AccountID:        b.AccountID,
				UserID:           b.UserID,
				SourceName:       b.SourceName,
				Format:           b.Format,
				TransactionCount: len(b.Transactions),
				CreatedAt:        createdAt,
			}); err != nil {
				return err
			}
		}
		for _, r := range reservations {
			if err := tx.Create(r.ref, r.data); err != nil {
				return err
			}
		}
		for _, l := range b.Lines {
			if err := tx.Create(c.collection(linesCollection).Doc(l.StatementLineID), toStatementLine(l, b.ImportID)); err != nil {
				return err
			}
		}
		for _, t := range b.Transactions {
			if err := tx.Create(c.collection(transactionsCollection).Doc(t.TransactionID), toTransaction(t, createdAt)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapInsertError(err)
	}

	c.log.Debug().Str("import", b.ImportID).Int("transactions", len(b.Transactions)).Msg("Import stored")
	return nil
}

// mapInsertError turns a commit-time AlreadyExists (a concurrent import won
// the race for a marker) into store.ErrDuplicateTransaction.
func mapInsertError(err error) error {
	if errors.Is(err, store.ErrDuplicateFile) || errors.Is(err, store.ErrDuplicateTransaction) {
		return err
	}
	if status.Code(err) == codes.AlreadyExists {
		return errors.Join(store.ErrDuplicateTransaction, err)
	}
	return fmt.Errorf("failed to store import: %w", err)
}

// Transactions returns the stored transactions of an account ordered by date.
func (c *Client) Transactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	iter := c.collection(transactionsCollection).
		Where("accountId", "==", accountID).
		OrderBy("date", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []domain.Transaction
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate transactions for account %s: %w", accountID, err)
		}

		var d Transaction
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		t, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// GetKeywordRules implements suggest.KeywordRuleStore.
func (c *Client) GetKeywordRules(ctx context.Context, userID string) ([]domain.KeywordRule, error) {
	iter := c.collection(rulesCollection).Where("userId", "==", userID).Documents(ctx)
	defer iter.Stop()

	var out []domain.KeywordRule
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate keyword rules for user %s: %w", userID, err)
		}

		var r KeywordRule
		if err := doc.DataTo(&r); err != nil {
			return nil, fmt.Errorf("failed to parse keyword rule: %w", err)
		}
		out = append(out, domain.KeywordRule{UserID: r.UserID, Keyword: r.Keyword, CategoryID: r.CategoryID})
	}
	return out, nil
}

// SaveKeywordRule implements suggest.KeywordRuleWriter.
func (c *Client) SaveKeywordRule(ctx context.Context, rule domain.KeywordRule) error {
	keyword := strings.ToLower(strings.TrimSpace(rule.Keyword))
	if keyword == "" || rule.CategoryID == "" {
		return fmt.Errorf("keyword rule needs a keyword and a category")
	}
	_, err := c.collection(rulesCollection).Doc(ruleDocID(rule.UserID, keyword)).Set(ctx, KeywordRule{
		UserID:     rule.UserID,
		Keyword:    keyword,
		CategoryID: rule.CategoryID,
	})
	if err != nil {
		return fmt.Errorf("failed to save keyword rule: %w", err)
	}
	return nil
}

// DeleteKeywordRule implements suggest.KeywordRuleWriter.
func (c *Client) DeleteKeywordRule(ctx context.Context, userID, keyword string) error {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	_, err := c.collection(rulesCollection).Doc(ruleDocID(userID, keyword)).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("keyword rule %s: %w", keyword, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete keyword rule: %w", err)
	}
	return nil
}

// GetCategories implements suggest.CategoryStore.
func (c *Client) GetCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	iter := c.collection(categoriesCollection).Where("userId", "==", userID).Documents(ctx)
	defer iter.Stop()

	var out []domain.Category
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate categories for user %s: %w", userID, err)
		}

		var cat Category
		if err := doc.DataTo(&cat); err != nil {
			return nil, fmt.Errorf("failed to parse category: %w", err)
		}
		out = append(out, domain.Category{ID: cat.CategoryID, Name: cat.Name})
	}
	return out, nil
}

// SaveCategory creates or renames a category.
func (c *Client) SaveCategory(ctx context.Context, userID string, cat domain.Category) error {
	if cat.ID == "" || cat.Name == "" {
		return fmt.Errorf("category needs an ID and a name")
	}
	_, err := c.collection(categoriesCollection).Doc(categoryDocID(userID, cat.ID)).Set(ctx, Category{
		UserID:     userID,
		CategoryID: cat.ID,
		Name:       cat.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

// SeedRules writes the seed's categories and keyword rules for userID with a
// BulkWriter. Documents the user already has are left untouched. It returns
// the number of keyword rules added.
func (c *Client) SeedRules(ctx context.Context, userID string, seed *rules.Seed) (int, error) {
	bw := c.Firestore.BulkWriter(ctx)

	var ruleJobs []*firestore.BulkWriterJob
	var otherJobs []*firestore.BulkWriterJob
	for _, cat := range seed.Categories() {
		job, err := bw.Create(c.collection(categoriesCollection).Doc(categoryDocID(userID, cat.ID)), Category{
			UserID:     userID,
			CategoryID: cat.ID,
			Name:       cat.Name,
		})
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to queue category %s: %w", cat.ID, err)
		}
		otherJobs = append(otherJobs, job)
	}
	for _, r := range seed.KeywordRules(userID) {
		keyword := strings.ToLower(r.Keyword)
		job, err := bw.Create(c.collection(rulesCollection).Doc(ruleDocID(userID, keyword)), KeywordRule{
			UserID:     userID,
			Keyword:    keyword,
			CategoryID: r.CategoryID,
		})
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to queue keyword %q: %w", keyword, err)
		}
		ruleJobs = append(ruleJobs, job)
	}
	bw.End()

	for _, job := range otherJobs {
		if _, err := job.Results(); err != nil && status.Code(err) != codes.AlreadyExists {
			return 0, fmt.Errorf("failed to seed category: %w", err)
		}
	}
	added := 0
	for _, job := range ruleJobs {
		_, err := job.Results()
		switch {
		case err == nil:
			added++
		case status.Code(err) != codes.AlreadyExists:
			return added, fmt.Errorf("failed to seed keyword rule: %w", err)
		}
	}

	c.log.Debug().Str("user", userID).Int("rules", added).Msg("Seeded keyword rules")
	return added, nil
}

// GetCategorizedHistory implements suggest.HistoryStore, most recent first.
func (c *Client) GetCategorizedHistory(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	iter := c.collection(transactionsCollection).
		Where("userId", "==", userID).
		Where("categorized", "==", true).
		OrderBy("date", firestore.Desc).
		Limit(HistoryLimit).
		Documents(ctx)
	defer iter.Stop()

	var out []domain.HistoryEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate history for user %s: %w", userID, err)
		}

		var d Transaction
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		out = append(out, domain.HistoryEntry{Description: d.Description, Amount: d.AbsAmount, CategoryID: d.CategoryID})
	}
	return out, nil
}

// SaveFeedback implements suggest.FeedbackStore.
func (c *Client) SaveFeedback(ctx context.Context, fb domain.Feedback) error {
	if _, _, err := c.collection(feedbackCollection).Add(ctx, toFeedback(fb)); err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}
