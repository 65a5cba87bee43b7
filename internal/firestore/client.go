// Package firestore implements the ingestion and suggestion stores on Cloud Firestore.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const (
	transactionsCollection = "stmt-transactions"
	linesCollection        = "stmt-statement-lines"
	importsCollection      = "stmt-imports"
	dedupeCollection       = "stmt-dedupe-hashes"
	legacyCollection       = "stmt-legacy-hashes"
	rulesCollection        = "stmt-keyword-rules"
	categoriesCollection   = "stmt-categories"
	feedbackCollection     = "category_matching_feedback"
)

// HistoryLimit caps the categorized transactions read for history matching.
const HistoryLimit = 1000

// Client wraps a Firestore client with the statement ingestion operations.
type Client struct {
	Firestore *firestore.Client
	prefix    string
	log       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCollectionPrefix prefixes every collection name, e.g. "pr_123_" for preview data.
func WithCollectionPrefix(prefix string) Option {
	return func(c *Client) { c.prefix = prefix }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a Firestore client through a Firebase app using
// Application Default Credentials, or credsFile when it is set.
func NewClient(ctx context.Context, projectID, credsFile string, opts ...Option) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project ID cannot be empty")
	}
	conf := &firebase.Config{ProjectID: projectID}

	var clientOpts []option.ClientOption
	if credsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credsFile))
	}

	app, err := firebase.NewApp(ctx, conf, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return Wrap(fs, opts...), nil
}

// Wrap adapts an existing Firestore client.
func Wrap(fs *firestore.Client, opts ...Option) *Client {
	c := &Client{Firestore: fs, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "firestore").Logger()
	return c
}

// Close closes the Firestore client
func (c *Client) Close() error {
	return c.Firestore.Close()
}

func (c *Client) collection(name string) *firestore.CollectionRef {
	return c.Firestore.Collection(c.prefix + name)
}
