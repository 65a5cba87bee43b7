package sqlite

type ddl struct {
	name string
	sql  string
}

var schema = []ddl{
	{"statement_imports table", `
		CREATE TABLE IF NOT EXISTS statement_imports (
			import_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			source_name TEXT NOT NULL,
			source_hash TEXT UNIQUE,
			format TEXT NOT NULL,
			transaction_count INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`},
	{"statement_lines table", `
		CREATE TABLE IF NOT EXISTS statement_lines (
			statement_line_id TEXT PRIMARY KEY,
			import_id TEXT NOT NULL REFERENCES statement_imports(import_id),
			account_id TEXT NOT NULL,
			transaction_date TEXT NOT NULL,
			processed_date TEXT,
			description TEXT NOT NULL,
			description_norm TEXT NOT NULL,
			raw_amount TEXT NOT NULL,
			transaction_type TEXT NOT NULL,
			signed_amount TEXT NOT NULL,
			instrument_id TEXT,
			bank_reference TEXT,
			fit_id TEXT,
			dedupe_hash TEXT NOT NULL,
			norm_version TEXT NOT NULL,
			raw_row TEXT,
			source_index INTEGER NOT NULL,
			line INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`},
	{"statement_lines index", `
		CREATE INDEX IF NOT EXISTS idx_statement_lines_account_hash ON statement_lines(account_id, dedupe_hash)`},
	{"transactions table", `
		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			import_id TEXT NOT NULL REFERENCES statement_imports(import_id),
			account_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			transaction_date TEXT NOT NULL,
			description TEXT NOT NULL,
			description_norm TEXT NOT NULL DEFAULT '',
			raw_amount TEXT NOT NULL,
			transaction_type TEXT NOT NULL,
			signed_amount TEXT NOT NULL,
			dedupe_hash TEXT,
			category_id TEXT,
			split_index INTEGER,
			split_total INTEGER,
			forced INTEGER NOT NULL DEFAULT 0,
			source_index INTEGER NOT NULL
		)`},
	// Forced re-imports and split fragments without a hash are exempt.
	{"transactions dedupe index", `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_account_hash
			ON transactions(account_id, dedupe_hash)
			WHERE forced = 0 AND dedupe_hash IS NOT NULL`},
	{"transactions category index", `
		CREATE INDEX IF NOT EXISTS idx_transactions_user_category ON transactions(user_id, category_id)`},
	{"legacy_hashes table", `
		CREATE TABLE IF NOT EXISTS legacy_hashes (
			dedupe_hash TEXT PRIMARY KEY
		)`},
	{"categories table", `
		CREATE TABLE IF NOT EXISTS categories (
			user_id TEXT NOT NULL,
			category_id TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (user_id, category_id)
		)`},
	{"keyword_rules table", `
		CREATE TABLE IF NOT EXISTS keyword_rules (
			user_id TEXT NOT NULL,
			keyword TEXT NOT NULL,
			category_id TEXT NOT NULL,
			PRIMARY KEY (user_id, keyword)
		)`},
	{"category_matching_feedback table", `
		CREATE TABLE IF NOT EXISTS category_matching_feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			description TEXT NOT NULL,
			amount REAL NOT NULL,
			suggested_category_id TEXT,
			actual_category_id TEXT NOT NULL,
			confidence REAL NOT NULL,
			accepted INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		)`},
}
