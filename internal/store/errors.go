// Package store holds the errors shared by the storage implementations.
package store

import "errors"

var (
	// ErrDuplicateFile is returned when a statement file with the same source hash was already imported.
	ErrDuplicateFile = errors.New("statement file already imported")

	// ErrDuplicateTransaction is returned when a non-forced transaction repeats a stored dedupe hash.
	ErrDuplicateTransaction = errors.New("transaction already imported")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)
