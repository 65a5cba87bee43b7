package sqlite

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// Primary key collisions have their own extended code and do not match.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// asStoreError maps a UNIQUE failure of the statement that raised err to
// target. Each insert touches at most one unique index, so the failing
// statement identifies the constraint. Other errors are returned unchanged.
func asStoreError(err, target error) error {
	if isUniqueViolation(err) {
		return errors.Join(target, err)
	}
	return err
}
