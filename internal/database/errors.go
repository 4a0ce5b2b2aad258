package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrConflict wraps unique constraint violations from either dialect.
var ErrConflict = errors.New("unique constraint violation")

// IsUniqueViolation reports whether err came from a unique index.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// sqlite (tests) has no typed error through sqliteshim
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// MapConflict turns unique violations into ErrConflict and passes other
// errors through untouched.
func MapConflict(err error) error {
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
