package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// IsUniqueViolation reports whether err is a uniqueness-constraint
// conflict. The same condition arrives in several shapes depending on
// what sits between us and the server (driver error, pooler, wrapped
// text), so we check the numeric code, the named code, and message
// substrings.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "23505" || pqErr.Code.Name() == "unique_violation" {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "violates unique constraint")
}

// IsTransient reports whether err is worth retrying: serialization
// failures, deadlocks, server shutdown, and connection-class errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "57P01", "57P02", "57P03":
			return true
		}
		// Class 08: connection exceptions.
		if strings.HasPrefix(string(pqErr.Code), "08") {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"write conflict",
		"unexpected eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
