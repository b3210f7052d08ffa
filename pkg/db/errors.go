package db

import "strings"

// IsUniqueViolation reports whether the provided error is a unique violation.
// When constraintName is provided, a match on the constraint text is accepted
// first; the generic markers cover Postgres and the sqlite driver used in
// tests, whose messages name columns rather than constraints.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
