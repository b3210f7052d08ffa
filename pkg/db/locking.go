package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate appends a row-level FOR UPDATE lock to the query. SQLite has no
// row locks and serializes writers anyway, so the clause is skipped there to
// keep the test dialect working.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
