package sqlite

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/oceanbase/scopemem-go/pkg/storage/sqlstore"
)

// Dialect is the SQLite SQL dialect.
type Dialect struct{}

// Name returns "sqlite".
func (Dialect) Name() string { return "sqlite" }

// Rebind keeps "?" placeholders.
func (Dialect) Rebind(query string) string { return sqlstore.QuestionRebind(query) }

// Types returns SQLite column types. Timestamps are declared DATETIME so the
// driver parses them back into time.Time.
func (Dialect) Types() sqlstore.ColumnTypes {
	return sqlstore.ColumnTypes{
		BigInt: "INTEGER",
		Int:    "INTEGER",
		Key:    "TEXT",
		Text:   "TEXT",
		Float:  "REAL",
		Time:   "DATETIME",
	}
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY violation.
func (Dialect) IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
