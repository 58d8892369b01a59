package postgres

import (
	"errors"

	"github.com/lib/pq"

	"github.com/oceanbase/scopemem-go/pkg/storage/sqlstore"
)

// uniqueViolation is the SQLSTATE of unique_violation.
const uniqueViolation = "23505"

// Dialect is the PostgreSQL SQL dialect.
type Dialect struct{}

// Name returns "postgres".
func (Dialect) Name() string { return "postgres" }

// Rebind rewrites "?" placeholders into $1, $2, ...
func (Dialect) Rebind(query string) string { return sqlstore.DollarRebind(query) }

// Types returns PostgreSQL column types.
func (Dialect) Types() sqlstore.ColumnTypes {
	return sqlstore.ColumnTypes{
		BigInt: "BIGINT",
		Int:    "INTEGER",
		Key:    "VARCHAR(512)",
		Text:   "TEXT",
		Float:  "DOUBLE PRECISION",
		Time:   "TIMESTAMPTZ",
	}
}

// IsUniqueViolation reports whether err is a unique_violation.
func (Dialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
