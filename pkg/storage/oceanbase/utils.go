package oceanbase

import (
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/oceanbase/scopemem-go/pkg/storage/sqlstore"
)

// duplicateEntry is ER_DUP_ENTRY.
const duplicateEntry = 1062

// Dialect is the OceanBase (MySQL mode) SQL dialect.
type Dialect struct{}

// Name returns "oceanbase".
func (Dialect) Name() string { return "oceanbase" }

// Rebind keeps "?" placeholders.
func (Dialect) Rebind(query string) string { return sqlstore.QuestionRebind(query) }

// Types returns OceanBase column types. Key columns stay within the InnoDB
// index prefix limit under utf8mb4.
func (Dialect) Types() sqlstore.ColumnTypes {
	return sqlstore.ColumnTypes{
		BigInt: "BIGINT",
		Int:    "INT",
		Key:    "VARCHAR(512)",
		Text:   "LONGTEXT",
		Float:  "DOUBLE",
		Time:   "DATETIME(6)",
	}
}

// IsUniqueViolation reports whether err is a duplicate entry error.
func (Dialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == duplicateEntry
	}
	return false
}
