// Package sqlstore implements storage.Store on top of database/sql.
//
// The SQLite, PostgreSQL and OceanBase backends share this implementation and
// differ only in their Dialect: placeholder syntax, column types and how a
// unique constraint violation is reported by the driver.
package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect describes the SQL differences between backends.
type Dialect interface {
	// Name returns the backend name (sqlite, postgres, oceanbase).
	Name() string

	// Rebind rewrites "?" placeholders into the backend's syntax.
	Rebind(query string) string

	// Types returns the column types used when creating tables.
	Types() ColumnTypes

	// IsUniqueViolation reports whether err is a unique constraint violation.
	IsUniqueViolation(err error) bool
}

// ColumnTypes maps logical column kinds to backend column types.
type ColumnTypes struct {
	// BigInt holds 64-bit integers (IDs, versions).
	BigInt string

	// Int holds small integers and booleans.
	Int string

	// Key holds short indexable strings.
	Key string

	// Text holds unbounded text.
	Text string

	// Float holds double precision numbers.
	Float string

	// Time holds timestamps with at least microsecond precision.
	Time string
}

// QuestionRebind leaves "?" placeholders unchanged (SQLite, MySQL).
func QuestionRebind(query string) string { return query }

// DollarRebind rewrites "?" placeholders into $1, $2, ... (PostgreSQL).
func DollarRebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
