// Package sqlite provides the SQLite backend of the memory store.
//
// SQLite is a lightweight, file-based database suitable for local development,
// tests and single-node deployments. Embeddings are stored as JSON strings in
// TEXT fields and similarity is computed in process.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanbase/scopemem-go/pkg/storage/sqlstore"
)

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the memory table.
	CollectionName string

	// BusyTimeoutMS is how long a writer waits on a locked database.
	// Defaults to 5000.
	BusyTimeoutMS int
}

// NewClient opens the SQLite database and initializes the memory, proposal
// and audit tables.
//
// Parameters:
//   - ctx: Context for table initialization
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *sqlstore.Store: The store, implementing storage.Store
//   - error: Error if database connection or table creation fails
func NewClient(ctx context.Context, cfg *Config) (*sqlstore.Store, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", cfg.DBPath, busy)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	store, err := sqlstore.New(ctx, &sqlstore.Config{
		DB:             db,
		Dialect:        Dialect{},
		CollectionName: cfg.CollectionName,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	return store, nil
}
