// Package postgres provides the PostgreSQL backend of the memory store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/oceanbase/scopemem-go/pkg/storage/sqlstore"
)

// Config contains PostgreSQL configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
	SSLMode        string

	// MaxOpenConns caps the pool size. Zero leaves the driver default.
	MaxOpenConns int
}

// DSN returns the lib/pq connection string.
func (cfg *Config) DSN() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// NewClient connects to PostgreSQL and initializes the tables.
func NewClient(ctx context.Context, cfg *Config) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	store, err := sqlstore.New(ctx, &sqlstore.Config{
		DB:             db,
		Dialect:        Dialect{},
		CollectionName: cfg.CollectionName,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	return store, nil
}
