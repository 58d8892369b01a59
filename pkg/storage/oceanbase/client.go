// Package oceanbase provides the OceanBase backend of the memory store. It
// speaks the MySQL protocol and also works against MySQL 8.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/oceanbase/scopemem-go/pkg/storage/sqlstore"
)

// Config contains OceanBase configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string

	// MaxOpenConns caps the pool size. Zero leaves the driver default.
	MaxOpenConns int
}

// DSN returns the go-sql-driver/mysql connection string. Times are parsed
// and stored in UTC.
func (cfg *Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	return mc.FormatDSN()
}

// NewClient connects to OceanBase and initializes the tables.
func NewClient(ctx context.Context, cfg *Config) (*sqlstore.Store, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	store, err := sqlstore.New(ctx, &sqlstore.Config{
		DB:             db,
		Dialect:        Dialect{},
		CollectionName: cfg.CollectionName,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}
	return store, nil
}
