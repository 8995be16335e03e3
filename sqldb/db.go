// Package sqldb is the relational client source, backed by PostgreSQL in
// production and SQLite for local setups and tests.
package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // sqlite driver

	"go.pilab.hu/oidcstore/log"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ErrUnsupportedURL is returned by Open for URLs that name no known driver.
var ErrUnsupportedURL = errors.New("unsupported database url")

// DB is a database handle that remembers its SQL dialect.
type DB struct {
	*sql.DB
	Dialect database.Dialect
	// Logger is used when a context carries no logger.
	Logger zerolog.Logger
}

// Open connects to the database at url and verifies the connection.
//
// Accepted forms: postgres://..., postgresql://..., sqlite://<path> and
// file:<path>.
func Open(ctx context.Context, url string) (*DB, error) {
	driver, dsn, dialect, err := parseURL(url)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if dialect == database.DialectSQLite3 {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	return &DB{DB: db, Dialect: dialect, Logger: zlog.Logger}, nil
}

func parseURL(url string) (driver, dsn string, dialect database.Dialect, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url, database.DialectPostgres, nil
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite", withForeignKeys(strings.TrimPrefix(url, "sqlite://")), database.DialectSQLite3, nil
	case strings.HasPrefix(url, "file:"):
		return "sqlite", withForeignKeys(url), database.DialectSQLite3, nil
	default:
		return "", "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, url)
	}
}

func withForeignKeys(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate(ctx context.Context) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(db.Dialect, db.DB, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger := log.FromContext(ctx, &db.Logger)
	for _, r := range results {
		logger.Info().
			Int64("version", r.Source.Version).
			Dur("duration", r.Duration).
			Msg("applied migration")
	}

	return nil
}
