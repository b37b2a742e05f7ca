// Package database handles database connections and migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/autoindex-api/internal/database/migrations"
)

// Options configures the connection.
type Options struct {
	// TursoURL and TursoAuthToken enable embedded replica mode when both are set.
	TursoURL       string
	TursoAuthToken string
}

// New creates a new database connection using libsql.
// Supports:
//   - Local files: DATABASE_URL="file:path/to/db.sqlite"
//   - Embedded replica: TursoURL + TursoAuthToken for sync with Turso cloud
//   - Local libsql server: run `turso dev` and use DATABASE_URL="http://127.0.0.1:8080"
func New(dsn string, opts Options) (*sql.DB, error) {
	var db *sql.DB

	if opts.TursoURL != "" && opts.TursoAuthToken != "" {
		// Embedded replica mode: local file synced with remote Turso
		dbPath := strings.TrimPrefix(dsn, "file:")
		dbPath = strings.Split(dbPath, "?")[0]

		connector, err := libsql.NewEmbeddedReplicaConnector(dbPath, opts.TursoURL,
			libsql.WithAuthToken(opts.TursoAuthToken),
			libsql.WithReadYourWrites(true),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Turso connector: %w", err)
		}
		db = sql.OpenDB(connector)
	} else {
		var err error
		db, err = sql.Open("libsql", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	// SQLite serialises writers anyway; a single connection keeps the
	// foreign_keys pragma in effect for every statement.
	if isLocal(dsn) {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func isLocal(dsn string) bool {
	return !strings.HasPrefix(dsn, "http://") &&
		!strings.HasPrefix(dsn, "https://") &&
		!strings.HasPrefix(dsn, "libsql://")
}

// Migrate runs database migrations.
func Migrate(db *sql.DB) error {
	return MigrateWithLogger(db, nil)
}

// MigrateWithLogger runs database migrations with a custom logger.
func MigrateWithLogger(db *sql.DB, logger *slog.Logger) error {
	return migrations.Run(db, logger)
}

// MigrationStatus summarises the schema state.
type MigrationStatus struct {
	Latest  string
	Applied int
	Pending []migrations.Migration
}

// Status reports applied and pending migrations.
func Status(db *sql.DB) (*MigrationStatus, error) {
	latest, err := migrations.GetLatestVersion(db)
	if err != nil {
		return nil, err
	}
	applied, err := migrations.GetMigrationCount(db)
	if err != nil {
		return nil, err
	}
	pending, err := migrations.GetPendingMigrations(db)
	if err != nil {
		return nil, err
	}
	return &MigrationStatus{Latest: latest, Applied: applied, Pending: pending}, nil
}
