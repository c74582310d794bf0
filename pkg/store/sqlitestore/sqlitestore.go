// Package sqlitestore provides an embeddable, single-process alternative to
// pkg/store's Postgres backend, used by veritasd for a sqlite:// database
// URL and by tests that don't want a container. It exposes the same *store.Store shape so
// pkg/frontier, pkg/evidence, and the job/item/claim repositories work
// unmodified against either backend.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/rivergate-labs/veritas/pkg/store"
)

//go:embed migrations
var sqliteMigrations embed.FS

// Open opens (or creates) a sqlite database file at path and applies the
// embedded schema. path may be ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// modernc.org/sqlite does not support concurrent writers on the same
	// connection pool; a single connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &store.Store{DB: db}, nil
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := fs.ReadDir(sqliteMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > len(".up.sql") && name[len(name)-len(".up.sql"):] == ".up.sql" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := fs.ReadFile(sqliteMigrations, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	return nil
}
