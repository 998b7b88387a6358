package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

const migrationTable = "schema_migrations"

// ApplyMigrations executes every *.sql file under root in lexical order, at
// most once per file. Each file runs in its own transaction together with its
// bookkeeping row.
func (db *DB) ApplyMigrations(ctx context.Context, migrationFS fs.FS, root string) error {
	files, err := MigrationFiles(migrationFS, root)
	if err != nil {
		return err
	}

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		    name       TEXT PRIMARY KEY,
		    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, migrationTable)
	if _, err := db.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, name := range files {
		content, err := fs.ReadFile(migrationFS, path.Join(root, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		body := strings.TrimSpace(string(content))
		if body == "" {
			continue
		}

		err = db.InTransaction(ctx, func(tx pgx.Tx) error {
			var applied bool
			check := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE name = $1)`, migrationTable)
			if err := tx.QueryRow(ctx, check, name).Scan(&applied); err != nil {
				return fmt.Errorf("check migration %s: %w", name, err)
			}
			if applied {
				return nil
			}
			if _, err := tx.Exec(ctx, body); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
			record := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1)`, migrationTable)
			if _, err := tx.Exec(ctx, record, name); err != nil {
				return fmt.Errorf("record migration %s: %w", name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// MigrationFiles lists the *.sql files under root, sorted.
func MigrationFiles(migrationFS fs.FS, root string) ([]string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
