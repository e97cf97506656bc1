package relica

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/coregx/messagehub"
)

// Migrate applies the Up section of every embedded migration in file name
// order, renaming tables to prefix. It does not track applied versions; use a
// migration tool for that. Intended for tests and first-time setup.
func Migrate(ctx context.Context, db *sql.DB, prefix string) error {
	names, err := fs.Glob(messagehub.MigrationFiles, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(messagehub.MigrationFiles, name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		for _, stmt := range upStatements(string(content)) {
			stmt = strings.ReplaceAll(stmt, defaultTablePrefix, prefix)
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
		}
	}
	return nil
}

// upStatements returns the statements between "-- +goose Up" and "-- +goose Down".
func upStatements(content string) []string {
	if i := strings.Index(content, "-- +goose Up"); i >= 0 {
		content = content[i+len("-- +goose Up"):]
	}
	if i := strings.Index(content, "-- +goose Down"); i >= 0 {
		content = content[:i]
	}

	var stmts []string
	for _, stmt := range strings.Split(content, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
