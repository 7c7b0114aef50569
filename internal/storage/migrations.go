package storage

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every embedded migration file in filename order
// inside its own transaction. Migrations are plain SQL and are not
// tracked in a schema_version table in this version; re-running them
// is harmless because every statement in the engine's migrations uses
// IF NOT EXISTS.
func (a *Adapter) Migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("storage: read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sqlBytes, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}

		err = a.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			for _, stmt := range splitStatements(string(sqlBytes)) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("storage: apply migration %s: %w", name, err)
		}
	}

	return nil
}

// splitStatements breaks a migration file into individual statements
// on top-level semicolons. It is intentionally naive (no awareness of
// semicolons inside string literals or dollar-quoted bodies) since the
// engine's own migrations never need either.
func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	stmts := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		stmts = append(stmts, s)
	}
	return stmts
}
