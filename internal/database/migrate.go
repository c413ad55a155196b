package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Schema returns the DDL script for the given driver.
func Schema(driver string) (string, error) {
	b, err := schemaFS.ReadFile("schema/" + driver + ".sql")
	if err != nil {
		return "", fmt.Errorf("no schema for driver %q: %w", driver, err)
	}
	return string(b), nil
}

// Migrate applies the embedded schema.  Every statement is idempotent
// (IF NOT EXISTS / INSERT IGNORE), so Migrate runs on each start.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	script, err := Schema(driver)
	if err != nil {
		return err
	}
	for i, stmt := range splitStatements(script) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}

// splitStatements splits a script on semicolons that end a line.  The
// schema files contain no semicolons inside literals.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";\n") {
		if s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";")); s != "" {
			out = append(out, s)
		}
	}
	return out
}
