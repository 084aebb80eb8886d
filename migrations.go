package eventing

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// MigrationFiles contains the SQL schema of every supported backend, one
// directory per driver name (sqlite3, mysql, postgres, sqlserver). Table names
// carry a {{prefix}} placeholder.
//
// The files can be applied with ApplyMigrations or handed to a migration tool
// after substituting the prefix.
//
//go:embed migrations/*/*.sql
var MigrationFiles embed.FS

const prefixPlaceholder = "{{prefix}}"

// MigrationDir maps a driver name to its directory in MigrationFiles.
func MigrationDir(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "migrations/sqlite3", nil
	case "mysql":
		return "migrations/mysql", nil
	case "postgres", "postgresql", "pq":
		return "migrations/postgres", nil
	case "sqlserver", "mssql":
		return "migrations/sqlserver", nil
	default:
		return "", NewError(ErrCodeConfiguration, fmt.Sprintf("no migrations for driver %q", driver))
	}
}

// MigrationStatements returns the statements for driver in file order with
// the table prefix substituted.
func MigrationStatements(driver, prefix string) ([]string, error) {
	dir, err := MigrationDir(driver)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(MigrationFiles, dir)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to read migrations", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var statements []string
	for _, name := range names {
		raw, err := fs.ReadFile(MigrationFiles, path.Join(dir, name))
		if err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to read migration "+name, err)
		}
		statements = append(statements, splitStatements(strings.ReplaceAll(string(raw), prefixPlaceholder, prefix))...)
	}
	return statements, nil
}

// ApplyMigrations creates the schema for driver. Every statement is
// idempotent, so applying twice is harmless.
func ApplyMigrations(ctx context.Context, db *sql.DB, driver, prefix string) error {
	statements, err := MigrationStatements(driver, prefix)
	if err != nil {
		return err
	}

	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return NewErrorWithCause(ErrCodeDatabase, fmt.Sprintf("migration statement %d failed", i+1), err)
		}
	}
	return nil
}

// splitStatements splits on semicolons that end a line.
func splitStatements(script string) []string {
	var out []string
	var current strings.Builder

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			out = append(out, strings.TrimSuffix(stmt, ";"))
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
