// Command dumpschema applies the deposit store schema to an in-memory SQLite
// database and prints the resulting schema in a deterministic order, so
// schema changes show up as plain diffs in review.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcdeposit/store"
	flags "github.com/jessevdk/go-flags"
)

const (
	dirPerm        = 0o750
	filePerm       = 0o600
	defaultTimeout = time.Minute
)

var opts struct {
	Out string `short:"o" long:"out" description:"Write the schema to this file instead of stdout"`
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	if err := run(opts.Out, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(outPath string, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	schema, err := migratedSchema(ctx)
	if err != nil {
		return err
	}

	if outPath == "" {
		_, err := io.WriteString(stdout, schema)
		return err
	}

	return writeSchema(outPath, schema)
}

// migratedSchema returns the schema of a freshly migrated SQLite store.
func migratedSchema(ctx context.Context) (string, error) {
	db, err := sql.Open(store.SQLite.DriverName(), ":memory:")
	if err != nil {
		return "", fmt.Errorf("failed to open in-memory db: %w", err)
	}
	defer func() { _ = db.Close() }()

	// Every connection to :memory: is a new database.
	db.SetMaxOpenConns(1)

	if err := store.New(db, store.SQLite).Migrate(ctx); err != nil {
		return "", err
	}

	return extractSchema(ctx, db)
}

func extractSchema(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sql FROM sqlite_master
		WHERE type IN ('table', 'index') AND sql IS NOT NULL
			AND name NOT LIKE 'sqlite_%'
		ORDER BY
			CASE type WHEN 'table' THEN 1 ELSE 2 END,
			name`)
	if err != nil {
		return "", fmt.Errorf("failed to query schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var b strings.Builder
	for rows.Next() {
		var sqlDef string
		if err := rows.Scan(&sqlDef); err != nil {
			return "", fmt.Errorf("failed to scan schema row: %w",
				err)
		}

		b.WriteString(sqlDef)
		b.WriteString(";\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to iterate schema rows: %w", err)
	}

	return b.String(), nil
}

func writeSchema(outPath, schema string) error {
	err := os.MkdirAll(filepath.Dir(outPath), dirPerm)
	if err != nil {
		return fmt.Errorf("failed to create schema dir: %w", err)
	}

	err = os.WriteFile(outPath, []byte(schema), filePerm)
	if err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}

	return nil
}
