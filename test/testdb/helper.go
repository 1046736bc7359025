package testdb

import (
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// schema mirrors the migrations so the integration tests can run against a
// throwaway database without the migrate CLI.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS index_settings (
		index_name TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS index_state (
		index_name    TEXT PRIMARY KEY,
		value         NUMERIC(20, 2) NOT NULL,
		middle_prices JSONB NOT NULL,
		frozen_assets JSONB NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS index_warnings (
		id         BIGSERIAL PRIMARY KEY,
		index_name TEXT NOT NULL,
		message    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Setup connects to the test database named by TEST_DATABASE_URL, ensures
// the schema exists and closes the connection when the test finishes. Tests
// are skipped when no test database is configured.
func Setup(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to ensure schema: %v\nstatement: %s", err, stmt)
		}
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close test database: %v", err)
		}
	})
	return db
}

// CleanIndex removes every row belonging to the given index name so tests
// with distinct names stay independent across runs.
func CleanIndex(t *testing.T, db *sqlx.DB, indexName string) {
	t.Helper()

	for _, table := range []string{"index_settings", "index_state", "index_warnings"} {
		if _, err := db.Exec(`DELETE FROM `+table+` WHERE index_name = $1`, indexName); err != nil {
			t.Fatalf("failed to clean %s: %v", table, err)
		}
	}
}
