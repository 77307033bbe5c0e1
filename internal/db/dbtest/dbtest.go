// Package dbtest provides a migrated PostgreSQL handle for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/learnhub/courses/internal/db"
)

// DSNEnv names the environment variable holding the test database DSN.
const DSNEnv = "TEST_DATABASE_DSN"

// Open connects to the database named by TEST_DATABASE_DSN, applies the
// migrations and truncates all tables. The test is skipped when the
// variable is unset or the database is unreachable.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", DSNEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := db.Migrate(dsn); err != nil {
		conn.Close()
		t.Fatalf("migrate: %v", err)
	}
	truncate(t, conn)
	t.Cleanup(func() {
		truncate(t, conn)
		conn.Close()
	})
	return conn
}

func truncate(t *testing.T, conn *sql.DB) {
	t.Helper()
	const query = `TRUNCATE progress, lessons, modules, courses, users`
	if _, err := conn.Exec(query); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
