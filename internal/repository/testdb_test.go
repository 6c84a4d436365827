//go:build integration

package repository

import (
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/petalia/florabot/internal/database"
)

// getTestDB connects to the database named by TEST_DATABASE_DSN and makes
// sure the schema is current. Tests are skipped when the variable is unset.
func getTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("connect test db: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM support_tickets")
		db.Close()
	})

	if err := database.Migrate(db.DB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	db.Exec("DELETE FROM support_tickets")
	return db
}
