//go:build integration

// Package storetest opens a migrated Postgres database for integration
// tests. Tests are skipped unless STUDYROOM_TEST_DATABASE_URL is set.
// Packages share the database, so run them one at a time:
//
//	STUDYROOM_TEST_DATABASE_URL=postgres://... go test -p 1 -tags integration ./...
package storetest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"

	"studyroom/internal/logging"
	"studyroom/internal/store"
)

const EnvDatabaseURL = "STUDYROOM_TEST_DATABASE_URL"

// Open connects to the test database and applies migrations. The pool is
// closed when the test ends.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv(EnvDatabaseURL)
	if url == "" {
		t.Skipf("%s not set", EnvDatabaseURL)
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, url)
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.Migrate(ctx, db.Client, logging.Discard()); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db.Client
}

// Tenant is a freshly inserted organization with its students.
type Tenant struct {
	OrgID      string
	StudentIDs []string
}

// Seed inserts an organization with n students. Fresh ids keep tests
// independent without truncating shared tables.
func Seed(t *testing.T, db *sql.DB, n int) Tenant {
	t.Helper()

	ctx := context.Background()
	tn := Tenant{OrgID: uuid.NewString()}
	if _, err := db.ExecContext(ctx, `INSERT INTO organizations (id, name) VALUES ($1, $2)`, tn.OrgID, "test org"); err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	for i := 0; i < n; i++ {
		id := uuid.NewString()
		if _, err := db.ExecContext(ctx, `INSERT INTO students (id, org_id, name) VALUES ($1, $2, $3)`, id, tn.OrgID, "student"); err != nil {
			t.Fatalf("seed student: %v", err)
		}
		tn.StudentIDs = append(tn.StudentIDs, id)
	}
	return tn
}
