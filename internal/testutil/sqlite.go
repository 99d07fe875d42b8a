package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite" // register driver
)

// OpenSQLite opens a private in-memory SQLite database, runs the given DDL
// statements and closes the database when the test ends. SQLite accepts
// backtick-quoted identifiers, ? placeholders and LIMIT ?, so it can stand
// in for MySQL when exercising repository SQL end to end.
func OpenSQLite(t testing.TB, ddl ...string) *sql.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Every new connection to :memory: is a fresh database.
	sqldb.SetMaxOpenConns(1)

	if _, err := sqldb.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = sqldb.Close()
		t.Fatalf("enable foreign keys: %v", err)
	}

	for _, stmt := range ddl {
		if _, err := sqldb.Exec(stmt); err != nil {
			_ = sqldb.Close()
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	t.Cleanup(func() { _ = sqldb.Close() })
	return sqldb
}
