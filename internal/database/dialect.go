package database

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	pgUniqueViolation = "23505"
)

// dialect papers over the few differences between SQLite and Postgres.
// Queries are written with ? placeholders and rebound for Postgres.
type dialect struct {
	driver string
}

func (d dialect) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate returns the row lock suffix. SQLite runs write transactions with
// BEGIN IMMEDIATE instead, so it needs none.
func (d dialect) forUpdate() string {
	if d.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// lockJobType serializes claims of one job type for the rest of the
// transaction. SQLite already holds the database write lock from BEGIN.
func (d dialect) lockJobType() string {
	if d.driver == DriverPostgres {
		return "SELECT pg_advisory_xact_lock(hashtext(?))"
	}
	return ""
}

func (d dialect) skipLocked() string {
	if d.driver == DriverPostgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	return false
}
