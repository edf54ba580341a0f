package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Executor is implemented by both DB and Tx. Queries are written with ? placeholders
// and rebound for the driver.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	// ForUpdate returns the row-locking suffix for the driver
	ForUpdate() string
}

// DB wraps *sql.DB with driver-aware placeholders
type DB struct {
	*sql.DB
	Driver string
}

// Tx is a transaction bound to the same driver as its DB
type Tx struct {
	*sql.Tx
	Driver string
}

// Wrap adapts an opened *sql.DB.
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{DB: db, Driver: driver}
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.DB.ExecContext(ctx, Rebind(db.Driver, query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, Rebind(db.Driver, query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRowContext(ctx, Rebind(db.Driver, query), args...)
}

func (db *DB) ForUpdate() string {
	return forUpdate(db.Driver)
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, Rebind(tx.Driver, query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return tx.Tx.QueryContext(ctx, Rebind(tx.Driver, query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, Rebind(tx.Driver, query), args...)
}

func (tx *Tx) ForUpdate() string {
	return forUpdate(tx.Driver)
}

func forUpdate(driver string) string {
	if driver == DriverPostgres {
		return " FOR UPDATE"
	}
	// sqlite serialises writers at BEGIN IMMEDIATE
	return ""
}

// InTx runs fn inside a transaction, committing on nil and rolling back otherwise.
// fn must only touch the database through tx.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &Tx{Tx: sqlTx, Driver: db.Driver}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rebind converts ? placeholders to $n for postgres.
func Rebind(driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// UniqueViolationOn reports whether err is a unique conflict on the named index.
// Postgres reports the index name; sqlite only lists the qualified columns, so
// column (e.g. "votes.chain_seq") identifies the index there.
func UniqueViolationOn(err error, index, column string) bool {
	if !IsUniqueViolation(err) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint == index
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return strings.Contains(liteErr.Error(), column)
	}
	return false
}

// IsUniqueViolation reports whether err is a unique or primary key conflict on either driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
