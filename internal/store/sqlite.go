package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// registers the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

// sqliteBackend stores a table as a key/value BLOB table in a database file
// of its own.
type sqliteBackend struct {
	db *sql.DB

	getStmt    *sql.Stmt
	setStmt    *sql.Stmt
	deleteStmt *sql.Stmt
}

var _ Backend = (*sqliteBackend)(nil)

func newSQLiteBackend(name, dir string) (*sqliteBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create database directory %q: %w", dir, err)
	}
	return openSQLite(name, "file:"+filepath.Join(dir, name+".sqlite3")+"?_journal_mode=WAL")
}

// NewSQLiteMemBackend returns a sqlite backend backed by a private in-memory
// database.
func NewSQLiteMemBackend(name string) (Backend, error) {
	return openSQLite(name, "file::memory:")
}

func openSQLite(table, dsn string) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection serializes writers and keeps in-memory databases
	// alive for the lifetime of the handle
	db.SetMaxOpenConns(1)

	quoted := fmt.Sprintf("%q", table)
	if _, err := db.Exec(
		"CREATE TABLE IF NOT EXISTS " + quoted + " (key BLOB PRIMARY KEY, value BLOB NOT NULL) WITHOUT ROWID",
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	b := &sqliteBackend{db: db}
	for _, s := range []struct {
		stmt  **sql.Stmt
		query string
	}{
		{&b.getStmt, "SELECT value FROM " + quoted + " WHERE key = ?"},
		{&b.setStmt, "INSERT OR REPLACE INTO " + quoted + " (key, value) VALUES (?, ?)"},
		{&b.deleteStmt, "DELETE FROM " + quoted + " WHERE key = ?"},
	} {
		if *s.stmt, err = db.Prepare(s.query); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *sqliteBackend) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var value []byte
	err := b.getStmt.QueryRow(key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (b *sqliteBackend) Set(key, value []byte) error {
	if err := validateKV(key, value); err != nil {
		return err
	}
	_, err := b.setStmt.Exec(key, value)
	return err
}

func (b *sqliteBackend) Delete(key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := b.deleteStmt.Exec(key)
	return err
}

func (b *sqliteBackend) Close() error {
	for _, stmt := range []*sql.Stmt{b.getStmt, b.setStmt, b.deleteStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return b.db.Close()
}
