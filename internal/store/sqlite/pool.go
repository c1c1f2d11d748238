// Package sqlite implements the durable, transactional embedded store
// described in spec.md §4.1 on top of a pure-Go, cgo-free SQLite engine,
// the on-device analogue of a server-RDBMS connection pool, adapted from
// a server driver to one a phone can embed directly.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// DB wraps a single-writer/multi-reader SQLite connection pair, adapted from
// a server-RDBMS pool's construction to SQLite's single-writer concurrency
// model.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	path   string
}

// Open creates (or attaches to) the embedded store at path and ensures the
// schema is current. path may be ":memory:" for tests.
func Open(ctx context.Context, path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("op=store.open.mkdir: %w", err)
			}
		}
	}

	isMemory := path == ":memory:"
	var writerDSN, readerDSN string
	if isMemory {
		base := "file:syncd?mode=memory&cache=shared"
		writerDSN = base + "&_txlock=immediate"
		readerDSN = base
	} else {
		writerDSN = path + "?_txlock=immediate"
		readerDSN = path + "?mode=ro"
	}

	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("op=store.open.writer: %w", err)
	}
	writer.SetMaxOpenConns(1) // SQLite allows one writer at a time.
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(30 * time.Minute)

	if err := configure(ctx, writer, false); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("op=store.open.configure_writer: %w", err)
	}
	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("op=store.open.ping_writer: %w", err)
	}
	if err := migrate(ctx, writer); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("op=store.open.migrate: %w", err)
	}

	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("op=store.open.reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)
	reader.SetConnMaxLifetime(30 * time.Minute)
	if err := configure(ctx, reader, true); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("op=store.open.configure_reader: %w", err)
	}

	return &DB{writer: writer, reader: reader, path: path}, nil
}

func configure(ctx context.Context, conn *sql.DB, readOnly bool) error {
	stmts := []string{"PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"}
	if !readOnly {
		stmts = append([]string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"}, stmts...)
	}
	for _, s := range stmts {
		if _, err := conn.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}
	return nil
}

// Close closes both connections.
func (db *DB) Close() error {
	werr := db.writer.Close()
	rerr := db.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Writer returns the single-connection write handle.
func (db *DB) Writer() *sql.DB { return db.writer }

// Reader returns the read-pool handle.
func (db *DB) Reader() *sql.DB { return db.reader }
