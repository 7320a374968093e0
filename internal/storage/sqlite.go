package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/mattn/go-sqlite3"

	"freebck-go/internal/storage/migrations"
)

// SQLiteStorage keeps both collections in a single SQLite database,
// one row per item with a (collection, key) primary key. The unique
// constraint provides the write-once semantics; an INSERT that hits it
// maps to ErrAlreadyExists.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and brings
// its schema up to date.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Concurrent backup tasks write chunks from many goroutines;
	// wait for locks instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring database: %w", err)
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) Write(c Collection, key string, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading content for %s/%s: %w", c.Name(), key, err)
	}

	_, err = s.db.Exec(
		"INSERT INTO items (collection, key, data) VALUES (?, ?, ?)",
		c.Name(), key, data,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, c.Name(), key)
		}
		return fmt.Errorf("inserting %s/%s: %w", c.Name(), key, err)
	}
	return nil
}

func (s *SQLiteStorage) Read(c Collection, key string, w io.Writer) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	var data []byte
	err := s.db.QueryRow(
		"SELECT data FROM items WHERE collection = ? AND key = ?",
		c.Name(), key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, c.Name(), key)
	}
	if err != nil {
		return fmt.Errorf("selecting %s/%s: %w", c.Name(), key, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("reading %s/%s: %w", c.Name(), key, err)
	}
	return nil
}

func (s *SQLiteStorage) List(c Collection, fn func(key string) error) error {
	rows, err := s.db.Query("SELECT key FROM items WHERE collection = ?", c.Name())
	if err != nil {
		return fmt.Errorf("listing %s: %w", c.Name(), err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("scanning %s key: %w", c.Name(), err)
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing %s: %w", c.Name(), err)
	}
	return nil
}
