package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

var _ RoomStore = (*SQLiteStore)(nil)

// SQLiteStore keeps every room's log in one SQLite database. It trades
// the JSONL files' greppability for a single durable file with real
// transactional appends.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS posts (
	room        TEXT    NOT NULL,
	idx         INTEGER NOT NULL,
	server_time INTEGER NOT NULL,
	client_time INTEGER NOT NULL,
	name        TEXT    NOT NULL,
	data        BLOB,
	PRIMARY KEY (room, idx)
);
`

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The broker serializes appends itself; one connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(room string, e Entry) (int64, error) {
	if room == "" {
		return 0, ErrInvalidRoom
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var idx int64
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(idx)+1, 0) FROM posts WHERE room = ?`, room,
	).Scan(&idx); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		`INSERT INTO posts (room, idx, server_time, client_time, name, data) VALUES (?, ?, ?, ?, ?, ?)`,
		room, idx, e.ServerTime, e.ClientTime, e.Name, []byte(e.Data),
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return idx, nil
}

func (s *SQLiteStore) ReadFrom(room string, from int64, fn func(index int64, e Entry) error) error {
	if from < 0 {
		from = 0
	}

	rows, err := s.db.Query(
		`SELECT idx, server_time, client_time, name, data FROM posts WHERE room = ? AND idx >= ? ORDER BY idx`,
		room, from,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx  int64
			e    Entry
			data []byte
		)
		if err := rows.Scan(&idx, &e.ServerTime, &e.ClientTime, &e.Name, &data); err != nil {
			return err
		}
		e.Data = data
		if err := fn(idx, e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) Count(room string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM posts WHERE room = ?`, room).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
