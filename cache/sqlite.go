package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// SQLiteStorage keeps partitions in a SQLite database,
// so stored responses survive restarts of the agent.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

type sqlitePartition struct {
	id      int64
	name    string
	storage SQLiteStorage
}

// NewSQLiteStorage opens (and creates if needed) the storage in the given db file.
// If file name is empty, a new in-memory db is opened.
// It is shared by the connections of this storage only.
func NewSQLiteStorage(filename string) (SQLiteStorage, error) {
	if filename == "" {
		filename = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStorage{}, fmt.Errorf("open %s: %w", filename, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS partitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			partition_id INTEGER NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (partition_id, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStorage{}, fmt.Errorf("init schema: %w", err)
		}
	}
	return SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Close closes the underlying database.
func (s SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s SQLiteStorage) Open(name string) (Partition, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("INSERT OR IGNORE INTO partitions (name) VALUES (?)", name); err != nil {
		return nil, err
	}
	var id int64
	if err := s.db.QueryRow("SELECT id FROM partitions WHERE name = ?", name).Scan(&id); err != nil {
		return nil, err
	}
	return &sqlitePartition{id: id, name: name, storage: s}, nil
}

func (s SQLiteStorage) Has(name string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM partitions WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s SQLiteStorage) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM partitions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStorage) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	var id int64
	err = tx.QueryRow("SELECT id FROM partitions WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE partition_id = ?", id); err != nil {
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM partitions WHERE id = ?", id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (p *sqlitePartition) Name() string {
	return p.name
}

func (p *sqlitePartition) Match(key string) (CacheEntry, bool, error) {
	entry := CacheEntry{Key: key}
	var storedAt int64
	err := p.storage.db.QueryRow(
		"SELECT stored_at, bytes FROM entries WHERE partition_id = ? AND key = ?",
		p.id, key,
	).Scan(&storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	} else if err != nil {
		return CacheEntry{}, false, err
	}
	entry.StoredAt = time.Unix(storedAt, 0)
	return entry, true, nil
}

func (p *sqlitePartition) Put(entry CacheEntry) error {
	return p.PutAll([]CacheEntry{entry})
}

func (p *sqlitePartition) PutAll(entries []CacheEntry) error {
	p.storage.writeMutex.Lock()
	defer p.storage.writeMutex.Unlock()
	tx, err := p.storage.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var one int
	err = tx.QueryRow("SELECT 1 FROM partitions WHERE id = ?", p.id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPartitionDeleted
	} else if err != nil {
		return err
	}
	for _, ce := range entries {
		_, err := tx.Exec(`INSERT INTO entries (partition_id, key, stored_at, bytes) VALUES (?, ?, ?, ?)
			ON CONFLICT (partition_id, key) DO UPDATE SET stored_at = excluded.stored_at, bytes = excluded.bytes`,
			p.id, ce.Key, ce.StoredAt.Unix(), ce.Bytes)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *sqlitePartition) Delete(key string) (bool, error) {
	p.storage.writeMutex.Lock()
	defer p.storage.writeMutex.Unlock()
	result, err := p.storage.db.Exec("DELETE FROM entries WHERE partition_id = ? AND key = ?", p.id, key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (p *sqlitePartition) Keys() ([]string, error) {
	rows, err := p.storage.db.Query("SELECT key FROM entries WHERE partition_id = ? ORDER BY rowid", p.id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
