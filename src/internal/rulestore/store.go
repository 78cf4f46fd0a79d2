// Package rulestore persists block categories and block domains in a local
// SQLite file. Every write replaces the whole rule set inside one transaction.
package rulestore

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/utils"
)

const createTablesQuery = `
CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS domains (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	updated_at INTEGER NOT NULL
);
`

const busyTimeoutMs = 5000

// Snapshot is the persisted rule set in insertion order.
type Snapshot struct {
	Categories []string
	Domains    []string
}

// Metadata describes the stored rules for diagnostics.
type Metadata struct {
	CategoryCount    int       `json:"category_count"`
	DomainCount      int       `json:"domain_count"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
	SampleCategories []string  `json:"sample_categories"`
	SampleDomains    []string  `json:"sample_domains"`
}

// Store is a SQLite-backed rule store. All operations are serialized.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string

	now func() time.Time
}

// Open opens or creates the rule store at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := utils.EnsureParentDir(path); err != nil {
			return nil, errors.NewStorageError("failed to create rule store directory", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeoutMs))
	if err != nil {
		return nil, errors.NewStorageError("failed to open rule store", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTablesQuery); err != nil {
		_ = db.Close()
		return nil, errors.NewStorageError("failed to create rule store schema", err)
	}

	log.Debugf("Rule store opened: %s", path)
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// LoadSnapshot returns the stored categories and domains.
func (s *Store) LoadSnapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	categories, err := s.queryNames("SELECT name FROM categories ORDER BY id")
	if err != nil {
		return Snapshot{}, errors.NewStorageError("failed to load categories", err)
	}
	domains, err := s.queryNames("SELECT name FROM domains ORDER BY id")
	if err != nil {
		return Snapshot{}, errors.NewStorageError("failed to load domains", err)
	}
	return Snapshot{Categories: categories, Domains: domains}, nil
}

// ReplaceRules atomically replaces both tables. Either every row lands or
// the previous contents are kept.
func (s *Store) ReplaceRules(categories, domains []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sql.Tx) error {
		if err := deleteAll(tx); err != nil {
			return err
		}
		ts := s.now().UnixMilli()
		if err := insertNames(tx, "categories", categories, ts); err != nil {
			return err
		}
		return insertNames(tx, "domains", domains, ts)
	})
}

// ClearRules atomically empties both tables.
func (s *Store) ClearRules() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(deleteAll)
}

// LoadMetadata returns counts, the latest update time across both tables and
// up to sampleLimit alphabetically first entries of each.
func (s *Store) LoadMetadata(sampleLimit int) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var md Metadata
	var latest int64

	for _, table := range []string{"categories", "domains"} {
		var count int
		var updated sql.NullInt64
		row := s.db.QueryRow("SELECT COUNT(*), MAX(updated_at) FROM " + table)
		if err := row.Scan(&count, &updated); err != nil {
			return Metadata{}, errors.NewStorageError("failed to read rule store metadata", err)
		}
		if updated.Valid && updated.Int64 > latest {
			latest = updated.Int64
		}

		var samples []string
		if sampleLimit > 0 {
			var err error
			samples, err = s.queryNames("SELECT name FROM "+table+" ORDER BY name LIMIT ?", sampleLimit)
			if err != nil {
				return Metadata{}, errors.NewStorageError("failed to read rule store samples", err)
			}
		}

		if table == "categories" {
			md.CategoryCount, md.SampleCategories = count, samples
		} else {
			md.DomainCount, md.SampleDomains = count, samples
		}
	}

	if latest > 0 {
		md.LastUpdatedAt = time.UnixMilli(latest)
	}
	return md, nil
}

// Load implements filter.RuleSource.
func (s *Store) Load() ([]string, []string, error) {
	snap, err := s.LoadSnapshot()
	if err != nil {
		return nil, nil, err
	}
	return snap.Categories, snap.Domains, nil
}

// Save implements filter.RuleSource.
func (s *Store) Save(categories, domains []string) error {
	return s.ReplaceRules(categories, domains)
}

// Clear implements filter.RuleSource.
func (s *Store) Clear() error {
	return s.ClearRules()
}

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorf("Rule store rollback failed: %v", rbErr)
		}
		return errors.NewStorageError("rule store transaction failed", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("failed to commit transaction", err)
	}
	return nil
}

func (s *Store) queryNames(query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func deleteAll(tx *sql.Tx) error {
	if _, err := tx.Exec("DELETE FROM categories"); err != nil {
		return err
	}
	_, err := tx.Exec("DELETE FROM domains")
	return err
}

func insertNames(tx *sql.Tx, table string, names []string, ts int64) error {
	if len(names) == 0 {
		return nil
	}
	stmt, err := tx.Prepare("INSERT OR IGNORE INTO " + table + " (name, updated_at) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, name := range names {
		if name == "" {
			return fmt.Errorf("empty %s entry", table)
		}
		if _, err := stmt.Exec(name, ts); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}
