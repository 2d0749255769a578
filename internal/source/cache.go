package source

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chartrec/internal/logging"
)

// ClassificationCache is the injected replacement for a process-wide
// classification cache. It has an explicit lifecycle: Load at subject-run
// start, Flush at end. Between those calls all reads and writes are
// in-memory; nothing ambient survives the run.
type ClassificationCache struct {
	db      *sql.DB
	subject string

	mu      sync.RWMutex
	entries map[string]CacheEntry // keyed by fact ID
	dirty   map[string]bool
}

// CacheEntry is one cached classification for a fact.
type CacheEntry struct {
	FactID     string    `json:"fact_id"`
	Value      string    `json:"value"`
	Confidence string    `json:"confidence"`
	CachedAt   time.Time `json:"cached_at"`
}

// OpenClassificationCache opens (creating if needed) the cache database.
func OpenClassificationCache(path string) (*ClassificationCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open classification cache: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS classifications (
		subject_id TEXT NOT NULL,
		fact_id    TEXT NOT NULL,
		value      TEXT NOT NULL,
		confidence TEXT NOT NULL,
		cached_at  TEXT NOT NULL,
		PRIMARY KEY (subject_id, fact_id)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize classification cache: %w", err)
	}
	return &ClassificationCache{
		db:      db,
		entries: make(map[string]CacheEntry),
		dirty:   make(map[string]bool),
	}, nil
}

// Load begins a subject run: prior classifications for the subject are read
// into memory and any previous run's unflushed state is discarded.
func (c *ClassificationCache) Load(subjectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subject = subjectID
	c.entries = make(map[string]CacheEntry)
	c.dirty = make(map[string]bool)

	rows, err := c.db.Query(
		"SELECT fact_id, value, confidence, cached_at FROM classifications WHERE subject_id = ?",
		subjectID)
	if err != nil {
		return fmt.Errorf("cache load failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e CacheEntry
		var cachedAt string
		if err := rows.Scan(&e.FactID, &e.Value, &e.Confidence, &cachedAt); err != nil {
			return fmt.Errorf("cache scan failed: %w", err)
		}
		e.CachedAt, _ = time.Parse(time.RFC3339, cachedAt)
		c.entries[e.FactID] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("cache load failed: %w", err)
	}

	logging.Get(logging.CategorySource).Debug("classification cache loaded: %d entries for %s",
		len(c.entries), subjectID)
	return rows.Err()
}

// Get returns the cached entry for a fact, if present.
func (c *ClassificationCache) Get(factID string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[factID]
	return e, ok
}

// Put records a classification in memory. It is durable only after Flush.
func (c *ClassificationCache) Put(factID, value, confidence string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[factID] = CacheEntry{
		FactID:     factID,
		Value:      value,
		Confidence: confidence,
		CachedAt:   time.Now(),
	}
	c.dirty[factID] = true
}

// Flush ends the subject run, writing dirty entries back in one transaction.
func (c *ClassificationCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.dirty) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("cache flush failed: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO classifications (subject_id, fact_id, value, confidence, cached_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("cache flush failed: %w", err)
	}
	defer stmt.Close()

	for factID := range c.dirty {
		e := c.entries[factID]
		if _, err := stmt.Exec(c.subject, e.FactID, e.Value, e.Confidence, e.CachedAt.UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("cache flush failed for %s: %w", factID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache flush failed: %w", err)
	}

	logging.Get(logging.CategorySource).Debug("classification cache flushed: %d dirty entries", len(c.dirty))
	c.dirty = make(map[string]bool)
	return nil
}

// Close releases the database handle. Unflushed entries are dropped.
func (c *ClassificationCache) Close() error {
	return c.db.Close()
}
