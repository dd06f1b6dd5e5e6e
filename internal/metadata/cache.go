package metadata

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vk/planc/internal/language"
)

// CachingProvider wraps another Provider with an on-disk SQLite cache, so
// capability answers for third-party types survive across compiler runs.
// database/sql serializes access, so the provider is safe for concurrent
// use as long as the wrapped provider is.
type CachingProvider struct {
	db    *sql.DB
	inner Provider
}

// OpenCache opens (or creates) the capability cache at dbPath, wrapping
// inner for cache misses.
func OpenCache(dbPath string, inner Provider) (*CachingProvider, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open capability cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping capability cache: %w", err)
	}
	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("failed to initialize capability cache schema: %w", err)
	}
	return &CachingProvider{db: db, inner: inner}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS capabilities (
		type TEXT NOT NULL,
		capability TEXT NOT NULL,
		supported INTEGER NOT NULL,
		PRIMARY KEY (type, capability)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Supports implements Provider.
func (p *CachingProvider) Supports(t language.TypeRef, capability Capability) (bool, error) {
	key := t.String()

	var supported bool
	err := p.db.QueryRow(
		`SELECT supported FROM capabilities WHERE type = ? AND capability = ?`,
		key, string(capability),
	).Scan(&supported)
	if err == nil {
		return supported, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("querying capability cache for %s: %w", key, err)
	}

	supported, err = p.inner.Supports(t, capability)
	if err != nil {
		return false, err
	}
	if _, err := p.db.Exec(
		`INSERT OR REPLACE INTO capabilities (type, capability, supported) VALUES (?, ?, ?)`,
		key, string(capability), supported,
	); err != nil {
		return false, fmt.Errorf("writing capability cache for %s: %w", key, err)
	}
	return supported, nil
}

// Close releases the underlying database handle.
func (p *CachingProvider) Close() error {
	return p.db.Close()
}
