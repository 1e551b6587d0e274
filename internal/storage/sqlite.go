package storage

import (
	"database/sql"
	"fmt"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// NameIndex maps node ids to their display name and URL. The crawler needs
// names to re-query URL-derived artists, which the upstream cannot look up
// by id.
type NameIndex struct {
	db    *sql.DB
	cache *lru.Cache[identity.NodeID, MetadataRecord]
}

// NewNameIndex opens/creates the SQLite database and initializes the schema
func NewNameIndex(dbPath string, cacheSize int) (*NameIndex, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := lru.New[identity.NodeID, MetadataRecord](cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}

	idx := &NameIndex{db: db, cache: cache}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return idx, nil
}

func (n *NameIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		node_id BLOB PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := n.db.Exec(schema)
	return err
}

// Put inserts a node. An existing entry is kept, so the first name recorded
// for an id wins, as it does in the metadata log.
func (n *NameIndex) Put(rec MetadataRecord) error {
	_, err := n.db.Exec(`
		INSERT INTO nodes (node_id, name, url)
		VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO NOTHING
	`, rec.ID[:], rec.Name, rec.URL)
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record for id, or nil if it is unknown
func (n *NameIndex) Get(id identity.NodeID) (*MetadataRecord, error) {
	if rec, ok := n.cache.Get(id); ok {
		return &rec, nil
	}

	rec := MetadataRecord{ID: id}
	err := n.db.QueryRow("SELECT name, url FROM nodes WHERE node_id = ?", id[:]).Scan(&rec.Name, &rec.URL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}

	n.cache.Add(id, rec)
	return &rec, nil
}

// Count returns the number of indexed nodes
func (n *NameIndex) Count() (int, error) {
	var count int
	if err := n.db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// Rebuild loads every record of a metadata log into the index in a single
// transaction. The first record of an id wins, matching the log readers.
func (n *NameIndex) Rebuild(metadataLogPath string) (ReadStats, error) {
	tx, err := n.db.Begin()
	if err != nil {
		return ReadStats{}, fmt.Errorf("failed to begin rebuild: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO nodes (node_id, name, url) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return ReadStats{}, fmt.Errorf("failed to prepare rebuild: %w", err)
	}
	defer stmt.Close()

	stats, err := ReadMetadataLog(metadataLogPath, func(rec MetadataRecord) error {
		_, err := stmt.Exec(rec.ID[:], rec.Name, rec.URL)
		return err
	})
	if err != nil {
		tx.Rollback()
		return stats, fmt.Errorf("failed to rebuild name index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit rebuild: %w", err)
	}

	n.cache.Purge()
	logrus.Infof("Name index rebuilt from %s: %d records, %d skipped", metadataLogPath, stats.Records, stats.Skipped())
	return stats, nil
}

// Close closes the database connection
func (n *NameIndex) Close() error {
	return n.db.Close()
}
