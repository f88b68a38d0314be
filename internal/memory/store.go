// Package memory persists agent memories in a single SQLite file and
// serves ranked text retrieval with an LRU query cache in front.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quillagent/quill/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id                     TEXT PRIMARY KEY,
	content                TEXT NOT NULL,
	memory_type            TEXT NOT NULL,
	importance             REAL NOT NULL DEFAULT 0.5,
	embedding              BLOB,
	tags                   TEXT,
	source_conversation_id TEXT,
	created_at             INTEGER NOT NULL,
	last_accessed          INTEGER NOT NULL,
	access_count           INTEGER NOT NULL DEFAULT 0,
	metadata               TEXT
);

CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_accessed ON memories(last_accessed);
CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source_conversation_id);
`

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(id UNINDEXED, content);
`

// Store is the SQLite persistence layer. All public methods are safe
// for concurrent use; database/sql serializes access to the single
// connection pool.
type Store struct {
	db     *sql.DB
	ftsOK  bool
	dbPath string
}

// OpenStore opens (creating if needed) the memory database at path and
// applies the schema. Full-text search is best effort: if the FTS5
// table cannot be created, searches fall back to LIKE matching.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "open", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}

	s := &Store{db: db, dbPath: path}
	if _, err := db.Exec(ftsSchema); err == nil {
		s.ftsOK = true
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// FTSEnabled reports whether the full-text index is available.
func (s *Store) FTSEnabled() bool { return s.ftsOK }

// Put inserts or replaces a memory entry.
func (s *Store) Put(ctx context.Context, entry *models.MemoryEntry) error {
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return &StorageError{Op: "put", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories
			(id, content, memory_type, importance, embedding, tags,
			 source_conversation_id, created_at, last_accessed, access_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Content,
		string(entry.MemoryType),
		entry.Importance,
		encodeEmbedding(entry.Embedding),
		string(tags),
		entry.SourceConversationID,
		entry.CreatedAt.UnixNano(),
		entry.LastAccessed.UnixNano(),
		entry.AccessCount,
		string(metadata),
	)
	if err != nil {
		return &StorageError{Op: "put", Err: err}
	}

	if s.ftsOK {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM memories_fts WHERE id = ?", entry.ID); err != nil {
			return &StorageError{Op: "put", Err: err}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memories_fts (id, content) VALUES (?, ?)",
			entry.ID, entry.Content); err != nil {
			return &StorageError{Op: "put", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	return nil
}

// Get returns the entry with the given id, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (*models.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+" FROM memories m WHERE m.id = ?", id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &RetrievalError{Op: "get", Err: err}
	}
	return entry, nil
}

// Delete removes an entry and its FTS mirror atomically. It reports
// whether a row was deleted.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	if s.ftsOK {
		if _, err := tx.ExecContext(ctx, "DELETE FROM memories_fts WHERE id = ?", id); err != nil {
			return false, &StorageError{Op: "delete", Err: err}
		}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	return affected > 0, nil
}

// Count returns the number of stored entries, optionally filtered by
// memory type (empty matches all).
func (s *Store) Count(ctx context.Context, memoryType models.MemoryType) (int, error) {
	var count int
	var err error
	if memoryType == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM memories WHERE memory_type = ?", string(memoryType)).Scan(&count)
	}
	if err != nil {
		return 0, &RetrievalError{Op: "count", Err: err}
	}
	return count, nil
}

// SearchFTS runs a full-text query ranked by FTS5 relevance. Returns a
// RetrievalError when FTS is unavailable or the query is malformed;
// callers fall back to SearchLike.
func (s *Store) SearchFTS(ctx context.Context, query string, memoryType models.MemoryType, limit int) ([]*models.MemoryEntry, error) {
	if !s.ftsOK {
		return nil, &RetrievalError{Op: "search_fts", Err: fmt.Errorf("fts index unavailable")}
	}

	sqlQuery := selectColumns + ` FROM memories m
		JOIN memories_fts f ON m.id = f.id
		WHERE memories_fts MATCH ?`
	args := []any{query}
	if memoryType != "" {
		sqlQuery += " AND m.memory_type = ?"
		args = append(args, string(memoryType))
	}
	sqlQuery += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &RetrievalError{Op: "search_fts", Err: err}
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SearchLike runs a substring search, newest first. This is the
// degraded path used when FTS rejects a query or finds nothing.
func (s *Store) SearchLike(ctx context.Context, query string, memoryType models.MemoryType, limit int) ([]*models.MemoryEntry, error) {
	sqlQuery := selectColumns + " FROM memories m WHERE m.content LIKE ?"
	args := []any{"%" + query + "%"}
	if memoryType != "" {
		sqlQuery += " AND m.memory_type = ?"
		args = append(args, string(memoryType))
	}
	sqlQuery += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &RetrievalError{Op: "search_like", Err: err}
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the most recently created entries.
func (s *Store) Recent(ctx context.Context, memoryType models.MemoryType, limit int) ([]*models.MemoryEntry, error) {
	sqlQuery := selectColumns + " FROM memories m"
	args := []any{}
	if memoryType != "" {
		sqlQuery += " WHERE m.memory_type = ?"
		args = append(args, string(memoryType))
	}
	sqlQuery += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &RetrievalError{Op: "recent", Err: err}
	}
	defer rows.Close()
	return scanEntries(rows)
}

// TouchAccess records a retrieval hit: bumps access_count and refreshes
// last_accessed.
func (s *Store) TouchAccess(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "touch", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?")
	if err != nil {
		return &StorageError{Op: "touch", Err: err}
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, at.UnixNano(), id); err != nil {
			return &StorageError{Op: "touch", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "touch", Err: err}
	}
	return nil
}

// ExpiredIDs returns ids of entries of the given type created before
// the cutoff.
func (s *Store) ExpiredIDs(ctx context.Context, memoryType models.MemoryType, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM memories WHERE memory_type = ? AND created_at < ?",
		string(memoryType), cutoff.UnixNano())
	if err != nil {
		return nil, &RetrievalError{Op: "expired", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &RetrievalError{Op: "expired", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EvictionCandidates returns the n entries first in line for capacity
// eviction: least recently accessed, ties broken by lowest importance,
// then oldest creation.
func (s *Store) EvictionCandidates(ctx context.Context, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memories
		ORDER BY last_accessed ASC, importance ASC, created_at ASC
		LIMIT ?`, n)
	if err != nil {
		return nil, &RetrievalError{Op: "eviction_candidates", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &RetrievalError{Op: "eviction_candidates", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteBatch removes a set of entries in one transaction and returns
// the number deleted.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StorageError{Op: "delete_batch", Err: err}
	}
	defer tx.Rollback()

	deleted := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
		if err != nil {
			return 0, &StorageError{Op: "delete_batch", Err: err}
		}
		if s.ftsOK {
			if _, err := tx.ExecContext(ctx, "DELETE FROM memories_fts WHERE id = ?", id); err != nil {
				return 0, &StorageError{Op: "delete_batch", Err: err}
			}
		}
		if n, _ := res.RowsAffected(); n > 0 {
			deleted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, &StorageError{Op: "delete_batch", Err: err}
	}
	return deleted, nil
}

const selectColumns = `SELECT m.id, m.content, m.memory_type, m.importance, m.embedding,
	m.tags, m.source_conversation_id, m.created_at, m.last_accessed, m.access_count, m.metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.MemoryEntry, error) {
	var entry models.MemoryEntry
	var memoryType string
	var embedding []byte
	var tags, metadata sql.NullString
	var createdAt, lastAccessed int64

	err := row.Scan(
		&entry.ID,
		&entry.Content,
		&memoryType,
		&entry.Importance,
		&embedding,
		&tags,
		&entry.SourceConversationID,
		&createdAt,
		&lastAccessed,
		&entry.AccessCount,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	entry.MemoryType = models.MemoryType(memoryType)
	entry.Embedding = decodeEmbedding(embedding)
	entry.CreatedAt = time.Unix(0, createdAt)
	entry.LastAccessed = time.Unix(0, lastAccessed)
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &entry.Tags); err != nil {
			return nil, err
		}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]*models.MemoryEntry, error) {
	var entries []*models.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, &RetrievalError{Op: "scan", Err: err}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &RetrievalError{Op: "scan", Err: err}
	}
	return entries, nil
}

// encodeEmbedding packs float32 values as little-endian bytes.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
