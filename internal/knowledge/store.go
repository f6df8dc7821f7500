// Package knowledge provides the SQLite-backed question/answer store with an
// FTS5 keyword index used for retrieval augmentation.
package knowledge

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Entry is one stored question/answer pair.
type Entry struct {
	ID       int64
	Question string
	Answer   string
	Source   string
}

// DefaultSearchLimit caps retrieval results per turn.
const DefaultSearchLimit = 3

// Store wraps the knowledge database. Reads go straight to SQLite; writes are
// serialized through a mutex on top of the driver's own locking.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the knowledge database at dbPath and
// ensures the schema. Callers treat a failure here as fatal.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create knowledge dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS knowledge (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT ''
);

CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
	question,
	answer,
	content='knowledge',
	content_rowid='id',
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS knowledge_ai AFTER INSERT ON knowledge BEGIN
	INSERT INTO knowledge_fts(rowid, question, answer)
	VALUES (new.id, new.question, new.answer);
END;

CREATE TRIGGER IF NOT EXISTS knowledge_ad AFTER DELETE ON knowledge BEGIN
	INSERT INTO knowledge_fts(knowledge_fts, rowid, question, answer)
	VALUES ('delete', old.id, old.question, old.answer);
END;

CREATE TRIGGER IF NOT EXISTS knowledge_au AFTER UPDATE ON knowledge BEGIN
	INSERT INTO knowledge_fts(knowledge_fts, rowid, question, answer)
	VALUES ('delete', old.id, old.question, old.answer);
	INSERT INTO knowledge_fts(rowid, question, answer)
	VALUES (new.id, new.question, new.answer);
END;
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init knowledge schema: %w", err)
	}
	return nil
}

// Insert stores one entry. The FTS index is updated in the same implicit
// transaction by the insert trigger.
func (s *Store) Insert(question, answer, source string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO knowledge (question, answer, source) VALUES (?, ?, ?)`,
		question, answer, source,
	)
	if err != nil {
		return 0, fmt.Errorf("insert knowledge entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("knowledge insert id: %w", err)
	}
	return id, nil
}

// Search runs a prefix keyword match over question and answer, ranked by
// bm25 with ascending id as tie-break. Search never fails to the caller:
// malformed queries and engine errors degrade to an empty result with a
// warning log. limit <= 0 uses DefaultSearchLimit.
func (s *Store) Search(query string, limit int) []Entry {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	match := buildMatchQuery(query)
	if match == "" {
		return nil
	}

	rows, err := s.db.Query(`
		SELECT k.id, k.question, k.answer, k.source
		FROM knowledge_fts f
		JOIN knowledge k ON k.id = f.rowid
		WHERE knowledge_fts MATCH ?
		ORDER BY bm25(knowledge_fts), k.id ASC
		LIMIT ?`, match, limit)
	if err != nil {
		log.Printf("[knowledge] search degraded for query %q: %v", truncate(query, 60), err)
		return nil
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &e.Source); err != nil {
			log.Printf("[knowledge] search scan failed: %v", err)
			return nil
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[knowledge] search iteration failed: %v", err)
		return nil
	}
	return entries
}

// All returns every entry ordered by id. Used by curation and status, where
// the corpus is small.
func (s *Store) All() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT id, question, answer, source FROM knowledge ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &e.Source); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count reports the number of stored entries.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count knowledge entries: %w", err)
	}
	return n, nil
}

// Delete removes one entry by id. The FTS index follows via trigger.
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM knowledge WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete knowledge entry %d: %w", id, err)
	}
	return nil
}

// Optimize merges FTS index segments. Run periodically, not per write.
func (s *Store) Optimize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`INSERT INTO knowledge_fts(knowledge_fts) VALUES('optimize')`); err != nil {
		return fmt.Errorf("optimize knowledge index: %w", err)
	}
	return nil
}

// CheckIndex verifies the FTS index against the content table.
func (s *Store) CheckIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`INSERT INTO knowledge_fts(knowledge_fts, rank) VALUES('integrity-check', 1)`); err != nil {
		return fmt.Errorf("knowledge index integrity: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
