package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS policies (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	text        TEXT NOT NULL,
	dimension   INTEGER NOT NULL,
	embedding   BLOB NOT NULL,
	created_at  TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store is the durable policy corpus. Reads see a consistent snapshot per
// query; Insert and Clear are serialized.
type Store struct {
	db       *sql.DB
	dim      int
	embedder provider.Embedder
	writeMu  sync.Mutex
}

// #endregion store-struct

// #region constructor
// NewStore opens (or creates) the SQLite database at dbPath.
// dim is the embedding dimension every stored vector must have.
func NewStore(dbPath string, dim int, embedder provider.Embedder) (*Store, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	s, err := NewStoreWithDB(db, dim, embedder)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB runs migrations on an existing handle.
func NewStoreWithDB(db *sql.DB, dim int, embedder provider.Embedder) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	if embedder == nil {
		return nil, errors.New("policy store requires an embedder")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, dim: dim, embedder: embedder}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int {
	return s.dim
}

// #endregion close

// #region insert
// Insert embeds text and persists a new entry. An empty name gets a generated one.
func (s *Store) Insert(ctx context.Context, text, name string) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, failure.Validation("insert policy", "policy text is empty")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "policy_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, failure.ErrEmbedding) {
			return Entry{}, err
		}
		return Entry{}, failure.Embedding("insert policy", err)
	}
	if len(vec) != s.dim {
		return Entry{}, failure.Embedding("insert policy",
			fmt.Errorf("embedding has dimension %d, store expects %d", len(vec), s.dim))
	}

	entry := Entry{
		ID:        uuid.New().String(),
		Text:      text,
		Name:      name,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO policies (id, name, text, dimension, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Name, entry.Text, s.dim, encodeVector(vec), entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, failure.Storage("insert policy", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		entry.seq = seq
	}

	log.Printf("[POLICY] stored %s (%s, %d chars)", entry.ID, entry.Name, len(entry.Text))
	return entry, nil
}

// #endregion insert

// #region query
// Query returns up to k entries ranked by descending cosine similarity to vec.
// Equal similarities keep insertion order. An empty store yields an empty slice.
func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]Retrieved, error) {
	if len(vec) != s.dim {
		return nil, failure.Embedding("query policies",
			fmt.Errorf("query vector has dimension %d, store expects %d", len(vec), s.dim))
	}
	if k <= 0 {
		return []Retrieved{}, nil
	}

	entries, err := s.scan(ctx, "query policies")
	if err != nil {
		return nil, err
	}

	ranked := make([]Retrieved, len(entries))
	for i, e := range entries {
		ranked[i] = Retrieved{Entry: e, Similarity: Cosine(vec, e.Embedding)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// #endregion query

// #region list
// List returns every entry in insertion order.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	return s.scan(ctx, "list policies")
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies`).Scan(&n); err != nil {
		return 0, failure.Storage("count policies", err)
	}
	return n, nil
}

// #endregion list

// #region clear
// Clear removes every entry. Idempotent.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM policies`)
	if err != nil {
		return failure.Storage("clear policies", err)
	}
	n, _ := res.RowsAffected()
	log.Printf("[POLICY] cleared %d entries", n)
	return nil
}

// #endregion clear

// #region scan
// scan reads all rows in one statement, so callers see a single snapshot.
func (s *Store) scan(ctx context.Context, op string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, name, text, embedding, created_at FROM policies ORDER BY seq`)
	if err != nil {
		return nil, failure.Storage(op, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var blob []byte
		var createdStr string
		if err := rows.Scan(&e.seq, &e.ID, &e.Name, &e.Text, &blob, &createdStr); err != nil {
			return nil, failure.Storage(op, fmt.Errorf("scan row: %w", err))
		}
		vec, err := decodeVector(blob, s.dim)
		if err != nil {
			return nil, failure.Storage(op, fmt.Errorf("policy %s: %w", e.ID, err))
		}
		e.Embedding = vec
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
		if err != nil {
			return nil, failure.Storage(op, fmt.Errorf("policy %s created_at: %w", e.ID, err))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Storage(op, err)
	}
	return entries, nil
}

// #endregion scan
