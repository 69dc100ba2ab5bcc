// Package embedcache persists embedding vectors in SQLite so re-analysing the
// same video does not pay for identical descriptor embeddings twice.
package embedcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forPelevin/clipscout/internal/metrics"
	"github.com/forPelevin/clipscout/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	key       TEXT PRIMARY KEY,
	model     TEXT NOT NULL,
	dims      INTEGER NOT NULL,
	vector    BLOB NOT NULL,
	createdAt REAL NOT NULL
);`

// Cache wraps an Embedder. Lookups and writes are best effort: a broken cache
// degrades to calling the backend directly.
type Cache struct {
	db      *sql.DB
	next    ports.Embedder
	model   string
	metrics *metrics.Metrics
}

// Open creates or opens the cache at path (":memory:" for a throwaway cache).
func Open(path string, next ports.Embedder, model string, m *metrics.Metrics) (*Cache, error) {
	if next == nil {
		return nil, errors.New("embedcache: nil embedder")
	}
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	// One connection: an in-memory database is per-connection, and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create embedding cache schema: %w", err)
	}
	return &Cache{db: db, next: next, model: model, metrics: m}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.model, text)

	if vec, ok := c.lookup(ctx, key); ok {
		c.metrics.EmbeddingCache(true)
		return vec, nil
	}
	c.metrics.EmbeddingCache(false)

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, vec)
	return vec, nil
}

// Len reports the number of cached vectors.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

func (c *Cache) lookup(ctx context.Context, key string) ([]float32, bool) {
	var (
		dims int
		blob []byte
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT dims, vector FROM embeddings WHERE key = ?`, key,
	).Scan(&dims, &blob)
	if err != nil {
		return nil, false
	}
	vec, err := decodeVector(blob, dims)
	if err != nil {
		return nil, false
	}
	return vec, true
}

func (c *Cache) store(ctx context.Context, key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	_, _ = c.db.ExecContext(ctx, `
		INSERT INTO embeddings (key, model, dims, vector, createdAt)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET vector = excluded.vector, dims = excluded.dims
	`, key, c.model, len(vec), encodeVector(vec), float64(time.Now().UnixNano())/1e9)
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func encodeVector(vec []float32) []byte {
	b := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte, dims int) ([]float32, error) {
	if dims <= 0 || len(b) != 4*dims {
		return nil, fmt.Errorf("embedding blob has %d bytes for %d dims", len(b), dims)
	}
	out := make([]float32, dims)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

var _ ports.Embedder = (*Cache)(nil)
