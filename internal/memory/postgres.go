package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemo-ai/mnemo/internal/embedding"
)

// PostgresIndex stores memory records in PostgreSQL with pgvector doing
// the similarity search.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

func NewPostgresIndex(ctx context.Context, databaseURL string, dims int) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresIndex{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, dims),
		`CREATE INDEX IF NOT EXISTS idx_memories_kind_created ON memories (kind, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (ix *PostgresIndex) Upsert(ctx context.Context, rec Record, vec embedding.Vector) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = ix.pool.Exec(ctx,
		`INSERT INTO memories (id, content, kind, metadata, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5::vector, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   content = EXCLUDED.content,
		   kind = EXCLUDED.kind,
		   metadata = EXCLUDED.metadata,
		   embedding = EXCLUDED.embedding`,
		rec.ID, rec.Content, string(rec.Kind), meta, vectorLiteral(vec), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func (ix *PostgresIndex) Query(ctx context.Context, vec embedding.Vector, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := ix.pool.Query(ctx,
		`SELECT id, content, kind, metadata, created_at, embedding <=> $1::vector AS distance
		 FROM memories ORDER BY embedding <=> $1::vector LIMIT $2`,
		vectorLiteral(vec), k,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var (
			h    Hit
			kind string
			meta []byte
		)
		if err := rows.Scan(&h.ID, &h.Content, &kind, &meta, &h.CreatedAt, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		h.Kind = Kind(kind)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &h.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", h.ID, err)
			}
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return hits, nil
}

func (ix *PostgresIndex) Delete(ctx context.Context, id string) error {
	if _, err := ix.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

func (ix *PostgresIndex) List(ctx context.Context, limit int, kind Kind) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, content, kind, metadata, created_at FROM memories`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, string(kind))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT %d`, limit)

	rows, err := ix.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	recs := make([]Record, 0, limit)
	for rows.Next() {
		var (
			r    Record
			kind string
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Content, &kind, &meta, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		r.Kind = Kind(kind)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
			}
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return recs, nil
}

func (ix *PostgresIndex) Close() error {
	ix.pool.Close()
	return nil
}

// vectorLiteral renders a vector in pgvector's input format.
func vectorLiteral(vec embedding.Vector) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
