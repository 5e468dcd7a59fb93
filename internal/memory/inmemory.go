package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/mnemo-ai/mnemo/internal/embedding"
)

// InMemoryIndex is an in-process cosine-distance index for local/dev use
// and tests.
type InMemoryIndex struct {
	mu      sync.RWMutex
	records map[string]indexEntry
}

type indexEntry struct {
	rec Record
	vec embedding.Vector
}

func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{records: make(map[string]indexEntry)}
}

func (ix *InMemoryIndex) Upsert(_ context.Context, rec Record, vec embedding.Vector) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.records[rec.ID] = indexEntry{rec: rec, vec: append(embedding.Vector(nil), vec...)}
	return nil
}

func (ix *InMemoryIndex) Query(_ context.Context, vec embedding.Vector, k int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]Hit, 0, len(ix.records))
	for _, entry := range ix.records {
		hits = append(hits, Hit{
			ID:        entry.rec.ID,
			Content:   entry.rec.Content,
			Kind:      entry.rec.Kind,
			Metadata:  entry.rec.Metadata,
			CreatedAt: entry.rec.CreatedAt,
			Distance:  1 - cosineSimilarity(vec, entry.vec),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (ix *InMemoryIndex) Delete(_ context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.records, id)
	return nil
}

// List returns up to limit records, newest first with the id as a
// tiebreaker so repeated calls against unchanged data are stable.
func (ix *InMemoryIndex) List(_ context.Context, limit int, kind Kind) ([]Record, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	recs := make([]Record, 0, len(ix.records))
	for _, entry := range ix.records {
		if kind != "" && entry.rec.Kind != kind {
			continue
		}
		recs = append(recs, entry.rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs, nil
}

func (ix *InMemoryIndex) Close() error { return nil }

func cosineSimilarity(a, b embedding.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
