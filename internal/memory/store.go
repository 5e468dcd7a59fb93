// Package memory implements the long-term semantic fact store: embedded
// records with similarity-based recall above a configurable floor.
package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/fault"
	"github.com/mnemo-ai/mnemo/internal/policy"
	"github.com/mnemo-ai/mnemo/internal/protocol"
	"github.com/mnemo-ai/mnemo/internal/reliability"
)

const (
	embedAttempts    = 3
	embedBackoffBase = 250 * time.Millisecond
	embedBackoffCap  = 2 * time.Second
	embedTimeout     = 30 * time.Second

	queryCacheTTL     = 2 * time.Minute
	queryCacheCleanup = 5 * time.Minute
)

// Options carry the recall defaults from configuration.
type Options struct {
	TopK          int
	MinSimilarity float64
}

// LongTermStore owns the memory records. Embedding is a consumed
// capability; the store only guarantees no partial writes and clean
// degradation when that capability is down.
type LongTermStore struct {
	embedder embedding.Embedder
	index    VectorIndex
	opts     Options
	publish  protocol.Publisher

	// queryVecs caches query-text embeddings so repeated recalls of the
	// same question do not re-hit the embedding backend.
	queryVecs *gocache.Cache
}

func NewLongTermStore(embedder embedding.Embedder, index VectorIndex, opts Options, publish protocol.Publisher) *LongTermStore {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MinSimilarity < 0 {
		opts.MinSimilarity = 0
	}
	if publish == nil {
		publish = func(protocol.Event) {}
	}
	return &LongTermStore{
		embedder:  embedder,
		index:     index,
		opts:      opts,
		publish:   publish,
		queryVecs: gocache.New(queryCacheTTL, queryCacheCleanup),
	}
}

// Remember embeds content and stores it as a new record. When embedding
// exhausts its retry budget nothing is persisted.
func (s *LongTermStore) Remember(ctx context.Context, content string, kind Kind, metadata map[string]any) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fault.Validationf("empty memory content")
	}
	if kind == "" {
		kind = KindFact
	}

	// Long-term records outlive the conversation, so PII is masked before
	// anything is embedded or persisted.
	content, redacted := policy.RedactPII(content)

	vec, err := s.embedWithRetry(ctx, content)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, ok := metadata["created_at"]; !ok {
		metadata["created_at"] = now.Format(time.RFC3339)
	}
	if redacted {
		metadata["redacted"] = true
	}

	rec := Record{
		ID:        uuid.NewString(),
		Content:   content,
		Kind:      kind,
		Metadata:  metadata,
		CreatedAt: now,
	}
	if err := s.index.Upsert(ctx, rec, vec); err != nil {
		return "", fmt.Errorf("store memory: %w", err)
	}

	s.publish(protocol.Event{Type: protocol.TypeMemoryStored, MemoryID: rec.ID, At: now})
	return rec.ID, nil
}

// Recall embeds the query and returns records above the similarity floor,
// best first, at most topK. A downed backend degrades to an empty result
// set rather than failing the caller's request.
func (s *LongTermStore) Recall(ctx context.Context, query string, topK int, minSimilarity float64) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return []SearchResult{}, nil
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}
	if minSimilarity <= 0 {
		minSimilarity = s.opts.MinSimilarity
	}

	vec, err := s.queryVector(ctx, query)
	if err != nil {
		log.Printf("memory: recall degraded, embedding unavailable: %v", err)
		return []SearchResult{}, nil
	}

	hits, err := s.index.Query(ctx, vec, topK)
	if err != nil {
		log.Printf("memory: recall degraded, index query failed: %v", err)
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		similarity := 1 - h.Distance
		if similarity < minSimilarity {
			continue
		}
		results = append(results, SearchResult{
			Record: Record{
				ID:        h.ID,
				Content:   h.Content,
				Kind:      h.Kind,
				Metadata:  h.Metadata,
				CreatedAt: h.CreatedAt,
			},
			Similarity: similarity,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Forget deletes a record. Forgetting an id that does not exist is a
// no-op, not an error.
func (s *LongTermStore) Forget(ctx context.Context, memoryID string) error {
	if strings.TrimSpace(memoryID) == "" {
		return fault.Validationf("empty memory id")
	}
	if err := s.index.Delete(ctx, memoryID); err != nil {
		return fmt.Errorf("forget memory: %w", err)
	}
	s.publish(protocol.Event{Type: protocol.TypeMemoryForgotten, MemoryID: memoryID, At: time.Now().UTC()})
	return nil
}

// List returns up to limit records, optionally filtered by kind. Ordering
// is stable across repeated calls against unchanged data.
func (s *LongTermStore) List(ctx context.Context, limit int, kind Kind) ([]Record, error) {
	return s.index.List(ctx, limit, kind)
}

func (s *LongTermStore) queryVector(ctx context.Context, query string) (embedding.Vector, error) {
	if cached, ok := s.queryVecs.Get(query); ok {
		return cached.(embedding.Vector), nil
	}
	vec, err := s.embedWithRetry(ctx, query)
	if err != nil {
		return nil, err
	}
	s.queryVecs.Set(query, vec, gocache.DefaultExpiration)
	return vec, nil
}

// embedWithRetry attempts the embedding call up to embedAttempts times
// with exponential backoff, wrapping exhaustion as ErrUnavailable.
func (s *LongTermStore) embedWithRetry(ctx context.Context, text string) (embedding.Vector, error) {
	var lastErr error
	for attempt := 0; attempt < embedAttempts; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt-1, embedBackoffBase, embedBackoffCap)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, embedTimeout)
		vec, err := s.embedder.Embed(attemptCtx, text)
		cancel()
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !embedding.IsRetryable(err) {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		log.Printf("memory: embedding attempt %d/%d failed: %v", attempt+1, embedAttempts, err)
	}
	return nil, fault.Unavailablef("embedding failed after %d attempts: %v", embedAttempts, lastErr)
}
