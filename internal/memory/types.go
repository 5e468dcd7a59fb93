package memory

import (
	"context"
	"time"

	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/fault"
)

// Kind is the closed set of memory categories. Anything that does not fit
// a kind goes into the open Metadata map instead of a new string tag.
type Kind string

const (
	KindFact         Kind = "fact"
	KindConversation Kind = "conversation"
	KindPreference   Kind = "preference"
	KindEvent        Kind = "event"
)

// ParseKind validates a kind string. Empty defaults to KindFact.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindFact, nil
	case KindFact, KindConversation, KindPreference, KindEvent:
		return Kind(s), nil
	default:
		return "", fault.Validationf("unrecognized memory kind %q", s)
	}
}

// Record is one stored fact. Immutable except for explicit metadata
// correction; deleted only by Forget.
type Record struct {
	ID        string         `json:"memory_id"`
	Content   string         `json:"content"`
	Kind      Kind           `json:"kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SearchResult pairs a record with its similarity to the query, in [0,1]
// for cosine distance (similarity = 1 - distance).
type SearchResult struct {
	Record
	Similarity float64 `json:"similarity"`
}

// Hit is one raw nearest-neighbour result from a vector index.
type Hit struct {
	ID        string
	Content   string
	Kind      Kind
	Metadata  map[string]any
	CreatedAt time.Time
	Distance  float64
}

// VectorIndex is the consumed similarity-search capability. The search
// algorithm itself is not this package's concern; both an in-process
// cosine index and a pgvector-backed index satisfy it.
type VectorIndex interface {
	Upsert(ctx context.Context, rec Record, vec embedding.Vector) error
	Query(ctx context.Context, vec embedding.Vector, k int) ([]Hit, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int, kind Kind) ([]Record, error)
	Close() error
}
