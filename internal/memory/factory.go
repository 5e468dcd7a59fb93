package memory

import (
	"context"
	"strings"
)

// NewIndex creates a pgvector-backed index when a database URL is
// configured, otherwise the in-process index.
func NewIndex(ctx context.Context, databaseURL string, dims int) (VectorIndex, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryIndex(), nil
	}
	return NewPostgresIndex(ctx, databaseURL, dims)
}
