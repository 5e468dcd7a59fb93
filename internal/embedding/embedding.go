// Package embedding provides the text-embedding capability consumed by the
// long-term memory store. The similarity search itself lives behind the
// memory.VectorIndex interface; this package only turns text into vectors.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo/internal/reliability"
)

// Vector is a fixed-length float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// retryableError marks failures worth another attempt by the caller.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// IsRetryable reports whether an Embed failure is transient.
func IsRetryable(err error) bool {
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	return reliability.IsRetryableError(err)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider string // auto | openai | mock
	BaseURL  string
	Model    string
	APIKey   string
	Dims     int
}

// New builds an embedder from config. "auto" picks the OpenAI-compatible
// client when an API key or base URL is set and the mock otherwise.
func New(cfg Config) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "auto":
		if cfg.APIKey != "" || cfg.BaseURL != "" {
			return NewOpenAIEmbedder(cfg), nil
		}
		return NewMockEmbedder(cfg.Dims), nil
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai embedding provider requires an API key or base URL")
		}
		return NewOpenAIEmbedder(cfg), nil
	case "mock":
		return NewMockEmbedder(cfg.Dims), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// OpenAIEmbedder calls any OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

func NewOpenAIEmbedder(cfg Config) *OpenAIEmbedder {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	dims := cfg.Dims
	if dims <= 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(embedRequest{Input: text, Model: e.model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("embedding request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("embedding backend status %d: %s", resp.StatusCode, string(b))
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, &retryableError{err: err}
		}
		return nil, err
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding backend returned no vector")
	}
	return result.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

// MockEmbedder produces deterministic unit vectors from a content hash.
// Identical text always maps to the identical vector, which is enough for
// tests and offline development.
type MockEmbedder struct {
	dims int
}

func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &MockEmbedder{dims: dims}
}

func (e *MockEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	vec := make(Vector, e.dims)
	seed := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	// Expand the digest into dims pseudo-random components.
	var norm float64
	for i := 0; i < e.dims; i++ {
		var block [40]byte
		copy(block[:], seed[:])
		binary.LittleEndian.PutUint64(block[32:], uint64(i))
		h := sha256.Sum256(block[:])
		v := float32(int64(binary.LittleEndian.Uint64(h[:8]))%10007) / 10007.0
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (e *MockEmbedder) Dims() int { return e.dims }
