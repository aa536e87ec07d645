package vector

import (
	"context"
	"errors"
)

var (
	ErrInvalidK          = errors.New("k must be positive")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrStoreUnavailable  = errors.New("vector store unavailable")
)

type Config struct {
	Persistent bool   `yaml:"persistent"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// Store is the durable mapping from record identity to (embedding, text,
// metadata). It is treated as an external transactional service: every
// call is independent and implementations keep no local cache.
type Store interface {
	// Upsert writes records keyed by their IDs, overwriting records that
	// already exist. The whole batch is validated against the store's
	// established dimensionality before anything is written.
	Upsert(ctx context.Context, records []Record) error

	// Query returns up to k stored records ordered by descending
	// similarity to the given embedding, ties broken by insertion order.
	// An empty store yields an empty result, not an error.
	Query(ctx context.Context, embedding []float32, k int) ([]Result, error)

	// Count reports the number of stored records.
	Count(ctx context.Context) (int, error)

	// Reset drops all records. Deletion is an explicit external operation,
	// never something the ingestion or query paths do on their own.
	Reset(ctx context.Context) error
}

// Record is the durable unit: chunk text, its embedding and metadata under
// a stable identifier.
type Record struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Result is a retrieved record with its similarity to the query embedding.
type Result struct {
	Record
	Similarity float32 `json:"similarity"`
}
