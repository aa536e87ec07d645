package chromem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/commonrag/commonrag/vector"
)

// metaSeq stamps the record's insertion sequence so equal-similarity query
// results keep a stable order. It survives idempotent overwrites: a record
// re-upserted under the same ID keeps its original sequence.
const metaSeq = "_seq"

func NewChromemStore(cfg vector.Config, dimension int) (vector.Store, error) {
	var db *chromem.DB
	if !cfg.Persistent {
		db = chromem.NewDB()
	} else {
		d, err := chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", vector.ErrStoreUnavailable, err)
		}

		db = d
	}

	c, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrStoreUnavailable, err)
	}

	store := &chromemStore{
		db:         db,
		name:       cfg.Collection,
		collection: c,
		dimension:  dimension,
		seq:        int64(c.Count()),
	}

	return store, nil
}

// noEmbedding keeps chromem from calling out to an embedding API. Every
// record and query carries an explicit embedding computed upstream.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("store does not embed; embeddings must be provided")
}

type chromemStore struct {
	db   *chromem.DB
	name string

	mu         sync.Mutex
	collection *chromem.Collection
	dimension  int
	seq        int64
}

func (s *chromemStore) Upsert(ctx context.Context, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before writing anything, so a mismatch
	// leaves existing records untouched.
	for _, record := range records {
		if len(record.Embedding) == 0 {
			return fmt.Errorf("%w: record %s has no embedding", vector.ErrDimensionMismatch, record.ID)
		}

		if s.dimension == 0 {
			s.dimension = len(record.Embedding)
		}

		if len(record.Embedding) != s.dimension {
			return fmt.Errorf("%w: record %s has dimension %d, store has %d",
				vector.ErrDimensionMismatch, record.ID, len(record.Embedding), s.dimension)
		}
	}

	for _, record := range records {
		metadata := make(map[string]string, len(record.Metadata)+1)
		for k, v := range record.Metadata {
			metadata[k] = v
		}

		if existing, err := s.collection.GetByID(ctx, record.ID); err == nil {
			metadata[metaSeq] = existing.Metadata[metaSeq]
		} else {
			metadata[metaSeq] = strconv.FormatInt(s.seq, 10)
			s.seq++
		}

		doc := chromem.Document{
			ID:        record.ID,
			Metadata:  metadata,
			Embedding: record.Embedding,
			Content:   record.Content,
		}

		if err := s.collection.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("%w: %v", vector.ErrStoreUnavailable, err)
		}
	}

	return nil
}

func (s *chromemStore) Query(ctx context.Context, embedding []float32, k int) ([]vector.Result, error) {
	if k <= 0 {
		return nil, vector.ErrInvalidK
	}

	s.mu.Lock()
	collection := s.collection
	dimension := s.dimension
	s.mu.Unlock()

	if dimension > 0 && len(embedding) != dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, store has %d",
			vector.ErrDimensionMismatch, len(embedding), dimension)
	}

	count := collection.Count()
	if count == 0 {
		return []vector.Result{}, nil
	}

	if k > count {
		k = count
	}

	results, err := collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrStoreUnavailable, err)
	}

	out := make([]vector.Result, len(results))
	for i, result := range results {
		out[i] = vector.Result{
			Record: vector.Record{
				ID:        result.ID,
				Content:   result.Content,
				Embedding: result.Embedding,
				Metadata:  result.Metadata,
			},
			Similarity: result.Similarity,
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return seqOf(out[i].Record) < seqOf(out[j].Record)
	})

	for i := range out {
		out[i].Metadata = withoutSeq(out[i].Metadata)
	}

	return out, nil
}

func (s *chromemStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	collection := s.collection
	s.mu.Unlock()

	return collection.Count(), nil
}

// Reset drops and recreates the collection. Chromem cannot delete all of a
// collection's documents in one call, so the collection itself is swapped.
func (s *chromemStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("%w: %v", vector.ErrStoreUnavailable, err)
	}

	c, err := s.db.GetOrCreateCollection(s.name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("%w: %v", vector.ErrStoreUnavailable, err)
	}

	s.collection = c
	s.seq = 0

	return nil
}

func seqOf(record vector.Record) int64 {
	seq, err := strconv.ParseInt(record.Metadata[metaSeq], 10, 64)
	if err != nil {
		return int64(^uint64(0) >> 1)
	}
	return seq
}

func withoutSeq(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return metadata
	}

	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if k == metaSeq {
			continue
		}
		out[k] = v
	}

	return out
}
