package commonrag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/commonrag/commonrag/chunk"
	"github.com/commonrag/commonrag/vector"
)

// Service is the core retrieval pipeline: turn raw documents into stored,
// searchable chunks, and ground chat answers in the retrieved chunks.
type Service interface {

	// Close tears down the service and releases its lifecycle context.
	Close() error

	// Ingest collects documents from the configured sources and ingests
	// them. Partially-ingested runs are recovered by re-ingesting: record
	// identifiers are stable, so upserts overwrite instead of duplicating.
	Ingest(ctx context.Context) (*IngestReport, error)

	// IngestDocuments chunks, embeds and upserts the given documents and
	// reports a per-run tally. A chunk whose embedding keeps failing after
	// retries is counted and reported, not fatal to the batch; store
	// failures abort the run.
	IngestDocuments(ctx context.Context, docs []Document) (*IngestReport, error)

	// Search returns the k stored chunks most similar to the query,
	// ordered by descending similarity.
	Search(ctx context.Context, query string, k ...int) ([]SearchResult, error)

	// Answer retrieves the top-k chunks for the query and asks the chat
	// model to answer from that context only. An empty retrieval still
	// invokes the model with an empty context block, letting it state
	// that it lacks information.
	Answer(ctx context.Context, query string, k ...int) (string, error)
}

type ServiceMiddleware func(Service) Service

func NewService(ctx context.Context, cfg Config, store vector.Store, embedder Embedder, chat ChatModel, sources ...Source) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	splitter, err := chunk.NewSplitter(cfg.Chunker.MaxLength, cfg.Chunker.Overlap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	log := zap.L().With(
		zap.String("service", "commonrag"),
	)

	ctx, cancel := context.WithCancel(ctx)

	svc := &service{
		splitter: splitter,
		store:    store,
		embedder: embedder,
		chat:     chat,
		sources:  sources,

		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	return svc, nil
}

type service struct {
	splitter *chunk.Splitter
	store    vector.Store
	embedder Embedder
	chat     ChatModel
	sources  []Source

	cfg    Config
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func (svc *service) Close() error {
	if svc.cancel != nil {
		svc.cancel()
		svc.cancel = nil
	}

	return nil
}

func (svc *service) Ingest(ctx context.Context) (*IngestReport, error) {
	log := svc.log.With(
		zap.String("action", "collect"),
	)

	var docs []Document
	for _, source := range svc.sources {
		collected, err := source.Collect(ctx)
		if err != nil {
			log.Error(err.Error())
			return nil, err
		}

		docs = append(docs, collected...)
	}

	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	return svc.IngestDocuments(ctx, docs)
}

func (svc *service) IngestDocuments(ctx context.Context, docs []Document) (*IngestReport, error) {
	chunks := svc.splitDocuments(docs)

	report := &IngestReport{
		Documents: len(docs),
		Chunks:    len(chunks),
	}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(svc.cfg.Ingest.Workers)

	for _, c := range chunks {
		c := c

		g.Go(func() error {
			embedding, err := svc.embedWithRetry(gctx, c.Text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				// Isolated to this record; the rest of the batch
				// keeps going.
				mu.Lock()
				report.Failed++
				report.Failures = append(report.Failures, IngestFailure{
					ChunkID: c.ID,
					Source:  c.Metadata[MetaSource],
					Reason:  err.Error(),
				})
				mu.Unlock()

				return nil
			}

			callCtx, cancel := svc.withCallTimeout(gctx)
			defer cancel()

			err = svc.store.Upsert(callCtx, []vector.Record{ChunkToRecord(c, embedding)})
			if err != nil {
				return svc.externalErr(callCtx, err)
			}

			mu.Lock()
			report.Upserted++
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return report, nil
}

func (svc *service) Search(ctx context.Context, query string, k ...int) ([]SearchResult, error) {
	n, err := svc.resolveK(query, k)
	if err != nil {
		return nil, err
	}

	results, err := svc.retrieve(ctx, query, n)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, len(results))
	for i, result := range results {
		out[i] = SearchResult{
			ID:       result.ID,
			Text:     result.Content,
			Source:   result.Metadata[MetaSource],
			Score:    result.Similarity,
			Metadata: result.Metadata,
		}
	}

	return out, nil
}

func (svc *service) Answer(ctx context.Context, query string, k ...int) (string, error) {
	n, err := svc.resolveK(query, k)
	if err != nil {
		return "", err
	}

	results, err := svc.retrieve(ctx, query, n)
	if err != nil {
		return "", err
	}

	texts := make([]string, len(results))
	for i, result := range results {
		texts[i] = result.Content
	}

	contextBlock := strings.Join(texts, "\n\n")
	prompt := fmt.Sprintf(answerPrompt, contextBlock, query)

	if err := ctx.Err(); err != nil {
		return "", err
	}

	callCtx, cancel := svc.withCallTimeout(ctx)
	defer cancel()

	answer, err := svc.chat.Complete(callCtx, prompt)
	if err != nil {
		err = svc.externalErr(callCtx, err)
		if errors.Is(err, ErrTimeout) {
			return "", err
		}

		// No local retry; the caller decides.
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	return answer, nil
}

// resolveK validates the query and picks the effective k before any
// network or store call happens.
func (svc *service) resolveK(query string, k []int) (int, error) {
	if strings.TrimSpace(query) == "" {
		return 0, ErrEmptyQuery
	}

	n := svc.cfg.Retrieval.DefaultK
	if len(k) > 0 {
		if k[0] <= 0 {
			return 0, ErrInvalidK
		}

		n = k[0]
	}

	return n, nil
}

// retrieve embeds the query and runs the top-k store lookup. Results come
// back in the store's order: descending similarity, earliest insertion
// first on ties. Caller cancellation is honored at each call boundary.
func (svc *service) retrieve(ctx context.Context, query string, k int) ([]vector.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedCtx, cancel := svc.withCallTimeout(ctx)
	defer cancel()

	embedding, err := svc.embedder.Embed(embedCtx, query)
	if err != nil {
		err = svc.externalErr(embedCtx, err)
		if errors.Is(err, ErrTimeout) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryCtx, cancel := svc.withCallTimeout(ctx)
	defer cancel()

	results, err := svc.store.Query(queryCtx, embedding, k)
	if err != nil {
		return nil, svc.externalErr(queryCtx, err)
	}

	return results, nil
}

// splitDocuments turns documents into chunks with stable identifiers and a
// private copy of the parent metadata.
func (svc *service) splitDocuments(docs []Document) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		source := doc.Source()

		for _, segment := range svc.splitter.Split(doc.Text) {
			metadata := make(map[string]string, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata[MetaOffset] = strconv.Itoa(segment.Start)

			chunks = append(chunks, Chunk{
				ID:       ChunkID(source, segment.Start),
				Text:     segment.Text,
				Offset:   segment.Start,
				Metadata: metadata,
			})
		}
	}

	return chunks
}

func (svc *service) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		callCtx, cancel := svc.withCallTimeout(ctx)
		defer cancel()

		vec, err := svc.embedder.Embed(callCtx, text)
		if err != nil {
			return err
		}

		embedding = vec
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(svc.cfg.Ingest.MaxRetries)),
		ctx,
	)

	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	return embedding, nil
}

func (svc *service) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, svc.cfg.CallTimeout.Duration())
}

// externalErr distinguishes a per-call timeout from caller cancellation and
// other backend failures.
func (svc *service) externalErr(callCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}
