package commonrag

import (
	"context"

	"go.uber.org/zap"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "commonrag"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("service closed")
	return nil
}

func (mw *loggingMiddleware) Ingest(ctx context.Context) (*IngestReport, error) {
	log := mw.log.With(
		zap.String("action", "ingest"),
	)

	report, err := mw.next.Ingest(ctx)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("sources ingested",
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Int("upserted", report.Upserted),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (mw *loggingMiddleware) IngestDocuments(ctx context.Context, docs []Document) (*IngestReport, error) {
	log := mw.log.With(
		zap.String("action", "ingest_documents"),
		zap.Int("documents", len(docs)),
	)

	report, err := mw.next.IngestDocuments(ctx, docs)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("documents ingested",
		zap.Int("chunks", report.Chunks),
		zap.Int("upserted", report.Upserted),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (mw *loggingMiddleware) Search(ctx context.Context, query string, k ...int) ([]SearchResult, error) {
	log := mw.log.With(
		zap.String("action", "search"),
		zap.String("query", query),
	)

	if len(k) > 0 {
		log = log.With(
			zap.Int("k", k[0]),
		)
	}

	results, err := mw.next.Search(ctx, query, k...)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("chunks retrieved", zap.Int("count", len(results)))
	return results, nil
}

func (mw *loggingMiddleware) Answer(ctx context.Context, query string, k ...int) (string, error) {
	log := mw.log.With(
		zap.String("action", "answer"),
		zap.String("query", query),
	)

	if len(k) > 0 {
		log = log.With(
			zap.Int("k", k[0]),
		)
	}

	answer, err := mw.next.Answer(ctx, query, k...)
	if err != nil {
		log.Error(err.Error())
		return "", err
	}

	log.Info("answer generated", zap.Int("length", len(answer)))
	return answer, nil
}
