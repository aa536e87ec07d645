package commonrag

import (
	"context"
	"errors"
)

// ProxyMiddleware turns a remote endpoint set (for example one built over
// NATS) back into a Service, so a client process can consume a running
// instance through the same interface.
func ProxyMiddleware(endpoints *EndpointSet) ServiceMiddleware {
	return func(next Service) Service {
		return &proxyMiddleware{
			endpoints: endpoints,
		}
	}
}

type proxyMiddleware struct {
	endpoints *EndpointSet
}

func (mw *proxyMiddleware) Close() error {
	return nil
}

func (mw *proxyMiddleware) Ingest(ctx context.Context) (*IngestReport, error) {
	resp, err := mw.endpoints.Ingest(ctx, nil)
	if err != nil {
		return nil, err
	}

	report, ok := resp.(*IngestReport)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return report, nil
}

func (mw *proxyMiddleware) IngestDocuments(ctx context.Context, docs []Document) (*IngestReport, error) {
	return nil, errors.New("method not implemented")
}

func (mw *proxyMiddleware) Search(ctx context.Context, query string, k ...int) ([]SearchResult, error) {
	req := SearchRequest{Query: query}
	if len(k) > 0 {
		req.K = k[0]
	}

	resp, err := mw.endpoints.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	results, ok := resp.([]SearchResult)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return results, nil
}

func (mw *proxyMiddleware) Answer(ctx context.Context, query string, k ...int) (string, error) {
	req := ChatRequest{Query: query}
	if len(k) > 0 {
		req.K = k[0]
	}

	resp, err := mw.endpoints.Answer(ctx, req)
	if err != nil {
		return "", err
	}

	chat, ok := resp.(*ChatResponse)
	if !ok {
		return "", errors.New("invalid response type")
	}

	return chat.Answer, nil
}
