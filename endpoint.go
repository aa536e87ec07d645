package commonrag

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"
)

type EndpointSet struct {
	Ingest endpoint.Endpoint
	Search endpoint.Endpoint
	Answer endpoint.Endpoint
}

func IngestEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return svc.Ingest(ctx)
	}
}

type SearchRequest struct {
	Query string `json:"query" form:"query"`
	K     int    `json:"k,omitempty" form:"k"`
}

func SearchEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(SearchRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		// Zero means unset; anything else, negatives included, goes
		// through so the service can validate it.
		if req.K != 0 {
			return svc.Search(ctx, req.Query, req.K)
		}

		return svc.Search(ctx, req.Query)
	}
}

type ChatRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type ChatResponse struct {
	Answer string `json:"answer"`
}

func AnswerEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ChatRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		var (
			answer string
			err    error
		)

		if req.K != 0 {
			answer, err = svc.Answer(ctx, req.Query, req.K)
		} else {
			answer, err = svc.Answer(ctx, req.Query)
		}

		if err != nil {
			return nil, err
		}

		return &ChatResponse{Answer: answer}, nil
	}
}
