package nats

import (
	"github.com/nats-io/nats.go/micro"

	"github.com/commonrag/commonrag"
)

func AddEndpoints(group micro.Group, endpoints commonrag.EndpointSet) {
	group.AddEndpoint("ingest", IngestHandler(endpoints.Ingest))
	group.AddEndpoint("search", SearchHandler(endpoints.Search))
	group.AddEndpoint("answer", AnswerHandler(endpoints.Answer))
}
