package http

import (
	"github.com/gin-gonic/gin"

	"github.com/commonrag/commonrag"
)

func AddRouters(r *gin.Engine, endpoints commonrag.EndpointSet) {
	api := r.Group("/api")
	{
		api.POST("/chat", ChatHandler(endpoints.Answer))
		api.GET("/search", SearchHandler(endpoints.Search))
		api.POST("/ingest", IngestHandler(endpoints.Ingest))
	}
}
