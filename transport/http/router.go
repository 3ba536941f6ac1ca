package http

import (
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/repochat"

	mcpE "github.com/flarexio/repochat/mcp"
)

func AddRouters(r *gin.Engine, endpoints *repochat.EndpointSet) {
	api := r.Group("/api")
	{
		api.POST("/chat", AskHandler(endpoints.Ask))
		api.GET("/test", HealthHandler(endpoints.Health))
		api.GET("/search", SearchHandler(endpoints.Search))
	}
}

func AddStreamableRouters(r *gin.Engine, endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint) {
	r.POST("/mcp", MCPStreamableHandler(endpoints))
}
