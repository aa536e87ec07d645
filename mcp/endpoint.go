// Package mcp exposes the retrieval service over the Model Context
// Protocol as two tools: ask (grounded answer) and search_knowledge
// (raw top-k retrieval).
package mcp

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/commonrag/commonrag"
)

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      mcp.RequestId   `json:"id"`
	Method  mcp.MCPMethod   `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func errorResponse(id any, code int, message string) mcp.JSONRPCError {
	return mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(id),
		Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data,omitempty"`
		}{
			Code:    code,
			Message: message,
		},
	}
}

type MCPEndpoint func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage

const MCPSERVER_INSTRUCTIONS string = `CommonRAG answers questions from an ingested knowledge base:

1. **Grounded Answers**: ask answers strictly from retrieved context
2. **Semantic Search**: search_knowledge returns the raw top-k chunks with scores

Available operations:
- tools/list: Get the available tools
- tools/call: Execute ask or search_knowledge

Answers never use outside knowledge; when the knowledge base has nothing relevant, the model says so.`

func InitializeEndpoint(svc commonrag.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		protocolVersion := mcp.LATEST_PROTOCOL_VERSION
		if clientVersion := params.ProtocolVersion; clientVersion != "" {
			if slices.Contains(mcp.ValidProtocolVersions, clientVersion) {
				protocolVersion = clientVersion
			}
		}

		result := &mcp.InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{},
			},
			ServerInfo: mcp.Implementation{
				Name:    "commonrag",
				Version: "1.0.0",
			},
			Instructions: MCPSERVER_INSTRUCTIONS,
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func PingEndpoint(svc commonrag.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  struct{}{}, // empty response
		}
	}
}

func Tools() []mcp.Tool {
	ask := mcp.NewTool("ask",
		mcp.WithDescription("Answer a question using only the ingested knowledge base."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question to answer."),
		),
		mcp.WithNumber("k",
			mcp.Description("How many chunks to retrieve as context."),
		),
	)

	search := mcp.NewTool("search_knowledge",
		mcp.WithDescription("Retrieve the most similar knowledge-base chunks for a query."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The text to search for."),
		),
		mcp.WithNumber("k",
			mcp.Description("How many chunks to return."),
		),
	)

	return []mcp.Tool{ask, search}
}

func ListToolsEndpoint(svc commonrag.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		result := &mcp.ListToolsResult{
			Tools: Tools(),
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func CallToolEndpoint(svc commonrag.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		query, k := toolArgs(params)

		var (
			result *mcp.CallToolResult
			err    error
		)

		switch params.Name {
		case "ask":
			var answer string
			if k != 0 {
				answer, err = svc.Answer(ctx, query, k)
			} else {
				answer, err = svc.Answer(ctx, query)
			}

			if err != nil {
				return errorResponse(req.ID, mcp.INTERNAL_ERROR, err.Error())
			}

			result = mcp.NewToolResultText(answer)

		case "search_knowledge":
			var results []commonrag.SearchResult
			if k != 0 {
				results, err = svc.Search(ctx, query, k)
			} else {
				results, err = svc.Search(ctx, query)
			}

			if err != nil {
				return errorResponse(req.ID, mcp.INTERNAL_ERROR, err.Error())
			}

			data, err := json.Marshal(results)
			if err != nil {
				return errorResponse(req.ID, mcp.INTERNAL_ERROR, err.Error())
			}

			result = mcp.NewToolResultText(string(data))

		default:
			return errorResponse(req.ID, mcp.INVALID_PARAMS, "unknown tool: "+params.Name)
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func toolArgs(params mcp.CallToolParams) (string, int) {
	args, _ := params.Arguments.(map[string]any)

	query, _ := args["query"].(string)

	k := 0
	if raw, ok := args["k"].(float64); ok {
		k = int(raw)
	}

	return query, k
}
