package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/repochat"
	"github.com/flarexio/repochat/llm"
)

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      mcp.RequestId   `json:"id"`
	Method  mcp.MCPMethod   `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func errorResponse(id mcp.RequestId, code int, message string) mcp.JSONRPCError {
	return mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      id,
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

// MethodNotFound is the reply to a request no endpoint is registered for.
func MethodNotFound(id mcp.RequestId) mcp.JSONRPCError {
	return errorResponse(id, mcp.METHOD_NOT_FOUND, "method not found")
}

func ParseError() mcp.JSONRPCError {
	return errorResponse(mcp.RequestId{}, mcp.PARSE_ERROR, "parse error")
}

type MCPEndpoint func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage

const MCPSERVER_INSTRUCTIONS string = `RepoChat answers questions about one indexed source code repository.

Available tools:
- search_codebase: Find the code and documentation chunks most related to a query
- ask_codebase: Answer a question using only retrieved repository context

Answers only reflect the revision that was last ingested.`

const (
	ToolSearchCodebase = "search_codebase"
	ToolAskCodebase    = "ask_codebase"
)

func Tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolSearchCodebase,
			mcp.WithDescription("Search the indexed repository for chunks related to a query"),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Natural language or code query"),
			),
			mcp.WithNumber("k",
				mcp.Description("Maximum number of chunks to return"),
			),
		),
		mcp.NewTool(ToolAskCodebase,
			mcp.WithDescription("Answer a question about the indexed repository"),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("Question about the codebase"),
			),
		),
	}
}

func MakeEndpoints(svc repochat.Service) map[mcp.MCPMethod]MCPEndpoint {
	return map[mcp.MCPMethod]MCPEndpoint{
		mcp.MethodInitialize: InitializeEndpoint(svc),
		mcp.MethodPing:       PingEndpoint(svc),
		mcp.MethodToolsList:  ListToolsEndpoint(svc),
		mcp.MethodToolsCall:  CallToolEndpoint(svc),
	}
}

func InitializeEndpoint(svc repochat.Service) MCPEndpoint {
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
				Name:    "repochat",
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

func PingEndpoint(svc repochat.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		if _, err := svc.Health(ctx); err != nil {
			return errorResponse(req.ID, mcp.INTERNAL_ERROR, err.Error())
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  struct{}{},
		}
	}
}

func ListToolsEndpoint(svc repochat.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result: &mcp.ListToolsResult{
				Tools: Tools(),
			},
		}
	}
}

type searchArguments struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type askArguments struct {
	Question string `json:"question"`
}

// CallToolEndpoint runs a tool. Bad arguments are reported as tool errors so
// the calling model can correct them; failures of the pipeline are
// JSON-RPC errors.
func CallToolEndpoint(svc repochat.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		var (
			result *mcp.CallToolResult
			err    error
		)

		switch params.Name {
		case ToolSearchCodebase:
			var args searchArguments
			if err := decodeArguments(params.Arguments, &args); err != nil {
				return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
			}

			result, err = searchCodebase(ctx, svc, args)

		case ToolAskCodebase:
			var args askArguments
			if err := decodeArguments(params.Arguments, &args); err != nil {
				return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
			}

			result, err = askCodebase(ctx, svc, args)

		default:
			return errorResponse(req.ID, mcp.INVALID_PARAMS, "unknown tool: "+params.Name)
		}

		if err != nil {
			switch {
			case errors.Is(err, repochat.ErrInvalidArgument), errors.Is(err, repochat.ErrEmptyQuestion):
				result = mcp.NewToolResultError(err.Error())

			case errors.Is(err, llm.ErrContextTooLarge):
				result = mcp.NewToolResultError("Question too broad for the available context")

			default:
				return errorResponse(req.ID, mcp.INTERNAL_ERROR, err.Error())
			}
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func decodeArguments(arguments any, v any) error {
	if arguments == nil {
		return nil
	}

	bs, err := json.Marshal(arguments)
	if err != nil {
		return err
	}

	return json.Unmarshal(bs, v)
}

func searchCodebase(ctx context.Context, svc repochat.Service, args searchArguments) (*mcp.CallToolResult, error) {
	k := make([]int, 0, 1)
	if args.K != 0 {
		k = append(k, args.K)
	}

	results, err := svc.Search(ctx, args.Query, k...)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("No matching code found."), nil
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}

		fmt.Fprintf(&sb, "## %s #%d (score %.3f)\n", r.Metadata.SourcePath, r.Metadata.Sequence, r.Score)
		sb.WriteString("```\n")
		sb.WriteString(r.Content)
		sb.WriteString("\n```")
	}

	return mcp.NewToolResultText(sb.String()), nil
}

func askCodebase(ctx context.Context, svc repochat.Service, args askArguments) (*mcp.CallToolResult, error) {
	answer, err := svc.Ask(ctx, args.Question)
	if err != nil {
		return nil, err
	}

	text := answer.Answer
	if len(answer.Sources) > 0 {
		paths := make([]string, 0, len(answer.Sources))
		for _, s := range answer.Sources {
			if !slices.Contains(paths, s.Path) {
				paths = append(paths, s.Path)
			}
		}

		text += "\n\nSources: " + strings.Join(paths, ", ")
	}

	return mcp.NewToolResultText(text), nil
}
