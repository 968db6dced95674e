package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jcdickinson/docindex/internal/db"
	"github.com/jcdickinson/docindex/internal/indexer"
	"github.com/jcdickinson/docindex/internal/rpc"
	"github.com/jcdickinson/docindex/internal/searchindex"
)

//go:embed instructions.md
var instructions string

const uriScheme = "docindex://"

type Server struct {
	mcpServer *server.MCPServer
	db        *db.DB
	ix        *indexer.Indexer
}

func NewServer(database *db.DB, ix *indexer.Indexer, version string) *Server {
	s := &Server{db: database, ix: ix}

	mcpServer := server.NewMCPServer(
		"docindex",
		version,
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("build_crates",
			mcp.WithDescription("Fetch rustdoc JSON from docs.rs and store each crate's search index. Synchronous; returns when complete. Version defaults to \"latest\"."),
			buildCratesSchema,
			mcp.WithBoolean("force",
				mcp.Description("Rebuild crates already stored at the requested version"),
			),
		),
		s.handleBuildCrates,
	)

	mcpServer.AddTool(
		mcp.NewTool("list_crates",
			mcp.WithDescription("List the crates whose search indexes are stored locally."),
		),
		s.handleListCrates,
	)

	mcpServer.AddTool(
		mcp.NewTool("find_items",
			mcp.WithDescription("Find documented items by name (case-insensitive substring). Exact matches rank first."),
			mcp.WithString("query",
				mcp.Description("Item name or part of it"),
				mcp.Required(),
			),
			mcp.WithString("crate",
				mcp.Description("Optional crate to search within"),
			),
			mcp.WithString("kind",
				mcp.Description("Optional item kind, e.g. \"fn\", \"struct\", \"trait\", \"tymethod\""),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results (default 20)"),
			),
		),
		s.handleFindItems,
	)
}

func buildCratesSchema(t *mcp.Tool) {
	t.InputSchema.Required = append(t.InputSchema.Required, "crates")
	if t.InputSchema.Properties == nil {
		t.InputSchema.Properties = map[string]any{}
	}
	t.InputSchema.Properties["crates"] = map[string]any{
		"type":        "array",
		"description": "List of crates to index",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Crate name (e.g., \"serde\")",
				},
				"version": map[string]any{
					"type":        "string",
					"description": "Version (default: \"latest\")",
				},
			},
			"required": []string{"name"},
		},
	}
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			uriScheme+"{crate}",
			"Crate search index",
			mcp.WithTemplateDescription("The stored search-index document of one crate: doc, items and paths."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleReadResource,
	)
}

func (s *Server) handleBuildCrates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	cratesRaw, ok := args["crates"]
	if !ok {
		return mcp.NewToolResultError("missing required parameter: crates"), nil
	}

	cratesJSON, err := json.Marshal(cratesRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates parameter: %v", err)), nil
	}

	var specs []rpc.CrateSpec
	if err := json.Unmarshal(cratesJSON, &specs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates format: %v", err)), nil
	}
	if len(specs) == 0 {
		return mcp.NewToolResultError("no crates requested"), nil
	}

	crateSpecs := make([]indexer.CrateSpec, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return mcp.NewToolResultError(fmt.Sprintf("crate %d: missing name", i)), nil
		}
		crateSpecs[i] = indexer.CrateSpec{Name: spec.Name, Version: spec.Version}
	}

	force, _ := args["force"].(bool)
	results, err := s.ix.Build(ctx, crateSpecs, indexer.BuildOptions{Force: force})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build crates: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleListCrates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	crates, err := s.db.ListCrates()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing crates failed: %v", err)), nil
	}
	infos := make([]rpc.CrateInfo, 0, len(crates))
	for _, c := range crates {
		infos = append(infos, rpc.CrateInfoFrom(c))
	}

	resultJSON, _ := json.MarshalIndent(infos, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleFindItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	q := db.FindQuery{Text: query}
	q.Crate, _ = args["crate"].(string)
	if limit, ok := args["limit"].(float64); ok {
		q.Limit = int(limit)
	}
	if kindName, ok := args["kind"].(string); ok && kindName != "" {
		kind, err := searchindex.ParseItemType(kindName)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		q.Kind = &kind
	}

	matches, err := s.db.FindItems(q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("find failed: %v", err)), nil
	}

	var sb strings.Builder
	if len(matches) == 0 {
		sb.WriteString("No matching items.\n")
	}
	for _, m := range matches {
		fmt.Fprintf(&sb, "- %s `%s` (%s)", m.Item.Kind, m.FullPath, m.Crate)
		if m.Item.Desc != "" {
			fmt.Fprintf(&sb, ": %s", m.Item.Desc)
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	name := strings.TrimSuffix(strings.TrimPrefix(uri, uriScheme), "/")
	if !strings.HasPrefix(uri, uriScheme) || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid resource URI: %s", uri)
	}

	doc, err := s.db.LoadCrateDoc(name)
	if errors.Is(err, db.ErrCrateNotFound) {
		return nil, fmt.Errorf("crate %s is not indexed; call build_crates first", name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading crate doc: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding crate doc: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}
