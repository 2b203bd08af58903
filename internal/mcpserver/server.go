// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes linkkeeper tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/noteservice"
)

// LinkFormatURI is the resource URI of the link syntax contract.
const LinkFormatURI = "linkkeeper://link-format"

// Server wraps the MCP server with linkkeeper tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all linkkeeper tools registered.
func New(svc *noteservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"linkkeeper",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("run_maintenance",
		mcp.WithDescription("Run one link maintenance pass: propagate renamed titles into [[links]], "+
			"re-index links and refresh the broken-link report note. Returns a JSON run summary."),
	), s.runMaintenance)

	s.mcp.AddTool(mcp.NewTool("broken_links",
		mcp.WithDescription("List every dead or ambiguous [[link]] currently in the index."),
	), s.brokenLinks)

	s.mcp.AddTool(mcp.NewTool("backlinks",
		mcp.WithDescription("Find all notes with a resolved link to the specified note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the note to find backlinks for")),
	), s.backlinks)

	s.mcp.AddTool(mcp.NewTool("outgoing_links",
		mcp.WithDescription("List the [[links]] of a note with their resolved targets."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the source note")),
	), s.outgoingLinks)

	s.mcp.AddTool(mcp.NewTool("find_notes",
		mcp.WithDescription("Find the notes a [[Title]] link would resolve to. "+
			"More than one result means the link is ambiguous."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Exact, case-sensitive note title")),
	), s.findNotes)

	s.mcp.AddTool(mcp.NewTool("get_link_contract",
		mcp.WithDescription("Returns the [[link]] syntax and resolution rules. "+
			"Call this before writing links into notes."),
	), s.getLinkContract)

	s.mcp.AddResource(
		mcp.NewResource(LinkFormatURI, "Link Format Contract",
			mcp.WithResourceDescription("How [[Title]] links are written, resolved and rewritten."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLinkFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func lookupError(id string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not indexed: %s", id))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) runMaintenance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.Run(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) brokenLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	links, err := s.svc.BrokenLinks(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(links) == 0 {
		return mcp.NewToolResultText("no broken links"), nil
	}
	return jsonResult(links)
}

func (s *Server) backlinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, id)
	if err != nil {
		return lookupError(id, err), nil
	}
	if len(bl.Backlinks) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return jsonResult(bl)
}

func (s *Server) outgoingLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	links, err := s.svc.Outgoing(ctx, id)
	if err != nil {
		return lookupError(id, err), nil
	}
	return jsonResult(links)
}

func (s *Server) findNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes, err := s.svc.Titled(ctx, title)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(notes) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no note titled %q", title)), nil
	}
	return jsonResult(notes)
}

func (s *Server) getLinkContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LinkFormatContract), nil
}

func (s *Server) readLinkFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      LinkFormatURI,
			MIMEType: "text/markdown",
			Text:     LinkFormatContract,
		},
	}, nil
}
