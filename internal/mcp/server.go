// Package mcp exposes the canvas studio as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/studio"
)

// Version is reported to MCP clients.
var Version = "dev"

// Server wraps an MCP server over a studio service.
type Server struct {
	config *config.Config
	studio *studio.Service
	mcp    *mcpserver.MCPServer
}

// NewServer creates an MCP server with the studio tools and resources registered.
func NewServer(cfg *config.Config, svc *studio.Service) *Server {
	s := &Server{
		config: cfg,
		studio: svc,
		mcp: mcpserver.NewMCPServer("qrcanvas", Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP on stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	s.config.Log(0, "MCP server on stdio, owner %s", s.config.MCP.Owner)
	return mcpserver.ServeStdio(s.mcp)
}

// owner returns the request's owner argument or the configured default.
func (s *Server) owner(req mcpgo.CallToolRequest) string {
	return req.GetString("owner", s.config.MCP.Owner)
}

// registerResources adds the default owner's collection and usage.
func (s *Server) registerResources() {
	s.mcp.AddResource(mcpgo.NewResource(
		"qrcanvas://artifacts",
		"Artifacts",
		mcpgo.WithResourceDescription("Saved artifacts of the default owner, newest first"),
		mcpgo.WithMIMEType("application/json"),
	), func(ctx context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
		list, err := s.studio.LoadCollection(ctx, s.config.MCP.Owner)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, listing(list))
	})

	s.mcp.AddResource(mcpgo.NewResource(
		"qrcanvas://usage",
		"Storage usage",
		mcpgo.WithResourceDescription("Bytes used against the quota for the default owner"),
		mcpgo.WithMIMEType("application/json"),
	), func(ctx context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
		usage, err := s.studio.Usage(ctx, s.config.MCP.Owner)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, usage)
	})
}

func jsonResource(uri string, v interface{}) ([]mcpgo.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", uri, err)
	}
	return []mcpgo.ResourceContents{
		mcpgo.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}
