// Package cli provides the command-line interface for qrcanvas.
// This file re-exports internal packages for embedding the studio.
package cli

import (
	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/mcp"
	"github.com/zot/qrcanvas/internal/persist"
	"github.com/zot/qrcanvas/internal/server"
	"github.com/zot/qrcanvas/internal/studio"
)

// Re-export server and studio types
type (
	Server        = server.Server
	Studio        = studio.Service
	IntakeRequest = studio.IntakeRequest
	MCPServer     = mcp.Server
	// Artifact types for collection listings
	ArtifactSummary = artifact.Summary
	SaveResult      = persist.SaveResult
	Usage           = persist.Usage
)

// Re-export constructors
var (
	NewServer    = server.New
	StartStudio  = studio.Start
	NewMCPServer = mcp.NewServer
)
