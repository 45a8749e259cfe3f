// Package cli provides the command-line interface for qrcanvas.
// This file re-exports config types from internal/config for public API.
package cli

import (
	"github.com/zot/qrcanvas/internal/config"
)

// Re-export config types for public API
type (
	Config            = config.Config
	ServerConfig      = config.ServerConfig
	StorageConfig     = config.StorageConfig
	CanvasConfig      = config.CanvasConfig
	CompressionConfig = config.CompressionConfig
	HistoryConfig     = config.HistoryConfig
	SessionConfig     = config.SessionConfig
	MCPConfig         = config.MCPConfig
	LoggingConfig     = config.LoggingConfig
	Duration          = config.Duration
)

// Re-export config functions for public API
var (
	DefaultConfig = config.DefaultConfig
	Load          = config.Load
	LoadWithFlags = config.LoadWithFlags
)
