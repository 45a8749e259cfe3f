// Package cli provides the command-line interface for qrcanvas.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"fmt"
	"os"
)

// Version is the release reported by the version command.
var Version = "0.1.0"

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		return runServe(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	// Let hooks intercept first
	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "mcp":
		return runMCP(cmdArgs)
	case "intake":
		return runIntake(cmdArgs)
	case "ls":
		return runLs(cmdArgs)
	case "export":
		return runExport(cmdArgs)
	case "rm":
		return runRm(cmdArgs)
	case "usage":
		return runUsage(cmdArgs)
	case "owners":
		return runOwners(cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "--version":
		printVersion(hooks)
		return 0
	default:
		// Check if it's a flag (starts with -)
		if len(command) > 0 && command[0] == '-' {
			return runServe(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

func printHelp(hooks *Hooks) {
	fmt.Println(`QR Canvas Studio

Usage: qrcanvas [command] [options]

Server Commands:
  serve           Start the HTTP and websocket server (default)
  mcp             Serve the studio tools over MCP on stdio

Artifact Commands:
  intake FILE     Upload an image or PDF as a new artifact and save it
  ls              List saved artifacts, newest first
  export ID       Render an artifact to PNG
  rm ID           Delete an artifact
  usage           Show storage used against the quota
  owners          List accounts with saved artifacts

Options:
  --host          HTTP listen address (default: 0.0.0.0)
  --port          HTTP listen port (default: 8080)
  --storage       Storage type: memory, file, sqlite, postgresql
  --storage-path  Store directory (file) or database path (sqlite)
  --storage-url   PostgreSQL connection URL
  --quota         Per-account storage quota in bytes (default: 5242880)
  --owner         Account id for artifact and MCP commands (default: local)
  --history       Undo history depth (default: 50)
  --session-timeout    Editor expiration (default: 24h, 0=never)
  --log-level     Log level: debug, info, warn, error
  --dir           Directory holding config/config.toml
  -v, -vv, -vvv   Verbosity

Command Options:
  intake  --name NAME --category image|document
  export  -o FILE --multiplier N

Examples:
  qrcanvas serve --storage sqlite --storage-path studio.db
  qrcanvas intake --storage file --storage-path store/ --name flyer flyer.png
  qrcanvas ls --storage file --storage-path store/
  qrcanvas export --storage file --storage-path store/ -o flyer.png --multiplier 2 ID`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Println(hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Printf("QR Canvas Studio v%s\n", Version)
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Println(hooks.CustomVersion())
	}
}
