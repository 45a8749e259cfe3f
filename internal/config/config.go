// Package config handles configuration loading from CLI flags, environment variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for the canvas studio.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Canvas      CanvasConfig      `toml:"canvas"`
	Compression CompressionConfig `toml:"compression"`
	History     HistoryConfig     `toml:"history"`
	Session     SessionConfig     `toml:"session"`
	MCP         MCPConfig         `toml:"mcp"`
	Logging     LoggingConfig     `toml:"logging"`
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	Dir  string `toml:"-"` // Config directory (CLI only, not in config file)
}

// StorageConfig holds durable store settings.
type StorageConfig struct {
	Type                 string   `toml:"type"` // "memory", "file", "sqlite", "postgresql"
	Path                 string   `toml:"path"` // directory for "file", database file for "sqlite"
	URL                  string   `toml:"url"`  // PostgreSQL connection URL
	QuotaBytes           int64    `toml:"quota_bytes"`
	DocumentCeilingBytes int64    `toml:"document_ceiling_bytes"`
	Timeout              Duration `toml:"timeout"`
}

// CanvasConfig holds editor canvas settings.
type CanvasConfig struct {
	Width         int      `toml:"width"`
	Height        int      `toml:"height"`
	LoadTimeout   Duration `toml:"load_timeout"`
	DocumentScale float64  `toml:"document_scale"`
}

// CompressionConfig holds the raster bounds for each degradation tier.
type CompressionConfig struct {
	ThumbnailMaxDim   int `toml:"thumbnail_max_dim"`
	ThumbnailQuality  int `toml:"thumbnail_quality"`
	AggressiveMaxDim  int `toml:"aggressive_max_dim"`
	AggressiveQuality int `toml:"aggressive_quality"`
	PreviewMaxDim     int `toml:"preview_max_dim"`
	PreviewQuality    int `toml:"preview_quality"`
}

// HistoryConfig holds undo history settings.
type HistoryConfig struct {
	Limit int `toml:"limit"`
}

// SessionConfig holds session-related settings.
type SessionConfig struct {
	Timeout Duration `toml:"timeout"` // Editor expiration (0 = never)
}

// MCPConfig holds MCP tool server settings.
type MCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Owner   string `toml:"owner"` // default owner for tool calls that omit one
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level"`     // "debug", "info", "warn", "error"
	Verbosity int    `toml:"verbosity"` // 0=none, 1=connections, 2=messages, 3=operations, 4=sizes
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] == 'v' {
			allV := true
			for _, c := range arg[1:] {
				if c != 'v' {
					allV = false
					break
				}
			}
			if allV {
				for range arg[1:] {
					result = append(result, "-v")
				}
				continue
			}
		}
		result = append(result, arg)
	}
	return result
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type:                 "memory",
			Path:                 "qrcanvas.db",
			QuotaBytes:           5 << 20,
			DocumentCeilingBytes: 2 << 20,
			Timeout:              Duration(10 * time.Second),
		},
		Canvas: CanvasConfig{
			Width:         900,
			Height:        630,
			LoadTimeout:   Duration(60 * time.Second),
			DocumentScale: 2,
		},
		Compression: CompressionConfig{
			ThumbnailMaxDim:   1600,
			ThumbnailQuality:  80,
			AggressiveMaxDim:  800,
			AggressiveQuality: 60,
			PreviewMaxDim:     240,
			PreviewQuality:    70,
		},
		History: HistoryConfig{
			Limit: 50,
		},
		Session: SessionConfig{
			Timeout: Duration(24 * time.Hour),
		},
		MCP: MCPConfig{
			Owner: "local",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Verbosity: 0,
		},
	}
}

// Load loads configuration from CLI flags, environment variables, and TOML file.
// Priority: CLI flags > env vars > TOML file > defaults
func Load(args []string) (*Config, error) {
	cfg, _, err := LoadWithArgs(args)
	return cfg, err
}

// LoadWithArgs is Load that also returns the positional arguments left after flag parsing.
func LoadWithArgs(args []string) (*Config, []string, error) {
	return LoadWithFlags("qrcanvas", args, nil)
}

// LoadWithFlags is LoadWithArgs with command-specific flags added by extra
// before parsing.
func LoadWithFlags(name string, args []string, extra func(fs *flag.FlagSet)) (*Config, []string, error) {
	cfg := DefaultConfig()

	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if extra != nil {
		extra(fs)
	}
	dir := fs.String("dir", "", "Directory holding config/config.toml")

	host := fs.String("host", "", "HTTP listen address")
	port := fs.Int("port", 0, "HTTP listen port")

	storage := fs.String("storage", "", "Storage type: memory, file, sqlite, postgresql")
	storagePath := fs.String("storage-path", "", "Store directory (file) or database path (sqlite)")
	storageURL := fs.String("storage-url", "", "PostgreSQL connection URL")
	quota := fs.Int64("quota", 0, "Per-account storage quota in bytes")

	historyLimit := fs.Int("history", 0, "Undo history depth")
	sessionTimeout := fs.Duration("session-timeout", 0, "Editor expiration (0=never)")

	owner := fs.String("owner", "", "Account id for CLI and MCP commands")

	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	configPath := "config/config.toml"
	if *dir != "" {
		configPath = *dir + "/config/config.toml"
	}
	if err := cfg.loadTOML(configPath); err != nil && !os.IsNotExist(err) {
		return nil, nil, err
	}

	cfg.applyEnv()

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *storage != "" {
		cfg.Storage.Type = *storage
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *storageURL != "" {
		cfg.Storage.URL = *storageURL
	}
	if *quota != 0 {
		cfg.Storage.QuotaBytes = *quota
	}
	if *historyLimit != 0 {
		cfg.History.Limit = *historyLimit
	}
	if *sessionTimeout != 0 {
		cfg.Session.Timeout = Duration(*sessionTimeout)
	}
	if *owner != "" {
		cfg.MCP.Owner = *owner
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	cfg.Server.Dir = *dir

	return cfg, fs.Args(), nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("QRC_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("QRC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("QRC_STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("QRC_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("QRC_STORAGE_URL"); v != "" {
		c.Storage.URL = v
	}
	if v := os.Getenv("QRC_QUOTA_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Storage.QuotaBytes = n
		}
	}
	if v := os.Getenv("QRC_LOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Canvas.LoadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("QRC_SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Session.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("QRC_MCP"); v != "" {
		c.MCP.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("QRC_OWNER"); v != "" {
		c.MCP.Owner = v
	}
	if v := os.Getenv("QRC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("QRC_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// Verbosity returns the configured verbosity level.
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// Log prints a message when the configured verbosity is at least level.
// Level 0 always prints.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if c == nil {
		log.Printf(format, args...)
		return
	}
	if level > c.Logging.Verbosity {
		return
	}
	if level > 0 {
		format = fmt.Sprintf("[v%d] %s", level, format)
	}
	log.Printf(format, args...)
}
