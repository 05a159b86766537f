// Package config loads user preferences from ~/.branchpane/config.toml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file for user preferences
const FileName = "config.toml"

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	// DataDir overrides the default data directory (~/.branchpane)
	DataDir string `toml:"data_dir"`

	// Shell is the command used for plain shell panes
	// Default: $SHELL, falling back to /bin/sh
	Shell string `toml:"shell"`

	// DefaultTool is the pre-selected agent when launching without -tool
	// Valid values: "claude", "gemini", "opencode", "codex", or any custom tool name
	DefaultTool string `toml:"default_tool"`

	// Tools defines custom agent tool configurations
	Tools map[string]ToolDef `toml:"tools"`

	// Claude defines Claude Code integration settings
	Claude ClaudeSettings `toml:"claude"`

	// Gemini defines Gemini CLI integration settings
	Gemini GeminiSettings `toml:"gemini"`

	// OpenCode defines OpenCode CLI integration settings
	OpenCode OpenCodeSettings `toml:"opencode"`

	// Codex defines Codex CLI integration settings
	Codex CodexSettings `toml:"codex"`

	// Scrollback defines pane scrollback log settings
	Scrollback ScrollbackSettings `toml:"scrollback"`

	// Logs defines debug log management settings
	Logs LogSettings `toml:"logs"`

	// Web defines the websocket bridge settings
	Web WebSettings `toml:"web"`
}

// ToolDef defines a custom agent tool
type ToolDef struct {
	// Command is the shell command to run
	Command string `toml:"command"`

	// Args are extra command-line arguments appended to the command
	Args []string `toml:"args"`

	// Env is inline environment variables for this tool
	Env map[string]string `toml:"env"`

	// ResumeFlag is the CLI flag to resume a session (e.g., "--resume")
	ResumeFlag string `toml:"resume_flag"`
}

// ClaudeSettings defines Claude Code configuration
type ClaudeSettings struct {
	// Command is the Claude CLI command or alias to use
	// Default: "claude"
	Command string `toml:"command"`

	// ConfigDir is the path to Claude's config directory
	// Default: ~/.claude (or CLAUDE_CONFIG_DIR env var)
	ConfigDir string `toml:"config_dir"`
}

// GeminiSettings defines Gemini CLI configuration
type GeminiSettings struct {
	// Command is the Gemini CLI command to use (default: "gemini")
	Command string `toml:"command"`

	// DefaultModel is the model for new sessions (e.g., "gemini-2.5-flash")
	// If empty, Gemini CLI uses its own default
	DefaultModel string `toml:"default_model"`
}

// OpenCodeSettings defines OpenCode CLI configuration
type OpenCodeSettings struct {
	// Command is the OpenCode CLI command to use (default: "opencode")
	Command string `toml:"command"`

	// DefaultModel is the model for new sessions
	// Format: "provider/model"
	DefaultModel string `toml:"default_model"`
}

// CodexSettings defines Codex CLI configuration
type CodexSettings struct {
	// Command is the Codex CLI command to use (default: "codex")
	Command string `toml:"command"`
}

// ScrollbackSettings defines pane scrollback log configuration
type ScrollbackSettings struct {
	// TailBytes is the default number of bytes served by tail commands
	// Default: 65536
	TailBytes int `toml:"tail_bytes"`

	// RemoveOnClose deletes a pane's scrollback file when the pane closes
	// Default: false (files are kept for postmortems)
	RemoveOnClose bool `toml:"remove_on_close"`
}

// LogSettings defines debug log management configuration
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the max size in MB for branchpane.log before rotation
	// Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep
	// Default: 5
	MaxBackups int `toml:"max_backups"`

	// RetentionDays is the number of days to keep rotated logs
	// Default: 10
	RetentionDays int `toml:"retention_days"`

	// Compress enables gzip compression for rotated logs
	// Default: true
	Compress bool `toml:"compress"`
}

// WebSettings defines the websocket bridge configuration
type WebSettings struct {
	// Listen is the address for the bridge server (default: "127.0.0.1:7391")
	Listen string `toml:"listen"`

	// Token, when set, is required as a query parameter on every connection
	Token string `toml:"token"`
}

// Default user config (empty maps)
var defaultConfig = UserConfig{
	Tools: make(map[string]ToolDef),
}

// Cache for user config (loaded once per process)
var (
	configCache   *UserConfig
	configCacheMu sync.RWMutex
)

// Dir returns the branchpane data directory, honoring BRANCHPANE_DIR.
func Dir() (string, error) {
	if dir := os.Getenv("BRANCHPANE_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home dir: %w", err)
	}
	return filepath.Join(home, ".branchpane"), nil
}

// Path returns the path to the user config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load loads the user configuration from the TOML file.
// Returns cached config after first load.
func Load() (*UserConfig, error) {
	configCacheMu.RLock()
	if configCache != nil {
		defer configCacheMu.RUnlock()
		return configCache, nil
	}
	configCacheMu.RUnlock()

	configCacheMu.Lock()
	defer configCacheMu.Unlock()

	// Double-check after acquiring write lock
	if configCache != nil {
		return configCache, nil
	}

	configPath, err := Path()
	if err != nil {
		configCache = &defaultConfig
		return configCache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// No file yet; run on defaults
		configCache = &defaultConfig
		return configCache, nil
	}

	var cfg UserConfig
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		// Cache default to prevent repeated parse attempts, but surface the error
		configCache = &defaultConfig
		return configCache, fmt.Errorf("config.toml parse error: %w", err)
	}

	if cfg.Tools == nil {
		cfg.Tools = make(map[string]ToolDef)
	}

	configCache = &cfg
	return configCache, nil
}

// Reload forces a reload of the user config.
func Reload() (*UserConfig, error) {
	configCacheMu.Lock()
	configCache = nil
	configCacheMu.Unlock()
	return Load()
}

// ClearCache clears the cached config, allowing tests to reset state.
func ClearCache() {
	configCacheMu.Lock()
	configCache = nil
	configCacheMu.Unlock()
}

// Save writes the config to config.toml using an atomic write pattern
// and clears the cache so the next Load reads fresh values.
func Save(cfg *UserConfig) error {
	configPath, err := Path()
	if err != nil {
		return fmt.Errorf("config: resolve path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# branchpane configuration\n")
	buf.WriteString("# Edit this file; it is read once per process start\n\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	// Write temp, fsync, then atomic rename so a crash never truncates the file
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := syncFile(tmpPath); err != nil {
		// Rename still provides some safety
		_ = err
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: finalize save: %w", err)
	}

	ClearCache()
	return nil
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// --- accessors with defaults applied ---

// GetDataDir returns the effective data directory.
func (c *UserConfig) GetDataDir() (string, error) {
	if c != nil && c.DataDir != "" {
		return expandTilde(c.DataDir), nil
	}
	return Dir()
}

// GetShell returns the shell command for plain panes.
func (c *UserConfig) GetShell() string {
	if c != nil && c.Shell != "" {
		return c.Shell
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// GetScrollbackTailBytes returns the default tail size in bytes.
func (c *UserConfig) GetScrollbackTailBytes() int {
	if c != nil && c.Scrollback.TailBytes > 0 {
		return c.Scrollback.TailBytes
	}
	return 64 * 1024
}

// GetWebListen returns the bridge listen address.
func (c *UserConfig) GetWebListen() string {
	if c != nil && c.Web.Listen != "" {
		return c.Web.Listen
	}
	return "127.0.0.1:7391"
}

// GetLogSettings returns log settings with defaults applied.
func (c *UserConfig) GetLogSettings() LogSettings {
	var s LogSettings
	if c != nil {
		s = c.Logs
	}
	if s.Level == "" {
		s.Level = "info"
	}
	if s.Format == "" {
		s.Format = "json"
	}
	if s.MaxSizeMB <= 0 {
		s.MaxSizeMB = 10
	}
	if s.MaxBackups <= 0 {
		s.MaxBackups = 5
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = 10
	}
	// Compress defaults to true when the section was never written
	if c == nil || (c.Logs.MaxSizeMB == 0 && c.Logs.MaxBackups == 0) {
		s.Compress = true
	}
	return s
}

// ToolCommand returns the command line for a tool id, combining built-in
// defaults with any [tools.*] or per-tool section overrides.
func (c *UserConfig) ToolCommand(tool string) (string, []string) {
	if c != nil {
		if def, ok := c.Tools[tool]; ok && def.Command != "" {
			return def.Command, def.Args
		}
	}
	switch tool {
	case "claude":
		if c != nil && c.Claude.Command != "" {
			return c.Claude.Command, nil
		}
		return "claude", nil
	case "gemini":
		cmd := "gemini"
		if c != nil && c.Gemini.Command != "" {
			cmd = c.Gemini.Command
		}
		var args []string
		if c != nil && c.Gemini.DefaultModel != "" {
			args = []string{"-m", c.Gemini.DefaultModel}
		}
		return cmd, args
	case "opencode":
		cmd := "opencode"
		if c != nil && c.OpenCode.Command != "" {
			cmd = c.OpenCode.Command
		}
		var args []string
		if c != nil && c.OpenCode.DefaultModel != "" {
			args = []string{"--model", c.OpenCode.DefaultModel}
		}
		return cmd, args
	case "codex":
		if c != nil && c.Codex.Command != "" {
			return c.Codex.Command, nil
		}
		return "codex", nil
	}
	return tool, nil
}

// ResumeArgs returns the extra arguments that make a tool continue a prior
// session, and whether they must precede the tool's other arguments. A tool
// with no known resume flag returns nil; the caller starts a fresh session.
func (c *UserConfig) ResumeArgs(tool, sessionID string) (args []string, prepend bool) {
	if sessionID == "" {
		return nil, false
	}
	if c != nil {
		if def, ok := c.Tools[tool]; ok && def.Command != "" {
			if def.ResumeFlag == "" {
				return nil, false
			}
			return []string{def.ResumeFlag, sessionID}, false
		}
	}
	switch tool {
	case "claude", "gemini", "opencode":
		return []string{"--resume", sessionID}, false
	case "codex":
		// codex resumes via a subcommand, which must come before any flags
		return []string{"resume", sessionID}, true
	}
	return nil, false
}

// CustomToolNames returns sorted custom tool names from config.toml,
// excluding names that shadow built-in tools.
func (c *UserConfig) CustomToolNames() []string {
	if c == nil || len(c.Tools) == 0 {
		return nil
	}
	builtins := map[string]bool{
		"claude": true, "gemini": true, "opencode": true,
		"codex": true, "shell": true,
	}
	var names []string
	for name := range c.Tools {
		if !builtins[name] {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return names
}

// CreateExample creates an example config file if none exists.
func CreateExample() error {
	configPath, err := Path()
	if err != nil {
		return err
	}

	// Don't overwrite existing config
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	example := `# branchpane configuration
# This file is read on startup.

# Shell for plain panes (default: $SHELL, then /bin/sh)
# shell = "/bin/zsh"

# Agent pre-selected when launching without -tool
# Valid values: "claude", "gemini", "opencode", "codex", or a custom tool name
# default_tool = "claude"

# Claude Code integration
# [claude]
# Custom config directory (CLAUDE_CONFIG_DIR env var takes priority)
# config_dir = "~/.claude-work"

# Gemini CLI integration
# [gemini]
# default_model = "gemini-2.5-flash"

# OpenCode CLI integration
# [opencode]
# default_model = "anthropic/claude-sonnet-4-5"

# Pane scrollback logs
[scrollback]
# Bytes served by tail commands (default: 65536)
tail_bytes = 65536
# Delete a pane's scrollback file when the pane closes (default: false)
remove_on_close = false

# Debug log management
[logs]
# Minimum level: "debug", "info", "warn", "error"
level = "info"
# Rotation size in MB (default: 10)
max_size_mb = 10
# Rotated files to keep (default: 5)
max_backups = 5

# Websocket bridge ('branchpane serve')
# [web]
# listen = "127.0.0.1:7391"
# token = ""

# Custom agent tools
# [tools.aider]
# command = "aider"
# args = ["--no-auto-commits"]
# env = { OPENAI_API_KEY = "sk-..." }
`

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(configPath, []byte(example), 0o600)
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
