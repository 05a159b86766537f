package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// useTempConfigDir points BRANCHPANE_DIR at a temp dir and resets the cache.
func useTempConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BRANCHPANE_DIR", dir)
	ClearCache()
	t.Cleanup(ClearCache)
	return dir
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	useTempConfigDir(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultTool != "" {
		t.Errorf("unexpected default tool: %q", cfg.DefaultTool)
	}
	if got := cfg.GetScrollbackTailBytes(); got != 64*1024 {
		t.Errorf("tail bytes default = %d", got)
	}
	if got := cfg.GetWebListen(); got != "127.0.0.1:7391" {
		t.Errorf("web listen default = %q", got)
	}
}

func TestLoadParsesFile(t *testing.T) {
	dir := useTempConfigDir(t)

	content := `
default_tool = "claude"
shell = "/bin/zsh"

[claude]
config_dir = "~/.claude-work"

[scrollback]
tail_bytes = 1024

[tools.aider]
command = "aider"
args = ["--no-auto-commits"]
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultTool != "claude" {
		t.Errorf("default_tool = %q", cfg.DefaultTool)
	}
	if cfg.GetShell() != "/bin/zsh" {
		t.Errorf("shell = %q", cfg.GetShell())
	}
	if cfg.GetScrollbackTailBytes() != 1024 {
		t.Errorf("tail_bytes = %d", cfg.GetScrollbackTailBytes())
	}

	cmd, args := cfg.ToolCommand("aider")
	if cmd != "aider" || len(args) != 1 || args[0] != "--no-auto-commits" {
		t.Errorf("custom tool = %q %v", cmd, args)
	}
}

func TestLoadParseErrorFallsBackToDefaults(t *testing.T) {
	dir := useTempConfigDir(t)

	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("not [valid toml"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err == nil {
		t.Error("expected parse error")
	}
	if cfg == nil {
		t.Fatal("expected default config despite error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	useTempConfigDir(t)

	cfg := &UserConfig{
		DefaultTool: "gemini",
		Gemini:      GeminiSettings{DefaultModel: "gemini-2.5-flash"},
		Tools:       map[string]ToolDef{},
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if loaded.DefaultTool != "gemini" {
		t.Errorf("default_tool = %q", loaded.DefaultTool)
	}
	_, args := loaded.ToolCommand("gemini")
	if len(args) != 2 || args[1] != "gemini-2.5-flash" {
		t.Errorf("gemini args = %v", args)
	}
}

func TestToolCommandBuiltins(t *testing.T) {
	cfg := &UserConfig{Tools: map[string]ToolDef{}}

	for _, tool := range []string{"claude", "gemini", "opencode", "codex"} {
		cmd, _ := cfg.ToolCommand(tool)
		if cmd != tool {
			t.Errorf("ToolCommand(%q) = %q", tool, cmd)
		}
	}

	// Unknown tool ids pass through as the command itself
	cmd, _ := cfg.ToolCommand("my-custom-binary")
	if cmd != "my-custom-binary" {
		t.Errorf("passthrough = %q", cmd)
	}
}

func TestResumeArgs(t *testing.T) {
	cfg := &UserConfig{Tools: map[string]ToolDef{
		"aider": {Command: "aider", ResumeFlag: "--restore-chat-history"},
		"goose": {Command: "goose"},
	}}
	const sid = "123e4567-e89b-42d3-a456-426614174000"

	for _, tool := range []string{"claude", "gemini", "opencode"} {
		args, prepend := cfg.ResumeArgs(tool, sid)
		if prepend || len(args) != 2 || args[0] != "--resume" || args[1] != sid {
			t.Errorf("ResumeArgs(%q) = %v prepend=%v", tool, args, prepend)
		}
	}

	// codex resumes via a subcommand that precedes other args
	args, prepend := cfg.ResumeArgs("codex", sid)
	if !prepend || len(args) != 2 || args[0] != "resume" || args[1] != sid {
		t.Errorf("codex ResumeArgs = %v prepend=%v", args, prepend)
	}

	// Custom tools use their configured flag; no flag means no resume
	args, _ = cfg.ResumeArgs("aider", sid)
	if len(args) != 2 || args[0] != "--restore-chat-history" {
		t.Errorf("custom ResumeArgs = %v", args)
	}
	if args, _ := cfg.ResumeArgs("goose", sid); args != nil {
		t.Errorf("tool without resume flag should return nil, got %v", args)
	}

	// Empty session id never yields resume args
	if args, _ := cfg.ResumeArgs("claude", ""); args != nil {
		t.Errorf("empty session id should return nil, got %v", args)
	}
}

func TestCustomToolNamesExcludesBuiltins(t *testing.T) {
	cfg := &UserConfig{Tools: map[string]ToolDef{
		"claude": {Command: "claude-alias"},
		"aider":  {Command: "aider"},
		"goose":  {Command: "goose"},
	}}

	names := cfg.CustomToolNames()
	if len(names) != 2 || names[0] != "aider" || names[1] != "goose" {
		t.Errorf("custom names = %v", names)
	}
}

func TestCreateExample(t *testing.T) {
	dir := useTempConfigDir(t)

	if err := CreateExample(); err != nil {
		t.Fatalf("CreateExample: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read example: %v", err)
	}
	if !strings.Contains(string(data), "[scrollback]") {
		t.Error("example missing scrollback section")
	}

	// A second call must not clobber the existing file
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("default_tool = \"codex\"\n"), 0o600); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := CreateExample(); err != nil {
		t.Fatalf("CreateExample second call: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, FileName))
	if !strings.Contains(string(data), "codex") {
		t.Error("existing config was overwritten")
	}
}
