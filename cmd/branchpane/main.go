package main

import (
	"fmt"
	"os"

	"github.com/branchpane/branchpane/internal/config"
	"github.com/branchpane/branchpane/internal/logging"
)

const Version = "0.3.0"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

func main() {
	args := os.Args[1:]

	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("branchpane v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp()
		return
	case "shell":
		handleShell(args[1:])
	case "launch":
		handleLaunch(args[1:])
	case "list", "ls":
		handleList(args[1:])
	case "write":
		handleWrite(args[1:])
	case "resize":
		handleResize(args[1:])
	case "tail":
		handleTail(args[1:])
	case "close":
		handleClose(args[1:])
	case "resolve":
		handleResolve(args[1:])
	case "attach":
		handleAttach(args[1:])
	case "serve":
		handleServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

// initLogging wires the logging package from user config. Errors are not
// fatal; the process falls back to a discard handler.
func initLogging(debug bool) {
	cfg, _ := config.Load()
	dataDir, err := cfg.GetDataDir()
	if err != nil {
		return
	}
	logs := cfg.GetLogSettings()
	logging.Init(logging.Config{
		LogDir:     dataDir,
		Level:      logs.Level,
		Format:     logs.Format,
		MaxSizeMB:  logs.MaxSizeMB,
		MaxBackups: logs.MaxBackups,
		MaxAgeDays: logs.RetentionDays,
		Compress:   logs.Compress,
		Debug:      debug,
	})
}

func printHelp() {
	fmt.Print(`branchpane - PTY pane manager for branch-scoped agent sessions

Usage:
  branchpane <command> [flags]

Interactive:
  shell   [-dir PATH] [-branch NAME]           Spawn a shell pane and attach
  launch  -tool TOOL [-dir PATH] [-branch NAME] [-repo PATH] [-resume | -session ID]
                                               Launch an agent pane and attach

Server:
  serve   [-listen ADDR] [-token TOKEN] [-read-only]
                                               Run the pane manager daemon

Against a running server:
  list                                         List live panes
  write   <pane> <text>                        Send input to a pane
  resize  <pane> -cols N -rows N               Resize a pane
  close   <pane>                               Close a pane
  attach  <query>                              Attach to a pane (fuzzy match
                                               by branch/tool/id, Ctrl+Q
                                               detaches)

Local:
  tail    <pane> [-bytes N] [-plain]           Print a pane's scrollback tail
  resolve -tool TOOL [-cwd PATH] [-since DUR]
                                               Find the agent session for a
                                               working directory
  version                                      Print version
  help                                         Show this help

Environment:
  BRANCHPANE_DIR    Data directory (default ~/.branchpane)
  BRANCHPANE_COLOR  Color profile: truecolor, 256, 16, none
`)
}
