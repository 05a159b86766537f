package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/branchpane/branchpane/internal/config"
	"github.com/branchpane/branchpane/internal/pane"
	"github.com/branchpane/branchpane/internal/resolve"
)

func handleList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	server := fs.String("server", "", "server address")
	jsonOut := fs.Bool("json", false, "JSON output")
	_ = fs.Parse(normalizeArgs(fs, args))

	client := newAPIClient(*server)
	panes, err := client.Panes()
	if err != nil {
		fatalf("%v", err)
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(panes, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(panes) == 0 {
		fmt.Println("No live panes.")
		return
	}

	fmt.Printf("%s %s %s %s %s\n",
		" ",
		headerStyle.Render(padCell("ID", tableColID)),
		headerStyle.Render(padCell("BRANCH", tableColBranch)),
		headerStyle.Render(padCell("TOOL", tableColTool)),
		headerStyle.Render("CWD"),
	)
	for _, p := range panes {
		cwd := p.LastCwd
		if cwd == "" {
			cwd = p.Dir
		}
		tool := p.Tool
		if tool == "" {
			tool = "shell"
		}
		fmt.Printf("%s %s %s %s %s\n",
			statusSymbol(p.Status),
			padCell(truncateID(p.ID), tableColID),
			padCell(p.Branch, tableColBranch),
			padCell(tool, tableColTool),
			padCell(formatPath(cwd), tableColCwd),
		)
	}
}

func handleWrite(args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	server := fs.String("server", "", "server address")
	noNewline := fs.Bool("n", false, "do not append a newline")
	_ = fs.Parse(normalizeArgs(fs, args))

	rest := fs.Args()
	if len(rest) < 2 {
		fatalf("usage: branchpane write <pane> <text>")
	}

	client := newAPIClient(*server)
	target := resolveTarget(client, rest[0])

	text := strings.Join(rest[1:], " ")
	if !*noNewline {
		text += "\n"
	}
	if err := client.Write(target.ID, []byte(text)); err != nil {
		fatalf("%v", err)
	}
}

func handleResize(args []string) {
	fs := flag.NewFlagSet("resize", flag.ExitOnError)
	server := fs.String("server", "", "server address")
	cols := fs.Int("cols", 0, "columns")
	rows := fs.Int("rows", 0, "rows")
	_ = fs.Parse(normalizeArgs(fs, args))

	if fs.NArg() < 1 {
		fatalf("usage: branchpane resize <pane> -cols N -rows N")
	}
	if *cols <= 0 || *rows <= 0 {
		fatalf("-cols and -rows are required")
	}

	client := newAPIClient(*server)
	target := resolveTarget(client, fs.Arg(0))
	if err := client.Resize(target.ID, *cols, *rows); err != nil {
		fatalf("%v", err)
	}
}

func handleClose(args []string) {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	server := fs.String("server", "", "server address")
	_ = fs.Parse(normalizeArgs(fs, args))

	if fs.NArg() < 1 {
		fatalf("usage: branchpane close <pane>")
	}

	client := newAPIClient(*server)
	target := resolveTarget(client, fs.Arg(0))
	if err := client.Close(target.ID); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Closed %s\n", target.ID)
}

func handleAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	server := fs.String("server", "", "server address")
	_ = fs.Parse(normalizeArgs(fs, args))

	if fs.NArg() < 1 {
		fatalf("usage: branchpane attach <query>")
	}

	client := newAPIClient(*server)
	target := resolveTarget(client, fs.Arg(0))

	fmt.Printf("Attaching to %s (Ctrl+Q detaches)\n", target.ID)
	if err := attachRemote(client, target.ID); err != nil {
		fatalf("attach: %v", err)
	}
}

// handleTail reads scrollback straight from disk, so it works for closed
// panes and without a running server.
func handleTail(args []string) {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	bytesFlag := fs.Int64("bytes", 0, "max bytes to print (default: [scrollback].tail_bytes)")
	plain := fs.Bool("plain", false, "strip ANSI escape sequences")
	_ = fs.Parse(normalizeArgs(fs, args))

	if fs.NArg() < 1 {
		fatalf("usage: branchpane tail <pane> [-bytes N] [-plain]")
	}
	paneID := fs.Arg(0)

	cfg, _ := config.Load()
	dataDir, err := cfg.GetDataDir()
	if err != nil {
		fatalf("resolve data dir: %v", err)
	}
	maxBytes := *bytesFlag
	if maxBytes <= 0 {
		maxBytes = int64(cfg.GetScrollbackTailBytes())
	}

	store, err := pane.NewStore(filepath.Join(dataDir, "terminals"))
	if err != nil {
		fatalf("open scrollback store: %v", err)
	}
	data, err := store.Tail(paneID, maxBytes)
	if err != nil {
		fatalf("no scrollback for %s: %v", paneID, err)
	}
	if *plain {
		_, _ = os.Stdout.WriteString(pane.StripANSI(data))
		return
	}
	_, _ = os.Stdout.Write(data)
}

func handleResolve(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	tool := fs.String("tool", "", "agent tool to resolve for")
	cwd := fs.String("cwd", "", "working directory (default: current)")
	since := fs.Duration("since", 0, "only sessions modified within this duration")
	jsonOut := fs.Bool("json", false, "JSON output")
	_ = fs.Parse(normalizeArgs(fs, args))

	if *tool == "" {
		fatalf("-tool is required")
	}
	if *cwd == "" {
		*cwd, _ = os.Getwd()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fatalf("home dir: %v", err)
	}

	opts := resolve.Options{Cwd: *cwd}
	if *since > 0 {
		opts.Since = time.Now().Add(-*since)
	}

	sess, err := resolve.DefaultRegistry(home).Resolve(*tool, opts)
	if err != nil {
		fatalf("resolve: %v", err)
	}
	if sess == nil {
		if *jsonOut {
			fmt.Println("null")
		} else {
			fmt.Printf("No %s session found for %s\n", *tool, *cwd)
		}
		return
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(map[string]any{
			"id":       sess.ID,
			"tool":     sess.Tool,
			"path":     sess.Path,
			"modTime":  sess.ModTime,
		}, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("%s\n  file: %s\n  modified: %s\n",
		sess.ID, formatPath(sess.Path), sess.ModTime.Format(time.RFC3339))
}

// resolveTarget matches a pane query against the server's pane list.
func resolveTarget(client *apiClient, query string) *paneSummary {
	panes, err := client.Panes()
	if err != nil {
		fatalf("%v", err)
	}
	target, err := matchPane(query, panes)
	if err != nil {
		fatalf("%v", err)
	}
	return target
}
