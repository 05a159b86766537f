package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"github.com/sahilm/fuzzy"
)

// Table column widths for list command output
const (
	tableColID     = 14
	tableColBranch = 24
	tableColTool   = 10
	tableColCwd    = 40
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	erroredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// initColorProfile configures lipgloss color profile based on terminal
// capabilities. Prefers TrueColor, falls back to ANSI256.
func initColorProfile() {
	// Allow user override via environment variable
	// BRANCHPANE_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("BRANCHPANE_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if colorTerm := os.Getenv("COLORTERM"); colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	term := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(term, t) || term == t {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	// Works in SSH, basic terminals, and older emulators
	lipgloss.SetColorProfile(termenv.ANSI256)
}

// normalizeArgs reorders args so flags come before positional arguments.
// Go's flag package stops parsing at the first non-flag argument, which means
// "resize pane-abc -cols 120" silently ignores -cols. This function moves all
// flags to the front so they get parsed correctly.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	// Build set of known boolean flags (don't need a value argument)
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// "--" terminates flag processing
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)

			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			// If it's not a bool flag, the next arg is its value
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// statusSymbol returns the colored symbol for a pane status string.
func statusSymbol(status string) string {
	switch status {
	case "running":
		return runningStyle.Render("●")
	case "exited":
		return dimStyle.Render("○")
	case "errored":
		return erroredStyle.Render("✕")
	case "closed":
		return dimStyle.Render("◌")
	default:
		return "?"
	}
}

// padCell truncates or pads a string to the given display width, respecting
// wide runes.
func padCell(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		return runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

// truncateID returns a shortened pane id for display.
func truncateID(id string) string {
	if len(id) > 13 {
		return id[:13]
	}
	return id
}

// formatPath shortens a path by replacing the home directory with ~.
func formatPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

// matchPane resolves a user query against pane summaries. Exact id and id
// prefix win; otherwise the query is fuzzy-matched against branch, tool and
// id together.
func matchPane(query string, panes []paneSummary) (*paneSummary, error) {
	if query == "" {
		return nil, fmt.Errorf("pane query is required")
	}
	if len(panes) == 0 {
		return nil, fmt.Errorf("no live panes")
	}

	for i := range panes {
		if panes[i].ID == query {
			return &panes[i], nil
		}
	}

	var prefix []*paneSummary
	for i := range panes {
		if strings.HasPrefix(panes[i].ID, query) {
			prefix = append(prefix, &panes[i])
		}
	}
	if len(prefix) == 1 {
		return prefix[0], nil
	}
	if len(prefix) > 1 {
		return nil, fmt.Errorf("'%s' matches multiple panes; use a longer id prefix", query)
	}

	haystack := make([]string, len(panes))
	for i, p := range panes {
		haystack[i] = p.Branch + " " + p.Tool + " " + p.ID
	}
	matches := fuzzy.Find(query, haystack)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no pane matches '%s'", query)
	}
	return &panes[matches[0].Index], nil
}

// fatalf prints an error and exits non-zero.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
