// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/funcbox/funcbox/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "funcbox",
		Short: "A sandbox for user-supplied functions",
		Long: TitleStyle.Render("funcbox") + SubtitleStyle.Render(" - a sandbox for user-supplied functions") + `

funcbox runs JavaScript functions (qualification, code generation, attribute
and schema variant definitions) on behalf of a control plane. Requests arrive
as JSON lines (or CBOR) and every execution answers with its console output
followed by exactly one result.

` + SubtitleStyle.Render("Examples:") + `
  funcbox serve                 Serve the protocol on stdin/stdout
  funcbox serve --ssh --http    Serve over SSH and HTTP
  funcbox worker                Consume requests from a Redis list
  funcbox run request.jsonc     Run one request from a file
  funcbox config show           Show the effective configuration`,
		SilenceUsage: true,
	}
	rootCmd.SetIn(app.stdin)
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is <user config dir>/funcbox/config.cue)")

	rootCmd.AddCommand(
		newServeCommand(app),
		newWorkerCommand(app),
		newRunCommand(app),
		newConfigCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI with process defaults and exits non-zero on failure.
// This is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		renderIssue(app.stderr, err)
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// renderIssue prints the suggestions and the catalog entry attached to an
// actionable error. fang has already printed the message itself.
func renderIssue(w io.Writer, err error) {
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		return
	}
	for _, s := range ae.Suggestions {
		fmt.Fprintln(w, SubtitleStyle.Render("  • "+s))
	}
	entry := issue.Get(ae.Issue)
	if entry == nil {
		return
	}
	rendered, renderErr := entry.Render("dark")
	if renderErr != nil {
		return
	}
	fmt.Fprint(w, rendered)
}
