// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/funcbox/funcbox/internal/issue"
	"github.com/funcbox/funcbox/internal/protocol"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"
)

const (
	outputJSON    = "json"
	outputSummary = "summary"

	// exitFailure and exitTimeout are the exit codes of unsuccessful runs.
	exitFailure = 1
	exitTimeout = 2
)

type (
	runOptions struct {
		output      string
		executionID string
		timeoutMs   int64
	}

	// collector keeps every message of a single execution in order.
	collector struct {
		mu       sync.Mutex
		messages []any
	}
)

func newRunCommand(app *App) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <request-file>",
		Short: "Run one request from a file",
		Long: `Run one request from a file.

The file holds a single request; comments and trailing commas are allowed.
Use "-" to read the request from stdin. A missing executionId is generated.

The exit status is 0 on success, 1 on failure and 2 on timeout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, app, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputJSON, "output format: json (protocol messages) or summary")
	cmd.Flags().StringVar(&opts.executionID, "id", "", "override the request's executionId")
	cmd.Flags().Int64Var(&opts.timeoutMs, "timeout-ms", 0, "override the request's timeoutMs")
	return cmd
}

func runRequest(cmd *cobra.Command, app *App, path string, opts runOptions) error {
	if opts.output != outputJSON && opts.output != outputSummary {
		return fmt.Errorf("invalid output format %q (valid: %s, %s)", opts.output, outputJSON, outputSummary)
	}

	req, err := readRequestFile(app, path)
	if err != nil {
		return err
	}
	if opts.executionID != "" {
		req.ExecutionID = opts.executionID
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	if opts.timeoutMs > 0 {
		req.TimeoutMs = opts.timeoutMs
	}

	ctx := cmd.Context()
	cfg, err := app.LoadConfig(ctx)
	if err != nil {
		return err
	}
	logger := app.Logger(cfg)
	h, err := app.NewHost(cfg, logger)
	if err != nil {
		return err
	}

	var (
		enc  protocol.Encoder
		coll *collector
	)
	if opts.output == outputSummary {
		coll = &collector{}
		enc = coll
	} else if enc, err = protocol.NewEncoder(protocol.CodecJSON, app.stdout); err != nil {
		return err
	}

	result, err := h.Execute(ctx, req, enc)
	if err != nil {
		return err
	}
	if coll != nil {
		fmt.Fprintln(app.stdout, renderSummary(coll.snapshot(), result))
	}

	switch result.Outcome {
	case protocol.OutcomeSuccess:
		return nil
	case protocol.OutcomeTimeout:
		return &ExitError{Code: exitTimeout, Err: fmt.Errorf("execution %s timed out", result.ExecutionID)}
	default:
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("execution %s failed: %s", result.ExecutionID, result.Message)}
	}
}

// readRequestFile decodes one request from path, or from stdin for "-".
func readRequestFile(app *App, path string) (*protocol.Request, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(app.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("read request file").
			WithResource(path).
			WithSuggestion("Verify the file path is correct").
			WithIssue(issue.RequestFileInvalidId).
			Wrap(err).
			BuildError()
	}

	var req protocol.Request
	if err := json.Unmarshal(jsonc.ToJSON(data), &req); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("parse request file").
			WithResource(path).
			WithSuggestion("The file must hold a single JSON object; comments and trailing commas are allowed").
			WithIssue(issue.RequestFileInvalidId).
			Wrap(err).
			BuildError()
	}
	return &req, nil
}

// Encode records msg.
func (c *collector) Encode(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *collector) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.messages...)
}

// renderSummary lays out the console lines and the result of one execution.
func renderSummary(messages []any, result *protocol.Result) string {
	var sb strings.Builder

	sb.WriteString(TitleStyle.Render("execution " + result.ExecutionID))
	sb.WriteString(SubtitleStyle.Render(" (" + string(result.Kind) + ")"))
	sb.WriteString("\n")

	var lines []string
	for _, msg := range messages {
		switch m := msg.(type) {
		case *protocol.Output:
			lines = append(lines, VerboseStyle.Render(fmt.Sprintf("%s [%s] %s", m.Timestamp.Format(time.TimeOnly), m.Level, m.Line)))
		case *protocol.Error:
			lines = append(lines, ErrorStyle.Render("error: ")+m.Message)
		}
	}
	if len(lines) > 0 {
		sb.WriteString("\n")
		sb.WriteString(KeyStyle.Render("console"))
		sb.WriteString("\n")
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(KeyStyle.Render("outcome") + ": ")
	switch result.Outcome {
	case protocol.OutcomeSuccess:
		sb.WriteString(SuccessStyle.Render(string(result.Outcome)))
	case protocol.OutcomeTimeout:
		sb.WriteString(WarningStyle.Render(string(result.Outcome)))
	default:
		sb.WriteString(ErrorStyle.Render(fmt.Sprintf("%s (%s)", result.Outcome, result.ErrorKind)))
	}
	sb.WriteString("\n")
	if result.Message != "" {
		sb.WriteString(KeyStyle.Render("message") + ": " + result.Message + "\n")
	}
	if result.Payload != nil {
		payload, err := json.MarshalIndent(result.Payload, "", "  ")
		if err == nil {
			sb.WriteString(KeyStyle.Render("payload") + ":\n" + string(payload) + "\n")
		}
	}
	sb.WriteString(KeyStyle.Render("duration") + ": " + (time.Duration(result.DurationMs) * time.Millisecond).String())

	return summaryBoxStyle.Render(sb.String())
}
