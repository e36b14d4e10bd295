// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/funcbox/funcbox/internal/config"
	"github.com/funcbox/funcbox/internal/host"
	"github.com/funcbox/funcbox/internal/httpapi"
	"github.com/funcbox/funcbox/internal/issue"
	"github.com/funcbox/funcbox/internal/protocol"
	"github.com/funcbox/funcbox/internal/sshserver"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// stdioDrainTimeout bounds how long an interrupted stdio server waits for
// killed executions to write their results.
const stdioDrainTimeout = 5 * time.Second

type (
	serveOptions struct {
		ssh         bool
		http        bool
		codec       string
		sshPort     int
		httpAddress string
	}

	// transport is a long-running listener built on serverbase.
	transport interface {
		Start(ctx context.Context) error
		Stop() error
		Err() <-chan error
		Addr() string
	}

	namedTransport struct {
		transport
		name    string
		issueID issue.Id
	}
)

func newServeCommand(app *App) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the request protocol",
		Long: `Serve the request protocol.

Without flags the protocol runs on stdin and stdout; logs go to stderr.
--ssh and --http start network listeners instead and may be combined.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, app, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.ssh, "ssh", false, "serve over SSH (one stream per session)")
	cmd.Flags().BoolVar(&opts.http, "http", false, "serve over HTTP")
	cmd.Flags().StringVar(&opts.codec, "codec", "", "stream framing: json or cbor (default from config)")
	cmd.Flags().IntVar(&opts.sshPort, "ssh-port", -1, "SSH port (default from config, 0 picks a free port)")
	cmd.Flags().StringVar(&opts.httpAddress, "http-address", "", "HTTP listen address (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, app *App, opts serveOptions) error {
	ctx := cmd.Context()
	cfg, err := app.LoadConfig(ctx)
	if err != nil {
		return err
	}
	logger := app.Logger(cfg)

	codec := protocol.Codec(cfg.Codec)
	if opts.codec != "" {
		codec = protocol.Codec(opts.codec)
	}
	if err := codec.Validate(); err != nil {
		return err
	}

	h, err := app.NewHost(cfg, logger)
	if err != nil {
		return err
	}

	if !opts.ssh && !opts.http {
		return serveStdio(ctx, h, codec, app.stdin, app.stdout, logger)
	}

	var transports []namedTransport
	if opts.ssh {
		sshCfg := sshConfigFrom(cfg, codec)
		if opts.sshPort >= 0 {
			sshCfg.Port = opts.sshPort
		}
		srv, err := sshserver.New(sshCfg, h, logger.WithPrefix("ssh-server"))
		if err != nil {
			if errors.Is(err, sshserver.ErrInvalidTokenValue) {
				return issue.NewErrorContext().
					WithOperation("configure SSH transport").
					WithSuggestion("Set ssh.token in config.cue or FUNCBOX_SSH_TOKEN").
					WithIssue(issue.SSHTokenMissingId).
					Wrap(err).
					BuildError()
			}
			return err
		}
		transports = append(transports, namedTransport{transport: srv, name: "ssh", issueID: issue.TransportStartFailedId})
	}
	if opts.http {
		address := cfg.HTTP.Address
		if opts.httpAddress != "" {
			address = opts.httpAddress
		}
		srv := httpapi.New(httpapi.Config{Address: address}, h, logger.WithPrefix("http"))
		transports = append(transports, namedTransport{transport: srv, name: "http", issueID: issue.TransportStartFailedId})
	}
	return runTransports(ctx, logger, transports...)
}

func sshConfigFrom(cfg *config.Config, codec protocol.Codec) sshserver.Config {
	sshCfg := sshserver.DefaultConfig()
	sshCfg.Host = sshserver.HostAddress(cfg.SSH.Host)
	sshCfg.Port = cfg.SSH.Port
	sshCfg.Token = sshserver.TokenValue(cfg.SSH.Token)
	sshCfg.HostKeyPath = cfg.SSH.HostKeyPath
	sshCfg.Codec = codec
	return sshCfg
}

// serveStdio runs one protocol stream over in and out. An interrupt kills the
// running executions and waits briefly for their results, since in may never
// reach EOF.
func serveStdio(ctx context.Context, h *host.Host, codec protocol.Codec, in io.Reader, out io.Writer, logger *log.Logger) error {
	dec, err := protocol.NewDecoder(codec, in)
	if err != nil {
		return err
	}
	enc, err := protocol.NewEncoder(codec, out)
	if err != nil {
		return err
	}

	logger.Debug("serving on stdio", "codec", codec)
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, dec, enc) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	deadline := time.NewTimer(stdioDrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for h.InFlight() > 0 {
		select {
		case err := <-done:
			return err
		case <-deadline.C:
			logger.Warn("executions still running at exit", "count", h.InFlight())
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// runTransports starts every transport, then blocks until ctx is done or one
// of them fails, and stops them all.
func runTransports(ctx context.Context, logger *log.Logger, transports ...namedTransport) error {
	started := make([]namedTransport, 0, len(transports))
	stopAll := func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(); err != nil {
				logger.Error("stop failed", "transport", started[i].name, "error", err)
			}
		}
	}

	for _, t := range transports {
		if err := t.Start(ctx); err != nil {
			stopAll()
			return issue.NewErrorContext().
				WithOperation("start " + t.name + " transport").
				WithSuggestion("Check that the address is free and reachable").
				WithIssue(t.issueID).
				Wrap(err).
				BuildError()
		}
		logger.Info("listening", "transport", t.name, "address", t.Addr())
		started = append(started, t)
	}

	failed := make(chan error, len(started))
	for _, t := range started {
		go func() {
			if err, ok := <-t.Err(); ok && err != nil {
				failed <- fmt.Errorf("%s transport: %w", t.name, err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-failed:
		logger.Error("transport failed", "error", err)
	}
	stopAll()
	return err
}

