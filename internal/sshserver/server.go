// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/funcbox/funcbox/internal/core/serverbase"
	"github.com/funcbox/funcbox/internal/host"
	"github.com/funcbox/funcbox/internal/protocol"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
)

type (
	// Config holds immutable configuration for the SSH server.
	Config struct {
		// Host is the address to bind to (default: 127.0.0.1).
		Host HostAddress
		// Port is the port to listen on (0 = auto-select).
		Port int
		// Token is the password every client must present.
		Token TokenValue
		// HostKeyPath is where the host key lives. It is created when missing.
		// Empty uses an ephemeral key.
		HostKeyPath string
		// Codec is used when a session names none (default: json).
		Codec protocol.Codec
		// IdleTimeout closes sessions without traffic (0 = never).
		IdleTimeout time.Duration
		// StartupTimeout bounds binding (default: 5s).
		StartupTimeout time.Duration
		// ShutdownTimeout bounds draining open sessions (default: 10s).
		ShutdownTimeout time.Duration
	}

	// Server serves protocol streams over SSH.
	// A Server instance is single-use: once stopped or failed, create a new instance.
	Server struct {
		*serverbase.Base

		cfg    Config
		host   *host.Host
		logger *log.Logger

		srvMu    sync.Mutex
		srv      *ssh.Server
		listener net.Listener
	}
)

// DefaultConfig returns a default configuration without a token.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Codec:           protocol.CodecJSON,
		StartupTimeout:  serverbase.DefaultStartupTimeout,
		ShutdownTimeout: serverbase.DefaultShutdownTimeout,
	}
}

// Validate reports every invalid field of the Config.
func (c Config) Validate() error {
	var errs []error
	if err := c.Host.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidListenPort, c.Port))
	}
	if err := c.Token.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Codec.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidSSHConfigError{FieldErrors: errs}
	}
	return nil
}

// New creates a Server that dispatches sessions to h.
// The server is not started; call Start() to begin accepting connections.
func New(cfg Config, h *host.Host, logger *log.Logger) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Codec == "" {
		cfg.Codec = protocol.CodecJSON
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default().WithPrefix("ssh")
	}

	s := &Server{cfg: cfg, host: h, logger: logger}
	s.Base = serverbase.NewBase("ssh", serverbase.Hooks{
		Listen:   s.listen,
		Serve:    s.serve,
		Shutdown: s.shutdown,
	},
		serverbase.WithLogger(logger),
		serverbase.WithStartupTimeout(cfg.StartupTimeout),
		serverbase.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	return s, nil
}

// Port returns the bound port, or 0 before Start succeeded.
func (s *Server) Port() int {
	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) listen(ctx context.Context) (string, error) {
	addr := net.JoinHostPort(s.cfg.Host.String(), strconv.Itoa(s.cfg.Port))

	opts := []ssh.Option{
		wish.WithAddress(addr),
		wish.WithPasswordAuth(s.passwordHandler),
		wish.WithPublicKeyAuth(s.publicKeyHandler),
		wish.WithMiddleware(
			s.protocolMiddleware(),
			logging.MiddlewareWithLogger(s.logger),
		),
	}
	if s.cfg.HostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(s.cfg.HostKeyPath))
	}
	if s.cfg.IdleTimeout > 0 {
		opts = append(opts, wish.WithIdleTimeout(s.cfg.IdleTimeout))
	}
	srv, err := wish.NewServer(opts...)
	if err != nil {
		return "", fmt.Errorf("create SSH server: %w", err)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}

	s.srvMu.Lock()
	s.srv = srv
	s.listener = listener
	s.srvMu.Unlock()
	return listener.Addr().String(), nil
}

func (s *Server) serve(context.Context) error {
	s.srvMu.Lock()
	srv, listener := s.srv, s.listener
	s.srvMu.Unlock()

	err := srv.Serve(listener)
	if errors.Is(err, ssh.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	if errors.Is(err, ssh.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// protocolMiddleware runs one protocol stream per session. The session
// command may name the codec, e.g. `ssh -p 2222 funcbox@host cbor`.
func (s *Server) protocolMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			codec := s.cfg.Codec
			if cmd := sess.Command(); len(cmd) > 0 {
				codec = protocol.Codec(strings.ToLower(cmd[0]))
			}
			if err := codec.Validate(); err != nil {
				wish.Fatalln(sess, err)
				return
			}

			dec, err := protocol.NewDecoder(codec, sess)
			if err != nil {
				wish.Fatalln(sess, err)
				return
			}
			enc, err := protocol.NewEncoder(codec, sess)
			if err != nil {
				wish.Fatalln(sess, err)
				return
			}

			s.logger.Debug("session opened", "user", sess.User(), "remote", sess.RemoteAddr().String(), "codec", codec)
			if err := s.host.Serve(sess.Context(), dec, enc); err != nil {
				s.logger.Warn("session stream ended with error", "remote", sess.RemoteAddr().String(), "error", err)
				_ = sess.Exit(1)
				return
			}
			_ = sess.Exit(0)
			next(sess)
		}
	}
}

// passwordHandler accepts the configured token only.
func (s *Server) passwordHandler(ctx ssh.Context, password string) bool {
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Token)) == 1 {
		return true
	}
	s.logger.Warn("invalid token authentication attempt", "user", ctx.User(), "remote", ctx.RemoteAddr().String())
	return false
}

// publicKeyHandler rejects all public key authentication.
func (s *Server) publicKeyHandler(ssh.Context, ssh.PublicKey) bool {
	return false
}
