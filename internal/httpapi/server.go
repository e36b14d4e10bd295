// SPDX-License-Identifier: MPL-2.0

package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/funcbox/funcbox/internal/core/serverbase"
	"github.com/funcbox/funcbox/internal/host"
	"github.com/funcbox/funcbox/internal/protocol"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// DefaultAddress is where the API listens when none is configured.
const DefaultAddress = "127.0.0.1:8080"

const contentTypeNDJSON = "application/x-ndjson"

// errClientGone cancels an execution whose response stream can no longer be
// written.
var errClientGone = errors.New("client disconnected")

type (
	// Config holds immutable configuration for the HTTP server.
	Config struct {
		// Address is host:port to bind to (default: DefaultAddress).
		Address string
		// StartupTimeout bounds binding (default: 5s).
		StartupTimeout time.Duration
		// ShutdownTimeout bounds draining open streams (default: 10s).
		ShutdownTimeout time.Duration
	}

	// Server serves the execute, kill and health endpoints.
	// A Server instance is single-use: once stopped or failed, create a new instance.
	Server struct {
		*serverbase.Base

		cfg    Config
		host   *host.Host
		app    *fiber.App
		logger *log.Logger

		mu       sync.Mutex
		listener net.Listener
	}

	// flushWriter pushes every complete message to the client. fail is
	// called with the first write or flush error.
	flushWriter struct {
		w    *bufio.Writer
		fail func(error)
	}
)

// New creates a Server that dispatches requests to h.
func New(cfg Config, h *host.Host, logger *log.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if logger == nil {
		logger = log.Default().WithPrefix("http")
	}

	s := &Server{cfg: cfg, host: h, logger: logger}
	s.app = s.newApp()
	s.Base = serverbase.NewBase("http", serverbase.Hooks{
		Listen:   s.listen,
		Serve:    s.serve,
		Shutdown: s.app.ShutdownWithContext,
	},
		serverbase.WithLogger(logger),
		serverbase.WithStartupTimeout(cfg.StartupTimeout),
		serverbase.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	return s
}

func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "funcbox",
		BodyLimit:             protocol.MaxMessageSize,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(s.accessLog)

	app.Get("/health", s.health)
	v1 := app.Group("/v1")
	v1.Post("/execute", s.execute)
	v1.Post("/executions/:id/kill", s.kill)
	return app
}

func (s *Server) listen(ctx context.Context) (string, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln.Addr().String(), nil
}

func (s *Server) serve(context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	err := s.app.Listener(ln)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// execute runs one request and streams its messages back.
func (s *Server) execute(c *fiber.Ctx) error {
	var req protocol.Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "request body is not a valid request: " + err.Error()})
	}
	if req.IsKill() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "use POST /v1/executions/:id/kill to kill an execution"})
	}
	if req.ExecutionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": protocol.ErrMissingExecutionID.Error()})
	}

	base := s.Context()
	if base == nil {
		base = context.Background()
	}

	c.Set(fiber.HeaderContentType, contentTypeNDJSON)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancelCause(base)
		defer cancel(nil)

		var once sync.Once
		fail := func(err error) {
			once.Do(func() {
				s.logger.Debug("response stream closed", "executionId", req.ExecutionID, "error", err)
				cancel(errClientGone)
			})
		}
		enc, err := protocol.NewEncoder(protocol.CodecJSON, flushWriter{w: w, fail: fail})
		if err != nil {
			s.logger.Error("create encoder", "error", err)
			return
		}
		if _, err := s.host.Execute(ctx, &req, enc); err != nil {
			s.logger.Debug("request rejected", "executionId", req.ExecutionID, "error", err)
		}
	})
	return nil
}

func (s *Server) kill(c *fiber.Ctx) error {
	id := c.Params("id")
	if !s.host.Kill(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": host.ErrUnknownExecution.Error(), "executionId": id})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"executionId": id, "killed": true})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "UP", "inFlight": s.host.InFlight()})
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
	)
	return err
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err == nil {
		err = f.w.Flush()
	}
	if err != nil && f.fail != nil {
		f.fail(err)
	}
	return n, err
}
