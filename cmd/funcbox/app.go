// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/funcbox/funcbox/internal/config"
	"github.com/funcbox/funcbox/internal/host"
	"github.com/funcbox/funcbox/internal/sandbox"

	"github.com/charmbracelet/log"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// App wires CLI services and shared dependencies. Cobra handlers receive
	// an App and never reach for process globals directly.
	App struct {
		Config    ConfigProvider
		LookupEnv func(string) (string, bool)

		stdin  io.Reader
		stdout io.Writer
		stderr io.Writer

		configPath string
		verbose    bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config    ConfigProvider
		LookupEnv func(string) (string, bool)
		Stdin     io.Reader
		Stdout    io.Writer
		Stderr    io.Writer
	}
)

// NewApp creates an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:    deps.Config,
		LookupEnv: deps.LookupEnv,
		stdin:     deps.Stdin,
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.LookupEnv == nil {
		app.LookupEnv = os.LookupEnv
	}
	if app.stdin == nil {
		app.stdin = os.Stdin
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// LoadConfig loads the configuration selected by the --config flag.
func (a *App) LoadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
}

// Logger returns the diagnostic logger. It always writes to stderr; stdout
// belongs to the protocol stream.
func (a *App) Logger(cfg *config.Config) *log.Logger {
	level := log.InfoLevel
	if cfg != nil {
		if parsed, err := log.ParseLevel(string(cfg.Log.Level)); err == nil {
			level = parsed
		}
	}
	if a.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
	})
}

// NewHost builds the sandbox engine and the host that dispatches to it.
func (a *App) NewHost(cfg *config.Config, logger *log.Logger) (*host.Host, error) {
	engine, err := sandbox.New(sandbox.Options{
		DefaultTimeout:      cfg.DefaultTimeout(),
		MaxTimeout:          cfg.MaxTimeout(),
		MaxCallStackSize:    cfg.MaxCallStackSize,
		BeforeFailurePolicy: sandbox.BeforeFailurePolicy(cfg.BeforeFailurePolicy),
		Env:                 cfg.Environment(a.LookupEnv),
		KillGracePeriod:     cfg.KillGracePeriod(),
		Programs:            sandbox.NewProgramCache(sandbox.DefaultProgramCacheSize),
		Logger:              logger.WithPrefix("sandbox"),
	})
	if err != nil {
		return nil, err
	}
	return host.New(host.Config{
		Executor:         engine,
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		Logger:           logger.WithPrefix("host"),
	}), nil
}

// masked hides a secret in human-facing output.
func masked(secret string) string {
	if secret == "" {
		return ""
	}
	return strings.Repeat("*", 8)
}
