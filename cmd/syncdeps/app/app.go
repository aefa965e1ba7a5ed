// Package app provides the application context and dependency management
// for the syncdeps CLI: configuration, logging and the construction of the
// source and target directory clients.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/alavret/sync-deps-from-hub-v2/internal/ldap"
	"github.com/alavret/sync-deps-from-hub-v2/internal/y360"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
	syncpkg "github.com/alavret/sync-deps-from-hub-v2/pkg/sync"
)

// App represents the syncdeps application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	// Configuration
	config *Config

	// Logger
	logger *zerolog.Logger

	// Test seams: when set, engines are built over these instead of
	// dialing real backends.
	source  hierarchy.Source
	service directory.Service
}

// New creates a new App instance with the given version information.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.NewConfigError("app", "configuration load failed", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger
	logging.SetDefault(logger)

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Source returns the source hierarchy provider, dialing LDAP unless a
// test seam was injected. The returned cleanup releases the connection.
func (a *App) Source() (hierarchy.Source, func(), error) {
	if a.source != nil {
		return a.source, func() {}, nil
	}

	if a.config.LDAPHost == "" {
		return nil, nil, errors.NewConfigError("ldap", "LDAP_HOST is required", nil)
	}

	src, err := ldap.Connect(a.config.LDAPConfig())
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if cerr := src.Close(); cerr != nil {
			a.logger.Debug().Err(cerr).Msg("LDAP close failed")
		}
	}
	return src, cleanup, nil
}

// Service returns the target directory service client.
func (a *App) Service() (directory.Service, error) {
	if a.service != nil {
		return a.service, nil
	}

	return y360.New(a.config.BaseURL, a.config.Token, a.config.OrgID,
		y360.WithRetryPolicy(a.config.RetryCount, a.config.RetryBackoff),
		y360.WithPerPage(a.config.PerPage),
		y360.WithUserCacheTTL(a.config.UserCacheTTL),
	)
}

// Engine builds a sync engine over the configured collaborators. dryRun
// forces dry-run regardless of configuration (used by the plan command).
func (a *App) Engine(dryRun bool) (*syncpkg.Engine, func(), error) {
	src, cleanup, err := a.Source()
	if err != nil {
		return nil, nil, err
	}

	svc, err := a.Service()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	engine := syncpkg.New(src, svc,
		syncpkg.WithDryRun(dryRun || a.config.DryRun),
		syncpkg.WithRetainUnmanaged(a.config.RetainUnmanaged),
		syncpkg.WithDumpPath(a.config.DumpFile),
		syncpkg.WithTimeout(a.config.RunTimeout),
	)
	return engine, cleanup, nil
}

// Shutdown performs graceful shutdown of the application.
func (a *App) Shutdown(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if ok && time.Until(deadline) <= 0 {
		return ctx.Err()
	}
	return nil
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithSource sets a custom source provider (useful for testing).
func WithSource(src hierarchy.Source) Option {
	return func(a *App) error {
		a.source = src
		return nil
	}
}

// WithService sets a custom directory service (useful for testing).
func WithService(svc directory.Service) Option {
	return func(a *App) error {
		a.service = svc
		return nil
	}
}
