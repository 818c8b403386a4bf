package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/grantlink/internal/config"
	"github.com/roach88/grantlink/internal/engine"
	"github.com/roach88/grantlink/internal/platform"
	"github.com/roach88/grantlink/internal/store"
)

// Version is reported in the platform client's User-Agent.
var Version = "dev"

// app is the runtime one command works against.
type app struct {
	cfg      config.Config
	store    *store.Store
	registry *platform.Registry
	engine   *engine.Engine
	logger   *slog.Logger
}

func newLogger(cmd *cobra.Command, opts *RootOptions) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))
}

func (opts *RootOptions) getenv() func(string) string {
	if opts.Getenv != nil {
		return opts.Getenv
	}
	return os.Getenv
}

func (opts *RootOptions) envFile() (string, bool) {
	if opts.EnvFile != "" {
		return opts.EnvFile, true
	}
	return config.DefaultEnvFile, false
}

// registryPath returns the descriptor file named by --platforms or
// GRANTLINK_PLATFORMS_FILE. Empty means the built-in descriptors.
func registryPath(opts *RootOptions) (string, error) {
	if opts.Platforms != "" {
		return opts.Platforms, nil
	}
	envFile, explicit := opts.envFile()
	base, err := config.Load(envFile, explicit, opts.getenv(), nil)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return base.PlatformsFile, nil
}

func loadRegistry(opts *RootOptions) (*platform.Registry, error) {
	path, err := registryPath(opts)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return platform.Default(), nil
	}
	r, err := platform.LoadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load platform descriptors", err)
	}
	return r, nil
}

// openApp resolves configuration and opens the store. Flags win over the
// environment, the environment over the env file.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	logger := newLogger(cmd, opts)

	registry, err := loadRegistry(opts)
	if err != nil {
		return nil, err
	}

	envFile, explicit := opts.envFile()
	cfg, err := config.Load(envFile, explicit, opts.getenv(), registry.Platforms())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Database != "" {
		cfg.DSN = opts.Database
	}

	st, err := store.Open(cfg.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database ready", "backend", st.Backend())

	client := opts.Client
	if client == nil {
		client = platform.NewHTTPClient(cfg.HTTPClientOptions("grantlink/" + Version))
	}

	return &app{
		cfg:      cfg,
		store:    st,
		registry: registry,
		logger:   logger,
		engine: engine.New(st, registry,
			engine.WithClient(client),
			engine.WithLogger(logger),
		),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// session returns a session holding every configured platform credential.
func (a *app) session() *engine.Session {
	sess := engine.NewSession()
	for _, p := range a.registry.Platforms() {
		if creds := a.cfg.Credentials(p); !creds.Empty() {
			sess.SetCredentials(p, creds)
		}
	}
	return sess
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withApp opens the app, runs fn with a session and closes the app.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app, sess *engine.Session, out *OutputFormatter) error) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	return fn(ctx, a, a.session(), newFormatter(cmd, opts))
}
