package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lobj/internal/config"
	"github.com/roach88/lobj/internal/guard"
	"github.com/roach88/lobj/internal/host"
	"github.com/roach88/lobj/internal/kv"
	"github.com/roach88/lobj/internal/telemetry"
)

// session is one host lifetime: restore from the database, serve calls,
// save back. Commands never touch the host outside a session.
type session struct {
	cfg    *config.Config
	caller string
	host   *host.Host
	store  *kv.Store
	out    *OutputFormatter

	cancel context.CancelFunc
	errc   chan error
}

// sessionOptions tunes how a session starts.
type sessionOptions struct {
	// skipRestore starts from empty state, for reinitializing a database
	// whose saved state cannot be read.
	skipRestore bool

	// ids overrides object ID generation (tests).
	ids host.IDGenerator
}

// loadConfig reads the config file named by the root flags and applies the
// flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Caller != "" {
		cfg.Caller = opts.Caller
	}
	return cfg, nil
}

// configureLogging installs a text handler on stderr; --verbose selects debug.
func configureLogging(opts *RootOptions, cfg *config.Config) {
	level := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// withSession opens the database, starts a host, restores saved state, runs
// fn and saves state again. State is not saved when the restore failed, so
// unreadable state is left for reinit to discard.
func withSession(cmd *cobra.Command, opts *RootOptions, so sessionOptions, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	configureLogging(opts, cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(cfg, so)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start host", err)
	}
	s.out = newFormatter(opts, cmd)
	defer s.close()

	if !so.skipRestore {
		if err := s.host.PostUpgrade(ctx); err != nil {
			slog.Error("restore failed", "db", cfg.Database, "error", err)
			return WrapExitError(ExitCommandError,
				fmt.Sprintf("failed to restore state from %s (run 'lobj reinit' to discard it)", cfg.Database), err)
		}
	}

	runErr := fn(ctx, s)

	if err := s.host.PreUpgrade(ctx); err != nil {
		return errors.Join(runErr, WrapExitError(ExitCommandError, "failed to save state", err))
	}
	return runErr
}

// openSession opens the registry and starts the host loop.
func openSession(cfg *config.Config, so sessionOptions) (*session, error) {
	allow, err := guard.NewAllowlist(cfg.Principals...)
	if err != nil {
		return nil, fmt.Errorf("seed principals: %w", err)
	}

	slog.Debug("opening database", "path", cfg.Database)
	st, err := kv.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	if so.skipRestore {
		keepPrincipals(st, allow)
	}

	ids := so.ids
	if ids == nil {
		ids = host.UUIDv7Generator{}
	}

	h := host.New(st,
		host.WithAuthorizer(allow),
		host.WithSink(telemetry.NewRecorder(slog.Default())),
		host.WithIDGenerator(ids),
		host.WithMaxObjects(cfg.MaxObjects),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cfg:    cfg,
		caller: cfg.Caller,
		host:   h,
		store:  st,
		cancel: cancel,
		errc:   make(chan error, 1),
	}
	go func() { s.errc <- h.Run(ctx) }()
	return s, nil
}

// close stops the host and closes the database.
func (s *session) close() {
	s.host.Stop()
	s.cancel()
	if err := <-s.errc; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("host stopped with error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// keepPrincipals loads saved principals into allow without restoring any
// upload state. Unreadable principals leave the configured seed in place.
func keepPrincipals(st *kv.Store, allow *guard.Allowlist) {
	data, err := st.Get(context.Background(), host.KeyPrincipals)
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err == nil {
		err = allow.Import(data)
	}
	if err != nil {
		slog.Warn("saved principals unreadable, using configured principals", "error", err)
	}
}
