package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/liftsync/internal/config"
	"github.com/roach88/liftsync/internal/engine"
	"github.com/roach88/liftsync/internal/identity"
	"github.com/roach88/liftsync/internal/remote"
	"github.com/roach88/liftsync/internal/remote/pg"
	"github.com/roach88/liftsync/internal/store"
)

// opener shares one open store per database path across everything this
// process runs.
var opener = store.NewOpener()

// httpTimeout bounds each table API request.
const httpTimeout = 30 * time.Second

// session is the identity a command works with. Both identity.Static and
// identity.Token satisfy it.
type session interface {
	identity.Provider
	identity.Connectivity
	SignOut()
	SetOnline(bool)
}

// app is the wiring every command shares.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	gw     remote.Gateway
	ident  session
	engine *engine.Engine

	closers []func() error
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig(opts *RootOptions, cmd *cobra.Command) (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, nil, WrapExitError(ExitCommandError, "invalid configuration", err).withErrCode(ErrCodeConfig)
	}
	logger, closer, err := newLogger(opts, cfg, cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, nil, WrapExitError(ExitCommandError, "invalid configuration", err).withErrCode(ErrCodeConfig)
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

// openApp loads config, opens the store, and builds the gateway, identity
// and engine. Callers must Close the app.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, logger, logCloser, err := loadConfig(opts, cmd)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser.Close)
	}

	st, err := opener.Open(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err).withErrCode(ErrCodeStore)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	logger.Debug("database ready", "path", cfg.DBPath)

	if cfg.AuthToken != "" {
		tok, err := identity.NewToken(cfg.AuthToken, true)
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "invalid auth token", err).withErrCode(ErrCodeConfig)
		}
		a.ident = tok
	} else {
		a.ident = identity.NewStatic(cfg.Owner, true)
	}

	gw, closeGW, err := newGateway(ctx, cfg, a.ident)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to connect to remote", err).withErrCode(ErrCodeRemote)
	}
	a.gw = gw
	if closeGW != nil {
		a.closers = append(a.closers, func() error { closeGW(); return nil })
	}

	a.engine = engine.New(st, gw, a.ident,
		engine.WithPushBatch(cfg.PushBatch),
		engine.WithPageSize(cfg.PageSize),
		engine.WithMaxPages(cfg.MaxPages),
		engine.WithLogger(logger),
	)
	return a, nil
}

// newGateway builds the configured remote. The returned func, if any,
// releases its resources.
func newGateway(ctx context.Context, cfg config.Config, ident identity.Provider) (remote.Gateway, func(), error) {
	switch cfg.Remote {
	case config.RemoteMemory:
		return remote.NewMemory(), nil, nil

	case config.RemoteHTTP:
		httpOpts := []remote.HTTPOption{
			remote.WithHTTPClient(&http.Client{Timeout: httpTimeout}),
		}
		if tok, ok := ident.(*identity.Token); ok {
			httpOpts = append(httpOpts, remote.WithTokenSource(func(context.Context) (string, error) {
				return tok.Raw(), nil
			}))
		}
		gw, err := remote.NewHTTPGateway(cfg.RemoteURL, httpOpts...)
		if err != nil {
			return nil, nil, err
		}
		return gw, nil, nil

	case config.RemotePostgres:
		pool, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		gw := pg.New(pool)
		if err := gw.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return gw, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown remote %q", cfg.Remote)
}

// requirePersistentRemote refuses to push to a memory remote, which lives
// only as long as this process: entries marked done there would be lost.
func (a *app) requirePersistentRemote(command string) error {
	if a.cfg.Remote != config.RemoteMemory {
		return nil
	}
	return NewExitError(ExitCommandError,
		fmt.Sprintf("%s needs an http or postgres remote; the memory remote is only valid for serve and test", command),
	).withErrCode(ErrCodeConfig)
}

// owner returns the signed-in owner or a command error.
func (a *app) owner() (string, error) {
	owner, ok := a.ident.OwnerID()
	if !ok {
		return "", NewExitError(ExitCommandError, "not signed in: set owner or auth_token").withErrCode(ErrCodeNotSignedIn)
	}
	return owner, nil
}

// Close releases everything openApp acquired, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// storeError maps a store failure to an exit error.
func storeError(msg string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, msg, err).withErrCode(ErrCodeNotFound)
	}
	return WrapExitError(ExitFailure, msg, err).withErrCode(ErrCodeStore)
}
