package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/liftsync/internal/config"
	"github.com/roach88/liftsync/internal/remote/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string // overrides listen_addr
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the remote table API",
		Long: `Expose the configured remote (memory or postgres) over the REST table API
that the http remote speaks. Requests need a bearer JWT signed with
jwt_secret; "liftsync token <owner>" issues one.

Examples:
  LIFTSYNC_JWT_SECRET=dev liftsync serve
  LIFTSYNC_REMOTE=postgres LIFTSYNC_DATABASE_URL=postgres://... liftsync serve --addr :8787`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from listen_addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, logger, logCloser, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	if cfg.JWTSecret == "" {
		return NewExitError(ExitCommandError, "serve requires jwt_secret").withErrCode(ErrCodeConfig)
	}
	if cfg.Remote == config.RemoteHTTP {
		return NewExitError(ExitCommandError, "serve needs a memory or postgres remote, not http").withErrCode(ErrCodeConfig)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, closeGW, err := newGateway(ctx, cfg, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to remote", err).withErrCode(ErrCodeRemote)
	}
	if closeGW != nil {
		defer closeGW()
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	srv := httpapi.New(gw, []byte(cfg.JWTSecret), httpapi.WithLogger(logger))
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	return nil
}

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	TTL time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <owner>",
		Short: "Issue a bearer token for the table API",
		Long: `Sign an HS256 JWT for owner with jwt_secret. Set it as auth_token on a
client using the http remote; its subject becomes the signed-in owner.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd, args[0])
		},
	}

	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command, owner string) error {
	cfg, _, logCloser, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	if cfg.JWTSecret == "" {
		return NewExitError(ExitCommandError, "token requires jwt_secret").withErrCode(ErrCodeConfig)
	}
	if opts.TTL <= 0 {
		return NewExitError(ExitCommandError, "ttl must be positive")
	}

	tok, err := httpapi.IssueToken([]byte(cfg.JWTSecret), owner, opts.TTL)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to issue token", err)
	}
	return opts.formatter(cmd).Print(tok, map[string]string{"owner": owner, "token": tok})
}

