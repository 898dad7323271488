package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/liftsync/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// OnCycle, if set, is called after every cycle (for testing).
	OnCycle func(engine.Summary, error)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "run",
		Short: "Keep syncing in the foreground",
		Long: `Run the sync scheduler until interrupted.

A cycle runs at start, then every configured interval. SIGHUP requests an
immediate cycle; requests made while a cycle runs are coalesced into one
follow-up cycle. SIGINT or SIGTERM stops after the running cycle.
Needs an http or postgres remote.

Examples:
  liftsync run
  liftsync run --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(opts, cmd)
		},
	}
}

func runScheduler(opts *RunOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requirePersistentRemote("run"); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sched := engine.NewScheduler(a.engine,
		engine.WithInterval(a.cfg.Interval),
		engine.WithConnectivity(a.ident),
		engine.WithSchedulerLogger(a.logger),
		engine.WithOnCycle(func(sum engine.Summary, err error) {
			if err == nil && sum.Ran() && opts.Format == "text" {
				fmt.Fprintln(out, sum.String())
			}
			if opts.OnCycle != nil {
				opts.OnCycle(sum, err)
			}
		}),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					sched.Trigger("signal")
					continue
				}
				slog.Info("received signal, shutting down", "signal", sig)
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Info("sync loop starting", "db", a.cfg.DBPath, "remote", a.cfg.Remote, "interval", a.cfg.Interval)
	if opts.Format == "text" {
		fmt.Fprintln(out, "Sync loop started. Press Ctrl-C to stop.")
	}

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "sync loop error", err)
	}

	slog.Info("sync loop stopped", "cycles", sched.Cycles())
	return nil
}
