package cli

import (
	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long: `Push pending local changes, then pull remote changes for every entity kind.

Remote failures do not fail the command: a failed push stays in the outbox and
a failed pull is reported per kind; both are retried on the next cycle.
Needs an http or postgres remote.

Examples:
  liftsync sync
  liftsync sync --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requirePersistentRemote("sync"); err != nil {
		return err
	}

	sum, err := a.engine.RunCycle(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	return opts.formatter(cmd).Print(sum.String(), sum)
}
