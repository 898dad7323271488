package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SignOutOptions holds flags for the signout command.
type SignOutOptions struct {
	*RootOptions
	Force bool
}

// NewSignOutCommand creates the signout command.
func NewSignOutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "signout",
		Short: "Remove the signed-in owner's local data",
		Long: `Delete every local row, outbox entry and pull cursor of the signed-in owner.

Pending changes would be lost, so the command refuses while the outbox is not
empty unless --force is given. Run "liftsync sync" first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignOut(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "discard pending changes")

	return cmd
}

func runSignOut(opts *SignOutOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.owner()
	if err != nil {
		return err
	}

	pending, err := a.store.PendingCount(cmd.Context(), owner)
	if err != nil {
		return storeError("failed to count pending changes", err)
	}
	if pending > 0 && !opts.Force {
		return NewExitError(ExitFailure,
			fmt.Sprintf("%d pending change(s) not pushed yet; sync first or use --force", pending))
	}

	a.ident.SignOut()
	n, err := a.engine.ClearOwner(cmd.Context(), owner)
	if err != nil {
		return storeError("failed to clear local data", err)
	}
	text := fmt.Sprintf("signed out %s, removed %d row(s)", owner, n)
	return opts.formatter(cmd).Print(text, map[string]any{"owner": owner, "removed": n, "discarded": pending})
}
