package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// OutboxOptions holds flags for the outbox command.
type OutboxOptions struct {
	*RootOptions
	Drop int64 // entry id to discard, 0 for none
}

// NewOutboxCommand creates the outbox command.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OutboxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List or drop pending changes",
		Long: `List the local changes the remote has not confirmed, oldest first.

Entries are never dropped automatically, however often they fail. --drop
discards one entry for good. Dropping a delete brings the local row back;
dropping an upsert leaves the local row as it is.

Examples:
  liftsync outbox
  liftsync outbox --drop 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutbox(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Drop, "drop", 0, "discard the entry with this id")

	return cmd
}

func runOutbox(opts *OutboxOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.owner()
	if err != nil {
		return err
	}
	f := opts.formatter(cmd)

	if opts.Drop != 0 {
		e, err := a.store.DiscardEntry(cmd.Context(), owner, opts.Drop)
		if err != nil {
			return storeError("failed to drop entry", err)
		}
		a.logger.Warn("outbox entry dropped", "entry", e.ID, "op", e.Op, "kind", e.Kind, "entity", e.EntityID)
		return f.Print(fmt.Sprintf("dropped %d %s %s/%s", e.ID, e.Op, e.Kind, e.EntityID), e)
	}

	entries, err := a.store.ListPending(cmd.Context(), owner, 0)
	if err != nil {
		return storeError("failed to list outbox", err)
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\t%s\t%s/%s\tattempts=%d", e.ID, e.Op, e.Kind, e.EntityID, e.Attempts)
		if a.cfg.MaxAttempts > 0 && e.Attempts >= a.cfg.MaxAttempts {
			b.WriteString("\tstuck")
		}
		if e.LastError != nil {
			fmt.Fprintf(&b, "\t%s", *e.LastError)
		}
	}
	if len(entries) == 0 {
		b.WriteString("outbox empty")
	}
	return f.Print(b.String(), entries)
}
