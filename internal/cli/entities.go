package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/liftsync/internal/entity"
)

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <kind> [id] <json>",
		Short: "Create or replace a local entity",
		Long: `Write an entity locally and queue it for the next sync.

kind is one of method, template or session (or the full table name). When id
is omitted a new time-ordered id is generated.

Examples:
  liftsync put session '{"exercise":"squat","sets":5}'
  liftsync put template 0190c1d2-... '{"name":"Push day"}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(rootOpts, cmd, args)
		},
	}
}

func runPut(opts *RootOptions, cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	id, payload := entity.NewID(), args[1]
	if len(args) == 3 {
		id, payload = args[1], args[2]
	}
	if !json.Valid([]byte(payload)) {
		return NewExitError(ExitCommandError, "payload is not valid JSON")
	}

	a, err := openApp(cmd.Context(), opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.owner()
	if err != nil {
		return err
	}
	row, err := a.store.UpsertEntity(cmd.Context(), kind, entity.Row{
		ID:      id,
		OwnerID: owner,
		Payload: json.RawMessage(payload),
	})
	if err != nil {
		return storeError("failed to write entity", err)
	}
	return opts.formatter(cmd).Print(fmt.Sprintf("put %s/%s", kind, row.ID), row)
}

// NewRmCommand creates the rm command.
func NewRmCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <kind> <id>",
		Short: "Delete a local entity",
		Long: `Delete an entity locally and queue the delete for the next sync.

The entity disappears from local reads at once.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRm(rootOpts, cmd, args)
		},
	}
}

func runRm(opts *RootOptions, cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.owner()
	if err != nil {
		return err
	}
	if err := a.store.MarkDeleted(cmd.Context(), kind, owner, args[1]); err != nil {
		return storeError("failed to delete entity", err)
	}
	text := fmt.Sprintf("deleted %s/%s", kind, args[1])
	return opts.formatter(cmd).Print(text, map[string]string{"kind": string(kind), "id": args[1]})
}

// NewLsCommand creates the ls command.
func NewLsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <kind>",
		Short: "List local entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLs(rootOpts, cmd, args)
		},
	}
}

func runLs(opts *RootOptions, cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.owner()
	if err != nil {
		return err
	}
	rows, err := a.store.ListEntities(cmd.Context(), kind, owner)
	if err != nil {
		return storeError("failed to list entities", err)
	}

	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s\t%s\t%s", row.ID, row.UpdatedAt, row.Payload)
	}
	if len(rows) == 0 {
		b.WriteString("(none)")
	}
	return opts.formatter(cmd).Print(b.String(), rows)
}

func parseKind(s string) (entity.Kind, error) {
	kind, err := entity.ParseKind(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid kind", err)
	}
	return kind, nil
}
