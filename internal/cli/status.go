package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// StatusResult is the JSON shape of the status command.
type StatusResult struct {
	Owner      string `json:"owner"`
	Remote     string `json:"remote"`
	Pending    int    `json:"pending"`
	Stuck      int    `json:"stuck"`
	LastSynced string `json:"last_synced"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending changes and last sync time",
		Long: `Show the signed-in owner's sync state.

"stuck" counts outbox entries that failed max_attempts times or more. They are
still retried every cycle; use "liftsync outbox" to inspect them and
"liftsync outbox --drop <id>" to give up on one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.owner()
	if err != nil {
		return err
	}
	st, err := a.store.Status(cmd.Context(), owner, a.cfg.MaxAttempts)
	if err != nil {
		return storeError("failed to read status", err)
	}

	res := StatusResult{
		Owner:      owner,
		Remote:     a.cfg.Remote,
		Pending:    st.Pending,
		Stuck:      st.Stuck,
		LastSynced: st.LastSynced,
	}
	last := res.LastSynced
	if last == "" {
		last = "never"
	}
	text := fmt.Sprintf("owner: %s\nremote: %s\npending: %d\nstuck: %d\nlast synced: %s",
		res.Owner, res.Remote, res.Pending, res.Stuck, last)
	return opts.formatter(cmd).Print(text, res)
}
