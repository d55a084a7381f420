package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"
)

const syncProbeTimeout = 3 * time.Second

func NewSyncCommand(opts *RootOptions, hooks Hooks) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, hooks)
			if err != nil {
				return err
			}
			defer rt.Close()

			f := newFormatter(opts, cmd)
			if !rt.Monitor.Probe(cmd.Context(), rt.Datastore, syncProbeTimeout) {
				_ = f.Error("S001", "datastore unreachable, nothing was synced", nil)
				return NewExitError(ExitFailure, "datastore unreachable")
			}

			summary, err := rt.Reconciler.RunOnce(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "reconciliation failed", err)
			}
			f.VerboseLog("terminal %s, store %s", rt.Terminal.TerminalID, rt.Terminal.StoreID)
			if err := f.Success(summary, func(w io.Writer) error { return writeSummary(w, summary) }); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return NewExitError(ExitFailure, "some operations failed permanently; see queue list --status failed")
			}
			return nil
		},
	}
}
