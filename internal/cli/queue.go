package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/queue"
)

// Error codes reported by queue commands.
const (
	ErrCodeNotFound = "Q001"
	ErrCodeSyncing  = "Q002"
	ErrCodeQueue    = "Q003"
)

func NewQueueCommand(opts *RootOptions, hooks Hooks) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the local sync queue",
	}
	cmd.AddCommand(newQueueListCommand(opts, hooks))
	cmd.AddCommand(newQueueDiscardCommand(opts, hooks))
	cmd.AddCommand(newQueueRetryCommand(opts, hooks))
	return cmd
}

func newQueueListCommand(opts *RootOptions, hooks Hooks) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.SyncStatus(status)
			switch filter {
			case "", domain.SyncPending, domain.SyncSyncing, domain.SyncFailed:
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q: must be pending, syncing or failed", status))
			}

			rt, err := openRuntime(cmd.Context(), opts, hooks)
			if err != nil {
				return err
			}
			defer rt.Close()

			items, err := rt.Reconciler.Pending(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read sync queue", err)
			}
			if filter != "" {
				items = queue.Filter(items, filter)
			}

			rows := make([]queueRow, 0, len(items))
			for _, item := range items {
				rows = append(rows, toQueueRow(item))
			}
			return newFormatter(opts, cmd).Success(rows, func(w io.Writer) error {
				return writeQueueTable(w, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only items with this status (pending|syncing|failed)")
	return cmd
}

func newQueueDiscardCommand(opts *RootOptions, hooks Hooks) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <item-id>",
		Short: "Remove a queued operation without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, hooks)
			if err != nil {
				return err
			}
			defer rt.Close()

			f := newFormatter(opts, cmd)
			if err := rt.Reconciler.Discard(cmd.Context(), args[0]); err != nil {
				return queueFailure(f, args[0], err)
			}
			return f.Success(map[string]string{"discarded": args[0]}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "discarded %s\n", args[0])
				return err
			})
		},
	}
}

func newQueueRetryCommand(opts *RootOptions, hooks Hooks) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Put a failed operation back in the queue",
		Long: `Put a failed operation back in the queue for the next sync pass.

With --force the operation is applied even though the order changed on the
server after it was queued.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, hooks)
			if err != nil {
				return err
			}
			defer rt.Close()

			f := newFormatter(opts, cmd)
			item, err := rt.Reconciler.Retry(cmd.Context(), args[0], force)
			if err != nil {
				return queueFailure(f, args[0], err)
			}
			f.VerboseLog("item %s for order %s is %s", item.ID, item.EntityID, item.Status)
			return f.Success(toQueueRow(*item), func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s scheduled for retry (force=%t)\n", item.ID, force)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "apply even if the server changed the order since it was queued")
	return cmd
}

func queueFailure(f *OutputFormatter, id string, err error) error {
	code := ErrCodeQueue
	switch {
	case errors.Is(err, queue.ErrNotFound):
		code = ErrCodeNotFound
	case errors.Is(err, queue.ErrItemSyncing):
		code = ErrCodeSyncing
	}
	if outErr := f.Error(code, err.Error(), map[string]string{"item": id}); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "queue operation failed", err)
}
