package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/outbox"
)

func queueCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Inspect and control writes waiting to sync"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "pending",
			Short: "List writes waiting to sync",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ops, err := e.app.Queue.ListPending()
				if err != nil {
					return err
				}
				return e.printOps(ops)
			},
		},
		&cobra.Command{
			Use:   "failed",
			Short: "List writes that gave up syncing",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ops, err := e.app.Queue.ListFailed()
				if err != nil {
					return err
				}
				return e.printOps(ops)
			},
		},
		&cobra.Command{
			Use:   "flush",
			Short: "Send waiting writes now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if !e.app.Monitor.Online() {
					return failure.New(failure.KindUnavailable, "The service is unreachable. Try again when you are online.")
				}
				res, err := e.app.Queue.Flush(cmd.Context())
				if err != nil {
					return err
				}
				if e.asJSON {
					return e.printJSON(res)
				}
				e.printf("sent %d, retrying %d, failed %d, waiting %d\n", res.Succeeded, res.Retained, res.DeadLettered, res.Skipped)
				if res.Aborted {
					e.printf("stopped early: the backend became unreachable\n")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "retry <id>",
			Short: "Move a failed write back to the queue",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				op, err := e.app.Queue.Retry(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				e.printf("requeued %s (%s)\n", op.ID, op.Kind)
				return nil
			},
		},
		&cobra.Command{
			Use:   "discard <id>",
			Short: "Drop a failed write",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := e.app.Queue.Discard(cmd.Context(), args[0]); err != nil {
					return err
				}
				e.printf("discarded %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func (e *env) printOps(ops []outbox.Operation) error {
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, []string{
			op.ID,
			string(op.Kind),
			op.EntityID,
			formatTime(op.EnqueuedAt),
			strconv.Itoa(op.Attempts) + "/" + strconv.Itoa(op.MaxAttempts),
			op.LastError,
		})
	}
	return e.printTable(ops, []string{"ID", "KIND", "ENTITY", "QUEUED", "ATTEMPTS", "LAST ERROR"}, rows)
}
