package ctl

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	app "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
)

// NewRecalcCommand creates the recalc command.
func NewRecalcCommand(o *RootOptions) *cobra.Command {
	var priority, description string
	cmd := &cobra.Command{
		Use:   "recalc <league/season>",
		Short: "Queue a manual recalculation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := app.ParseKey(args[0])
			if err != nil {
				return err
			}
			if priority != "" {
				if _, err := model.ParsePriority(priority); err != nil {
					return err
				}
			}
			res, err := o.client().Trigger(cmd.Context(), key, priority, description)
			if err != nil {
				return err
			}
			state := "queued"
			if res.Coalesced {
				state = "coalesced into"
			}
			return printer(cmd, o).Message(res, "%s job %s (estimated %ds)", state, res.JobID, res.EstimatedDurationSeconds)
		},
	}
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "priority name or number (default: server's manual priority)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "reason recorded on the job")
	return cmd
}

// NewPauseCommand creates the pause command.
func NewPauseCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Stop dispatching jobs; requests keep queueing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := o.client().Pause(cmd.Context())
			if err != nil {
				return err
			}
			return printer(cmd, o).Status(st)
		},
	}
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume dispatching jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := o.client().Resume(cmd.Context())
			if err != nil {
				return err
			}
			return printer(cmd, o).Status(st)
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status and active jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := o.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printer(cmd, o).Status(st)
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(o *RootOptions) *cobra.Command {
	var league string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := o.client().History(cmd.Context(), league, limit)
			if err != nil {
				return err
			}
			return printer(cmd, o).Jobs(jobs)
		},
	}
	cmd.Flags().StringVar(&league, "league", "", "only jobs of this league")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of jobs")
	return cmd
}

// NewJobCommand creates the job command.
func NewJobCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := o.client().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printer(cmd, o).Jobs([]model.Job{*j})
		},
	}
}

// NewTableCommand creates the table command.
func NewTableCommand(o *RootOptions) *cobra.Command {
	var createMissing bool
	cmd := &cobra.Command{
		Use:   "table <league/season>",
		Short: "Print the current standings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := app.ParseKey(args[0])
			if err != nil {
				return err
			}
			c := o.client()
			if createMissing {
				res, err := c.CreateMissingEntries(cmd.Context(), key)
				if err != nil {
					return err
				}
				o.log.Info(cmd.Context(), "table entries created", logger.Int("added", res.Added))
				return printer(cmd, o).Table(res.Entries)
			}
			rows, err := c.Table(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printer(cmd, o).Table(rows)
		},
	}
	cmd.Flags().BoolVar(&createMissing, "create-missing", false, "add zeroed rows for teams without one first")
	return cmd
}

// NewSnapshotsCommand creates the snapshots command group.
func NewSnapshotsCommand(o *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List, capture, restore and prune table snapshots",
	}
	cmd.AddCommand(newSnapshotListCommand(o))
	cmd.AddCommand(newSnapshotCreateCommand(o))
	cmd.AddCommand(newSnapshotRestoreCommand(o))
	cmd.AddCommand(newSnapshotDeleteCommand(o))
	cmd.AddCommand(newSnapshotPruneCommand(o))
	return cmd
}

func newSnapshotListCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [league/season]",
		Short: "List snapshots, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key model.Key
			if len(args) == 1 {
				k, err := app.ParseKey(args[0])
				if err != nil {
					return err
				}
				key = k
			}
			list, err := o.client().Snapshots(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printer(cmd, o).Snapshots(list)
		},
	}
}

func newSnapshotCreateCommand(o *RootOptions) *cobra.Command {
	var description, by string
	cmd := &cobra.Command{
		Use:   "create <league/season>",
		Short: "Capture the current table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := app.ParseKey(args[0])
			if err != nil {
				return err
			}
			snap, err := o.client().CreateSnapshot(cmd.Context(), key, description, by)
			if err != nil {
				return err
			}
			return printer(cmd, o).Message(snap, "snapshot %s of %s (%d rows)", snap.ID, snap.Key(), len(snap.Entries))
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "snapshot description")
	cmd.Flags().StringVar(&by, "by", "", "author recorded on the snapshot")
	return cmd
}

func newSnapshotRestoreCommand(o *RootOptions) *cobra.Command {
	var yes bool
	var actor string
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Replace the live table with a snapshot",
		Long:  "Restore captures a pre-restore snapshot first and runs while no recalculation of the same league/season is in progress.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("restore replaces the live table; pass --yes to confirm")
			}
			res, err := o.client().RestoreSnapshot(cmd.Context(), args[0], true, actor)
			if err != nil {
				return err
			}
			return printer(cmd, o).Message(res, "restored %s (%d rows); previous table saved as %s",
				res.SnapshotID, res.Entries, res.PreRestoreSnapshotID)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the restore")
	cmd.Flags().StringVar(&actor, "actor", "", "operator recorded on the pre-restore snapshot")
	return cmd
}

func newSnapshotDeleteCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.client().DeleteSnapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printer(cmd, o).Message(map[string]string{"deleted": args[0]}, "deleted %s", args[0])
		},
	}
}

func newSnapshotPruneCommand(o *RootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := o.client().PruneSnapshots(cmd.Context(), days)
			if err != nil {
				return err
			}
			return printer(cmd, o).Message(map[string]int{"pruned": n}, "pruned %d snapshots", n)
		},
	}
	cmd.Flags().IntVar(&days, "max-age-days", 0, "retention in days (default: server's configured retention)")
	return cmd
}

func writeLines(w io.Writer, title string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, title+":"); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, "  "+l); err != nil {
			return err
		}
	}
	return nil
}
