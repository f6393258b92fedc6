package ctl

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	app "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/domain/ranking"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(o *RootOptions) *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Write a YAML fixture to the store",
		Long: `Seed reads a fixture of one league/season, resolves team and player
names (exact, then approximate), validates every match and writes the
entities directly to the configured store. With --recompute the table is
rebuilt in-process and printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			fx, err := LoadFixture(f)
			if err != nil {
				return err
			}
			ds, err := fx.Resolve()
			if err != nil {
				return err
			}

			store, calc, err := o.offline(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			log := o.log.Named("seed")
			res, err := Apply(ctx, store, ds, log)
			if err != nil {
				return err
			}
			if recompute {
				res.Table, err = Recompute(ctx, store, ds.Key, calc, log)
			} else {
				res.Table, err = EnsureEntries(ctx, store, ds.Key, calc, log)
			}
			if err != nil {
				return err
			}
			return printer(cmd, o).Value(res, func(w io.Writer) error {
				if _, err := fmt.Fprintf(w, "seeded %s: %d teams, %d players, %d matches\n",
					ds.Key, res.Teams, res.Players, res.Matches); err != nil {
					return err
				}
				if len(res.Table) == 0 {
					return nil
				}
				return ranking.Render(w, res.Table)
			})
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", true, "rebuild the table after seeding; without it teams only get zeroed rows")
	return cmd
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <league/season>",
		Short: "Recompute a table offline and compare it with the stored one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, err := app.ParseKey(args[0])
			if err != nil {
				return err
			}
			store, calc, err := o.offline(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := Verify(ctx, store, key, calc, o.log.Named("verify"))
			if err != nil {
				return err
			}
			err = printer(cmd, o).Value(rep, func(w io.Writer) error {
				if _, err := fmt.Fprintf(w, "%s: %d rows, %d snapshots checked\n", key, rep.Rows, rep.SnapshotsChecked); err != nil {
					return err
				}
				for _, part := range []struct {
					title string
					lines []string
				}{
					{"excluded matches", rep.Excluded},
					{"warnings", rep.Warnings},
					{"mismatches", rep.Mismatches},
					{"snapshot errors", rep.SnapshotErrors},
				} {
					if err := writeLines(w, part.title, part.lines); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if !rep.OK() {
				return ErrMismatch
			}
			return nil
		},
	}
}

// NewLoadCommand creates the load command.
func NewLoadCommand(o *RootOptions) *cobra.Command {
	cfg := LoadConfig{}
	cmd := &cobra.Command{
		Use:   "load <league/season>",
		Short: "Submit random finished matches and check the table absorbs them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := app.ParseKey(args[0])
			if err != nil {
				return err
			}
			cfg.Key = key
			stats, err := RunLoad(cmd.Context(), o.client(), cfg, o.log.Named("load"))
			if stats != nil {
				perr := printer(cmd, o).Value(stats, func(w io.Writer) error {
					if _, err := fmt.Fprintf(w, "submitted %d matches in %s: %d created, %d duplicate, %d failed; played %d -> %d\n",
						stats.Submitted, stats.Duration, stats.Created, stats.Duplicate, stats.Failed,
						stats.PlayedBefore, stats.PlayedAfter); err != nil {
						return err
					}
					return writeLines(w, "problems", stats.Problems)
				})
				if perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&cfg.Matches, "matches", 100, "number of matches to submit")
	cmd.Flags().IntVar(&cfg.Workers, "workers", runtime.NumCPU()*2, "concurrent submitters")
	cmd.Flags().DurationVar(&cfg.Poll, "poll", 0, "queue polling interval (default 100ms)")
	return cmd
}
