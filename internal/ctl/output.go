package ctl

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/ranking"
	"github.com/okian/standings/internal/domain/types"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{FormatText, FormatJSON}

// Printer writes command results as text or indented JSON.
type Printer struct {
	Format string
	W      io.Writer
}

// JSON reports whether results are printed as JSON.
func (p Printer) JSON() bool { return p.Format == FormatJSON }

func (p Printer) json(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.W, string(data))
	return err
}

// Value prints v as JSON, or text via fn.
func (p Printer) Value(v any, fn func(w io.Writer) error) error {
	if p.JSON() {
		return p.json(v)
	}
	return fn(p.W)
}

// Table prints a standings table.
func (p Printer) Table(rows []model.TableEntry) error {
	return p.Value(rows, func(w io.Writer) error { return ranking.Render(w, rows) })
}

// Status prints a queue status.
func (p Printer) Status(st types.QueueStatus) error {
	return p.Value(st, func(w io.Writer) error {
		state := "running"
		switch {
		case st.Paused:
			state = "paused"
		case !st.Running:
			state = "stopped"
		}
		if _, err := fmt.Fprintf(w, "queue %s: %d pending, %d processing, %d completed, %d failed\n",
			state, st.Pending, st.Processing, st.Completed, st.Failed); err != nil {
			return err
		}
		if len(st.CurrentJobs) == 0 {
			return nil
		}
		return writeJobs(w, st.CurrentJobs)
	})
}

// Jobs prints a job list.
func (p Printer) Jobs(jobs []model.Job) error {
	return p.Value(jobs, func(w io.Writer) error { return writeJobs(w, jobs) })
}

// Snapshots prints a snapshot listing.
func (p Printer) Snapshots(list []SnapshotSummary) error {
	return p.Value(list, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKEY\tCREATED\tBY\tROWS\tDESCRIPTION")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%d\t%s\n",
				s.ID, s.LeagueID, s.SeasonID, s.CreatedAt, s.CreatedBy, s.Entries, s.Description)
		}
		return tw.Flush()
	})
}

// Message prints v as JSON, or the formatted line as text.
func (p Printer) Message(v any, format string, args ...any) error {
	return p.Value(v, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, format+"\n", args...)
		return err
	})
}

func writeJobs(w io.Writer, jobs []model.Job) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEY\tKIND\tSTATUS\tPRIORITY\tATTEMPTS\tENQUEUED\tTOOK\tERROR")
	for i := range jobs {
		j := &jobs[i]
		took := "-"
		if d := j.Duration(); d > 0 {
			took = d.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			j.ID, j.Key(), j.Kind, j.Status, j.Priority, j.Attempts, j.MaxAttempts,
			j.EnqueuedAt.Format(time.RFC3339), took, j.Error)
	}
	return tw.Flush()
}
