package ranking

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/okian/standings/internal/domain/model"
)

// Render writes entries as an aligned plain-text table.
func Render(w io.Writer, entries []model.TableEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	if _, err := fmt.Fprintln(tw, "#\tTeam\tP\tW\tD\tL\tGF\tGA\tGD\tPts\t"); err != nil {
		return err
	}
	for _, e := range entries {
		name := e.TeamName
		if name == "" {
			name = e.TeamID
		}
		if _, err := fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%+d\t%d\t\n",
			e.Rank, name, e.Played, e.Won, e.Drawn, e.Lost, e.GoalsFor, e.GoalsAgainst, e.GoalDifference, e.Points); err != nil {
			return err
		}
	}
	return tw.Flush()
}
