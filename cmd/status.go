package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/weathermart/internal/store"
	"github.com/sells-group/weathermart/internal/warehouse"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent stage runs",
	Long:  "Displays the stage run log: the completion signals emitted by extract, flatten, and rollup.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		pg, ok := st.(*store.PostgresStore)
		if !ok {
			zap.L().Info("stage runs are kept in memory for the sqlite backend; nothing to show")
			return nil
		}

		runs, err := warehouse.NewRunLog(pg.Pool()).ListRecent(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(runs) == 0 {
			zap.L().Info("no stage runs recorded, run 'extract' to start the pipeline")
			return nil
		}

		formatStageRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 20, "maximum runs to show")
	rootCmd.AddCommand(statusCmd)
}

// formatStageRuns writes a tabular representation of stage runs to w.
func formatStageRuns(out io.Writer, runs []warehouse.StageRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTAGE\tSTATUS\tSTARTED\tDURATION\tKEYS\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-------\t--------\t----\t----\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			d := r.CompletedAt.Sub(r.StartedAt).Round(time.Second)
			dur = d.String()
		}

		errMsg := ""
		if r.Error != "" {
			errMsg = truncate(r.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			r.Stage,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.KeyCount,
			r.RowsWritten,
			errMsg,
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
