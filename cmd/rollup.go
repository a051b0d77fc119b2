package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/weathermart/internal/model"
	"github.com/sells-group/weathermart/internal/store"
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Recompute daily summaries from hourly facts",
	Long: `Recomputes the daily summary for each selected day and location from
the hourly facts currently stored. Summaries are always fully recomputed,
never patched incrementally, so a re-run after late-arriving facts converges
on the correct aggregates.

Defaults to yesterday and today (UTC) across all tracked locations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		keys, err := rollupKeys(ctx, cmd, st)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No day/location keys to roll up")
			return nil
		}

		p := initPipeline(st, false)

		res, err := p.RunRollup(ctx, keys)
		if err != nil {
			return eris.Wrap(err, "rollup")
		}

		fmt.Printf("Rolled up %d keys: %d summaries written, %d empty\n",
			res.Keys, res.RowsWritten, len(res.EmptyKeys))
		return nil
	},
}

func init() {
	rollupCmd.Flags().String("start", "", "first day to recompute (YYYY-MM-DD, default yesterday)")
	rollupCmd.Flags().String("end", "", "last day to recompute (YYYY-MM-DD, default today)")
	rollupCmd.Flags().String("locations", "", "comma-separated location keys (default all current)")
	rootCmd.AddCommand(rollupCmd)
}

// rollupKeys expands the flag window into day/location keys.
func rollupKeys(ctx context.Context, cmd *cobra.Command, st store.Store) ([]model.DayKey, error) {
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	locationsStr, _ := cmd.Flags().GetString("locations")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -1)
	end := today

	if startStr != "" {
		t, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return nil, eris.Wrapf(err, "parse --start %q", startStr)
		}
		start = t
	}
	if endStr != "" {
		t, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return nil, eris.Wrapf(err, "parse --end %q", endStr)
		}
		end = t
	}
	if end.Before(start) {
		return nil, eris.Errorf("end %s is before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	locs := splitLocations(locationsStr)
	if len(locs) == 0 {
		var err error
		locs, err = st.CurrentLocationKeys(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "rollup: list locations")
		}
	}

	var keys []model.DayKey
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for _, loc := range locs {
			keys = append(keys, model.DayKey{LocationKey: loc, Date: d})
		}
	}
	return keys, nil
}
