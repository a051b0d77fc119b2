package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/weathermart/internal/pipeline"
)

var flattenCmd = &cobra.Command{
	Use:   "flatten",
	Short: "Flatten raw snapshots into hourly facts",
	Long: `Flattens pending raw snapshots into hourly fact rows. Facts whose
hour already exists are discarded, so re-running is always safe.

By default only snapshots newer than the last successful flatten run are
processed. Use --since/--until for an explicit window, or --all to reprocess
everything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts, err := parseFlattenOpts(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		p := initPipeline(st, false)

		res, err := p.RunFlatten(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "flatten")
		}

		fmt.Printf("Flattened %d snapshots: %d rows written, %d duplicates discarded, %d malformed\n",
			res.Snapshots, res.RowsWritten, res.Discarded, res.Malformed)
		return nil
	},
}

func init() {
	flattenCmd.Flags().String("since", "", "lower bound on snapshot retrieval time (RFC 3339)")
	flattenCmd.Flags().String("until", "", "upper bound on snapshot retrieval time (RFC 3339)")
	flattenCmd.Flags().String("locations", "", "comma-separated location keys")
	flattenCmd.Flags().Bool("all", false, "ignore the incremental watermark and reprocess all snapshots")
	rootCmd.AddCommand(flattenCmd)
}

// parseFlattenOpts extracts pipeline.FlattenOpts from the cobra command flags.
func parseFlattenOpts(cmd *cobra.Command) (pipeline.FlattenOpts, error) {
	sinceStr, _ := cmd.Flags().GetString("since")
	untilStr, _ := cmd.Flags().GetString("until")
	locationsStr, _ := cmd.Flags().GetString("locations")
	all, _ := cmd.Flags().GetBool("all")

	opts := pipeline.FlattenOpts{Incremental: !all}

	if sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return pipeline.FlattenOpts{}, eris.Wrapf(err, "parse --since %q", sinceStr)
		}
		opts.Filter.Since = &t
	}
	if untilStr != "" {
		t, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return pipeline.FlattenOpts{}, eris.Wrapf(err, "parse --until %q", untilStr)
		}
		opts.Filter.Until = &t
	}
	opts.Filter.Locations = splitLocations(locationsStr)

	return opts, nil
}

// splitLocations parses a comma-separated location key list.
func splitLocations(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
