package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/weathermart/internal/config"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Fetch forecasts and append raw snapshots",
	Long: `Fetches one hourly forecast per tracked location and appends each
response as a raw snapshot. Extraction never transforms the payload; the
flatten stage picks the snapshots up later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "extract"))

		locations, err := config.LoadLocations(cfg.Extract.LocationsFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		p := initPipeline(st, true)

		log.Info("starting extract", zap.Int("locations", len(locations)))

		res, err := p.RunExtract(ctx, locations)
		if err != nil {
			return eris.Wrap(err, "extract")
		}

		fmt.Printf("Extracted %d snapshots (%d failed)\n", res.Locations, res.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
