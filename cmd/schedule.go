package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/weathermart/internal/config"
	"github.com/sells-group/weathermart/internal/model"
	"github.com/sells-group/weathermart/internal/pipeline"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on an interval",
	Long: `Runs extract, flatten, and rollup on a fixed interval until
interrupted. Each cycle runs the stages in order; a stage failure skips the
rest of the cycle and the next interval retries from the top, which is safe
because every stage is idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := zap.L().With(zap.String("command", "schedule"))

		locations, err := config.LoadLocations(cfg.Extract.LocationsFile)
		if err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		p := initPipeline(st, true)

		minutes := cfg.Schedule.IntervalMins
		if minutes <= 0 {
			minutes = 60
		}

		sched := gocron.NewScheduler(time.UTC)
		_, err = sched.Every(minutes).Minutes().Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(minutes)*time.Minute)
			defer cancel()
			runCycle(ctx, p, locations)
		})
		if err != nil {
			return eris.Wrap(err, "schedule: register job")
		}

		log.Info("scheduler started",
			zap.Int("interval_mins", minutes),
			zap.Int("locations", len(locations)),
		)
		sched.StartAsync()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		sched.Stop()
		fmt.Println("Scheduler stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

// runCycle executes one extract-flatten-rollup pass.
func runCycle(ctx context.Context, p *pipeline.Pipeline, locations []model.Location) {
	log := zap.L().With(zap.String("command", "schedule"))
	log.Info("cycle starting")

	if _, err := p.RunExtract(ctx, locations); err != nil {
		log.Error("extract failed, skipping rest of cycle", zap.Error(err))
		return
	}

	flatRes, err := p.RunFlatten(ctx, pipeline.FlattenOpts{Incremental: true})
	if err != nil {
		log.Error("flatten failed, skipping rollup", zap.Error(err))
		return
	}

	if len(flatRes.AffectedDays) == 0 {
		log.Info("cycle complete, no days touched")
		return
	}

	if _, err := p.RunRollup(ctx, flatRes.AffectedDays); err != nil {
		log.Error("rollup failed", zap.Error(err))
		return
	}

	log.Info("cycle complete", zap.Int("days", len(flatRes.AffectedDays)))
}
