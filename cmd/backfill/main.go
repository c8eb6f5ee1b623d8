package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smukkama/campus-energy/internal/app"
	"github.com/smukkama/campus-energy/internal/simulation"
	"github.com/smukkama/campus-energy/internal/tick"
	"github.com/smukkama/campus-energy/pkg/config"
)

var (
	days     int           // Days of history ending now
	interval time.Duration // Spacing between backfilled ticks
	startStr string        // Explicit range start (RFC3339), overrides --days
	endStr   string        // Explicit range end (RFC3339), defaults to now
	seed     int64         // Seed for the load model, 0 uses SIM_SEED or the clock
	confirm  bool          // Write even if the range already holds readings
	publish  bool          // Stream backfilled readings to Kafka
	logLevel string        // Log verbosity level
)

var rootCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Generate historical energy readings over a past time range",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := app.ConfigureLogging(logLevel); err != nil {
			return err
		}

		tickCfg, err := app.TickConfig(cfg)
		if err != nil {
			return err
		}
		start, end, err := resolveRange(time.Now().In(tickCfg.Location), tickCfg.Location)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stack, err := app.Open(ctx, cfg, publish)
		if err != nil {
			return err
		}
		defer stack.Close()

		existing, err := stack.DB.CountReadings(ctx, start, end)
		if err != nil {
			return err
		}
		if existing > 0 && !confirm {
			return fmt.Errorf("%d readings already exist between %s and %s; rerun with --confirm to add more",
				existing, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}

		if seed == 0 {
			seed = cfg.Simulation.SeedOrNow()
		}
		driver := tick.NewDriver(stack.Catalog, stack.DB, simulation.NewRNG(seed), tickCfg, stack.DriverOptions(false)...)

		fmt.Printf("Backfilling %s to %s every %s (seed %d)\n",
			start.Format(time.RFC3339), end.Format(time.RFC3339), interval, seed)
		summary, err := driver.Backfill(ctx, start, end, interval)
		if summary != nil {
			fmt.Printf("\n✓ Ticks: %d | Readings: %d | Optimized: %d | Failed passes: %d\n",
				summary.Ticks, summary.Readings, summary.Optimized, summary.Failed)
		}
		return err
	},
}

// resolveRange picks [start, end] from the flags, aligning a --days range
// to the interval
func resolveRange(now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	end := tick.AlignDown(now, interval, loc)
	if endStr != "" {
		t, err := time.ParseInLocation(time.RFC3339, endStr, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
		end = t
	}

	start := end.AddDate(0, 0, -days)
	if startStr != "" {
		t, err := time.ParseInLocation(time.RFC3339, startStr, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
		start = t
	}

	if interval <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("--interval must be positive")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("range end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}

func init() {
	rootCmd.Flags().IntVar(&days, "days", 7, "Days of history ending now")
	rootCmd.Flags().DurationVar(&interval, "interval", 60*time.Minute, "Spacing between backfilled ticks")
	rootCmd.Flags().StringVar(&startStr, "start", "", "Range start (RFC3339), overrides --days")
	rootCmd.Flags().StringVar(&endStr, "end", "", "Range end (RFC3339), defaults to now")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "Seed for the load model (0 uses SIM_SEED or the clock)")
	rootCmd.Flags().BoolVar(&confirm, "confirm", false, "Write even if the range already holds readings")
	rootCmd.Flags().BoolVar(&publish, "publish", false, "Stream backfilled readings to Kafka")
	rootCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
