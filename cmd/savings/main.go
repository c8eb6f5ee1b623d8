package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smukkama/campus-energy/internal/aggregation"
	"github.com/smukkama/campus-energy/internal/app"
	"github.com/smukkama/campus-energy/pkg/config"
)

var (
	startStr string // Window start (RFC3339)
	endStr   string // Window end (RFC3339)
	asJSON   bool   // Print JSON instead of text
	logLevel string // Log verbosity level
)

var rootCmd = &cobra.Command{
	Use:   "savings",
	Short: "Report optimizer savings and status from the reading log",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.ConfigureLogging(logLevel)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Estimate energy, cost and CO2 avoided over a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseOptionalTime("--start", startStr)
		if err != nil {
			return err
		}
		end, err := parseOptionalTime("--end", endStr)
		if err != nil {
			return err
		}

		return withEstimator(cmd.Context(), func(est *aggregation.SavingsEstimator) error {
			summary, err := est.Summary(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show optimization coverage of the latest tick",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEstimator(cmd.Context(), func(est *aggregation.SavingsEstimator) error {
			status, err := est.Status(cmd.Context())
			if errors.Is(err, aggregation.ErrNoData) {
				fmt.Fprintln(cmd.OutOrStdout(), "No readings recorded yet")
				return nil
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		})
	},
}

var lastPassCmd = &cobra.Command{
	Use:   "last-pass",
	Short: "Show the summary of the last finished simulation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.Redis.Enabled {
			return fmt.Errorf("last pass is kept in Redis, which is disabled")
		}
		stack, err := app.Open(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer stack.Close()

		last, err := stack.State.LastPass(cmd.Context())
		if err != nil {
			return err
		}
		if last == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No pass recorded yet")
			return nil
		}
		return writeJSON(cmd.OutOrStdout(), last)
	},
}

func withEstimator(ctx context.Context, fn func(*aggregation.SavingsEstimator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Redis.Enabled = false
	stack, err := app.Open(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer stack.Close()

	return fn(aggregation.NewSavingsEstimator(stack.DB, app.SavingsConfig(cfg)))
}

func parseOptionalTime(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return &t, nil
}

func printSummary(w io.Writer, s *aggregation.SavingsSummary) {
	window := "all time"
	if s.Start != nil || s.End != nil {
		window = fmt.Sprintf("%s .. %s", formatBound(s.Start), formatBound(s.End))
	}
	fmt.Fprintf(w, "Window:              %s\n", window)
	fmt.Fprintf(w, "Optimizations:       %d\n", s.TotalOptimizations)
	fmt.Fprintf(w, "Energy saved (kWh):  %.2f\n", s.EnergySavedKWh)
	fmt.Fprintf(w, "Cost saved:          %.2f\n", s.CostSaved)
	fmt.Fprintf(w, "CO2 reduced (kg):    %.2f\n", s.CO2ReducedKg)
}

func printStatus(w io.Writer, s *aggregation.OptimizationStatus) {
	fmt.Fprintf(w, "Latest tick:         %s\n", s.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Spaces:              %d\n", s.TotalSpaces)
	fmt.Fprintf(w, "Optimized:           %d\n", s.Optimized)
	fmt.Fprintf(w, "Not optimized:       %d\n", s.NotOptimized)
	fmt.Fprintf(w, "Optimization rate:   %.2f%%\n", s.OptimizationRate)
	fmt.Fprintf(w, "Campus load (kW):    %.2f\n", s.TotalLoadKW)
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "*"
	}
	return t.Format(time.RFC3339)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	summaryCmd.Flags().StringVar(&startStr, "start", "", "Window start (RFC3339)")
	summaryCmd.Flags().StringVar(&endStr, "end", "", "Window end (RFC3339)")

	rootCmd.AddCommand(summaryCmd, statusCmd, lastPassCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
