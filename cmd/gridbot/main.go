// gridbot — grid-strategy backtest runner.
//
// Main CLI entrypoint using the cobra command framework.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/evdnx/gridbot/backtest"
	"github.com/evdnx/gridbot/config"
	"github.com/evdnx/gridbot/logger"
	"github.com/evdnx/gridbot/store"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridbot",
	Short: "gridbot — grid-trading simulation and order-planning engine",
	Long: `gridbot reconstructs, tick by tick, the orders a grid strategy would
place, fills them against observed prices, and reports fills and equity
telemetry for the run.`,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringSlice("config", nil, "config file path(s); one simulation per file")
	backtestCmd.Flags().String("ticks", "", "CSV file of ticks: timestamp_ms,qty,price")
	backtestCmd.Flags().Float64("sample-ms", 1000, "resampling bucket size in ms (0 = raw ticks)")
	backtestCmd.Flags().String("db", "gridbot.db", "SQLite database for run results (empty = no persistence)")
	backtestCmd.Flags().String("metrics-addr", "", "expose prometheus metrics on this address while running")
	backtestCmd.MarkFlagRequired("ticks")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gridbot %s (%s)\n", version, commit)
	},
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run one or more grid-strategy simulations over a tick file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPaths, _ := cmd.Flags().GetStringSlice("config")
		ticksPath, _ := cmd.Flags().GetString("ticks")
		sampleMS, _ := cmd.Flags().GetFloat64("sample-ms")
		dbPath, _ := cmd.Flags().GetString("db")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		log, err := logger.New()
		if err != nil {
			return fmt.Errorf("logger setup failed: %w", err)
		}

		if metricsAddr != "" {
			go func() {
				http.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(metricsAddr, nil); err != nil {
					log.Error("metrics server failed", logger.Err(err))
				}
			}()
		}

		ticks, err := loadTicksCSV(ticksPath)
		if err != nil {
			return fmt.Errorf("load ticks: %w", err)
		}
		if sampleMS > 0 {
			ticks = backtest.Samples(ticks, sampleMS)
		}
		log.Info("ticks loaded",
			logger.String("path", ticksPath),
			logger.Int("count", len(ticks)))

		var cfgs []*config.BotConfig
		if len(configPaths) == 0 {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgs = append(cfgs, cfg)
		}
		for _, path := range configPaths {
			cfg, err := config.LoadFromFile(path)
			if err != nil {
				return fmt.Errorf("load config %s: %w", path, err)
			}
			cfgs = append(cfgs, cfg)
		}

		var db *store.DB
		if dbPath != "" {
			db, err = store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
		}

		// Simulations share nothing; run them concurrently.
		results := make([]*backtest.Result, len(cfgs))
		var g errgroup.Group
		for i, cfg := range cfgs {
			g.Go(func() error {
				engine, err := backtest.New(*cfg, log)
				if err != nil {
					return err
				}
				res, err := engine.Run(ticks)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, res := range results {
			log.Info("simulation finished",
				logger.Int("run", i),
				logger.Int("fills", len(res.Fills)),
				logger.Int("stats", len(res.Stats)))
			if db != nil {
				runID, err := db.SaveRun(cfgs[i], res)
				if err != nil {
					return fmt.Errorf("persist run %d: %w", i, err)
				}
				fmt.Printf("run %d saved as %s (%d fills, %d stats)\n",
					i, runID, len(res.Fills), len(res.Stats))
			}
		}
		return nil
	},
}
