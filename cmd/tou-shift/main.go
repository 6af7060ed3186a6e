package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awaistahir/tou-shift/internal/app"
	"github.com/awaistahir/tou-shift/internal/config"
	"github.com/awaistahir/tou-shift/internal/engine"
	"github.com/awaistahir/tou-shift/internal/logger"
	"github.com/awaistahir/tou-shift/internal/store"
	"github.com/awaistahir/tou-shift/internal/tariff"
)

var (
	cfgFile string
	cfg     *config.Config
	log     zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tou-shift",
		Short: "tou-shift - Move appliance run hours out of peak tariff bands",
		Long: `tou-shift turns each appliance's predicted 24-hour ON/OFF schedule into one
that keeps the same number of run hours while avoiding peak-price hours,
and reports what the change saves.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return nil
			}
			var err error
			if cfg, err = config.Load(cfgFile); err != nil {
				return err
			}
			log = logger.New(cfg.Log)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tou-shift/config.yaml)")

	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(bandsCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(applianceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func planCmd() *cobra.Command {
	var (
		tariffFile  string
		online      bool
		preferences string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Run one scheduling cycle and write the optimized schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("preferences") {
				cfg.Planner.Preferences = preferences
			}

			a, err := app.New(cfg, log, app.Options{Bus: online, TariffFile: tariffFile})
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.Runner.Run(context.Background())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			}

			currency := c.Tariff.Spec.Currency
			fmt.Printf("Cycle %s (tariff: %s)\n\n", c.ID, c.Tariff.Origin)
			fmt.Printf("%-24s %-12s %10s %10s %10s  %s\n", "APPLIANCE", "CANDIDATE", "BEFORE", "AFTER", "SAVED", "ON HOURS")
			for _, res := range c.Report.Results {
				x := res.Explanation
				fmt.Printf("%-24s %-12s %10.2f %10.2f %10.2f  %s\n",
					res.Appliance, res.Outcome, x.BaselineCost, x.OptimizedCost, x.Savings, hours(x.OptimizedOnHours))
			}
			fmt.Printf("\nTotal: %.2f -> %.2f %s, saved %.2f (%.1f%%)\n",
				c.Report.Baseline, c.Report.Optimized, currency, c.Report.Savings, c.Report.Percent)
			fmt.Printf("Schedules: %s\nExplanations: %s\n", cfg.OutputFile, cfg.ExplanationsFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tariffFile, "tariff-file", "t", "", "tariff JSON file to use instead of the bus")
	cmd.Flags().BoolVar(&online, "online", false, "connect to the MQTT broker for tariffs and publish the result")
	cmd.Flags().StringVarP(&preferences, "preferences", "p", "", `user message, e.g. "Allow AC_Power ON during peak hours"`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the cycle as JSON")

	return cmd
}

func bandsCmd() *cobra.Command {
	var tariffFile string

	cmd := &cobra.Command{
		Use:   "bands",
		Short: "Show the band and price of every hour",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := cfg.Tariff.Default.Spec()
			if err != nil {
				return err
			}
			if tariffFile != "" {
				if spec, err = tariff.FileSource(tariffFile).Fetch(cmd.Context()); err != nil {
					return err
				}
			}

			pm, err := engine.Resolve(spec)
			if err != nil {
				return err
			}

			fmt.Printf("%-6s %-9s %10s\n", "HOUR", "BAND", "PRICE")
			for h, p := range pm {
				fmt.Printf("%02d:00  %-9s %10.2f %s\n", h, p.Band, p.Price, spec.Currency)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tariffFile, "tariff-file", "t", "", "tariff JSON file (default is the configured default tariff)")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = filepath.Join(config.Dir(), "config.yaml")
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return err
			}

			v := viper.New()
			config.SetDefaults(v)
			if err := v.SafeWriteConfigAs(path); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			fmt.Printf("✓ Wrote default configuration\n")
			fmt.Printf("Config: %s\n", path)
			return nil
		},
	}
}

func applianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appliance",
		Short: "Manage stored appliance settings",
	}

	cmd.AddCommand(applianceAddCmd())
	cmd.AddCommand(applianceListCmd())
	cmd.AddCommand(applianceRemoveCmd())

	return cmd
}

func openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0755); err != nil {
		return nil, err
	}
	st, err := store.NewStore(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return st, nil
}

func applianceAddCmd() *cobra.Command {
	var (
		a        store.Appliance
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update an appliance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Name == "" {
				return fmt.Errorf("--name is required")
			}
			if a.PowerKWh <= 0 {
				return fmt.Errorf("--kwh must be positive")
			}
			if a.MinOns < 0 || a.MinOns > engine.HoursPerDay {
				return fmt.Errorf("--min-ons must be within [0,%d]", engine.HoursPerDay)
			}
			a.Enabled = !disabled

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SaveAppliance(cmd.Context(), a); err != nil {
				return fmt.Errorf("saving appliance: %w", err)
			}

			fmt.Printf("✓ Saved appliance: %s\n", a.Name)
			fmt.Printf("  Power: %.2f kWh per hour\n", a.PowerKWh)
			fmt.Printf("  Minimum ON hours: %d\n", a.MinOns)
			fmt.Printf("  Peak allowed: %t\n", a.AllowPeak)
			return nil
		},
	}

	cmd.Flags().StringVarP(&a.Name, "name", "n", "", "Appliance name (required)")
	cmd.Flags().Float64VarP(&a.PowerKWh, "kwh", "k", 1.0, "Energy drawn per ON hour")
	cmd.Flags().IntVar(&a.MinOns, "min-ons", 0, "Minimum ON hours per day")
	cmd.Flags().Float64Var(&a.ThresholdRatio, "threshold", 0.8, "Sensor threshold ratio for ON detection")
	cmd.Flags().BoolVar(&a.AllowPeak, "allow-peak", false, "Allow ON hours during peak")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Store the appliance as disabled")

	return cmd
}

func applianceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored and configured appliances",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			stored, err := st.GetAppliances(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("%-26s %-8s %8s %8s %10s %6s %8s\n", "NAME", "SOURCE", "KWH", "MIN ON", "THRESHOLD", "PEAK", "ENABLED")
			seen := map[string]bool{}
			for _, a := range stored {
				seen[a.Name] = true
				printAppliance(a, "db")
			}
			for _, a := range cfg.StoreAppliances() {
				if !seen[a.Name] {
					printAppliance(a, "config")
				}
			}
			return nil
		},
	}
}

func printAppliance(a store.Appliance, source string) {
	fmt.Printf("%-26s %-8s %8.2f %8d %10.2f %6t %8t\n",
		a.Name, source, a.PowerKWh, a.MinOns, a.ThresholdRatio, a.AllowPeak, a.Enabled)
}

func applianceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a stored appliance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteAppliance(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Removed appliance: %s\n", args[0])
			return nil
		},
	}
}

func hours(hs []int) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = fmt.Sprintf("%02d", h)
	}
	return strings.Join(parts, ",")
}
