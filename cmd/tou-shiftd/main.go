package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/awaistahir/tou-shift/internal/app"
	"github.com/awaistahir/tou-shift/internal/config"
	"github.com/awaistahir/tou-shift/internal/logger"
)

func main() {
	var (
		cfgFile string
		addr    string
		offline bool
	)

	rootCmd := &cobra.Command{
		Use:          "tou-shiftd",
		Short:        "tou-shift scheduling daemon with HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			log := logger.New(cfg.Log)
			svc, err := app.New(cfg, log, app.Options{Bus: !offline})
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					log.Error().Err(err).Msg("service close")
				}
			}()

			log.Info().
				Str("db", cfg.DB).
				Str("broker", cfg.MQTT.Broker).
				Dur("interval", cfg.Planner.Interval).
				Bool("llm", cfg.LLM.Enabled).
				Msg("tou-shiftd starting")
			return svc.Serve(ctx)
		},
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tou-shift/config.yaml)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides http.addr)")
	rootCmd.Flags().BoolVar(&offline, "offline", false, "run without the MQTT broker")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
