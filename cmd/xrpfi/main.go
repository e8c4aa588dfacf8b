package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vitwit/xrpfi"
	"github.com/vitwit/xrpfi/config"
	"github.com/vitwit/xrpfi/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "xrpfi",
		Short:        "XRPL to Flare yield bridge",
		Version:      xrpfi.Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the TOML config file")

	loadConfig := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(
		newServeCmd(loadConfig),
		newMemoCmd(),
		newDeriveAddressCmd(),
		newStatusCmd(loadConfig),
		newRetryCmd(loadConfig),
		newKeygenCmd(),
	)
	return root
}

type configLoader func() (*config.Config, error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the listener, settlement workers and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			lg := logger.NewZapLoggerWithFile(cfg.Log.Level, logger.FileOptions{
				Path:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAgeDays: cfg.Log.MaxAgeDays,
			})
			if z, ok := lg.(*logger.ZapLogger); ok {
				defer func() { _ = z.Sync() }()
			}

			app, err := xrpfi.New(cfg, xrpfi.WithLogger(lg))
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lg.Info("starting xrpfi", map[string]any{"version": xrpfi.Version, "http": cfg.HTTP.Addr})
			if err := app.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			lg.Info("shutdown complete", nil)
			return nil
		},
	}
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
