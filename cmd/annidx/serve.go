package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/annidx/annidx/server"
)

var (
	addr      string
	dimension int
	metric    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the index server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr != "" {
			cfg.Addr = addr
		}
		if dimension > 0 {
			cfg.Index.Dimension = dimension
		}
		if metric != "" {
			cfg.Index.Metric = metric
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().IntVar(&dimension, "dimension", 0, "vector dimension (overrides config)")
	serveCmd.Flags().StringVar(&metric, "metric", "", "distance metric: cosine, l2 or ip (overrides config)")
}

func loadConfig() (server.Config, error) {
	cfg := server.DefaultConfig()
	if cfgFile != "" {
		var err error
		cfg, err = server.LoadConfig(cfgFile)
		if err != nil {
			return server.Config{}, err
		}
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	return cfg, nil
}
