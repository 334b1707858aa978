package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"archsync/internal/config"
	"archsync/internal/logger"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "archsync:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "archsync",
		Short:         "Sync an architecture document into a graph and govern changes to it",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml) with the same keys as the environment")

	rootCmd.AddCommand(
		syncCmd(opts),
		serveCmd(opts),
		migrateCmd(opts),
		searchCmd(opts),
		hashKeyCmd(),
		versionCmd(),
	)
	return rootCmd
}

// load reads configuration and builds the process logger.
func (o *rootOptions) load() (config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	return cfg, log, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
