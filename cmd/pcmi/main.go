// Command pcmi runs the image service and its administrative tasks.
//
//	pcmi serve                 run the HTTP server
//	pcmi worker                run queued flushes
//	pcmi flush                 delete generated variants
//	pcmi locate <identity>     show where an asset is stored
//	pcmi lookup add|get        edit the embedded document database
//
// Settings come from the file given by --config (or $PCM_CONFIG) and the
// environment. See package config.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	raven "github.com/getsentry/raven-go"
	"github.com/spf13/cobra"

	"github.com/groupclaes/pcm-api-i/config"
)

var configFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pcmi: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pcmi",
		Short:        "Product image delivery service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("PCM_CONFIG"), "TOML config file")
	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newFlushCmd(),
		newLocateCmd(),
		newLookupCmd(),
	)
	return cmd
}

// setup loads the configuration and installs the logger and the error
// reporter it asks for.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(log)
	if cfg.SentryDSN != "" {
		if err := raven.SetDSN(cfg.SentryDSN); err != nil {
			log.Warn("sentry disabled", "error", err)
		}
	}
	return cfg, log, nil
}

func contentRoot(cfg *config.Config) string {
	return filepath.Join(cfg.DataPath, "content")
}
