// Command reviewforge serves the assertion review API and runs maintenance
// and arbitration tasks against the review action log.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	c := &cli{}
	err := c.rootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		slog.Error("fatal", "error", err)
	}
	if c.closeLog != nil {
		c.closeLog.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// cli carries state resolved by the root command for its subcommands.
type cli struct {
	configPath string
	jsonOut    bool

	cfg      *config.Config
	closeLog logger.Closer
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reviewforge",
		Short:         "Consensus engine for reviewer assertions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(c.configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			c.cfg = cfg
			// One-shot commands keep stdout for their results.
			out := os.Stderr
			if cmd.Name() == "serve" {
				out = os.Stdout
			}
			l, closer := logger.NewWithWriter(cfg.Logging, out)
			slog.SetDefault(l)
			c.closeLog = closer
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.DefaultConfigFile, "YAML configuration file")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print JSON even on a terminal")

	root.AddCommand(
		c.serveCmd(),
		c.migrateCmd(),
		c.exportCmd(),
		c.overviewCmd(),
		c.queueCmd(),
		c.arbitrateCmd(),
		c.undoCmd(),
		c.historyCmd(),
		c.statsCmd(),
	)
	return root
}

// withApp runs fn against freshly wired services and closes them afterwards.
func (c *cli) withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, c.cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
