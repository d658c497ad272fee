package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hdevtech/ticket/internal/application/factories/infrastructure"
	"github.com/hdevtech/ticket/internal/config"

	"github.com/spf13/cobra"
)

var Version = "dev"

// app holds what every subcommand needs once config is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	factory *infrastructure.Factory
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "ticketctl",
		Short:         "Operate the ticket ledger and payment settlement",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
			slog.SetDefault(a.logger)
			a.factory = infrastructure.NewFactory(cfg, a.logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.factory != nil {
				a.factory.Close()
			}
		},
	}

	rootCmd.AddCommand(migrateCmd(a))
	rootCmd.AddCommand(pendingCmd(a))
	rootCmd.AddCommand(settleCmd(a))
	rootCmd.AddCommand(outboxCmd(a))
	rootCmd.AddCommand(routeCmd(a))
	rootCmd.AddCommand(tokenCmd(a))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}
