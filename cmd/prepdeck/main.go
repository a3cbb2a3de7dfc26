package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "prepdeck",
		Short:         "Delivery order intake: webhook ingestion, enrichment and kitchen publishing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newWorkCmd(),
		newMigrateCmd(),
		newSignCmd(),
		newSpamCmd(),
	)
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg.Level = lvl
	return cfg.Build()
}

// webhookSecret resolves the signing secret the way the server does.
func webhookSecret(flag string) string {
	for _, v := range []string{flag, os.Getenv("WEBHOOK_SECRET"), os.Getenv("UBER_CLIENT_SECRET")} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
