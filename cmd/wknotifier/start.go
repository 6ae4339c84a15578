package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wknotifier/internal/app"
)

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the notifier in the foreground",
		Long: `Run the notifier until interrupted (Ctrl+C) or SIGTERM.

The API key is taken from --key, then WANIKANI_API_KEY, then the config
file, then the OS keyring (stored by "install --key").`,
		RunE: runStart,
	}
	cmd.Flags().StringP("key", "k", "", "WaniKani API key")
	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	key, _ := cmd.Flags().GetString("key")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(app.Options{ConfigPath: cfgPath, Key: key, Version: version})
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
