// Command wknotifier polls the WaniKani study queue and notifies when
// lessons or reviews become available.
//
// Usage:
//
//	wknotifier start [--key KEY] [--config PATH]   # run in the foreground
//	wknotifier install --key KEY                   # start at login
//	wknotifier uninstall
//	wknotifier reinstall
//	wknotifier service start|stop
//	wknotifier version
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"wknotifier/internal/config"
	"wknotifier/internal/service"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitUnsupported = 3
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wknotifier",
		Short:         "WaniKani study queue notifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath(), "path to config file (yaml or json)")

	root.AddCommand(startCmd())
	root.AddCommand(installCmd())
	root.AddCommand(uninstallCmd())
	root.AddCommand(reinstallCmd())
	root.AddCommand(serviceCmd())
	root.AddCommand(versionCmd())
	return root
}

func exitCode(err error) int {
	var ce *config.ConfigError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ce):
		return exitConfig
	case errors.Is(err, service.ErrUnsupported):
		return exitUnsupported
	default:
		return exitFailure
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "wknotifier", "config.yaml")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wknotifier %s (%s)\n", version, commit)
		},
	}
}
