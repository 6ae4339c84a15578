package main

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wknotifier/internal/config"
	"wknotifier/internal/service"
	logx "wknotifier/pkg/logx"
)

const serviceTimeout = 30 * time.Second

func cliLogger() logx.Logger {
	return logx.NewConsole("info").With(logx.String("comp", "cli"))
}

func newManager(cmd *cobra.Command, env map[string]string, log logx.Logger) (service.Manager, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return service.New(service.Options{ConfigPath: cfgPath, Env: env, Log: log})
}

func installCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Start the notifier automatically at login",
		Long: `Register the notifier to start at login: a systemd user unit on Linux,
a Startup folder script on Windows.

With --key the API key is saved in the OS keyring. If the keyring is not
available on Linux, the key is written into the unit's environment instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			log := cliLogger()
			env, err := storeKey(key, log)
			if err != nil {
				return err
			}
			m, err := newManager(cmd, env, log)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), serviceTimeout)
			defer cancel()
			return m.Install(ctx)
		},
	}
	cmd.Flags().StringP("key", "k", "", "WaniKani API key to store")
	return cmd
}

// storeKey saves key in the keyring and returns the environment the service
// needs when that is impossible.
func storeKey(key string, log logx.Logger) (map[string]string, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	err := config.StoreKey(key)
	if err == nil {
		log.Info("API key saved in the OS keyring")
		return nil, nil
	}
	if runtime.GOOS != "linux" {
		log.Warn("could not save the API key in the OS keyring; set it in the config file", logx.Err(err))
		return nil, nil
	}
	log.Warn("could not save the API key in the OS keyring; writing it into the service unit", logx.Err(err))
	return map[string]string{config.EnvKey: strings.TrimSpace(key)}, nil
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop starting the notifier at login and forget the stored key",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := cliLogger()
			m, err := newManager(cmd, nil, log)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), serviceTimeout)
			defer cancel()
			if err := m.Uninstall(ctx); err != nil {
				return err
			}
			if err := config.DeleteKey(); err != nil {
				log.Warn("could not remove the API key from the OS keyring", logx.Err(err))
			}
			return nil
		},
	}
}

func reinstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reinstall",
		Short: "Re-register the notifier, e.g. after moving the binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd, nil, cliLogger())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), serviceTimeout)
			defer cancel()
			return service.Reinstall(ctx, m)
		},
	}
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Control the installed notifier",
	}
	run := func(op func(service.Manager, context.Context) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd, nil, cliLogger())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), serviceTimeout)
			defer cancel()
			return op(m, ctx)
		}
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the installed notifier",
		RunE:  run(service.Manager.Start),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the running notifier",
		RunE:  run(service.Manager.Stop),
	})
	return cmd
}
