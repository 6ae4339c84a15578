// Package service registers the notifier to start at user login and controls
// the registered instance: a systemd user unit on Linux and a Startup-folder
// script on Windows.
package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	logx "wknotifier/pkg/logx"
)

// Name is the unit/script base name.
const Name = "wknotifier"

// ErrUnsupported is returned by every operation on platforms without a
// login-startup integration.
var ErrUnsupported = errors.New("service: platform not supported")

// Options describe the command registered for login startup.
type Options struct {
	// Executable defaults to the running binary.
	Executable string
	// ConfigPath, when set, is passed as --config.
	ConfigPath string
	// Env is exported to the service (Linux only), e.g. a fallback API key.
	Env map[string]string
	Log logx.Logger
}

// Manager installs and controls the login-startup registration.
type Manager interface {
	Install(ctx context.Context) error
	// Uninstall succeeds when nothing is installed.
	Uninstall(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Reinstall uninstalls then installs, refreshing the registered command.
func Reinstall(ctx context.Context, m Manager) error {
	if err := m.Uninstall(ctx); err != nil {
		return err
	}
	return m.Install(ctx)
}

func (o Options) withDefaults() (Options, error) {
	if strings.TrimSpace(o.Executable) == "" {
		exe, err := os.Executable()
		if err != nil {
			return o, err
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		o.Executable = exe
	}
	if o.ConfigPath != "" {
		if abs, err := filepath.Abs(o.ConfigPath); err == nil {
			o.ConfigPath = abs
		}
	}
	return o, nil
}

// startArgs is the command line run at login.
func (o Options) startArgs() []string {
	args := []string{o.Executable, "start"}
	if o.ConfigPath != "" {
		args = append(args, "--config", o.ConfigPath)
	}
	return args
}
