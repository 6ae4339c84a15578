//go:build linux

package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/dbus"

	logx "wknotifier/pkg/logx"
)

const unitName = Name + ".service"

// unitConn is the subset of the systemd user bus used here.
type unitConn interface {
	ReloadContext(ctx context.Context) error
	EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []dbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]dbus.DisableUnitFileChange, error)
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	Close()
}

var dialUser = func(ctx context.Context) (unitConn, error) {
	return dbus.NewUserConnectionContext(ctx)
}

type systemdManager struct {
	opts    Options
	unitDir string
	log     logx.Logger
}

// New returns the systemd user-unit manager.
func New(opts Options) (Manager, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return &systemdManager{
		opts:    opts,
		unitDir: filepath.Join(dir, "systemd", "user"),
		log:     opts.Log,
	}, nil
}

func (m *systemdManager) unitPath() string { return filepath.Join(m.unitDir, unitName) }

func (m *systemdManager) withConn(ctx context.Context, fn func(c unitConn) error) error {
	c, err := dialUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd user manager: %w", err)
	}
	defer c.Close()
	return fn(c)
}

func (m *systemdManager) Install(ctx context.Context) error {
	if err := os.MkdirAll(m.unitDir, 0o755); err != nil {
		return err
	}
	// The unit may carry the API key.
	if err := os.WriteFile(m.unitPath(), []byte(renderUnit(m.opts)), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", m.unitPath(), err)
	}
	err := m.withConn(ctx, func(c unitConn) error {
		if err := c.ReloadContext(ctx); err != nil {
			return fmt.Errorf("failed to reload systemd: %w", err)
		}
		if _, _, err := c.EnableUnitFilesContext(ctx, []string{unitName}, false, true); err != nil {
			return fmt.Errorf("failed to enable %s: %w", unitName, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info("service installed", logx.String("unit", m.unitPath()))
	return nil
}

func (m *systemdManager) Uninstall(ctx context.Context) error {
	if _, err := os.Stat(m.unitPath()); errors.Is(err, fs.ErrNotExist) {
		m.log.Info("service not installed")
		return nil
	}
	err := m.withConn(ctx, func(c unitConn) error {
		if _, err := c.DisableUnitFilesContext(ctx, []string{unitName}, false); err != nil {
			return fmt.Errorf("failed to disable %s: %w", unitName, err)
		}
		if err := os.Remove(m.unitPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := c.ReloadContext(ctx); err != nil {
			return fmt.Errorf("failed to reload systemd: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info("service uninstalled", logx.String("unit", m.unitPath()))
	return nil
}

func (m *systemdManager) Start(ctx context.Context) error {
	return m.withConn(ctx, func(c unitConn) error {
		ch := make(chan string, 1)
		if _, err := c.StartUnitContext(ctx, unitName, "replace", ch); err != nil {
			return fmt.Errorf("failed to start %s: %w", unitName, err)
		}
		return waitJob(ctx, "start", ch)
	})
}

func (m *systemdManager) Stop(ctx context.Context) error {
	return m.withConn(ctx, func(c unitConn) error {
		ch := make(chan string, 1)
		if _, err := c.StopUnitContext(ctx, unitName, "replace", ch); err != nil {
			return fmt.Errorf("failed to stop %s: %w", unitName, err)
		}
		return waitJob(ctx, "stop", ch)
	})
}

func waitJob(ctx context.Context, op string, ch <-chan string) error {
	select {
	case res := <-ch:
		if res != "done" {
			return fmt.Errorf("failed to %s %s: job %s", op, unitName, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
