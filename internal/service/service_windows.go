//go:build windows

package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/windows/registry"

	logx "wknotifier/pkg/logx"
)

const shellFoldersKey = `Software\Microsoft\Windows\CurrentVersion\Explorer\Shell Folders`

type startupManager struct {
	opts Options
	log  logx.Logger
}

// New returns the Startup-folder manager.
func New(opts Options) (Manager, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &startupManager{opts: opts, log: opts.Log}, nil
}

func startupDir() (string, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, shellFoldersKey, registry.QUERY_VALUE)
	if err != nil {
		return "", fmt.Errorf("failed to open shell folders key: %w", err)
	}
	defer k.Close()
	dir, _, err := k.GetStringValue("Startup")
	if err != nil {
		return "", fmt.Errorf("failed to read startup folder: %w", err)
	}
	return dir, nil
}

func scriptPath() (string, error) {
	dir, err := startupDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, Name+"-startup.vbs"), nil
}

func (m *startupManager) Install(context.Context) error {
	path, err := scriptPath()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(renderStartupScript(m.opts)), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	m.log.Info("service installed", logx.String("script", path))
	return nil
}

func (m *startupManager) Uninstall(context.Context) error {
	path, err := scriptPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.log.Info("service not installed")
			return nil
		}
		return err
	}
	m.log.Info("service uninstalled", logx.String("script", path))
	return nil
}

func (m *startupManager) Start(ctx context.Context) error {
	path, err := scriptPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("service not installed: %w", err)
	}
	if err := exec.CommandContext(ctx, "wscript.exe", path).Run(); err != nil {
		return fmt.Errorf("failed to start %s: %w", path, err)
	}
	return nil
}

func (m *startupManager) Stop(context.Context) error {
	lock, err := LockPath()
	if err != nil {
		return err
	}
	pids, err := ReadLock(lock)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		m.log.Info("no running instance")
		return nil
	}
	var errs []error
	for _, pid := range pids {
		p, err := os.FindProcess(pid)
		if err != nil {
			m.log.Debug("process already gone", logx.Int("pid", pid))
			continue
		}
		if err := p.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill %d: %w", pid, err))
			continue
		}
		m.log.Info("stopped instance", logx.Int("pid", pid))
	}
	if len(errs) == 0 {
		_ = os.Remove(lock)
	}
	return errors.Join(errs...)
}
