//go:build linux

package service

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/coreos/go-systemd/v22/dbus"

	logx "wknotifier/pkg/logx"
)

type fakeConn struct {
	calls  []string
	result string
}

func (f *fakeConn) ReloadContext(context.Context) error {
	f.calls = append(f.calls, "reload")
	return nil
}

func (f *fakeConn) EnableUnitFilesContext(_ context.Context, files []string, _, _ bool) (bool, []dbus.EnableUnitFileChange, error) {
	f.calls = append(f.calls, "enable "+strings.Join(files, ","))
	return true, nil, nil
}

func (f *fakeConn) DisableUnitFilesContext(_ context.Context, files []string, _ bool) ([]dbus.DisableUnitFileChange, error) {
	f.calls = append(f.calls, "disable "+strings.Join(files, ","))
	return nil, nil
}

func (f *fakeConn) StartUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	f.calls = append(f.calls, "start "+name)
	ch <- f.result
	return 1, nil
}

func (f *fakeConn) StopUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	f.calls = append(f.calls, "stop "+name)
	ch <- f.result
	return 1, nil
}

func (f *fakeConn) Close() {}

// Not parallel: swaps the package-level dialer.
func TestSystemdManagerLifecycle(t *testing.T) {
	conn := &fakeConn{result: "done"}
	orig := dialUser
	dialUser = func(context.Context) (unitConn, error) { return conn, nil }
	t.Cleanup(func() { dialUser = orig })

	dir := t.TempDir()
	m := &systemdManager{
		opts:    Options{Executable: "/usr/bin/wknotifier"},
		unitDir: filepath.Join(dir, "systemd", "user"),
		log:     logx.Nop(),
	}
	ctx := context.Background()

	if err := m.Uninstall(ctx); err != nil {
		t.Fatalf("uninstall when absent: %v", err)
	}
	if len(conn.calls) != 0 {
		t.Fatalf("uninstall of a missing unit touched systemd: %v", conn.calls)
	}

	if err := m.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}
	b, err := os.ReadFile(m.unitPath())
	if err != nil {
		t.Fatalf("unit not written: %v", err)
	}
	if !strings.Contains(string(b), "ExecStart=/usr/bin/wknotifier start\n") {
		t.Fatalf("unit:\n%s", b)
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Uninstall(ctx); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if _, err := os.Stat(m.unitPath()); !os.IsNotExist(err) {
		t.Fatalf("unit should be removed, stat err=%v", err)
	}

	want := []string{
		"reload",
		"enable wknotifier.service",
		"start wknotifier.service",
		"stop wknotifier.service",
		"disable wknotifier.service",
		"reload",
	}
	if !reflect.DeepEqual(conn.calls, want) {
		t.Fatalf("calls=%v\nwant %v", conn.calls, want)
	}
}

func TestSystemdJobFailure(t *testing.T) {
	conn := &fakeConn{result: "failed"}
	orig := dialUser
	dialUser = func(context.Context) (unitConn, error) { return conn, nil }
	t.Cleanup(func() { dialUser = orig })

	m := &systemdManager{opts: Options{Executable: "/x"}, unitDir: t.TempDir(), log: logx.Nop()}
	err := m.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "job failed") {
		t.Fatalf("err=%v", err)
	}
}
