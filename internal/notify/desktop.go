package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	logx "wknotifier/pkg/logx"
)

// Tokens the helper prints on stdout when the notification is activated.
const (
	linuxAction   = "default"
	windowsAction = "clicked"
)

// DesktopConfig configures the OS notification sink.
type DesktopConfig struct {
	GOOS string
	Run  Runner
	// ClickWindow bounds how long a raised notification waits for a click.
	ClickWindow time.Duration
	// Opener and Resolve enable click-to-open; both must be set.
	Opener  Opener
	Resolve Resolver
	Log     logx.Logger
}

// Desktop raises native notifications: notify-send on Linux, osascript on
// macOS and a tray balloon through PowerShell on Windows. Clicks are
// reported on Linux and Windows.
type Desktop struct {
	goos    string
	run     Runner
	window  time.Duration
	opener  Opener
	resolve Resolver
	log     logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDesktop(cfg DesktopConfig) *Desktop {
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.Run == nil {
		cfg.Run = ExecRunner
	}
	if cfg.ClickWindow <= 0 {
		cfg.ClickWindow = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Desktop{
		goos:    cfg.GOOS,
		run:     cfg.Run,
		window:  cfg.ClickWindow,
		opener:  cfg.Opener,
		resolve: cfg.Resolve,
		log:     cfg.Log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *Desktop) Name() string { return "desktop" }

// Notify starts the platform helper and returns once it is running. Waiting
// for a click happens in the background until ClickWindow or Close.
func (d *Desktop) Notify(ctx context.Context, n Notification) error {
	if n.Title == "" {
		n.Title = Title
	}
	clickable := d.opener != nil && d.resolve != nil
	name, args, token, err := desktopCommand(d.goos, n, clickable, d.window)
	if err != nil {
		return err
	}
	if err := d.ctx.Err(); err != nil {
		return fmt.Errorf("desktop sink closed: %w", err)
	}

	if token == "" {
		// No click reporting: the helper exits right after showing the notification.
		wait, err := d.run(ctx, name, args...)
		if err != nil {
			return err
		}
		_, err = wait()
		return err
	}

	wctx, cancel := context.WithTimeout(d.ctx, d.window)
	wait, err := d.run(wctx, name, args...)
	if err != nil {
		cancel()
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		out, err := wait()
		if !strings.Contains(out, token) {
			if err != nil && wctx.Err() == nil {
				d.log.Debug("desktop notification helper exited", logx.String("cycle_id", n.CycleID), logx.Err(err))
			}
			return
		}
		d.click(n.CycleID)
	}()
	return nil
}

func (d *Desktop) click(cycleID string) {
	link, ok := d.resolve()
	if !ok {
		d.log.Debug("notification clicked with nothing pending", logx.String("cycle_id", cycleID))
		return
	}
	octx, cancel := context.WithTimeout(d.ctx, 15*time.Second)
	defer cancel()
	if err := d.opener.Open(octx, link); err != nil {
		d.log.Warn("open link failed", logx.String("url", link), logx.Err(err))
		return
	}
	d.log.Info("opened link from notification", logx.String("url", link), logx.String("cycle_id", cycleID))
}

// Close stops waiting for clicks and waits for helpers to exit.
func (d *Desktop) Close() {
	d.cancel()
	d.wg.Wait()
}

// desktopCommand returns the helper invocation and, when clicks are reported,
// the stdout token that signals one.
func desktopCommand(goos string, n Notification, clickable bool, window time.Duration) (name string, args []string, token string, err error) {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		args = []string{"--app-name=" + Title}
		if n.Sound {
			args = append(args, "--hint=string:sound-name:message-new-instant")
		} else {
			args = append(args, "--hint=boolean:suppress-sound:true")
		}
		if clickable {
			args = append(args, "--action="+linuxAction+"=Open", "--wait")
			token = linuxAction
		}
		args = append(args, "--", n.Title, n.Body)
		return "notify-send", args, token, nil

	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleString(n.Body), appleString(n.Title))
		if n.Sound {
			script += ` sound name "Ping"`
		}
		return "osascript", []string{"-e", script}, "", nil

	case "windows":
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", balloonScript(n, clickable, window)}, tokenIf(clickable, windowsAction), nil

	default:
		return "", nil, "", fmt.Errorf("desktop notifications are not supported on %s", goos)
	}
}

func tokenIf(ok bool, s string) string {
	if ok {
		return s
	}
	return ""
}

func appleString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func psString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func balloonScript(n Notification, clickable bool, window time.Duration) string {
	var b strings.Builder
	b.WriteString("Add-Type -AssemblyName System.Windows.Forms;")
	b.WriteString("$n = New-Object System.Windows.Forms.NotifyIcon;")
	b.WriteString("$n.Icon = [System.Drawing.SystemIcons]::Information;")
	b.WriteString("$n.BalloonTipTitle = " + psString(n.Title) + ";")
	b.WriteString("$n.BalloonTipText = " + psString(n.Body) + ";")
	b.WriteString("$n.Visible = $true;")
	if n.Sound {
		b.WriteString("[System.Media.SystemSounds]::Asterisk.Play();")
	}
	b.WriteString("$n.ShowBalloonTip(10000);")
	if clickable {
		fmt.Fprintf(&b, "$deadline = (Get-Date).AddSeconds(%d);", int(window.Seconds()))
		b.WriteString("$script:clicked = $false;")
		b.WriteString("Register-ObjectEvent $n BalloonTipClicked -Action { $script:clicked = $true } | Out-Null;")
		b.WriteString("Register-ObjectEvent $n BalloonTipClosed -Action { $script:closed = $true } | Out-Null;")
		b.WriteString("while (-not $script:clicked -and -not $script:closed -and (Get-Date) -lt $deadline) { [System.Windows.Forms.Application]::DoEvents(); Start-Sleep -Milliseconds 200 };")
		b.WriteString("if ($script:clicked) { Write-Output '" + windowsAction + "' };")
	} else {
		b.WriteString("Start-Sleep -Seconds 10;")
	}
	b.WriteString("$n.Dispose()")
	return b.String()
}

// Runner starts a command and returns a function that waits for it and
// yields its stdout.
type Runner func(ctx context.Context, name string, args ...string) (wait func() (string, error), err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) (func() (string, error), error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out := &limitedBuffer{max: 4096}
	cmd.Stdout = out
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return func() (string, error) {
		if err := cmd.Wait(); err != nil {
			return out.String(), fmt.Errorf("%s: %w", name, err)
		}
		return out.String(), nil
	}, nil
}

type limitedBuffer struct {
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return string(b.buf) }
