package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"wknotifier/internal/schedule"
	logx "wknotifier/pkg/logx"
)

type fakeSink struct {
	name string
	err  error

	mu  sync.Mutex
	got []Notification
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Notify(ctx context.Context, n Notification) error {
	f.mu.Lock()
	f.got = append(f.got, n)
	f.mu.Unlock()
	return f.err
}

func TestMultiSucceedsWhenAnySinkDoes(t *testing.T) {
	t.Parallel()
	ok := &fakeSink{name: "ok"}
	bad := &fakeSink{name: "bad", err: errors.New("down")}
	m := NewMulti(logx.Nop(), bad, nil, ok)
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (nil dropped)", m.Len())
	}
	if err := m.Notify(context.Background(), Notification{Body: "hi"}); err != nil {
		t.Fatalf("Notify = %v, want nil", err)
	}
	if len(ok.got) != 1 || ok.got[0].Title != Title {
		t.Fatalf("ok sink got %+v", ok.got)
	}
}

func TestMultiFailsWhenAllFail(t *testing.T) {
	t.Parallel()
	down := errors.New("down")
	m := NewMulti(logx.Nop(), &fakeSink{name: "a", err: down}, &fakeSink{name: "b", err: down})
	err := m.Notify(context.Background(), Notification{Body: "hi"})
	if !errors.Is(err, down) || !strings.Contains(err.Error(), "a:") {
		t.Fatalf("Notify = %v", err)
	}
	if err := NewMulti(logx.Nop()).Notify(context.Background(), Notification{}); err == nil {
		t.Fatal("empty multi should fail")
	}
}

func TestLinkFor(t *testing.T) {
	t.Parallel()
	l := Links{Dashboard: "https://example.test/dash"}
	tests := []struct {
		name   string
		state  schedule.NotificationState
		dash   bool
		want   string
		wantOK bool
	}{
		{name: "lessons only", state: schedule.NotificationState{Lessons: 2}, want: DefaultLessonsURL, wantOK: true},
		{name: "reviews only", state: schedule.NotificationState{Reviews: 5}, dash: true, want: DefaultReviewsURL, wantOK: true},
		{name: "both without flag", state: schedule.NotificationState{Lessons: 1, Reviews: 1}, want: DefaultLessonsURL, wantOK: true},
		{name: "both with flag", state: schedule.NotificationState{Lessons: 1, Reviews: 1}, dash: true, want: "https://example.test/dash", wantOK: true},
		{name: "nothing", state: schedule.NotificationState{}, dash: true},
	}
	for _, tt := range tests {
		got, ok := l.LinkFor(tt.state, tt.dash)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("%s: LinkFor = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestQuietHours(t *testing.T) {
	t.Parallel()
	q, err := ParseQuietHours("22:00", "07:30", "UTC")
	if err != nil {
		t.Fatalf("ParseQuietHours: %v", err)
	}
	at := func(h, m int) time.Time { return time.Date(2026, 3, 1, h, m, 0, 0, time.UTC) }
	tests := []struct {
		t    time.Time
		want bool
	}{
		{at(21, 59), false},
		{at(22, 0), true},
		{at(23, 30), true},
		{at(3, 0), true},
		{at(7, 29), true},
		{at(7, 30), false},
		{at(12, 0), false},
	}
	for _, tt := range tests {
		if got := q.In(tt.t); got != tt.want {
			t.Fatalf("In(%s) = %v, want %v", tt.t.Format("15:04"), got, tt.want)
		}
	}
	if q.SoundAt(at(23, 0), true) || !q.SoundAt(at(12, 0), true) || q.SoundAt(at(12, 0), false) {
		t.Fatal("SoundAt mismatch")
	}

	var zero QuietHours
	if zero.In(at(23, 0)) || !zero.SoundAt(at(23, 0), true) {
		t.Fatal("zero QuietHours must never be quiet")
	}
}

func TestParseQuietHoursErrors(t *testing.T) {
	t.Parallel()
	bad := [][3]string{
		{"22:00", "", ""},
		{"25:00", "07:00", ""},
		{"22:00", "07:61", ""},
		{"2200", "07:00", ""},
		{"22:00", "07:00", "Mars/Olympus"},
	}
	for _, b := range bad {
		if _, err := ParseQuietHours(b[0], b[1], b[2]); err == nil {
			t.Fatalf("ParseQuietHours(%q) should fail", b)
		}
	}
	q, err := ParseQuietHours("08:00", "08:00", "")
	if err != nil || q.Enabled() {
		t.Fatalf("equal bounds should disable: %v %v", q.Enabled(), err)
	}
}

type fakeRun struct {
	mu    sync.Mutex
	calls [][]string
	out   string
	err   error
}

func (f *fakeRun) run(ctx context.Context, name string, args ...string) (func() (string, error), error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	return func() (string, error) { return f.out, f.err }, nil
}

func TestDesktopClickOpensResolvedLink(t *testing.T) {
	t.Parallel()
	runner := &fakeRun{out: "default\n"}
	opened := make(chan string, 1)
	d := NewDesktop(DesktopConfig{
		GOOS: "linux",
		Run:  runner.run,
		Opener: OpenerFunc(func(ctx context.Context, u string) error {
			opened <- u
			return nil
		}),
		Resolve: func() (string, bool) { return DefaultReviewsURL, true },
		Log:     logx.Nop(),
	})
	defer d.Close()

	if err := d.Notify(context.Background(), Notification{Body: "You have 2 pending reviews.", Sound: true}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case u := <-opened:
		if u != DefaultReviewsURL {
			t.Fatalf("opened %q", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("click did not open link")
	}

	args := strings.Join(runner.calls[0], " ")
	for _, want := range []string{"notify-send", "--action=default=Open", "--wait", "sound-name", Title, "You have 2 pending reviews."} {
		if !strings.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
}

func TestDesktopDismissDoesNotOpen(t *testing.T) {
	t.Parallel()
	runner := &fakeRun{out: ""}
	d := NewDesktop(DesktopConfig{
		GOOS:    "linux",
		Run:     runner.run,
		Opener:  OpenerFunc(func(ctx context.Context, u string) error { t.Error("unexpected open"); return nil }),
		Resolve: func() (string, bool) { return DefaultLessonsURL, true },
		Log:     logx.Nop(),
	})
	if err := d.Notify(context.Background(), Notification{Body: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	d.Close()
	if args := strings.Join(runner.calls[0], " "); !strings.Contains(args, "suppress-sound") {
		t.Fatalf("silent notification should suppress sound: %q", args)
	}
}

func TestDesktopCommands(t *testing.T) {
	t.Parallel()
	n := Notification{Title: Title, Body: `3 "quoted" it's`, Sound: true}

	name, args, token, err := desktopCommand("darwin", n, true, time.Minute)
	if err != nil || name != "osascript" || token != "" {
		t.Fatalf("darwin: %s %v %q %v", name, args, token, err)
	}
	if !strings.Contains(args[1], `\"quoted\"`) || !strings.Contains(args[1], "sound name") {
		t.Fatalf("darwin script = %q", args[1])
	}

	name, args, token, err = desktopCommand("windows", n, true, time.Minute)
	if err != nil || name != "powershell" || token != windowsAction {
		t.Fatalf("windows: %s %q %v", name, token, err)
	}
	script := args[len(args)-1]
	if !strings.Contains(script, "it''s") || !strings.Contains(script, "BalloonTipClicked") {
		t.Fatalf("windows script = %q", script)
	}

	if _, _, _, err := desktopCommand("plan9", n, false, time.Minute); err == nil {
		t.Fatal("plan9 should be unsupported")
	}
}

func TestBrowserOpen(t *testing.T) {
	t.Parallel()
	var opened []string
	b := &Browser{openURL: func(u string) error {
		opened = append(opened, u)
		return nil
	}}
	if err := b.Open(context.Background(), DefaultLessonsURL); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(opened) != 1 || opened[0] != DefaultLessonsURL {
		t.Fatalf("opened = %v", opened)
	}

	tests := []struct {
		name string
		url  string
	}{
		{name: "file scheme", url: "file:///etc/passwd"},
		{name: "javascript scheme", url: "javascript:alert(1)"},
		{name: "bad url", url: "http://%zz"},
	}
	for _, tt := range tests {
		if err := b.Open(context.Background(), tt.url); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Open(ctx, DefaultReviewsURL); err == nil {
		t.Fatal("cancelled ctx should not open")
	}
	if len(opened) != 1 {
		t.Fatalf("unexpected opens: %v", opened)
	}
}

func TestBrowserOpenError(t *testing.T) {
	t.Parallel()
	b := &Browser{openURL: func(string) error { return errors.New("xdg-open: not found") }}
	err := b.Open(context.Background(), DefaultLessonsURL)
	if err == nil || !strings.Contains(err.Error(), "xdg-open: not found") {
		t.Fatalf("err = %v", err)
	}
}

type fakeSender struct {
	mu    sync.Mutex
	fails int
	err   error
	sent  []string
	opts  []*tele.SendOptions
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, f.err
	}
	f.sent = append(f.sent, what.(string))
	if len(opts) > 0 {
		f.opts = append(f.opts, opts[0].(*tele.SendOptions))
	}
	return &tele.Message{ID: len(f.sent)}, nil
}

func TestTelegramNotifyRetries(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{fails: 1, err: errors.New("502")}
	tg := newTelegram(TelegramConfig{ChatID: 7, RatePerSec: 100, RetryMax: 2, Resolve: func() (string, bool) { return "", false }, Log: logx.Nop()}, fs)

	if err := tg.Notify(context.Background(), Notification{Title: Title, Body: "You have 1 pending lessons."}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(fs.sent) != 1 || !strings.Contains(fs.sent[0], "pending lessons") {
		t.Fatalf("sent = %q", fs.sent)
	}
	o := fs.opts[0]
	if !o.DisableNotification {
		t.Fatal("no sound should send silently")
	}
	if o.ReplyMarkup == nil || len(o.ReplyMarkup.InlineKeyboard) != 1 {
		t.Fatalf("missing Open button: %+v", o.ReplyMarkup)
	}
}

func TestTelegramNotifyGivesUp(t *testing.T) {
	t.Parallel()
	down := errors.New("down")
	fs := &fakeSender{fails: 10, err: down}
	tg := newTelegram(TelegramConfig{ChatID: 7, RatePerSec: 100, Log: logx.Nop()}, fs)
	if err := tg.Notify(context.Background(), Notification{Body: "x", Sound: true}); !errors.Is(err, down) {
		t.Fatalf("Notify = %v, want down", err)
	}
}

func TestTelegramOpenReply(t *testing.T) {
	t.Parallel()
	state := schedule.NotificationState{}
	links := Links{}
	tg := newTelegram(TelegramConfig{ChatID: 7, Log: logx.Nop(), Resolve: func() (string, bool) {
		return links.LinkFor(state, false)
	}}, &fakeSender{})

	if text, markup := tg.openReply(); markup != nil || !strings.Contains(text, "Nothing pending") {
		t.Fatalf("empty state reply = %q, %v", text, markup)
	}

	// The link is resolved at press time, after the state changed.
	state = schedule.NotificationState{Reviews: 4}
	text, markup := tg.openReply()
	if text != DefaultReviewsURL || markup == nil {
		t.Fatalf("reply = %q, %v", text, markup)
	}
	if got := markup.InlineKeyboard[0][0].URL; got != DefaultReviewsURL {
		t.Fatalf("button url = %q", got)
	}
}
