// Package app wires configuration, the poll loop, notification sinks and the
// optional status server into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"wknotifier/internal/config"
	"wknotifier/internal/eventbus"
	"wknotifier/internal/notify"
	"wknotifier/internal/observability/status"
	"wknotifier/internal/poll"
	"wknotifier/internal/runtime/supervisor"
	"wknotifier/internal/schedule"
	"wknotifier/internal/service"
	"wknotifier/internal/storage"
	"wknotifier/internal/wanikani"
	logx "wknotifier/pkg/logx"
)

const (
	shutdownTimeout = 10 * time.Second
	// watchRestarts bounds restarts of a broken config watcher; after that
	// Run fails and the service manager restarts the process.
	watchRestarts = 5
)

type Options struct {
	ConfigPath string
	// Key wins over every other key source (the --key flag).
	Key     string
	Version string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

type Option func(*App)

// WithSink replaces the sinks built from config.
func WithSink(s notify.Sink) Option { return func(a *App) { a.sinkOverride = s } }

// WithLockFile sets where the running PID is recorded. An empty path
// disables the lock file.
func WithLockFile(path string) Option {
	return func(a *App) {
		a.lockPath = path
		a.lockSet = true
	}
}

type App struct {
	opts Options

	cfgm  *config.Manager
	logs  *logx.Service
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	engine   *schedule.Engine
	loop     *poll.Loop
	desktop  *notify.Desktop
	telegram *notify.Telegram
	status   *status.Server

	links     notify.Links
	dashboard atomic.Bool
	sound     atomic.Pointer[soundPolicy]

	sinkOverride notify.Sink
	lockPath     string
	lockSet      bool
	locked       bool

	running atomic.Bool
	sup     *supervisor.Supervisor
}

// New loads and validates the config, resolves the API key and builds every
// component. Configuration problems are *config.ConfigError.
func New(opts Options, extra ...Option) (*App, error) {
	a := &App{opts: opts}
	for _, o := range extra {
		o(a)
	}

	cfgm := config.NewManager(opts.ConfigPath)
	if opts.LookupEnv != nil {
		cfgm.SetEnvLookup(opts.LookupEnv)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	key, err := config.ResolveKey(opts.Key, cfg)
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(mapLogConfig(cfg))
	a.cfgm, a.logs = cfgm, logs
	a.log = root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	if p := strings.TrimSpace(cfgm.Path()); p != "" && !cfgm.Exists() {
		a.log.Info("no config file; using defaults and environment", logx.String("path", p))
	}

	// validate already parsed these
	schedCfg, _ := mapScheduleConfig(cfg)
	fetchTimeout, _ := config.ParseDurationOrDefault("fetch_timeout", cfg.FetchTimeout, poll.DefaultFetchTimeout)
	sp, _ := mapSoundPolicy(cfg)

	a.engine = schedule.NewEngine(schedCfg)
	a.links = mapLinks(cfg)
	a.dashboard.Store(cfg.DashboardOnBothPending)
	a.sound.Store(sp)
	a.bus = eventbus.New()

	client, err := wanikani.New(wanikani.Config{
		BaseURL:   cfg.API.BaseURL,
		Key:       key,
		UserAgent: cfg.API.UserAgent,
		Timeout:   fetchTimeout,
		Log:       root.With(logx.String("comp", "wanikani")),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	if sc, ok, _ := mapStorageConfig(cfg); ok {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	sink, err := a.buildSink(cfg, root)
	if err != nil {
		a.close()
		return nil, err
	}

	pc := poll.Config{
		Engine:       a.engine,
		Client:       client,
		Sink:         sink,
		Store:        a.store,
		Bus:          a.bus,
		Log:          root.With(logx.String("comp", "poll")),
		Sound:        func(t time.Time) bool { return a.sound.Load().at(t) },
		FetchTimeout: fetchTimeout,
	}
	if a.loop, err = poll.New(pc); err != nil {
		a.close()
		return nil, err
	}

	if cfg.Status.Enabled {
		addr, _ := mapStatusAddr(cfg)
		src := status.Sources{
			Loop:       a.loop.Snapshot,
			Goroutines: func() supervisor.Counters { return a.sup.Counters() },
		}
		if a.store != nil {
			src.LastSaved = a.store.LoadSnapshot
		}
		a.status = status.New(status.Config{Addr: addr, Token: cfg.Status.Token}, src, opts.Version,
			root.With(logx.String("comp", "status")))
	}

	if !a.lockSet {
		if p, err := service.LockPath(); err == nil {
			a.lockPath = p
		}
	}
	return a, nil
}

func (a *App) buildSink(cfg *config.Config, root logx.Logger) (notify.Sink, error) {
	if a.sinkOverride != nil {
		return a.sinkOverride, nil
	}
	var sinks []notify.Sink
	if desktopEnabled(cfg) {
		dc := notify.DesktopConfig{Log: root.With(logx.String("comp", "desktop"))}
		if openOnClick(cfg) {
			dc.Opener = notify.NewBrowser()
			dc.Resolve = a.resolveLink
		}
		a.desktop = notify.NewDesktop(dc)
		sinks = append(sinks, a.desktop)
	}
	if tc, ok, _ := mapTelegramConfig(cfg); ok {
		tc.Resolve = a.resolveLink
		tc.Log = root.With(logx.String("comp", "telegram"))
		tg, err := notify.NewTelegram(tc)
		if err != nil {
			return nil, &config.ConfigError{Field: "notify.telegram", Err: err}
		}
		a.telegram = tg
		sinks = append(sinks, tg)
	}
	switch len(sinks) {
	case 0:
		return nil, &config.ConfigError{Field: "notify", Err: errors.New("no notification sink enabled")}
	case 1:
		return sinks[0], nil
	default:
		return notify.NewMulti(root.With(logx.String("comp", "notify")), sinks...), nil
	}
}

// resolveLink picks the page for the last delivered notification.
func (a *App) resolveLink() (string, bool) {
	if a.loop == nil {
		return "", false
	}
	return a.links.LinkFor(a.loop.Notified(), a.dashboard.Load())
}

// Run blocks until ctx ends or a supervised goroutine fails. A graceful stop
// returns nil. Run may be called once.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("app: already running")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sup := a.sup

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	a.writeLock()

	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	if strings.TrimSpace(a.cfgm.Path()) != "" {
		sup.GoRestart("config.watch", a.cfgm.Watch,
			supervisor.WithRestartBackoff(time.Second, time.Minute), supervisor.WithMaxRestarts(watchRestarts))
	}

	events, unsub := a.bus.Subscribe(64)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("kind", string(e.Kind)), logx.String("cycle_id", e.CycleID), logx.Any("data", e.Data))
			}
		}
	})

	if a.telegram != nil {
		sup.GoRestart("telegram.poll", a.telegram.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}
	if a.status != nil {
		sup.Go0("status.events", func(c context.Context) { a.status.Track(c, a.bus) })
		// The status server is optional; its failure never stops the notifier.
		sup.Go0("status.http", func(c context.Context) {
			if err := a.status.Run(c); err != nil {
				a.log.Warn("status server stopped", logx.Err(err))
			}
		})
	}

	loopDone := make(chan struct{})
	sup.Go("poll.loop", func(c context.Context) error {
		defer close(loopDone)
		return a.loop.Run(c)
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("notified systemd: ready")
	}
	a.log.Info("wknotifier started", logx.String("version", a.opts.Version), logx.String("config", a.cfgm.Path()))

	select {
	case <-sup.Context().Done():
	case <-loopDone:
	}
	reason := StopLoopEnded
	switch {
	case ctx.Err() != nil:
		reason = StopContextDone
	case sup.Err() != nil:
		reason = StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.loop.Stop()
	wctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sup.Stop(wctx); errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("shutdown timed out; some goroutines are still running", logx.Int64("active", sup.Counters().Active))
	}

	err := sup.Err()
	fields := []logx.Field{logx.String("reason", string(reason))}
	if err != nil {
		fields = append(fields, logx.Err(err))
	}
	a.log.Info("wknotifier stopped", fields...)
	a.close()
	return err
}

func (a *App) writeLock() {
	if a.lockPath == "" {
		return
	}
	if err := service.WriteLock(a.lockPath, os.Getpid()); err != nil {
		a.log.Warn("write lock file failed", logx.String("path", a.lockPath), logx.Err(err))
		return
	}
	a.locked = true
}

func (a *App) close() {
	if a.desktop != nil {
		a.desktop.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close storage failed", logx.Err(err))
		}
	}
	if a.locked {
		if err := service.RemoveLock(a.lockPath, os.Getpid()); err != nil {
			a.log.Debug("remove lock file failed", logx.Err(err))
		}
		a.locked = false
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
