package app

import (
	"context"
	"reflect"
	"strings"

	"wknotifier/internal/config"
	logx "wknotifier/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			if cfg == nil {
				continue
			}
			a.apply(last, cfg)
			last = cfg
		}
	}
}

// apply updates the live-reloadable settings. cfg has passed validate.
func (a *App) apply(prev, cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))

	sc, err := mapScheduleConfig(cfg)
	if err != nil {
		a.log.Warn("invalid suspend durations; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(sc)
	}
	if sp, err := mapSoundPolicy(cfg); err != nil {
		a.log.Warn("invalid sound settings; keeping previous", logx.Err(err))
	} else {
		a.sound.Store(sp)
	}
	a.dashboard.Store(cfg.DashboardOnBothPending)

	if sections := restartOnlyChanges(prev, cfg); len(sections) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}
	applied := a.engine.Config()
	a.log.Info("config reloaded",
		logx.Duration("error_suspend", applied.ErrorSuspend),
		logx.Duration("notified_suspend", applied.NotifiedSuspend),
		logx.Duration("waiting_suspend", applied.WaitingSuspend),
		logx.Duration("minilag", applied.Minilag),
		logx.Bool("dashboard_on_both_pending", cfg.DashboardOnBothPending),
	)
}

// restartOnlyChanges names the changed sections that are only read at startup.
func restartOnlyChanges(prev, next *config.Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	if prev.Key != next.Key {
		out = append(out, "key")
	}
	if prev.FetchTimeout != next.FetchTimeout {
		out = append(out, "fetch_timeout")
	}
	if prev.API != next.API {
		out = append(out, "api")
	}
	if prev.Links != next.Links {
		out = append(out, "links")
	}
	if !reflect.DeepEqual(prev.Storage, next.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(prev.Notify.Desktop, next.Notify.Desktop) || prev.Notify.Telegram != next.Notify.Telegram {
		out = append(out, "notify")
	}
	if prev.Status != next.Status {
		out = append(out, "status")
	}
	return out
}
