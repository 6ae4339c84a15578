package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"wknotifier/internal/config"
	"wknotifier/internal/notify"
	"wknotifier/internal/schedule"
	"wknotifier/internal/storage"
	logx "wknotifier/pkg/logx"
)

func mapScheduleConfig(cfg *config.Config) (schedule.Config, error) {
	var (
		out schedule.Config
		err error
	)
	if out.ErrorSuspend, err = config.ParseDurationField("error_suspend_duration", cfg.ErrorSuspendDuration); err != nil {
		return out, err
	}
	if out.NotifiedSuspend, err = config.ParseDurationField("notified_suspend_duration", cfg.NotifiedSuspendDuration); err != nil {
		return out, err
	}
	if out.WaitingSuspend, err = config.ParseDurationField("waiting_suspend_duration", cfg.WaitingSuspendDuration); err != nil {
		return out, err
	}
	if out.Minilag, err = config.ParseDurationField("minilag", cfg.Minilag); err != nil {
		return out, err
	}
	return out.WithDefaults(), nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// soundPolicy decides per notification whether it plays a sound.
type soundPolicy struct {
	enabled bool
	quiet   notify.QuietHours
}

func (p *soundPolicy) at(t time.Time) bool { return p.quiet.SoundAt(t, p.enabled) }

func mapSoundPolicy(cfg *config.Config) (*soundPolicy, error) {
	q := cfg.Notify.QuietHours
	quiet, err := notify.ParseQuietHours(q.Start, q.End, q.Timezone)
	if err != nil {
		return nil, err
	}
	enabled := true
	if cfg.Notify.Sound != nil {
		enabled = *cfg.Notify.Sound
	}
	return &soundPolicy{enabled: enabled, quiet: quiet}, nil
}

func mapLinks(cfg *config.Config) notify.Links {
	return notify.Links{
		Lessons:   cfg.Links.Lessons,
		Reviews:   cfg.Links.Reviews,
		Dashboard: cfg.Links.Dashboard,
	}.WithDefaults()
}

func desktopEnabled(cfg *config.Config) bool {
	return cfg.Notify.Desktop.Enabled == nil || *cfg.Notify.Desktop.Enabled
}

func openOnClick(cfg *config.Config) bool {
	return cfg.Notify.Desktop.OpenOnClick == nil || *cfg.Notify.Desktop.OpenOnClick
}

func mapTelegramConfig(cfg *config.Config) (notify.TelegramConfig, bool, error) {
	tc := cfg.Notify.Telegram
	if !tc.Enabled {
		return notify.TelegramConfig{}, false, nil
	}
	if strings.TrimSpace(tc.Token) == "" {
		return notify.TelegramConfig{}, false, errors.New("notify.telegram.token is required when telegram is enabled")
	}
	if tc.ChatID == 0 {
		return notify.TelegramConfig{}, false, errors.New("notify.telegram.chat_id is required when telegram is enabled")
	}
	if tc.RatePerSec < 0 {
		return notify.TelegramConfig{}, false, errors.New("notify.telegram.rate_per_sec must be >= 0")
	}
	if tc.RetryMax < 0 {
		return notify.TelegramConfig{}, false, errors.New("notify.telegram.retry_max must be >= 0")
	}
	poll, err := config.ParseDurationOrDefault("notify.telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return notify.TelegramConfig{}, false, err
	}
	retry := tc.RetryMax
	if retry == 0 {
		retry = 2
	}
	return notify.TelegramConfig{
		Token:       strings.TrimSpace(tc.Token),
		ChatID:      tc.ChatID,
		ThreadID:    tc.ThreadID,
		RatePerSec:  tc.RatePerSec,
		RetryMax:    retry,
		PollTimeout: poll,
	}, true, nil
}

func mapStatusAddr(cfg *config.Config) (string, error) {
	addr := strings.TrimSpace(cfg.Status.Addr)
	if addr == "" {
		return "", nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", fmt.Errorf("status.addr: %w", err)
	}
	return addr, nil
}

// validate checks everything New and a live reload would map. Errors are
// *config.ConfigError.
func validate(cfg *config.Config) error {
	wrap := func(field string, err error) error {
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			return err
		}
		return &config.ConfigError{Field: field, Err: err}
	}
	if _, err := mapScheduleConfig(cfg); err != nil {
		return wrap("", err)
	}
	if _, err := config.ParseDurationField("fetch_timeout", cfg.FetchTimeout); err != nil {
		return wrap("", err)
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return wrap("storage", err)
	}
	if _, err := mapSoundPolicy(cfg); err != nil {
		return wrap("notify", err)
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return wrap("notify", err)
	}
	if _, err := mapStatusAddr(cfg); err != nil {
		return wrap("status", err)
	}
	return nil
}
