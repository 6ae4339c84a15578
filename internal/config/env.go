package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables recognized by ApplyEnv.
const (
	EnvKey                    = "WANIKANI_API_KEY"
	EnvErrorSuspend           = "WKN_ERROR_SUSPEND_DURATION"
	EnvNotifiedSuspend        = "WKN_NOTIFIED_SUSPEND_DURATION"
	EnvWaitingSuspend         = "WKN_WAITING_SUSPEND_DURATION"
	EnvMinilag                = "WKN_MINILAG"
	EnvDashboardOnBothPending = "WKN_DASHBOARD_ON_BOTH_PENDING"
	EnvLogLevel               = "WKN_LOG_LEVEL"
	EnvTelegramToken          = "WKN_TELEGRAM_TOKEN"
	EnvTelegramChatID         = "WKN_TELEGRAM_CHAT_ID"
)

// ApplyEnv overlays environment values onto cfg. lookup defaults to os.LookupEnv.
// Malformed boolean/integer values are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvKey); ok {
		cfg.Key = v
	}
	if v, ok := get(EnvErrorSuspend); ok {
		cfg.ErrorSuspendDuration = Duration(v)
	}
	if v, ok := get(EnvNotifiedSuspend); ok {
		cfg.NotifiedSuspendDuration = Duration(v)
	}
	if v, ok := get(EnvWaitingSuspend); ok {
		cfg.WaitingSuspendDuration = Duration(v)
	}
	if v, ok := get(EnvMinilag); ok {
		cfg.Minilag = Duration(v)
	}
	if v, ok := get(EnvDashboardOnBothPending); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DashboardOnBothPending = b
		}
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Notify.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChatID); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = id
		}
	}
}
