package config

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "wknotifier"
	keyringUser    = "api-key"
)

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
)

// ResolveKey picks the API key: explicit flag, then cfg.Key (file or env),
// then the OS keyring. A missing key is a *ConfigError wrapping ErrMissingKey.
func ResolveKey(flagKey string, cfg *Config) (string, error) {
	if k := strings.TrimSpace(flagKey); k != "" {
		return k, nil
	}
	if cfg != nil {
		if k := strings.TrimSpace(cfg.Key); k != "" {
			return k, nil
		}
	}
	k, err := keyringGet(keyringService, keyringUser)
	if err == nil && strings.TrimSpace(k) != "" {
		return strings.TrimSpace(k), nil
	}
	return "", &ConfigError{Field: "key", Err: ErrMissingKey}
}

// StoreKey saves the API key in the OS keyring.
func StoreKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &ConfigError{Field: "key", Err: ErrMissingKey}
	}
	return keyringSet(keyringService, keyringUser, key)
}

// DeleteKey removes a stored API key. A missing entry is not an error.
func DeleteKey() error {
	err := keyringDelete(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
