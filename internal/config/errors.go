package config

import (
	"errors"
	"fmt"
)

// ErrMissingKey is returned when no API key could be resolved.
var ErrMissingKey = errors.New("API key not specified")

// ConfigError is a fatal configuration problem detected before the poll loop starts.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
