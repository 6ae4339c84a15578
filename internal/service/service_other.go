//go:build !linux && !windows

package service

import "context"

type unsupported struct{}

// New returns a manager whose operations fail with ErrUnsupported.
func New(Options) (Manager, error) { return unsupported{}, nil }

func (unsupported) Install(context.Context) error   { return ErrUnsupported }
func (unsupported) Uninstall(context.Context) error { return ErrUnsupported }
func (unsupported) Start(context.Context) error     { return ErrUnsupported }
func (unsupported) Stop(context.Context) error      { return ErrUnsupported }
