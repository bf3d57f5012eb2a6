// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package dispatch

import (
	"github.com/joeycumines/logiface"
)

// Logger is the structured logger consumed by this package. Logging is
// optional: a nil *Logger is valid and disables all output, so no
// package-level logger state exists.
type Logger = logiface.Logger[logiface.Event]

// --- Lifecycle core options ---

// coreOptions holds configuration for Dispatcher creation.
type coreOptions struct {
	cleanup func()
	logger  *Logger
}

// CoreOption configures a [Dispatcher] created by [New] or [NewTimeout].
type CoreOption interface {
	applyCore(*coreOptions) error
}

// coreOptionImpl implements CoreOption.
type coreOptionImpl struct {
	applyCoreFunc func(*coreOptions) error
}

func (x *coreOptionImpl) applyCore(opts *coreOptions) error {
	return x.applyCoreFunc(opts)
}

// WithCleanupAction sets the side-effecting function invoked exactly once
// when the outcome is first determined, on both the value and the failure
// path.
func WithCleanupAction(fn func()) CoreOption {
	return &coreOptionImpl{func(opts *coreOptions) error {
		opts.cleanup = fn
		return nil
	}}
}

// WithCoreLogger attaches a structured logger to the dispatcher. A nil
// logger disables logging (the default).
func WithCoreLogger(logger *Logger) CoreOption {
	return &coreOptionImpl{func(opts *coreOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveCoreOptions applies CoreOption instances to coreOptions.
func resolveCoreOptions(opts []CoreOption) (*coreOptions, error) {
	cfg := &coreOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyCore(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Event dispatcher options ---

// dispatcherOptions holds configuration for EventDispatcher creation.
type dispatcherOptions struct {
	cleanup           func()
	logger            *Logger
	keepErrorListener bool
}

// Option configures an [EventDispatcher].
type Option interface {
	applyDispatcher(*dispatcherOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyDispatcherFunc func(*dispatcherOptions) error
}

func (x *optionImpl) applyDispatcher(opts *dispatcherOptions) error {
	return x.applyDispatcherFunc(opts)
}

// WithCleanup sets a caller-supplied teardown function, invoked exactly
// once after listener removal and before the completion handle settles for
// external observers.
func WithCleanup(fn func()) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		opts.cleanup = fn
		return nil
	}}
}

// WithKeepErrorListener controls whether the automatically installed
// error-to-cancel listener is kept permanently. When false (the default)
// it is removed once the first completion observer has been served.
func WithKeepErrorListener(keep bool) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		opts.keepErrorListener = keep
		return nil
	}}
}

// WithLogger attaches a structured logger to the dispatcher. A nil logger
// disables logging (the default).
func WithLogger(logger *Logger) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to dispatcherOptions.
func resolveOptions(opts []Option) (*dispatcherOptions, error) {
	cfg := &dispatcherOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyDispatcher(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
