// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package shutdown releases the resources a command opened (trace
// exporters, the history database, the daemon listener) in reverse order.
package shutdown

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dotandev/shrinkwrap/internal/logger"
)

type HookFunc func(context.Context) error

type hook struct {
	name string
	fn   HookFunc
}

// Coordinator runs registered shutdown hooks exactly once in LIFO order.
type Coordinator struct {
	mu    sync.Mutex
	hooks []hook
	ran   bool
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Register adds fn. Hooks registered after Run are ignored.
func (c *Coordinator) Register(name string, fn HookFunc) {
	if fn == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ran {
		return
	}

	c.hooks = append(c.hooks, hook{name: name, fn: fn})
}

// RegisterCloser registers cl.Close.
func (c *Coordinator) RegisterCloser(name string, cl io.Closer) {
	if cl == nil {
		return
	}
	c.Register(name, func(context.Context) error { return cl.Close() })
}

// Run calls every hook, newest first, sharing what is left of ctx's
// deadline between them. Every failure is reported.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil
	}
	c.ran = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	var result *multierror.Error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]

		hookCtx, cancel := perHookContext(ctx, i+1)
		err := h.fn(hookCtx)
		cancel()
		if err != nil {
			logger.Logger.Warn("Shutdown hook failed", "hook", h.name, "error", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		logger.Logger.Debug("Shutdown hook done", "hook", h.name)
	}

	return result.ErrorOrNil()
}

func perHookContext(ctx context.Context, hooksRemaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || hooksRemaining <= 0 {
		return ctx, func() {}
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return context.WithTimeout(ctx, time.Millisecond)
	}

	perHook := remaining / time.Duration(hooksRemaining)
	if perHook <= 0 {
		perHook = remaining
	}
	return context.WithTimeout(ctx, perHook)
}
