// Package context centralizes the timeout tiers used on blocking
// operations, so callers pick a tier instead of inventing durations.
package context

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds operations that may legitimately take a while,
	// like media acquisition behind a permission prompt.
	DefaultTimeout = 30 * time.Second

	// ShortTimeout bounds quick side effects like a call-log append or a
	// cache-backed lookup.
	ShortTimeout = 5 * time.Second
)

// WithDefaultTimeout creates a context with the default timeout.
func WithDefaultTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTimeout)
}

// WithShortTimeout creates a context with a short timeout.
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// WithTimeout creates a context with a custom timeout.
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
