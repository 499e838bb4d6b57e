package bridge

import (
	"context"
	"sync"

	"github.com/nfrund/topicbridge/internal/transport"
)

var (
	defaultMu      sync.Mutex
	defaultContext *Context
)

// InitDefault initializes the process-wide Context. It succeeds once; later
// calls return ErrAlreadyInitialized, even after ShutdownDefault. A failed
// initialization leaves the default unset so it can be retried.
func InitDefault(ctx context.Context, provider transport.Provider, domainID int, networkInterface string, opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultContext != nil {
		return ErrAlreadyInitialized
	}
	c := New(provider, opts...)
	if err := c.Initialize(ctx, domainID, networkInterface); err != nil {
		return err
	}
	defaultContext = c
	return nil
}

// Default returns the process-wide Context.
func Default() (*Context, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultContext == nil {
		return nil, ErrNotInitialized
	}
	return defaultContext, nil
}

// ShutdownDefault shuts the process-wide Context down. It is a no-op if the
// default was never initialized.
func ShutdownDefault() error {
	defaultMu.Lock()
	c := defaultContext
	defaultMu.Unlock()

	if c == nil {
		return nil
	}
	return c.Shutdown()
}
