package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkuusisto/unifs/internal/client"
)

// ErrAuthRequired signals that silent restoration failed and the caller
// (the UI) must run interactive authentication. The engine never blocks on
// user interaction itself.
var ErrAuthRequired = errors.New("auth: interactive authentication required")

// RequiredError names the provider that needs interactive auth.
type RequiredError struct {
	Provider string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("auth: provider %q requires interactive authentication", e.Provider)
}

func (e *RequiredError) Unwrap() error {
	return ErrAuthRequired
}

// Coordinator manages cloud client sessions: fast local checks, silent
// restoration, and the one-refresh-one-retry policy on expiry.
type Coordinator struct {
	mu        sync.RWMutex
	providers map[string]client.CloudClient
	logger    *slog.Logger
}

func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		providers: make(map[string]client.CloudClient),
		logger:    logger,
	}
}

// Register installs a cloud client under a provider name (the account
// segment of cloud:// paths).
func (c *Coordinator) Register(provider string, cc client.CloudClient) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.providers[provider] = cc
}

func (c *Coordinator) lookup(provider string) (client.CloudClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cc, ok := c.providers[provider]
	if !ok {
		return nil, fmt.Errorf("auth: unknown provider %q", provider)
	}

	return cc, nil
}

// ClientOrRequireAuth returns a ready-to-use client for provider. It checks
// IsAuthenticated first (fast, no I/O), then attempts silent restoration
// from persisted state. If that fails it returns a RequiredError instead of
// blocking: interactive auth is the caller's responsibility.
func (c *Coordinator) ClientOrRequireAuth(ctx context.Context, provider string) (client.CloudClient, error) {
	cc, err := c.lookup(provider)
	if err != nil {
		return nil, err
	}

	if cc.IsAuthenticated() {
		return cc, nil
	}

	c.logger.Info("attempting silent session restoration",
		slog.String("provider", provider),
	)

	if err := cc.Authenticate(ctx); err != nil {
		c.logger.Warn("silent restoration failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)

		return nil, &RequiredError{Provider: provider}
	}

	return cc, nil
}

// ExecuteWithReauth runs op. If op fails with an authentication-class
// error, it performs exactly one silent re-authentication and retries op
// exactly once; a second failure surfaces unmodified. Never more than one
// retry per logical call, so expiry can not cause unbounded loops.
func (c *Coordinator) ExecuteWithReauth(ctx context.Context, provider string, op func(ctx context.Context) error) error {
	cc, err := c.lookup(provider)
	if err != nil {
		return err
	}

	opErr := op(ctx)
	if opErr == nil || !client.IsAuthError(opErr) {
		return opErr
	}

	c.logger.Info("operation hit auth expiry, attempting silent re-auth",
		slog.String("provider", provider),
	)

	if authErr := cc.Authenticate(ctx); authErr != nil {
		c.logger.Warn("silent re-authentication failed",
			slog.String("provider", provider),
			slog.String("error", authErr.Error()),
		)

		// The original failure describes what the caller attempted.
		return opErr
	}

	return op(ctx)
}

// SignOut ends the provider's session and forgets its persisted state.
func (c *Coordinator) SignOut(ctx context.Context, provider string) error {
	cc, err := c.lookup(provider)
	if err != nil {
		return err
	}

	return cc.SignOut(ctx)
}
