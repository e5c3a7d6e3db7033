package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/mkuusisto/unifs/internal/auth"
	"github.com/mkuusisto/unifs/internal/client"
)

// Config describes one cloud account: where its API lives and how its
// OAuth session is restored.
type Config struct {
	Account   string
	BaseURL   string
	OAuth     *oauth2.Config
	TokenPath string
}

// NewWithAuth creates a client whose bearer tokens come from its own
// managed session. Authenticate must succeed (or a token must be restored
// silently) before capability calls work.
func NewWithAuth(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	c := New(cfg.Account, cfg.BaseURL, httpClient, nil, logger)
	c.token = c.session
	c.session.cfg = cfg

	return c
}

// session is the mutable auth state of a cloud client. It satisfies
// TokenSource: capability calls pull bearer tokens through it.
type session struct {
	mu  sync.RWMutex
	cfg Config
	src oauth2.TokenSource
}

// Token returns the current bearer token. Without a restored session it
// fails fast with ErrNotAuthenticated; a failed refresh is ErrAuthExpired
// so the coordinator's one-retry policy can engage.
func (s *session) Token() (string, error) {
	s.mu.RLock()
	src := s.src
	s.mu.RUnlock()

	if src == nil {
		return "", client.ErrNotAuthenticated
	}

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: token refresh failed: %v", client.ErrAuthExpired, err)
	}

	return tok.AccessToken, nil
}

// Authenticate restores the session silently from the persisted token
// file. No user interaction: if no token is on disk, the caller gets an
// error and must run interactive auth (outside this engine).
func (c *Client) Authenticate(ctx context.Context) error {
	s := c.session

	tok, _, err := auth.LoadToken(s.cfg.TokenPath)
	if err != nil {
		return fmt.Errorf("cloud: restoring session for %s: %w", c.account, err)
	}

	if tok == nil {
		return fmt.Errorf("cloud: %w: no persisted session for %s", client.ErrNotAuthenticated, c.account)
	}

	src := auth.NewPersistingSource(s.cfg.OAuth.TokenSource(ctx, tok), s.cfg.TokenPath)

	s.mu.Lock()
	s.src = src
	s.mu.Unlock()

	c.logger.Info("session restored",
		"account", c.account,
	)

	return nil
}

// AuthCodeURL returns the provider page the user must visit to approve
// access. state is echoed back in the redirect and must be verified by the
// caller.
func (c *Client) AuthCodeURL(state string) string {
	return c.session.cfg.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode trades an authorization code for a token, persists it, and
// activates the session.
func (c *Client) ExchangeCode(ctx context.Context, code string) error {
	s := c.session

	tok, err := s.cfg.OAuth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("cloud: exchanging authorization code for %s: %w", c.account, err)
	}

	if err := auth.SaveToken(s.cfg.TokenPath, tok, map[string]string{"account": c.account}); err != nil {
		return fmt.Errorf("cloud: persisting session for %s: %w", c.account, err)
	}

	src := auth.NewPersistingSource(s.cfg.OAuth.TokenSource(ctx, tok), s.cfg.TokenPath)

	s.mu.Lock()
	s.src = src
	s.mu.Unlock()

	c.logger.Info("interactive sign-in complete",
		"account", c.account,
	)

	return nil
}

// IsAuthenticated is a fast local check: a session exists. It performs no
// I/O; an expired token is only discovered (and refreshed) on use.
func (c *Client) IsAuthenticated() bool {
	c.session.mu.RLock()
	defer c.session.mu.RUnlock()

	return c.session.src != nil
}

// SignOut drops the in-memory session and deletes the persisted token.
func (c *Client) SignOut(_ context.Context) error {
	c.session.mu.Lock()
	c.session.src = nil
	c.session.mu.Unlock()

	if err := auth.DeleteToken(c.session.cfg.TokenPath); err != nil {
		return fmt.Errorf("cloud: signing out %s: %w", c.account, err)
	}

	c.logger.Info("signed out",
		"account", c.account,
	)

	return nil
}
