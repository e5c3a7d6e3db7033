package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mkuusisto/unifs/internal/auth"
	"github.com/mkuusisto/unifs/internal/credentials"
	"github.com/mkuusisto/unifs/internal/resource"
)

// AddResource validates and persists a new resource rooted at root. A
// learned concurrency hint, when present, is installed on the endpoint's
// throttle gate immediately.
func (e *Engine) AddResource(ctx context.Context, root, credentialRef string, writable bool) (*resource.Resource, error) {
	loc, err := resource.Parse(root)
	if err != nil {
		return nil, err
	}

	r := &resource.Resource{
		ID:            uuid.NewString(),
		Kind:          loc.Kind,
		Root:          loc.String(),
		CredentialRef: credentialRef,
		Writable:      writable,
		CreatedAt:     time.Now(),
	}

	if err := e.store.SaveResource(ctx, r); err != nil {
		return nil, err
	}

	return r, nil
}

// ListResources returns all configured resources.
func (e *Engine) ListResources(ctx context.Context) ([]resource.Resource, error) {
	return e.store.ListResources(ctx)
}

// RemoveResource deletes a resource and drops any cached content under
// its root.
func (e *Engine) RemoveResource(ctx context.Context, id string) error {
	r, err := e.store.DeleteResource(ctx, id)
	if err != nil {
		return err
	}

	e.cache.InvalidatePrefix(r.Root)

	return nil
}

// SetResourceConcurrency stores a learned per-endpoint ceiling and applies
// it to the live throttle gate.
func (e *Engine) SetResourceConcurrency(ctx context.Context, id string, limit int) error {
	r, err := e.store.GetResource(ctx, id)
	if err != nil {
		return err
	}

	r.RecommendedConcurrency = limit

	if err := e.store.SaveResource(ctx, r); err != nil {
		return err
	}

	e.throttle.SetLimit(r.Key(), limit)

	return nil
}

// SaveCredentials upserts an endpoint credential record.
func (e *Engine) SaveCredentials(ctx context.Context, c *credentials.Credentials) error {
	return e.store.Save(ctx, c)
}

// ListCredentials returns all stored credential records.
func (e *Engine) ListCredentials(ctx context.Context) ([]credentials.Credentials, error) {
	return e.store.List(ctx)
}

// Login attempts silent session restoration for a cloud account. A
// returned auth.RequiredError means interactive sign-in is needed.
func (e *Engine) Login(ctx context.Context, account string) error {
	_, err := e.auth.ClientOrRequireAuth(ctx, account)

	return err
}

// NeedsInteractiveAuth reports whether err asks the user to sign in.
func NeedsInteractiveAuth(err error) bool {
	var required *auth.RequiredError

	return errors.As(err, &required)
}

// SignOut clears the persisted session for a cloud account.
func (e *Engine) SignOut(ctx context.Context, account string) error {
	return e.auth.SignOut(ctx, account)
}
