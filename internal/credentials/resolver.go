package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkuusisto/unifs/internal/resource"
)

// Lookups is the read-side of the store the resolver needs. *Store
// satisfies it; tests substitute fakes.
type Lookups interface {
	LookupServerShare(ctx context.Context, server, share string) (*Credentials, error)
	LookupServer(ctx context.Context, server string) (*Credentials, error)
	LookupEndpoint(ctx context.Context, protocol, server string, port int) (*Credentials, error)
}

// Resolver finds the credentials for a scheme-qualified path. It is
// read-only: it never mutates the store.
type Resolver struct {
	store  Lookups
	logger *slog.Logger
}

func NewResolver(store Lookups, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{store: store, logger: logger}
}

// Resolve parses path and tries, in order: (server, share) exact match,
// host-only match, then (protocol, server, port). Local paths need no
// credentials and resolve to nil. ErrNotFound means the endpoint is not
// configured; resource.ErrBadPath means the path itself is malformed.
func (r *Resolver) Resolve(ctx context.Context, path string) (*Credentials, error) {
	loc, err := resource.Parse(path)
	if err != nil {
		return nil, err
	}

	return r.ResolveLocation(ctx, loc)
}

// ResolveLocation is Resolve for an already parsed location.
func (r *Resolver) ResolveLocation(ctx context.Context, loc resource.Location) (*Credentials, error) {
	if loc.Kind == resource.KindLocal {
		return nil, nil //nolint:nilnil // local paths carry no credentials
	}

	if loc.Share != "" {
		c, err := r.store.LookupServerShare(ctx, loc.Host, loc.Share)
		if err == nil {
			return c, nil
		}

		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	c, err := r.store.LookupServer(ctx, loc.Host)
	if err == nil {
		return c, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	c, err = r.store.LookupEndpoint(ctx, string(loc.Kind), loc.Host, loc.Port)
	if err == nil {
		return c, nil
	}

	if errors.Is(err, ErrNotFound) {
		r.logger.Warn("no credentials configured",
			slog.String("protocol", string(loc.Kind)),
			slog.String("host", loc.Host),
			slog.Int("port", loc.Port),
		)

		return nil, fmt.Errorf("%w for %s://%s:%d", ErrNotFound, loc.Kind, loc.Host, loc.Port)
	}

	return nil, err
}
