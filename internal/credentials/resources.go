package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkuusisto/unifs/internal/resource"
)

// ErrResourceNotFound is returned when no configured resource matches.
var ErrResourceNotFound = errors.New("credentials: resource not found")

// SaveResource upserts a configured resource by its root path.
func (s *Store) SaveResource(ctx context.Context, r *resource.Resource) error {
	const q = `
INSERT INTO resources (id, kind, root, credential_ref, writable, recommended_concurrency, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (root) DO UPDATE SET
    kind = excluded.kind,
    credential_ref = excluded.credential_ref,
    writable = excluded.writable,
    recommended_concurrency = excluded.recommended_concurrency`

	_, err := s.db.ExecContext(ctx, q,
		r.ID, string(r.Kind), r.Root, r.CredentialRef,
		boolToInt(r.Writable), r.RecommendedConcurrency,
		r.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("credentials: saving resource %s: %w", r.Root, err)
	}

	s.logger.Info("resource saved",
		slog.String("id", r.ID),
		slog.String("kind", string(r.Kind)),
		slog.String("root", r.Root),
	)

	return nil
}

// ListResources returns all configured resources ordered by creation time.
func (s *Store) ListResources(ctx context.Context) ([]resource.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, root, credential_ref, writable, recommended_concurrency, created_at
		 FROM resources ORDER BY created_at, root`)
	if err != nil {
		return nil, fmt.Errorf("credentials: listing resources: %w", err)
	}
	defer rows.Close()

	var out []resource.Resource

	for rows.Next() {
		r, scanErr := scanResource(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials: listing resources: %w", err)
	}

	return out, nil
}

// GetResource finds one resource by id.
func (s *Store) GetResource(ctx context.Context, id string) (*resource.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, root, credential_ref, writable, recommended_concurrency, created_at
		 FROM resources WHERE id = ?`, id)

	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %s", ErrResourceNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return &r, nil
}

// DeleteResource removes one resource and returns it, so callers can
// cascade cleanup keyed on its root.
func (s *Store) DeleteResource(ctx context.Context, id string) (*resource.Resource, error) {
	r, err := s.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("credentials: deleting resource %s: %w", id, err)
	}

	return r, nil
}

func scanResource(row scanner) (resource.Resource, error) {
	var (
		r        resource.Resource
		kind     string
		writable int
		created  string
	)

	err := row.Scan(&r.ID, &kind, &r.Root, &r.CredentialRef, &writable, &r.RecommendedConcurrency, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resource.Resource{}, err
		}

		return resource.Resource{}, fmt.Errorf("credentials: scanning resource: %w", err)
	}

	r.Kind = resource.Kind(kind)
	r.Writable = writable != 0

	if t, parseErr := time.Parse(time.RFC3339, created); parseErr == nil {
		r.CreatedAt = t
	}

	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
