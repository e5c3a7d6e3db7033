package credentials

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // driver

	"github.com/mkuusisto/unifs/internal/resource"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists credential records in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the credential database at path and
// applies pending schema migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("credentials: creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("credentials: opening database %s: %w", path, err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// runMigrations applies pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("credentials: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("credentials: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("credentials: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the record for its (protocol, server, port, share) endpoint.
func (s *Store) Save(ctx context.Context, c *Credentials) error {
	const q = `
INSERT INTO credentials (protocol, server, port, username, password, domain, share, private_key, token_ref)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (protocol, server, port, share) DO UPDATE SET
    username = excluded.username,
    password = excluded.password,
    domain = excluded.domain,
    private_key = excluded.private_key,
    token_ref = excluded.token_ref`

	_, err := s.db.ExecContext(ctx, q,
		string(c.Protocol), c.Server, c.Port, c.Username, c.Password, c.Domain, c.Share, c.PrivateKey, c.TokenRef)
	if err != nil {
		return fmt.Errorf("credentials: saving record for %s://%s: %w", c.Protocol, c.Server, err)
	}

	s.logger.Info("credential record saved",
		slog.String("protocol", string(c.Protocol)),
		slog.String("server", c.Server),
		slog.Int("port", c.Port),
	)

	return nil
}

// Delete removes the record for an endpoint. Missing records are not an error.
func (s *Store) Delete(ctx context.Context, protocol, server string, port int, share string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE protocol = ? AND server = ? AND port = ? AND share = ?`,
		protocol, server, port, share)
	if err != nil {
		return fmt.Errorf("credentials: deleting record for %s://%s: %w", protocol, server, err)
	}

	return nil
}

// List returns all records, without secrets scrubbed — callers display
// usernames and servers only.
func (s *Store) List(ctx context.Context) ([]Credentials, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, protocol, server, port, username, password, domain, share, private_key, token_ref
		 FROM credentials ORDER BY protocol, server, port`)
	if err != nil {
		return nil, fmt.Errorf("credentials: listing records: %w", err)
	}
	defer rows.Close()

	var out []Credentials

	for rows.Next() {
		c, scanErr := scanCredentials(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials: listing records: %w", err)
	}

	return out, nil
}

// LookupServerShare finds the exact (server, share) record.
func (s *Store) LookupServerShare(ctx context.Context, server, share string) (*Credentials, error) {
	return s.lookupOne(ctx,
		`SELECT id, protocol, server, port, username, password, domain, share, private_key, token_ref
		 FROM credentials WHERE server = ? AND share = ? LIMIT 1`, server, share)
}

// LookupServer finds any record for the host, regardless of share or port.
// A host-wide record (empty share) is preferred over share-scoped ones.
func (s *Store) LookupServer(ctx context.Context, server string) (*Credentials, error) {
	return s.lookupOne(ctx,
		`SELECT id, protocol, server, port, username, password, domain, share, private_key, token_ref
		 FROM credentials WHERE server = ? ORDER BY share ASC LIMIT 1`, server)
}

// LookupEndpoint finds the record for (protocol, server, port).
func (s *Store) LookupEndpoint(ctx context.Context, protocol, server string, port int) (*Credentials, error) {
	return s.lookupOne(ctx,
		`SELECT id, protocol, server, port, username, password, domain, share, private_key, token_ref
		 FROM credentials WHERE protocol = ? AND server = ? AND port = ? LIMIT 1`, protocol, server, port)
}

func (s *Store) lookupOne(ctx context.Context, query string, args ...any) (*Credentials, error) {
	row := s.db.QueryRowContext(ctx, query, args...)

	c, err := scanCredentials(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return &c, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredentials(row scanner) (Credentials, error) {
	var (
		c     Credentials
		proto string
		key   []byte
	)

	err := row.Scan(&c.ID, &proto, &c.Server, &c.Port, &c.Username, &c.Password, &c.Domain, &c.Share, &key, &c.TokenRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credentials{}, err
		}

		return Credentials{}, fmt.Errorf("credentials: scanning record: %w", err)
	}

	c.Protocol = resource.Kind(proto)
	c.PrivateKey = key

	return c, nil
}
