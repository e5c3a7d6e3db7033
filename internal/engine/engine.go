// Package engine is the facade over the whole stack: paths are resolved to
// credentials, admitted through the throttle, executed by protocol
// clients, cached where profitable, and destructive operations are
// recorded for undo. All public operations take a context and may be
// called from any goroutine.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/mkuusisto/unifs/internal/auth"
	"github.com/mkuusisto/unifs/internal/cache"
	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/config"
	"github.com/mkuusisto/unifs/internal/credentials"
	"github.com/mkuusisto/unifs/internal/ftpfs"
	"github.com/mkuusisto/unifs/internal/resource"
	"github.com/mkuusisto/unifs/internal/sftpfs"
	"github.com/mkuusisto/unifs/internal/smbfs"
	"github.com/mkuusisto/unifs/internal/throttle"
	"github.com/mkuusisto/unifs/internal/transfer"
	"github.com/mkuusisto/unifs/internal/undo"
)

// copyFanOut bounds how many sources of one multi-file transfer run at
// once. The throttle still bounds per-endpoint concurrency underneath.
const copyFanOut = 4

// Engine owns the long-lived subsystems. Construct one per process with
// New and share it; it is safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	store    *credentials.Store
	resolver *credentials.Resolver
	throttle *throttle.Throttle
	cache    *cache.Cache
	auth     *auth.Coordinator
	transfer *transfer.Orchestrator
	undo     *undo.Manager
	logger   *slog.Logger

	local client.Client

	mu      sync.Mutex
	remotes map[resource.Key]client.Client
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := credentials.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}

	maxBytes, err := cfg.Cache.MaxBytes()
	if err != nil {
		store.Close()

		return nil, err
	}

	contentCache, err := cache.New(cfg.Cache.Dir, maxBytes, cfg.Cache.TTL(), logger)
	if err != nil {
		store.Close()

		return nil, err
	}

	var throttleOpts []throttle.Option
	if d := cfg.Throttle.AcquireTimeout(); d > 0 {
		throttleOpts = append(throttleOpts, throttle.WithAcquireTimeout(d))
	}

	th := throttle.New(logger, throttleOpts...)

	bandwidth, err := transfer.NewBandwidthLimiter(cfg.Transfer.BandwidthLimit, logger)
	if err != nil {
		store.Close()

		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		store:    store,
		resolver: credentials.NewResolver(store, logger),
		throttle: th,
		cache:    contentCache,
		auth:     auth.NewCoordinator(logger),
		transfer: transfer.NewOrchestrator(th, bandwidth, logger),
		logger:   logger,
		local:    client.NewLocal(logger),
		remotes:  make(map[resource.Key]client.Client),
	}

	e.undo = undo.NewManager(e.clientFor, logger,
		undo.WithWindow(cfg.Undo.Window()),
		undo.WithSweepGrace(cfg.Undo.SweepGrace()),
		undo.WithStateFile(filepath.Join(filepath.Dir(cfg.Store.Path), "undo.json")),
	)

	// Configured resources carry learned per-endpoint ceilings.
	if resources, listErr := store.ListResources(ctx); listErr == nil {
		for i := range resources {
			r := &resources[i]
			if r.RecommendedConcurrency > 0 {
				th.SetLimit(r.Key(), r.RecommendedConcurrency)
			}
		}
	}

	return e, nil
}

// StartSweeper launches the background trash sweep. Call once after New.
func (e *Engine) StartSweeper(ctx context.Context) {
	e.undo.StartSweeper(ctx, e.cfg.Undo.SweepGrace())
}

// SweepTrash runs one synchronous pass over aged-out trash folders.
// Short-lived callers use this at startup instead of the background sweep.
func (e *Engine) SweepTrash(ctx context.Context) {
	e.undo.Sweep(ctx)
}

// RegisterCloud makes a cloud provider available under its account name,
// addressed as cloud://<account>/path.
func (e *Engine) RegisterCloud(account string, cc client.CloudClient) {
	e.auth.Register(account, cc)
}

func (e *Engine) Close() error {
	e.mu.Lock()

	for _, c := range e.remotes {
		if closer, ok := c.(io.Closer); ok {
			closer.Close()
		}
	}

	e.remotes = nil
	e.mu.Unlock()

	return e.store.Close()
}

// clientFor resolves the protocol client that serves loc, dialing and
// caching remote adapters on first use.
func (e *Engine) clientFor(ctx context.Context, loc resource.Location) (client.Client, error) {
	switch loc.Kind {
	case resource.KindLocal:
		return e.local, nil
	case resource.KindCloud:
		return e.auth.ClientOrRequireAuth(ctx, loc.Host)
	default:
	}

	key := loc.Key()

	e.mu.Lock()
	if c, ok := e.remotes[key]; ok {
		e.mu.Unlock()

		return c, nil
	}
	e.mu.Unlock()

	creds, err := e.resolver.ResolveLocation(ctx, loc)
	if err != nil {
		return nil, err
	}

	var c client.Client

	switch loc.Kind {
	case resource.KindSMB:
		c = smbfs.New(creds, e.logger)
	case resource.KindSFTP:
		c = sftpfs.New(creds, e.logger)
	case resource.KindFTP:
		c = ftpfs.New(creds, e.logger)
	default:
		return nil, fmt.Errorf("engine: no client for %q: %w", loc.Kind, client.ErrUnsupported)
	}

	if limit := e.classLimit(loc.Kind); limit > 0 {
		e.throttle.SetLimit(key, limit)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have dialed the same endpoint concurrently;
	// keep the first one.
	if existing, ok := e.remotes[key]; ok {
		if closer, isCloser := c.(io.Closer); isCloser {
			closer.Close()
		}

		return existing, nil
	}

	e.remotes[key] = c

	return c, nil
}

func (e *Engine) classLimit(kind resource.Kind) int {
	switch kind {
	case resource.KindSMB:
		return e.cfg.Throttle.SMB
	case resource.KindSFTP:
		return e.cfg.Throttle.SFTP
	case resource.KindFTP:
		return e.cfg.Throttle.FTP
	case resource.KindCloud:
		return e.cfg.Throttle.Cloud
	default:
		return 0
	}
}

// run executes op against loc's client with throttling and, for cloud
// endpoints, one silent re-auth retry on an expired session.
func (e *Engine) run(ctx context.Context, loc resource.Location, prio throttle.Priority, op func(ctx context.Context, c client.Client) error) error {
	c, err := e.clientFor(ctx, loc)
	if err != nil {
		return err
	}

	invoke := func(ctx context.Context) error { return op(ctx, c) }

	if loc.Kind == resource.KindCloud {
		inner := invoke
		invoke = func(ctx context.Context) error {
			return e.auth.ExecuteWithReauth(ctx, loc.Host, inner)
		}
	}

	if !loc.Kind.Remote() {
		return invoke(ctx)
	}

	return e.throttle.Do(ctx, loc.Kind, loc.Key(), prio, invoke)
}
