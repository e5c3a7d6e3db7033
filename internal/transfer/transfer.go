// Package transfer sequences copy and move operations between protocol
// endpoints. A registry of strategies is probed per (source kind,
// destination kind) pair; same-endpoint operations prefer the protocol's
// server-side primitive and everything else streams download-to-upload.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/resource"
	"github.com/mkuusisto/unifs/internal/throttle"
)

// ErrUnsupportedCombination means no strategy serves the protocol pair. It
// indicates a missing feature, not a transient fault, and is never folded
// into a generic transport error.
var ErrUnsupportedCombination = errors.New("transfer: unsupported protocol combination")

// Endpoint pairs one side of a transfer with the client serving it.
type Endpoint struct {
	Loc    resource.Location
	Client client.Client
}

// Key is the throttle scope of the endpoint.
func (e Endpoint) Key() resource.Key { return e.Loc.Key() }

// Strategy executes a single-file transfer between two endpoints.
type Strategy interface {
	// CanHandle reports whether the strategy serves the protocol pair.
	CanHandle(src, dst resource.Kind) bool

	Copy(ctx context.Context, src, dst Endpoint, overwrite bool, progress client.Progress) error
	Move(ctx context.Context, src, dst Endpoint, overwrite bool, progress client.Progress) error
}

// Orchestrator resolves the strategy for each transfer and wraps execution
// in throttle slots for both endpoints.
type Orchestrator struct {
	strategies []Strategy
	throttle   *throttle.Throttle
	logger     *slog.Logger
}

func NewOrchestrator(th *throttle.Throttle, bandwidth *BandwidthLimiter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{throttle: th, logger: logger}

	// Probe order matters: the native strategy claims same-endpoint pairs
	// first, the streaming strategy takes everything else.
	o.Register(&nativeStrategy{fallback: &streamStrategy{bandwidth: bandwidth, logger: logger}})
	o.Register(&streamStrategy{bandwidth: bandwidth, logger: logger})

	return o
}

// Register appends a strategy. Earlier registrations win the probe.
func (o *Orchestrator) Register(s Strategy) {
	o.strategies = append(o.strategies, s)
}

func (o *Orchestrator) Copy(ctx context.Context, src, dst Endpoint, overwrite bool, progress client.Progress) error {
	s, err := o.resolve(src, dst)
	if err != nil {
		return err
	}

	return o.withSlots(ctx, src, dst, func(ctx context.Context) error {
		return s.Copy(ctx, src, dst, overwrite, progress)
	})
}

func (o *Orchestrator) Move(ctx context.Context, src, dst Endpoint, overwrite bool, progress client.Progress) error {
	s, err := o.resolve(src, dst)
	if err != nil {
		return err
	}

	return o.withSlots(ctx, src, dst, func(ctx context.Context) error {
		return s.Move(ctx, src, dst, overwrite, progress)
	})
}

func (o *Orchestrator) resolve(src, dst Endpoint) (Strategy, error) {
	for _, s := range o.strategies {
		if s.CanHandle(src.Loc.Kind, dst.Loc.Kind) {
			return s, nil
		}
	}

	return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedCombination, src.Loc.Kind, dst.Loc.Kind)
}

// withSlots holds a throttle slot on each distinct endpoint for the whole
// transfer. Source and destination on the same endpoint share one slot.
func (o *Orchestrator) withSlots(ctx context.Context, src, dst Endpoint, op func(ctx context.Context) error) error {
	if o.throttle == nil {
		return op(ctx)
	}

	return o.throttle.Do(ctx, src.Loc.Kind, src.Key(), throttle.Normal, func(ctx context.Context) error {
		if dst.Key() == src.Key() {
			return op(ctx)
		}

		return o.throttle.Do(ctx, dst.Loc.Kind, dst.Key(), throttle.Normal, op)
	})
}

// nativeStrategy serves same-endpoint pairs through the protocol's own
// copy/rename primitive, falling back to streaming when the protocol has
// none.
type nativeStrategy struct {
	fallback Strategy
}

func (s *nativeStrategy) CanHandle(src, dst resource.Kind) bool {
	return src == dst
}

func (s *nativeStrategy) Copy(ctx context.Context, src, dst Endpoint, overwrite bool, progress client.Progress) error {
	if !sameEndpoint(src, dst) {
		return s.fallback.Copy(ctx, src, dst, overwrite, progress)
	}

	if !overwrite {
		if err := requireAbsent(ctx, dst); err != nil {
			return err
		}
	}

	err := src.Client.Copy(ctx, src.Loc, dst.Loc)
	if errors.Is(err, client.ErrUnsupported) {
		return s.fallback.Copy(ctx, src, dst, overwrite, progress)
	}

	if err == nil && progress != nil {
		reportDone(ctx, src, progress)
	}

	return err
}

func (s *nativeStrategy) Move(ctx context.Context, src, dst Endpoint, overwrite bool, progress client.Progress) error {
	if !sameEndpoint(src, dst) {
		return moveByCopy(ctx, s.fallback, src, dst, overwrite, progress)
	}

	if !overwrite {
		if err := requireAbsent(ctx, dst); err != nil {
			return err
		}
	}

	err := src.Client.Move(ctx, src.Loc, dst.Loc)
	if errors.Is(err, client.ErrUnsupported) {
		return moveByCopy(ctx, s.fallback, src, dst, overwrite, progress)
	}

	if err == nil && progress != nil {
		reportDone(ctx, dst, progress)
	}

	return err
}

// streamStrategy pipes a download into an upload. It serves any protocol
// pair since every client can stream.
type streamStrategy struct {
	bandwidth *BandwidthLimiter
	logger    *slog.Logger
}

func (s *streamStrategy) CanHandle(_, _ resource.Kind) bool { return true }

func (s *streamStrategy) Copy(ctx context.Context, src, dst Endpoint, overwrite bool, progress client.Progress) error {
	total := client.TotalUnknown
	if fi, err := src.Client.Stat(ctx, src.Loc); err == nil {
		total = fi.Size
	}

	if !overwrite {
		if err := requireAbsent(ctx, dst); err != nil {
			return err
		}
	}

	pr, pw := io.Pipe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := src.Client.Download(gctx, src.Loc, pw, nil)

		// Closing with the download error unblocks the uploader's read.
		pw.CloseWithError(err)

		return err
	})

	g.Go(func() error {
		limited := s.bandwidth.WrapReader(gctx, pr)

		err := dst.Client.Upload(gctx, dst.Loc, limited, total, overwrite, progress)

		// Drain-close so a failed upload does not wedge the downloader.
		pr.CloseWithError(err)

		return err
	})

	if err := g.Wait(); err != nil {
		s.cleanupPartial(dst)

		return err
	}

	return nil
}

func (s *streamStrategy) Move(ctx context.Context, src, dst Endpoint, overwrite bool, progress client.Progress) error {
	return moveByCopy(ctx, s, src, dst, overwrite, progress)
}

// cleanupPartial removes a half-written destination after a failed stream.
// Best effort: the transfer error is what the caller sees.
func (s *streamStrategy) cleanupPartial(dst Endpoint) {
	err := dst.Client.Delete(context.Background(), dst.Loc)
	if err != nil && !errors.Is(err, client.ErrNotFound) {
		s.logger.Warn("partial destination cleanup failed",
			slog.String("path", dst.Loc.String()),
			slog.Any("error", err),
		)
	}
}

// moveByCopy is the heterogeneous move: copy, then delete the source only
// after the copy fully succeeded.
func moveByCopy(ctx context.Context, s Strategy, src, dst Endpoint, overwrite bool, progress client.Progress) error {
	if err := s.Copy(ctx, src, dst, overwrite, progress); err != nil {
		return err
	}

	return src.Client.Delete(ctx, src.Loc)
}

func sameEndpoint(src, dst Endpoint) bool {
	return src.Key() == dst.Key()
}

func requireAbsent(ctx context.Context, dst Endpoint) error {
	exists, err := dst.Client.Exists(ctx, dst.Loc)
	if err != nil {
		return err
	}

	if exists {
		return &client.Error{
			Kind: dst.Loc.Kind,
			Op:   "transfer",
			Path: dst.Loc.String(),
			Err:  client.ErrAlreadyExists,
		}
	}

	return nil
}

// reportDone emits a single terminal progress tick for server-side
// operations that never stream bytes through this process.
func reportDone(ctx context.Context, ep Endpoint, progress client.Progress) {
	size := client.TotalUnknown
	if fi, err := ep.Client.Stat(ctx, ep.Loc); err == nil {
		size = fi.Size
	}

	progress(size, size)
}

// DestinationIn returns the location of src's basename inside the folder
// dstDir, used when a transfer targets a directory rather than a full path.
func DestinationIn(dstDir resource.Location, srcPath string) resource.Location {
	out := dstDir
	out.Path = path.Join(dstDir.Path, path.Base(srcPath))

	return out
}
