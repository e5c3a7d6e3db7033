package client

import (
	"context"
	"io"
	"time"

	"github.com/mkuusisto/unifs/internal/resource"
)

// TotalUnknown is the sentinel total for streamed transfers whose size the
// protocol cannot report up front.
const TotalUnknown int64 = -1

// Progress receives byte counts during a transfer. It is invoked once per
// buffer-sized step; implementations must be cheap and must not block.
// total is TotalUnknown when the size is not known in advance.
type Progress func(transferred, total int64)

// FileInfo describes one file or folder on an endpoint.
type FileInfo struct {
	Name    string
	Path    string // canonical scheme-qualified path
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Client is the capability interface every protocol implementation
// satisfies. Each method maps one logical operation onto the endpoint and
// returns taxonomy errors (errors.go) so callers never inspect
// protocol-specific failures.
//
// Long-running calls (Download, Upload) must honor ctx at every buffer
// step, not just at entry.
type Client interface {
	Scheme() resource.Kind

	List(ctx context.Context, loc resource.Location) ([]FileInfo, error)
	Stat(ctx context.Context, loc resource.Location) (FileInfo, error)
	Exists(ctx context.Context, loc resource.Location) (bool, error)

	// Download streams the file at loc to w, reporting progress per step.
	// Returns the byte count written.
	Download(ctx context.Context, loc resource.Location, w io.Writer, progress Progress) (int64, error)

	// Upload streams r to loc. size is the expected byte count, or
	// TotalUnknown. Without overwrite an existing destination is
	// ErrAlreadyExists.
	Upload(ctx context.Context, loc resource.Location, r io.Reader, size int64, overwrite bool, progress Progress) error

	Mkdir(ctx context.Context, loc resource.Location) error
	Delete(ctx context.Context, loc resource.Location) error

	// Rename changes the last path element in place.
	Rename(ctx context.Context, loc resource.Location, newName string) error

	// Move and Copy are server-side, same-endpoint operations. Clients
	// whose protocol has no such primitive return ErrUnsupported and the
	// transfer orchestrator streams instead.
	Move(ctx context.Context, src, dst resource.Location) error
	Copy(ctx context.Context, src, dst resource.Location) error
}

// Authenticator is implemented by cloud clients on top of Client. The
// Authentication Coordinator drives these; other code never calls them.
type Authenticator interface {
	// Authenticate attempts silent session restoration from persisted
	// state. No user interaction: failure means interactive auth is needed.
	Authenticate(ctx context.Context) error

	// IsAuthenticated is a fast local check, no I/O.
	IsAuthenticated() bool

	SignOut(ctx context.Context) error
}

// CloudClient bundles the capability and auth surfaces of a cloud protocol
// implementation.
type CloudClient interface {
	Client
	Authenticator
}
