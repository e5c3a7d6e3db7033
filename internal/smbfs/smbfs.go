// Package smbfs adapts github.com/hirochachacha/go-smb2 onto the engine's
// capability interface. One mounted share serves all throttled slots; the
// SMB wire protocol itself lives in the collaborator library.
package smbfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"path"
	"strings"
	"sync"
	"time"

	smb2 "github.com/hirochachacha/go-smb2"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/credentials"
	"github.com/mkuusisto/unifs/internal/resource"
)

const dialTimeout = 15 * time.Second

// Client serves one SMB share.
type Client struct {
	creds  *credentials.Credentials
	logger *slog.Logger

	mu      sync.Mutex
	netConn net.Conn
	session *smb2.Session
	share   *smb2.Share
}

func New(creds *credentials.Credentials, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{creds: creds, logger: logger}
}

func (c *Client) Scheme() resource.Kind { return resource.KindSMB }

// mount establishes the SMB session and mounts the share, lazily.
func (c *Client) mount(ctx context.Context, shareName string) (*smb2.Share, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.share != nil {
		return c.share, nil
	}

	addr := net.JoinHostPort(c.creds.Server, fmt.Sprintf("%d", c.creds.Port))

	d := net.Dialer{Timeout: dialTimeout}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", client.ErrTransport, addr, err)
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     c.creds.Username,
			Password: c.creds.Password,
			Domain:   c.creds.Domain,
		},
	}

	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("%w: smb session: %v", client.ErrNotAuthenticated, err)
	}

	if shareName == "" {
		shareName = c.creds.Share
	}

	share, err := session.Mount(shareName)
	if err != nil {
		_ = session.Logoff()
		conn.Close()

		return nil, fmt.Errorf("%w: mounting share %q: %v", client.ErrTransport, shareName, err)
	}

	c.netConn = conn
	c.session = session
	c.share = share

	c.logger.Info("smb share mounted",
		slog.String("host", c.creds.Server),
		slog.String("share", shareName),
	)

	return share, nil
}

// Close unmounts and logs off; the next operation remounts.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error

	if c.share != nil {
		err = c.share.Umount()
		c.share = nil
	}

	if c.session != nil {
		if logoffErr := c.session.Logoff(); err == nil {
			err = logoffErr
		}

		c.session = nil
	}

	if c.netConn != nil {
		if closeErr := c.netConn.Close(); err == nil {
			err = closeErr
		}

		c.netConn = nil
	}

	return err
}

func (c *Client) List(ctx context.Context, loc resource.Location) ([]client.FileInfo, error) {
	share, err := c.mount(ctx, loc.Share)
	if err != nil {
		return nil, c.wrap("list", loc, err)
	}

	entries, err := share.ReadDir(smbPath(loc))
	if err != nil {
		return nil, c.wrap("list", loc, classifyFS(err))
	}

	infos := make([]client.FileInfo, len(entries))
	for i, fi := range entries {
		child := loc
		child.Path = path.Join(loc.Path, fi.Name())

		infos[i] = client.FileInfo{
			Name:    fi.Name(),
			Path:    child.String(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
			IsDir:   fi.IsDir(),
		}
	}

	return infos, nil
}

func (c *Client) Stat(ctx context.Context, loc resource.Location) (client.FileInfo, error) {
	share, err := c.mount(ctx, loc.Share)
	if err != nil {
		return client.FileInfo{}, c.wrap("stat", loc, err)
	}

	fi, err := share.Stat(smbPath(loc))
	if err != nil {
		return client.FileInfo{}, c.wrap("stat", loc, classifyFS(err))
	}

	return client.FileInfo{
		Name:    fi.Name(),
		Path:    loc.String(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}, nil
}

func (c *Client) Exists(ctx context.Context, loc resource.Location) (bool, error) {
	_, err := c.Stat(ctx, loc)
	if errors.Is(err, client.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (c *Client) Download(ctx context.Context, loc resource.Location, w io.Writer, progress client.Progress) (int64, error) {
	share, err := c.mount(ctx, loc.Share)
	if err != nil {
		return 0, c.wrap("download", loc, err)
	}

	f, err := share.Open(smbPath(loc))
	if err != nil {
		return 0, c.wrap("download", loc, classifyFS(err))
	}
	defer f.Close()

	total := client.TotalUnknown
	if fi, statErr := f.Stat(); statErr == nil {
		total = fi.Size()
	}

	n, err := client.CopyWithProgress(ctx, w, f, total, progress)
	if err != nil {
		return n, c.wrap("download", loc, err)
	}

	return n, nil
}

func (c *Client) Upload(ctx context.Context, loc resource.Location, r io.Reader, size int64, overwrite bool, progress client.Progress) error {
	share, err := c.mount(ctx, loc.Share)
	if err != nil {
		return c.wrap("upload", loc, err)
	}

	dst := smbPath(loc)

	if !overwrite {
		if _, statErr := share.Stat(dst); statErr == nil {
			return c.wrap("upload", loc, client.ErrAlreadyExists)
		}
	}

	partial := dst + ".partial"

	f, err := share.Create(partial)
	if err != nil {
		return c.wrap("upload", loc, classifyFS(err))
	}

	_, copyErr := client.CopyWithProgress(ctx, f, r, size, progress)

	closeErr := f.Close()

	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		_ = share.Remove(partial)

		return c.wrap("upload", loc, copyErr)
	}

	if overwrite {
		_ = share.Remove(dst)
	}

	if err := share.Rename(partial, dst); err != nil {
		_ = share.Remove(partial)

		return c.wrap("upload", loc, classifyFS(err))
	}

	return nil
}

func (c *Client) Mkdir(ctx context.Context, loc resource.Location) error {
	share, err := c.mount(ctx, loc.Share)
	if err != nil {
		return c.wrap("mkdir", loc, err)
	}

	if err := share.MkdirAll(smbPath(loc), 0o755); err != nil {
		return c.wrap("mkdir", loc, classifyFS(err))
	}

	return nil
}

func (c *Client) Delete(ctx context.Context, loc resource.Location) error {
	share, err := c.mount(ctx, loc.Share)
	if err != nil {
		return c.wrap("delete", loc, err)
	}

	if err := share.RemoveAll(smbPath(loc)); err != nil {
		return c.wrap("delete", loc, classifyFS(err))
	}

	return nil
}

func (c *Client) Rename(ctx context.Context, loc resource.Location, newName string) error {
	dst := loc
	dst.Path = path.Join(path.Dir(loc.Path), newName)

	return c.Move(ctx, loc, dst)
}

func (c *Client) Move(ctx context.Context, src, dst resource.Location) error {
	share, err := c.mount(ctx, src.Share)
	if err != nil {
		return c.wrap("move", src, err)
	}

	if err := share.Rename(smbPath(src), smbPath(dst)); err != nil {
		return c.wrap("move", src, classifyFS(err))
	}

	return nil
}

// Copy has no cheap server-side path in SMB2 without the FSCTL copychunk
// extension the collaborator does not expose; the orchestrator streams.
func (c *Client) Copy(_ context.Context, src, _ resource.Location) error {
	return c.wrap("copy", src, client.ErrUnsupported)
}

func (c *Client) wrap(op string, loc resource.Location, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &client.Error{Kind: resource.KindSMB, Op: op, Path: loc.String(), Err: err}
}

// smbPath converts the location's forward-slash path to the share-relative
// backslash form the collaborator expects.
func smbPath(loc resource.Location) string {
	return strings.ReplaceAll(loc.Path, "/", `\`)
}

func classifyFS(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", client.ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", client.ErrAlreadyExists, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", client.ErrNotAuthenticated, err)
	default:
		return fmt.Errorf("%w: %v", client.ErrTransport, err)
	}
}
