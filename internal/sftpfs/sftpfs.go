// Package sftpfs adapts github.com/pkg/sftp onto the engine's capability
// interface. The wire protocol lives entirely in the collaborator library;
// this package owns connection lifecycle, credential application, and
// error translation onto the shared taxonomy.
package sftpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/credentials"
	"github.com/mkuusisto/unifs/internal/resource"
)

const dialTimeout = 15 * time.Second

// Client serves one SFTP endpoint. The underlying sftp.Client is
// goroutine-safe, so one connection serves all throttled slots.
type Client struct {
	creds  *credentials.Credentials
	logger *slog.Logger

	mu   sync.Mutex
	ssh  *ssh.Client
	sftp *sftp.Client
}

func New(creds *credentials.Credentials, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{creds: creds, logger: logger}
}

func (c *Client) Scheme() resource.Kind { return resource.KindSFTP }

// conn returns the live sftp session, dialing lazily on first use.
func (c *Client) conn(ctx context.Context) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return c.sftp, nil
	}

	authMethods, err := authFor(c.creds)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User: c.creds.Username,
		Auth: authMethods,
		// TODO: host key pinning via known_hosts once resource
		// configuration carries the expected key.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(c.creds.Server, fmt.Sprintf("%d", c.creds.Port))

	d := net.Dialer{Timeout: dialTimeout}

	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", client.ErrTransport, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()

		return nil, classifySSH(err)
	}

	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()

		return nil, fmt.Errorf("%w: starting sftp subsystem: %v", client.ErrTransport, err)
	}

	c.ssh = sshClient
	c.sftp = sftpClient

	c.logger.Info("sftp session established",
		slog.String("host", c.creds.Server),
		slog.Int("port", c.creds.Port),
	)

	return c.sftp, nil
}

// Close tears down the session. The next operation redials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error

	if c.sftp != nil {
		err = c.sftp.Close()
		c.sftp = nil
	}

	if c.ssh != nil {
		if closeErr := c.ssh.Close(); err == nil {
			err = closeErr
		}

		c.ssh = nil
	}

	return err
}

func authFor(creds *credentials.Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if len(creds.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(creds.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing private key: %v", client.ErrNotAuthenticated, err)
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no usable sftp credentials", client.ErrNotAuthenticated)
	}

	return methods, nil
}

func (c *Client) List(ctx context.Context, loc resource.Location) ([]client.FileInfo, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, c.wrap("list", loc, err)
	}

	entries, err := conn.ReadDir(remotePath(loc))
	if err != nil {
		return nil, c.wrap("list", loc, classifyFS(err))
	}

	infos := make([]client.FileInfo, len(entries))
	for i, fi := range entries {
		infos[i] = c.fileInfo(loc, fi)
	}

	return infos, nil
}

func (c *Client) Stat(ctx context.Context, loc resource.Location) (client.FileInfo, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return client.FileInfo{}, c.wrap("stat", loc, err)
	}

	fi, err := conn.Stat(remotePath(loc))
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
	conn, err := c.conn(ctx)
	if err != nil {
		return 0, c.wrap("download", loc, err)
	}

	f, err := conn.Open(remotePath(loc))
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

// Upload stages into a ".partial" name and renames after the content
// landed, mirroring the local client's atomic-finish discipline.
func (c *Client) Upload(ctx context.Context, loc resource.Location, r io.Reader, size int64, overwrite bool, progress client.Progress) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return c.wrap("upload", loc, err)
	}

	dst := remotePath(loc)

	if !overwrite {
		if _, statErr := conn.Stat(dst); statErr == nil {
			return c.wrap("upload", loc, client.ErrAlreadyExists)
		}
	}

	partial := dst + ".partial"

	f, err := conn.Create(partial)
	if err != nil {
		return c.wrap("upload", loc, classifyFS(err))
	}

	_, copyErr := client.CopyWithProgress(ctx, f, r, size, progress)

	closeErr := f.Close()

	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		_ = conn.Remove(partial)

		return c.wrap("upload", loc, copyErr)
	}

	if overwrite {
		_ = conn.Remove(dst)
	}

	if err := conn.Rename(partial, dst); err != nil {
		_ = conn.Remove(partial)

		return c.wrap("upload", loc, classifyFS(err))
	}

	return nil
}

func (c *Client) Mkdir(ctx context.Context, loc resource.Location) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return c.wrap("mkdir", loc, err)
	}

	if err := conn.MkdirAll(remotePath(loc)); err != nil {
		return c.wrap("mkdir", loc, classifyFS(err))
	}

	return nil
}

func (c *Client) Delete(ctx context.Context, loc resource.Location) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return c.wrap("delete", loc, err)
	}

	p := remotePath(loc)

	fi, err := conn.Stat(p)
	if err != nil {
		return c.wrap("delete", loc, classifyFS(err))
	}

	if fi.IsDir() {
		err = conn.RemoveAll(p)
	} else {
		err = conn.Remove(p)
	}

	if err != nil {
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
	conn, err := c.conn(ctx)
	if err != nil {
		return c.wrap("move", src, err)
	}

	if err := conn.Rename(remotePath(src), remotePath(dst)); err != nil {
		return c.wrap("move", src, classifyFS(err))
	}

	return nil
}

// Copy has no server-side primitive in the SFTP protocol; the transfer
// orchestrator streams through the engine instead.
func (c *Client) Copy(_ context.Context, src, _ resource.Location) error {
	return c.wrap("copy", src, client.ErrUnsupported)
}

func (c *Client) fileInfo(parent resource.Location, fi os.FileInfo) client.FileInfo {
	child := parent
	child.Path = path.Join(parent.Path, fi.Name())

	return client.FileInfo{
		Name:    fi.Name(),
		Path:    child.String(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}
}

func (c *Client) wrap(op string, loc resource.Location, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &client.Error{Kind: resource.KindSFTP, Op: op, Path: loc.String(), Err: err}
}

// remotePath roots the location path at the server's default directory.
func remotePath(loc resource.Location) string {
	if loc.Path == "" {
		return "."
	}

	return "/" + loc.Path
}

func classifyFS(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", client.ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", client.ErrAlreadyExists, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", client.ErrNotAuthenticated, err)
	default:
		return fmt.Errorf("%w: %v", client.ErrTransport, err)
	}
}

func classifySSH(err error) error {
	if err == nil {
		return nil
	}

	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) {
		return fmt.Errorf("%w: %v", client.ErrNotAuthenticated, err)
	}

	return fmt.Errorf("%w: ssh handshake: %v", client.ErrTransport, err)
}
