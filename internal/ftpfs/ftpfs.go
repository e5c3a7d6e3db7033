// Package ftpfs adapts github.com/jlaffaye/ftp onto the engine's
// capability interface. An FTP control connection serializes commands, so
// all operations share one guarded connection; the protocol-class
// concurrency ceiling for FTP is correspondingly low.
package ftpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/credentials"
	"github.com/mkuusisto/unifs/internal/resource"
)

const dialTimeout = 15 * time.Second

// Client serves one FTP endpoint.
type Client struct {
	creds  *credentials.Credentials
	logger *slog.Logger

	mu   sync.Mutex // guards conn; the control connection is not goroutine-safe
	conn *ftp.ServerConn
}

func New(creds *credentials.Credentials, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{creds: creds, logger: logger}
}

func (c *Client) Scheme() resource.Kind { return resource.KindFTP }

// connect dials and logs in lazily. Caller must hold c.mu.
func (c *Client) connect(ctx context.Context) (*ftp.ServerConn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	addr := net.JoinHostPort(c.creds.Server, fmt.Sprintf("%d", c.creds.Port))

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(dialTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", client.ErrTransport, addr, err)
	}

	user := c.creds.Username
	if user == "" {
		user = "anonymous"
	}

	if err := conn.Login(user, c.creds.Password); err != nil {
		_ = conn.Quit()

		return nil, fmt.Errorf("%w: login as %s: %v", client.ErrNotAuthenticated, user, err)
	}

	c.conn = conn

	c.logger.Info("ftp session established",
		slog.String("host", c.creds.Server),
		slog.Int("port", c.creds.Port),
	)

	return c.conn, nil
}

// withConn runs op while holding the connection lock. A failing connection
// is dropped so the next operation redials.
func (c *Client) withConn(ctx context.Context, op func(conn *ftp.ServerConn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	if err := op(conn); err != nil {
		if isConnError(err) {
			_ = conn.Quit()
			c.conn = nil
		}

		return err
	}

	return nil
}

// Close ends the session; the next operation redials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Quit()
	c.conn = nil

	return err
}

func (c *Client) List(ctx context.Context, loc resource.Location) ([]client.FileInfo, error) {
	var infos []client.FileInfo

	err := c.withConn(ctx, func(conn *ftp.ServerConn) error {
		entries, listErr := conn.List(remotePath(loc))
		if listErr != nil {
			return classify(listErr)
		}

		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}

			child := loc
			child.Path = path.Join(loc.Path, e.Name)

			infos = append(infos, client.FileInfo{
				Name:    e.Name,
				Path:    child.String(),
				Size:    int64(e.Size),
				ModTime: e.Time,
				IsDir:   e.Type == ftp.EntryTypeFolder,
			})
		}

		return nil
	})
	if err != nil {
		return nil, c.wrap("list", loc, err)
	}

	return infos, nil
}

func (c *Client) Stat(ctx context.Context, loc resource.Location) (client.FileInfo, error) {
	// FTP has no portable stat; list the parent and match by name.
	parent := loc
	parent.Path = path.Dir(loc.Path)

	if parent.Path == "." {
		parent.Path = ""
	}

	siblings, err := c.List(ctx, parent)
	if err != nil {
		return client.FileInfo{}, err
	}

	name := path.Base(loc.Path)

	for _, fi := range siblings {
		if fi.Name == name {
			return fi, nil
		}
	}

	return client.FileInfo{}, c.wrap("stat", loc, client.ErrNotFound)
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
	var written int64

	err := c.withConn(ctx, func(conn *ftp.ServerConn) error {
		total := client.TotalUnknown
		if size, sizeErr := conn.FileSize(remotePath(loc)); sizeErr == nil {
			total = size
		}

		resp, retrErr := conn.Retr(remotePath(loc))
		if retrErr != nil {
			return classify(retrErr)
		}
		defer resp.Close()

		var copyErr error

		written, copyErr = client.CopyWithProgress(ctx, w, resp, total, progress)

		return copyErr
	})
	if err != nil {
		return written, c.wrap("download", loc, err)
	}

	return written, nil
}

func (c *Client) Upload(ctx context.Context, loc resource.Location, r io.Reader, size int64, overwrite bool, progress client.Progress) error {
	err := c.withConn(ctx, func(conn *ftp.ServerConn) error {
		if !overwrite {
			if _, sizeErr := conn.FileSize(remotePath(loc)); sizeErr == nil {
				return client.ErrAlreadyExists
			}
		}

		body := &progressReader{ctx: ctx, r: r, total: size, progress: progress}

		if storErr := conn.Stor(remotePath(loc), body); storErr != nil {
			return classify(storErr)
		}

		return nil
	})

	return c.wrap("upload", loc, err)
}

func (c *Client) Mkdir(ctx context.Context, loc resource.Location) error {
	err := c.withConn(ctx, func(conn *ftp.ServerConn) error {
		if mkErr := conn.MakeDir(remotePath(loc)); mkErr != nil {
			classified := classify(mkErr)
			// Creating an existing directory is fine.
			if errors.Is(classified, client.ErrAlreadyExists) {
				return nil
			}

			return classified
		}

		return nil
	})

	return c.wrap("mkdir", loc, err)
}

func (c *Client) Delete(ctx context.Context, loc resource.Location) error {
	err := c.withConn(ctx, func(conn *ftp.ServerConn) error {
		if delErr := conn.Delete(remotePath(loc)); delErr != nil {
			// Fall back to directory removal.
			if rmErr := conn.RemoveDirRecur(remotePath(loc)); rmErr != nil {
				return classify(delErr)
			}
		}

		return nil
	})

	return c.wrap("delete", loc, err)
}

func (c *Client) Rename(ctx context.Context, loc resource.Location, newName string) error {
	dst := loc
	dst.Path = path.Join(path.Dir(loc.Path), newName)

	return c.Move(ctx, loc, dst)
}

func (c *Client) Move(ctx context.Context, src, dst resource.Location) error {
	err := c.withConn(ctx, func(conn *ftp.ServerConn) error {
		if mvErr := conn.Rename(remotePath(src), remotePath(dst)); mvErr != nil {
			return classify(mvErr)
		}

		return nil
	})

	return c.wrap("move", src, err)
}

// Copy has no server-side primitive in FTP; the orchestrator streams.
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

	return &client.Error{Kind: resource.KindFTP, Op: op, Path: loc.String(), Err: err}
}

func remotePath(loc resource.Location) string {
	if loc.Path == "" {
		return "/"
	}

	return "/" + loc.Path
}

// classify maps FTP reply codes onto taxonomy sentinels. 550 covers both
// missing files and permission refusals; the message disambiguates where
// the server bothers to say.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var proto *textproto.Error

	if errors.As(err, &proto) {
		switch {
		case proto.Code == ftp.StatusFileUnavailable:
			if strings.Contains(strings.ToLower(proto.Msg), "exist") {
				return fmt.Errorf("%w: %v", client.ErrAlreadyExists, err)
			}

			return fmt.Errorf("%w: %v", client.ErrNotFound, err)
		case proto.Code == ftp.StatusNotLoggedIn:
			return fmt.Errorf("%w: %v", client.ErrNotAuthenticated, err)
		}
	}

	return fmt.Errorf("%w: %v", client.ErrTransport, err)
}

func isConnError(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr) || errors.Is(err, io.EOF)
}

// progressReader mirrors the cloud client's upload accounting.
type progressReader struct {
	ctx      context.Context
	r        io.Reader
	total    int64
	read     int64
	progress client.Progress
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)

		if p.progress != nil {
			p.progress(p.read, p.total)
		}
	}

	return n, err
}
