package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/resource"
)

// item is the wire representation of one file or folder.
type item struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Dir      bool      `json:"dir"`
}

func (it item) fileInfo(account string) client.FileInfo {
	loc := resource.Location{Kind: resource.KindCloud, Host: account, Path: it.Path}

	return client.FileInfo{
		Name:    it.Name,
		Path:    loc.String(),
		Size:    it.Size,
		ModTime: it.Modified,
		IsDir:   it.Dir,
	}
}

func pathQuery(loc resource.Location) string {
	return "?path=" + url.QueryEscape(loc.Path)
}

func (c *Client) List(ctx context.Context, loc resource.Location) ([]client.FileInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files"+pathQuery(loc), nil, "")
	if err != nil {
		return nil, c.wrap("list", loc, err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Items []item `json:"items"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, c.wrap("list", loc, fmt.Errorf("%w: decoding listing: %v", client.ErrTransport, err))
	}

	infos := make([]client.FileInfo, len(parsed.Items))
	for i, it := range parsed.Items {
		infos[i] = it.fileInfo(c.account)
	}

	return infos, nil
}

func (c *Client) Stat(ctx context.Context, loc resource.Location) (client.FileInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/stat"+pathQuery(loc), nil, "")
	if err != nil {
		return client.FileInfo{}, c.wrap("stat", loc, err)
	}
	defer resp.Body.Close()

	var it item
	if err := json.NewDecoder(resp.Body).Decode(&it); err != nil {
		return client.FileInfo{}, c.wrap("stat", loc, fmt.Errorf("%w: decoding item: %v", client.ErrTransport, err))
	}

	return it.fileInfo(c.account), nil
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

// Download streams content to w. The total reported to progress comes from
// Content-Length; chunked responses report TotalUnknown.
func (c *Client) Download(ctx context.Context, loc resource.Location, w io.Writer, progress client.Progress) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/content"+pathQuery(loc), nil, "")
	if err != nil {
		return 0, c.wrap("download", loc, err)
	}
	defer resp.Body.Close()

	total := client.TotalUnknown
	if resp.ContentLength >= 0 {
		total = resp.ContentLength
	}

	n, err := client.CopyWithProgress(ctx, w, resp.Body, total, progress)
	if err != nil {
		c.logger.Error("streaming download failed",
			slog.String("path", loc.Path),
			slog.Int64("bytes_before_error", n),
			slog.String("error", err.Error()),
		)

		return n, c.wrap("download", loc, err)
	}

	return n, nil
}

// Upload sends r as the new content of loc. Progress is driven by a
// counting reader wrapped around r so cancellation still interrupts
// between buffer steps.
func (c *Client) Upload(ctx context.Context, loc resource.Location, r io.Reader, size int64, overwrite bool, progress client.Progress) error {
	q := pathQuery(loc) + "&overwrite=" + strconv.FormatBool(overwrite)

	body := &progressReader{ctx: ctx, r: r, total: size, progress: progress}

	resp, err := c.do(ctx, http.MethodPut, "/content"+q, body, "application/octet-stream")
	if err != nil {
		return c.wrap("upload", loc, err)
	}

	resp.Body.Close()

	return nil
}

func (c *Client) Mkdir(ctx context.Context, loc resource.Location) error {
	return c.simplePost(ctx, "mkdir", "/folders"+pathQuery(loc), loc, nil)
}

func (c *Client) Delete(ctx context.Context, loc resource.Location) error {
	resp, err := c.do(ctx, http.MethodDelete, "/files"+pathQuery(loc), nil, "")
	if err != nil {
		return c.wrap("delete", loc, err)
	}

	resp.Body.Close()

	return nil
}

func (c *Client) Rename(ctx context.Context, loc resource.Location, newName string) error {
	payload := map[string]string{"path": loc.Path, "new_name": newName}

	return c.simplePost(ctx, "rename", "/rename", loc, payload)
}

func (c *Client) Move(ctx context.Context, src, dst resource.Location) error {
	payload := map[string]string{"source": src.Path, "destination": dst.Path}

	return c.simplePost(ctx, "move", "/move", src, payload)
}

func (c *Client) Copy(ctx context.Context, src, dst resource.Location) error {
	payload := map[string]string{"source": src.Path, "destination": dst.Path}

	return c.simplePost(ctx, "copy", "/copy", src, payload)
}

func (c *Client) simplePost(ctx context.Context, op, path string, loc resource.Location, payload map[string]string) error {
	var body io.Reader

	contentType := ""

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return c.wrap(op, loc, err)
		}

		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, http.MethodPost, path, body, contentType)
	if err != nil {
		return c.wrap(op, loc, err)
	}

	resp.Body.Close()

	return nil
}

func (c *Client) wrap(op string, loc resource.Location, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &client.Error{Kind: resource.KindCloud, Op: op, Path: loc.String(), Err: err}
}

// progressReader reports bytes consumed from an upload body and aborts
// reads once ctx ends, so in-flight uploads cancel at buffer granularity.
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
