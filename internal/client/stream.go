package client

import (
	"context"
	"io"
)

// copyBufSize is one I/O step: the granularity of cancellation checks and
// progress callbacks during a streamed transfer.
const copyBufSize = 128 * 1024

// CopyWithProgress copies r to w in copyBufSize steps, checking ctx and
// reporting progress after every step. Returns bytes written and the first
// error. Cancellation surfaces as ctx.Err() with the partial count.
func CopyWithProgress(ctx context.Context, w io.Writer, r io.Reader, total int64, progress Progress) (int64, error) {
	buf := make([]byte, copyBufSize)

	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)

			if writeErr != nil {
				return written, writeErr
			}

			if wn < n {
				return written, io.ErrShortWrite
			}

			if progress != nil {
				progress(written, total)
			}
		}

		if readErr == io.EOF {
			return written, nil
		}

		if readErr != nil {
			return written, readErr
		}
	}
}
