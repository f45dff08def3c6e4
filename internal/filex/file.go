// Package filex contains the filesystem primitives the publication store is
// built from: directory setup, size-bounded copies and durable temp copies.
package filex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrLimitExceeded is returned by CopyLimited when the source holds more
// than the allowed number of bytes.
var ErrLimitExceeded = errors.New("size limit exceeded")

// EnsureDir creates dir (and parents) when missing and returns its absolute
// path. A regular file in the way is an error.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// CopyLimited copies at most limit bytes from src to dst. It stops and
// returns ErrLimitExceeded as soon as the source turns out to be longer, so
// an oversized upload never lands on disk in full. The context is checked
// between reads.
func CopyLimited(ctx context.Context, dst io.Writer, src io.Reader, limit int64) (int64, error) {
	r := io.LimitReader(&ctxReader{ctx: ctx, r: src}, limit+1)

	n, err := io.Copy(dst, r)
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, ErrLimitExceeded
	}
	return n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// CopyToTemp copies the file at src into a new temporary file inside dir,
// fsyncs it and returns its path. The caller owns the returned file and must
// remove it. On error nothing is left behind.
func CopyToTemp(src, dir, pattern string) (_ string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmp := out.Name()
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copy to %s: %w", tmp, err)
	}
	if err = out.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err = out.Chmod(0o640); err != nil {
		return "", fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err = out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmp, err)
	}
	return tmp, nil
}

// SyncDir fsyncs a directory so a freshly linked entry survives a crash.
// Platforms that cannot sync directories report success.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
