package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/cryptox"
	"github.com/dmitrijs2005/cfghost/internal/filex"
	"github.com/google/uuid"
)

const stagePrefix = "stage-"

// Staged is an upload sitting in the staging area. It is owned by the
// request that created it; Discard is idempotent and safe to defer.
type Staged struct {
	path     string
	size     int64
	checksum string

	once sync.Once
	err  error
	gone bool
}

func (s *Staged) Size() int64 { return s.size }

// Checksum is the BLAKE2b-256 of the staged bytes, computed while staging.
func (s *Staged) Checksum() string { return s.checksum }

func (s *Staged) Open() (*os.File, error) {
	if s.gone {
		return nil, errors.New("staged upload already discarded")
	}
	return os.Open(s.path)
}

// Bytes reads the staged content back. Staged files never exceed the upload
// ceiling, so holding them in memory is bounded.
func (s *Staged) Bytes() ([]byte, error) {
	if s.gone {
		return nil, errors.New("staged upload already discarded")
	}
	return os.ReadFile(s.path)
}

func (s *Staged) Discard() error {
	s.once.Do(func() {
		s.gone = true
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.err = err
		}
	})
	return s.err
}

// Stager writes uploads into a staging directory.
type Stager struct {
	dir   string
	limit int64
}

// NewStager creates dir when missing. limit is the per-upload byte ceiling.
func NewStager(dir string, limit int64) (*Stager, error) {
	if limit <= 0 {
		limit = common.MaxUploadBytes
	}
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("staging dir: %w", err)
	}
	return &Stager{dir: abs, limit: limit}, nil
}

func (st *Stager) Dir() string  { return st.dir }
func (st *Stager) Limit() int64 { return st.limit }

// Stage copies r into a fresh file. Oversized input is cut off as soon as
// the ceiling is crossed and reported as common.ErrTooLarge; nothing is left
// behind on any failure.
func (st *Stager) Stage(ctx context.Context, r io.Reader) (*Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(st.dir, stagePrefix+uuid.NewString())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create stage: %w", common.ErrStorage, err)
	}

	h := cryptox.NewChecksumHash()
	n, err := filex.CopyLimited(ctx, io.MultiWriter(f, h), r, st.limit)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		_ = os.Remove(path)
		switch {
		case errors.Is(err, filex.ErrLimitExceeded):
			return nil, fmt.Errorf("%w: upload exceeds %d bytes", common.ErrTooLarge, st.limit)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: stage: %w", common.ErrStorage, err)
		}
	}

	return &Staged{path: path, size: n, checksum: cryptox.HexSum(h)}, nil
}

// Sweep removes staged files last modified before now-olderThan.
func (st *Stager) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	return sweepDir(ctx, st.dir, stagePrefix, olderThan)
}

func sweepDir(ctx context.Context, dir, prefix string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// raced with a concurrent discard
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
