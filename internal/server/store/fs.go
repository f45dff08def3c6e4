package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/filex"
	"github.com/dmitrijs2005/cfghost/internal/logging"
	"github.com/dmitrijs2005/cfghost/internal/naming"
)

// incomingPrefix marks half-written copies inside the store directory. They
// can never collide with a key, which is plain hex.
const incomingPrefix = ".incoming-"

// FileStore keeps one file per key in a flat directory.
type FileStore struct {
	root   string
	stager *Stager
	log    logging.Logger
}

func NewFileStore(root string, stager *Stager, log logging.Logger) (*FileStore, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, fmt.Errorf("store dir: %w", err)
	}
	return &FileStore{
		root:   abs,
		stager: stager,
		log:    log.With("module", "store", "backend", "fs"),
	}, nil
}

func (s *FileStore) Backend() string { return "fs" }

func (s *FileStore) path(key naming.StorageKey) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, string(key)), nil
}

func (s *FileStore) Exists(ctx context.Context, key naming.StorageKey) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: stat %s: %w", common.ErrStorage, key, err)
	}
}

func (s *FileStore) Stage(ctx context.Context, r io.Reader) (*Staged, error) {
	return s.stager.Stage(ctx, r)
}

// Commit copies the staged bytes next to their destination, fsyncs them and
// hard-links the copy to the key. link(2) refuses to replace an existing
// name, which makes the commit itself the authoritative collision check.
// Readers never see a partial file: the key appears only once fully written.
func (s *FileStore) Commit(ctx context.Context, staged *Staged, key naming.StorageKey) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if staged == nil {
		return errors.New("nothing staged")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := filex.CopyToTemp(staged.path, s.root, incomingPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: copy %s: %w", common.ErrStorage, key, err)
	}
	defer func() {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn(ctx, "failed to remove temp copy", "path", tmp, "error", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Link(tmp, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("key %s: %w", key, common.ErrAlreadyExists)
		}
		return fmt.Errorf("%w: link %s: %w", common.ErrStorage, key, err)
	}

	if err := filex.SyncDir(s.root); err != nil {
		s.log.Warn(ctx, "failed to sync store dir", "error", err)
	}

	if err := staged.Discard(); err != nil {
		// committed already; the janitor collects the leftover
		s.log.Warn(ctx, "failed to remove staged upload", "key", key, "error", err)
	}
	return nil
}

func (s *FileStore) Read(ctx context.Context, key naming.StorageKey) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrStorage, key, err)
	}
	return b, nil
}

// SweepStaging clears stale staged uploads and half-copied temp files left
// in the store directory by a crash mid-commit.
func (s *FileStore) SweepStaging(ctx context.Context, olderThan time.Duration) (int, error) {
	staged, err := s.stager.Sweep(ctx, olderThan)
	if err != nil {
		return staged, err
	}
	incoming, err := sweepDir(ctx, s.root, incomingPrefix, olderThan)
	return staged + incoming, err
}
