// Package store keeps published config artifacts. Artifacts are addressed by
// naming.StorageKey only and are immutable once committed: a commit to a key
// that already holds an artifact fails with common.ErrAlreadyExists.
//
// Uploads are first written to a local staging directory, which may live on
// a different volume than the destination, and only then committed.
package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/cfghost/internal/naming"
)

type Store interface {
	// Exists reports whether key already holds an artifact.
	Exists(ctx context.Context, key naming.StorageKey) (bool, error)
	// Stage copies r into the staging area, enforcing the byte ceiling while
	// writing.
	Stage(ctx context.Context, r io.Reader) (*Staged, error)
	// Commit publishes staged at key iff key is still free. The staged file
	// is removed only after the destination write succeeded.
	Commit(ctx context.Context, staged *Staged, key naming.StorageKey) error
	// Read returns the committed bytes or common.ErrorNotFound.
	Read(ctx context.Context, key naming.StorageKey) ([]byte, error)
	// SweepStaging removes leftovers older than olderThan and returns how
	// many files went away.
	SweepStaging(ctx context.Context, olderThan time.Duration) (int, error)
	// Backend names the implementation for logs and metrics.
	Backend() string
}

func checkKey(key naming.StorageKey) error {
	if !key.Valid() {
		return fmt.Errorf("invalid storage key %q", string(key))
	}
	return nil
}
