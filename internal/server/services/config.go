// Package services contains the server's business logic. ConfigService is
// the upload orchestrator: it validates, stages, records and commits config
// artifacts, and serves them back by name.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/cryptox"
	"github.com/dmitrijs2005/cfghost/internal/grammar"
	"github.com/dmitrijs2005/cfghost/internal/logging"
	"github.com/dmitrijs2005/cfghost/internal/naming"
	"github.com/dmitrijs2005/cfghost/internal/server/metrics"
	"github.com/dmitrijs2005/cfghost/internal/server/models"
	"github.com/dmitrijs2005/cfghost/internal/server/store"
)

// Catalog is what the orchestrator needs from the metadata store.
type Catalog interface {
	InsertEntry(ctx context.Context, e models.NewConfigEntry) (*models.ConfigEntry, error)
	CompleteEntry(ctx context.Context, id int64, prevChecksum string, e models.NewConfigEntry) error
	ListEntries(ctx context.Context) ([]*models.ConfigEntry, error)
	GetByName(ctx context.Context, name string) (*models.ConfigEntry, error)
	GetByID(ctx context.Context, id int64) (*models.ConfigEntry, error)
}

// errInconsistent is what readers see for a half-published config: not
// found, with the cause still matchable.
var errInconsistent = fmt.Errorf("%w: %w", common.ErrorNotFound, common.ErrCatalogInconsistent)

type PublishRequest struct {
	Name    string
	Content io.Reader
	Type    models.ConfigType
	OwnerID string
}

type PublishResult struct {
	Key   naming.StorageKey
	Entry *models.ConfigEntry
	// Repaired is set when the upload completed an entry that had been
	// recorded earlier without its artifact.
	Repaired bool
}

type ConfigService struct {
	catalog   Catalog
	store     store.Store
	validator *grammar.Validator
	metrics   *metrics.Collector
	log       logging.Logger
	timeout   time.Duration
	now       func() time.Time
	locks     *nameLocks
}

type Option func(*ConfigService)

// WithTimeout bounds every operation; zero leaves the caller's context alone.
func WithTimeout(d time.Duration) Option {
	return func(s *ConfigService) { s.timeout = d }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *ConfigService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *ConfigService) { s.now = now }
}

func NewConfigService(cat Catalog, st store.Store, v *grammar.Validator, log logging.Logger, opts ...Option) *ConfigService {
	s := &ConfigService{
		catalog:   cat,
		store:     st,
		validator: v,
		log:       log.With("module", "configs"),
		now:       time.Now,
		locks:     newNameLocks(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *ConfigService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Publish runs one upload through the pipeline and stops at the first
// failure: name check, addressing, collision check, staging, grammar check,
// catalog insert, commit.
//
// The catalog entry is written before the artifact. A crash in between
// leaves an entry without a file, which Fetch reports and the next upload of
// the same name repairs. Uploads of one name are serialised within the
// process; across processes the store commit decides.
func (s *ConfigService) Publish(ctx context.Context, req PublishRequest) (res *PublishResult, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer func() { s.metrics.RecordPublish(outcome(err)) }()

	canonical, key, err := naming.Resolve(req.Name)
	if err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown config type", common.ErrInvalidConfig)
	}
	log := s.log.With("name", canonical.String(), "key", key.String())

	release, err := s.locks.acquire(ctx, canonical.String())
	if err != nil {
		return nil, err
	}
	defer release()

	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("config %s: %w", canonical, common.ErrAlreadyExists)
	}

	staged, err := s.store.Stage(ctx, req.Content)
	if err != nil {
		return nil, err
	}
	defer func() {
		if derr := staged.Discard(); derr != nil {
			log.Warn(ctx, "failed to discard staged upload", "error", derr)
		}
	}()

	if err := s.validateStaged(staged); err != nil {
		return nil, fmt.Errorf("config %s: %w", canonical, err)
	}

	entry, prev, err := s.record(ctx, log, canonical, key, req, staged)
	if err != nil {
		return nil, err
	}
	repaired := prev != nil

	if err := ctx.Err(); err != nil {
		log.Info(ctx, "upload cancelled before commit", "entry_id", entry.ID)
		return nil, err
	}

	if err := s.store.Commit(ctx, staged, key); err != nil {
		switch {
		case errors.Is(err, common.ErrAlreadyExists):
			if repaired {
				s.restoreEntry(ctx, log, entry, prev)
			}
			return nil, fmt.Errorf("config %s: %w", canonical, common.ErrAlreadyExists)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			log.Error(ctx, "commit failed; catalog entry left without artifact", "entry_id", entry.ID, "error", err)
			if errors.Is(err, common.ErrStorage) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
		}
	}

	if repaired {
		log.Warn(ctx, "completed catalog entry that had no artifact", "entry_id", entry.ID, "previous_owner", prev.OwnerID)
		s.metrics.RecordInconsistency(metrics.OrphanEntry)
	}

	log.Info(ctx, "config published", "entry_id", entry.ID, "size", staged.Size(), "repaired", repaired)
	return &PublishResult{Key: key, Entry: entry, Repaired: repaired}, nil
}

func (s *ConfigService) validateStaged(staged *store.Staged) error {
	f, err := staged.Open()
	if err != nil {
		return fmt.Errorf("%w: reopen stage: %w", common.ErrStorage, err)
	}
	defer f.Close()
	return s.validator.ValidateReader(f)
}

// record inserts the catalog entry. A duplicate whose artifact is missing is
// either the leftover of an interrupted upload or a concurrent upload that
// has not committed yet; it is rewritten with this request's details before
// the commit, and its previous state is returned so a lost commit race can
// put it back.
func (s *ConfigService) record(ctx context.Context, log logging.Logger, canonical naming.Canonical,
	key naming.StorageKey, req PublishRequest, staged *store.Staged) (*models.ConfigEntry, *models.ConfigEntry, error) {

	next := models.NewConfigEntry{
		Name:      canonical.String(),
		Type:      req.Type,
		CreatedAt: s.now().UTC(),
		OwnerID:   req.OwnerID,
		Size:      staged.Size(),
		Checksum:  staged.Checksum(),
	}
	entry, err := s.catalog.InsertEntry(ctx, next)
	if err == nil {
		return entry, nil, nil
	}
	if !errors.Is(err, common.ErrAlreadyExists) {
		return nil, nil, fmt.Errorf("record %s: %w", canonical, err)
	}

	exists, xerr := s.store.Exists(ctx, key)
	if xerr != nil {
		return nil, nil, xerr
	}
	if exists {
		return nil, nil, fmt.Errorf("config %s: %w", canonical, common.ErrAlreadyExists)
	}

	prev, err := s.catalog.GetByName(ctx, canonical.String())
	if err != nil {
		return nil, nil, fmt.Errorf("load entry %s: %w", canonical, err)
	}
	log.Debug(ctx, "catalog entry without artifact, completing it", "entry_id", prev.ID)

	if err := s.catalog.CompleteEntry(ctx, prev.ID, prev.Checksum, next); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, nil, fmt.Errorf("config %s: %w", canonical, common.ErrAlreadyExists)
		}
		return nil, nil, fmt.Errorf("complete entry %s: %w", canonical, err)
	}

	entry = &models.ConfigEntry{
		ID:        prev.ID,
		Name:      prev.Name,
		CreatedAt: next.CreatedAt,
		Type:      next.Type,
		OwnerID:   next.OwnerID,
		Size:      next.Size,
		Checksum:  next.Checksum,
	}
	return entry, prev, nil
}

// restoreEntry puts back the entry details of the upload whose artifact won
// the commit race.
func (s *ConfigService) restoreEntry(ctx context.Context, log logging.Logger, entry, prev *models.ConfigEntry) {
	err := s.catalog.CompleteEntry(context.WithoutCancel(ctx), entry.ID, entry.Checksum, models.NewConfigEntry{
		Name:      prev.Name,
		Type:      prev.Type,
		CreatedAt: prev.CreatedAt,
		OwnerID:   prev.OwnerID,
		Size:      prev.Size,
		Checksum:  prev.Checksum,
	})
	if err != nil {
		log.Error(ctx, "failed to restore catalog entry after lost commit", "entry_id", entry.ID, "error", err)
	}
}

// Fetch returns the artifact published under name. Artifacts without a
// catalog entry, entries without an artifact and checksum mismatches are all
// reported as not found and counted as inconsistencies.
func (s *ConfigService) Fetch(ctx context.Context, name string) (b []byte, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer func() { s.metrics.RecordFetch(outcome(err)) }()

	canonical, key, err := naming.Resolve(name)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, canonical, key)
}

// FetchByID resolves a catalog id to its name and fetches that.
func (s *ConfigService) FetchByID(ctx context.Context, id int64) (*models.ConfigEntry, []byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.catalog.GetByID(ctx, id)
	if err != nil {
		s.metrics.RecordFetch(outcome(err))
		return nil, nil, err
	}
	canonical, key, err := naming.Resolve(entry.Name)
	if err != nil {
		s.metrics.RecordFetch(outcome(err))
		return nil, nil, err
	}
	b, err := s.fetch(ctx, canonical, key)
	s.metrics.RecordFetch(outcome(err))
	return entry, b, err
}

func (s *ConfigService) fetch(ctx context.Context, canonical naming.Canonical, key naming.StorageKey) ([]byte, error) {
	log := s.log.With("name", canonical.String(), "key", key.String())

	b, readErr := s.store.Read(ctx, key)
	if readErr != nil && !errors.Is(readErr, common.ErrorNotFound) {
		return nil, readErr
	}

	entry, err := s.catalog.GetByName(ctx, canonical.String())
	switch {
	case errors.Is(err, common.ErrorNotFound):
		if readErr == nil {
			log.Warn(ctx, "artifact without catalog entry")
			s.metrics.RecordInconsistency(metrics.OrphanArtifact)
			return nil, errInconsistent
		}
		return nil, common.ErrorNotFound
	case err != nil:
		return nil, fmt.Errorf("lookup %s: %w", canonical, err)
	}

	if readErr != nil {
		log.Warn(ctx, "catalog entry without artifact", "entry_id", entry.ID)
		s.metrics.RecordInconsistency(metrics.MissingArtifact)
		return nil, errInconsistent
	}

	if !cryptox.VerifyChecksum(b, entry.Checksum) {
		log.Warn(ctx, "artifact checksum mismatch", "entry_id", entry.ID)
		s.metrics.RecordInconsistency(metrics.ChecksumMismatch)
		return nil, errInconsistent
	}
	return b, nil
}

func (s *ConfigService) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.catalog.ListEntries(ctx)
}

// Inconsistency is one problem found by Verify.
type Inconsistency struct {
	Entry *models.ConfigEntry `json:"entry"`
	Key   naming.StorageKey   `json:"key"`
	Kind  string              `json:"kind"`
}

// Verify walks the whole catalog and checks every entry against the store.
// It never fixes anything.
func (s *ConfigService) Verify(ctx context.Context) ([]Inconsistency, error) {
	entries, err := s.catalog.ListEntries(ctx)
	if err != nil {
		return nil, err
	}

	var out []Inconsistency
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		_, key, err := naming.Resolve(e.Name)
		if err != nil {
			out = append(out, Inconsistency{Entry: e, Kind: "invalid_name"})
			continue
		}
		b, err := s.store.Read(ctx, key)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			out = append(out, Inconsistency{Entry: e, Key: key, Kind: metrics.MissingArtifact})
		case err != nil:
			return out, err
		case !cryptox.VerifyChecksum(b, e.Checksum):
			out = append(out, Inconsistency{Entry: e, Key: key, Kind: metrics.ChecksumMismatch})
		}
	}
	return out, nil
}

// Sweep removes stale staged uploads.
func (s *ConfigService) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.store.SweepStaging(ctx, olderThan)
	s.metrics.RecordSwept(n)
	if n > 0 {
		s.log.Info(ctx, "staging swept", "removed", n)
	}
	return n, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, common.ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, common.ErrTooLarge):
		return "too_large"
	case errors.Is(err, common.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	case errors.Is(err, common.ErrStorage):
		return "storage_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
