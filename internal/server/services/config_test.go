package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/cryptox"
	"github.com/dmitrijs2005/cfghost/internal/grammar"
	"github.com/dmitrijs2005/cfghost/internal/logging"
	"github.com/dmitrijs2005/cfghost/internal/naming"
	"github.com/dmitrijs2005/cfghost/internal/server/catalog"
	"github.com/dmitrijs2005/cfghost/internal/server/metrics"
	"github.com/dmitrijs2005/cfghost/internal/server/models"
	"github.com/dmitrijs2005/cfghost/internal/server/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	svc     *ConfigService
	catalog *catalog.Catalog
	store   *store.FileStore
	metrics *metrics.Collector
	root    string
	staging string
}

// hookStore lets a test interfere with individual store calls.
type hookStore struct {
	store.Store
	afterStage   func()
	beforeCommit func()
	commitErr    error
}

func (h *hookStore) Stage(ctx context.Context, r io.Reader) (*store.Staged, error) {
	staged, err := h.Store.Stage(ctx, r)
	if err == nil && h.afterStage != nil {
		h.afterStage()
	}
	return staged, err
}

func (h *hookStore) Commit(ctx context.Context, staged *store.Staged, key naming.StorageKey) error {
	if h.commitErr != nil {
		return h.commitErr
	}
	if h.beforeCommit != nil {
		h.beforeCommit()
	}
	return h.Store.Commit(ctx, staged, key)
}

func newEnv(t *testing.T, wrap func(store.Store) store.Store) *env {
	t.Helper()
	base := t.TempDir()
	ctx := context.Background()

	cat, err := catalog.Open(ctx, catalog.DriverSQLite, "file:"+filepath.Join(base, "catalog.db"), logging.Nop{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	require.NoError(t, cat.Migrate(ctx))

	staging := filepath.Join(base, "staging")
	stager, err := store.NewStager(staging, common.MaxUploadBytes)
	require.NoError(t, err)
	root := filepath.Join(base, "configs")
	fs, err := store.NewFileStore(root, stager, logging.Nop{})
	require.NoError(t, err)

	var st store.Store = fs
	if wrap != nil {
		st = wrap(fs)
	}

	m := metrics.New()
	svc := NewConfigService(cat, st, grammar.Default(), logging.Nop{}, WithMetrics(m), WithTimeout(5*time.Second))
	return &env{svc: svc, catalog: cat, store: fs, metrics: m, root: root, staging: staging}
}

func (e *env) publish(t *testing.T, name, content string) (*PublishResult, error) {
	t.Helper()
	return e.svc.Publish(context.Background(), PublishRequest{Name: name, Content: strings.NewReader(content)})
}

func ls(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPublish_ScenarioA_RoundTrip(t *testing.T) {
	e := newEnv(t, nil)
	content := "sv_cheats 0\n# comment\n"

	res, err := e.publish(t, "server1", content)
	require.NoError(t, err)
	assert.True(t, res.Key.Valid())
	assert.Equal(t, "server1.cfg", res.Entry.Name)
	assert.Equal(t, models.ConfigTypeServer, res.Entry.Type)
	assert.Equal(t, int64(len(content)), res.Entry.Size)
	assert.False(t, res.Repaired)

	got, err := e.svc.Fetch(context.Background(), "server1")
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	got, err = e.svc.Fetch(context.Background(), "server1.cfg")
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	assert.Empty(t, ls(t, e.staging), "stage cleaned up")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Publishes.WithLabelValues("ok")))
}

func TestPublish_ScenarioB_InvalidName(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.publish(t, "bad name!", "a 1\n")
	require.ErrorIs(t, err, common.ErrInvalidName)

	_, err = e.svc.Fetch(context.Background(), "bad name!")
	require.ErrorIs(t, err, common.ErrInvalidName)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Publishes.WithLabelValues("invalid_name")))
}

func TestPublish_ScenarioC_LineTooLong(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.publish(t, "long", "ok 1\n"+strings.Repeat("x", 200)+"\n")
	require.ErrorIs(t, err, common.ErrInvalidConfig)
	assert.Equal(t, "line too long", grammar.Reason(err))

	assert.Empty(t, ls(t, e.staging), "rejected stage discarded")
	assert.Empty(t, ls(t, e.root))
	entries, err := e.catalog.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing recorded for a rejected upload")
}

func TestPublish_ScenarioD_Duplicate(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.publish(t, "dup", "a 1\n")
	require.NoError(t, err)

	_, err = e.publish(t, "dup", "something else\n")
	require.ErrorIs(t, err, common.ErrAlreadyExists)

	_, err = e.publish(t, "dup.cfg", "a 1\n")
	require.ErrorIs(t, err, common.ErrAlreadyExists)

	got, err := e.svc.Fetch(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, "a 1\n", string(got))
}

func TestFetch_ScenarioE_NeverUploaded(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.svc.Fetch(context.Background(), "never-uploaded")
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.Inconsistencies.WithLabelValues(metrics.MissingArtifact)))
}

func TestPublish_InvalidSyntax(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.publish(t, "syntax", "bind x y\n")
	require.ErrorIs(t, err, common.ErrInvalidConfig)
	assert.Equal(t, "invalid syntax", grammar.Reason(err))
	assert.Contains(t, err.Error(), "line 1")
}

func TestPublish_TooLarge(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.publish(t, "huge", strings.Repeat("a 1\n", common.MaxUploadBytes/4+1))
	require.ErrorIs(t, err, common.ErrTooLarge)

	_, err = e.publish(t, "aggregate", strings.Repeat("sv_cheats 0\n", 500))
	require.ErrorIs(t, err, common.ErrTooLarge)

	assert.Empty(t, ls(t, e.staging))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.Publishes.WithLabelValues("too_large")))
}

func TestPublish_UnknownType(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.svc.Publish(context.Background(), PublishRequest{
		Name: "x", Content: strings.NewReader("a 1\n"), Type: models.ConfigType(4),
	})
	require.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestPublish_RecordsOwnerAndType(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.svc.Publish(context.Background(), PublishRequest{
		Name: "client1", Content: strings.NewReader("cl_rate 1\n"), Type: models.ConfigTypeClient, OwnerID: "u-42",
	})
	require.NoError(t, err)

	got, err := e.catalog.GetByID(context.Background(), res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfigTypeClient, got.Type)
	assert.Equal(t, "u-42", got.OwnerID)
}

func TestPublish_CommitFailureLeavesRepairableEntry(t *testing.T) {
	var hs *hookStore
	e := newEnv(t, func(s store.Store) store.Store {
		hs = &hookStore{Store: s, commitErr: fmt.Errorf("%w: disk full", common.ErrStorage)}
		return hs
	})
	ctx := context.Background()

	_, err := e.svc.Publish(ctx, PublishRequest{
		Name: "flaky", Content: strings.NewReader("a 1\n"), Type: models.ConfigTypeServer, OwnerID: "alice",
	})
	require.ErrorIs(t, err, common.ErrStorage)
	assert.Empty(t, ls(t, e.staging))

	// detectable: entry without artifact
	_, err = e.svc.Fetch(ctx, "flaky")
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, err, common.ErrCatalogInconsistent)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Inconsistencies.WithLabelValues(metrics.MissingArtifact)))

	report, err := e.svc.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, metrics.MissingArtifact, report[0].Kind)

	// repairable: re-upload completes the entry
	hs.commitErr = nil
	res, err := e.svc.Publish(ctx, PublishRequest{
		Name: "flaky", Content: strings.NewReader("b 2\n"), Type: models.ConfigTypeClient, OwnerID: "bob",
	})
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	assert.Equal(t, "bob", res.Entry.OwnerID)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Inconsistencies.WithLabelValues(metrics.OrphanEntry)))

	stored, err := e.catalog.GetByName(ctx, "flaky.cfg")
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.OwnerID)
	assert.Equal(t, models.ConfigTypeClient, stored.Type)
	assert.Equal(t, int64(4), stored.Size)
	assert.Equal(t, cryptox.Checksum([]byte("b 2\n")), stored.Checksum)

	got, err := e.svc.Fetch(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, "b 2\n", string(got))

	report, err = e.svc.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, report)

	entries, err := e.catalog.ListEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// failingCatalog fails the entry rewrite of the repair path.
type failingCatalog struct {
	Catalog
	completeErr error
}

func (f *failingCatalog) CompleteEntry(context.Context, int64, string, models.NewConfigEntry) error {
	return f.completeErr
}

func TestPublish_RepairCatalogFailureCommitsNothing(t *testing.T) {
	var hs *hookStore
	e := newEnv(t, func(s store.Store) store.Store {
		hs = &hookStore{Store: s, commitErr: fmt.Errorf("%w: disk full", common.ErrStorage)}
		return hs
	})
	ctx := context.Background()

	_, err := e.publish(t, "flaky", "a 1\n")
	require.ErrorIs(t, err, common.ErrStorage)
	hs.commitErr = nil

	broken := NewConfigService(&failingCatalog{Catalog: e.catalog, completeErr: errors.New("database is locked")},
		hs, grammar.Default(), logging.Nop{})
	_, err = broken.Publish(ctx, PublishRequest{Name: "flaky", Content: strings.NewReader("b 2\n")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrAlreadyExists)
	assert.ErrorContains(t, err, "database is locked")
	assert.Empty(t, ls(t, e.root), "no artifact committed when the entry could not be completed")
	assert.Empty(t, ls(t, e.staging))

	// still repairable
	res, err := e.publish(t, "flaky", "c 3\n")
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	got, err := e.svc.Fetch(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, "c 3\n", string(got))
}

func TestPublish_RepairLosingCommitRestoresEntry(t *testing.T) {
	var hs *hookStore
	e := newEnv(t, func(s store.Store) store.Store {
		hs = &hookStore{Store: s}
		return hs
	})
	ctx := context.Background()

	// another process recorded alice's upload and has not committed yet
	const aliceContent = "a 1\n"
	_, err := e.catalog.InsertEntry(ctx, models.NewConfigEntry{
		Name: "shared.cfg", Type: models.ConfigTypeServer, CreatedAt: time.Now(), OwnerID: "alice",
		Size: int64(len(aliceContent)), Checksum: cryptox.Checksum([]byte(aliceContent)),
	})
	require.NoError(t, err)

	hs.beforeCommit = func() {
		hs.beforeCommit = nil
		staged, err := e.store.Stage(ctx, strings.NewReader(aliceContent))
		require.NoError(t, err)
		defer staged.Discard()
		_, key, err := naming.Resolve("shared")
		require.NoError(t, err)
		require.NoError(t, e.store.Commit(ctx, staged, key))
	}

	_, err = e.svc.Publish(ctx, PublishRequest{
		Name: "shared", Content: strings.NewReader("b 2\n"), Type: models.ConfigTypeClient, OwnerID: "bob",
	})
	require.ErrorIs(t, err, common.ErrAlreadyExists)

	got, err := e.svc.Fetch(ctx, "shared")
	require.NoError(t, err, "catalog describes the artifact that won")
	assert.Equal(t, aliceContent, string(got))

	entry, err := e.catalog.GetByName(ctx, "shared.cfg")
	require.NoError(t, err)
	assert.Equal(t, "alice", entry.OwnerID)
	assert.Equal(t, models.ConfigTypeServer, entry.Type)
}

func TestPublish_CancelledBeforeCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t, func(s store.Store) store.Store {
		return &hookStore{Store: s, afterStage: cancel}
	})

	_, err := e.svc.Publish(ctx, PublishRequest{Name: "late", Content: strings.NewReader("a 1\n")})
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, ls(t, e.staging), "stage removed on cancellation")
	assert.Empty(t, ls(t, e.root), "nothing committed after cancellation")
}

func TestPublish_ConcurrentSameName(t *testing.T) {
	e := newEnv(t, nil)

	const n = 10
	var (
		wg   sync.WaitGroup
		ok   atomic.Int32
		dups atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.publish(t, "race", fmt.Sprintf("v %d\n", i))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, common.ErrAlreadyExists):
				dups.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), dups.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.Inconsistencies.WithLabelValues(metrics.OrphanEntry)),
		"a lost race is not an inconsistency")

	got, err := e.svc.Fetch(context.Background(), "race")
	require.NoError(t, err, "the catalog checksum matches the winning upload")
	assert.Regexp(t, `^v \d\n$`, string(got))
	assert.Empty(t, ls(t, e.staging))
}

func TestFetch_ChecksumMismatch(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.publish(t, "tampered", "a 1\n")
	require.NoError(t, err)

	path := filepath.Join(e.root, res.Key.String())
	require.NoError(t, os.Chmod(path, 0o600))
	require.NoError(t, os.WriteFile(path, []byte("a 2\n"), 0o600))

	_, err = e.svc.Fetch(context.Background(), "tampered")
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, err, common.ErrCatalogInconsistent)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Inconsistencies.WithLabelValues(metrics.ChecksumMismatch)))

	report, err := e.svc.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, metrics.ChecksumMismatch, report[0].Kind)
}

func TestFetch_ArtifactWithoutEntry(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, key, err := naming.Resolve("stray")
	require.NoError(t, err)
	staged, err := e.store.Stage(ctx, strings.NewReader("a 1\n"))
	require.NoError(t, err)
	require.NoError(t, e.store.Commit(ctx, staged, key))

	_, err = e.svc.Fetch(ctx, "stray")
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Inconsistencies.WithLabelValues(metrics.OrphanArtifact)))

	_, err = e.publish(t, "stray", "a 1\n")
	require.ErrorIs(t, err, common.ErrAlreadyExists, "the key is taken even without an entry")
}

func TestFetchByID(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	res, err := e.publish(t, "byid", "a 1\n")
	require.NoError(t, err)

	entry, b, err := e.svc.FetchByID(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "byid.cfg", entry.Name)
	assert.Equal(t, "a 1\n", string(b))

	_, _, err = e.svc.FetchByID(ctx, 999)
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.NotErrorIs(t, err, common.ErrCatalogInconsistent)
}

func TestList(t *testing.T) {
	e := newEnv(t, nil)

	for _, n := range []string{"one", "two", "three"} {
		_, err := e.publish(t, n, "a 1\n")
		require.NoError(t, err)
	}

	entries, err := e.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "one.cfg", entries[0].Name)
	assert.Equal(t, "three.cfg", entries[2].Name)
}

func TestSweep(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	staged, err := e.store.Stage(ctx, strings.NewReader("a 1\n"))
	require.NoError(t, err)
	defer staged.Discard()

	names := ls(t, e.staging)
	require.Len(t, names, 1)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(e.staging, names[0]), past, past))

	n, err := e.svc.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.StagingSwept))
}

func TestOutcome(t *testing.T) {
	tests := map[string]error{
		"ok":             nil,
		"invalid_name":   naming.ErrInvalidCharset,
		"invalid_config": &grammar.LineError{Line: 1, Reason: grammar.ReasonSyntax},
		"too_large":      grammar.ErrTooLarge,
		"already_exists": fmt.Errorf("x: %w", common.ErrAlreadyExists),
		"not_found":      common.ErrorNotFound,
		"storage_error":  common.ErrStorage,
		"cancelled":      context.Canceled,
		"error":          errors.New("boom"),
	}
	for want, err := range tests {
		assert.Equal(t, want, outcome(err))
	}
}
