// Package catalog owns the metadata connection: schema migrations through
// goose and every read or write of catalog entries. All access is serialised
// behind one mutex held for a single statement or transaction.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/dbx"
	"github.com/dmitrijs2005/cfghost/internal/logging"
	"github.com/dmitrijs2005/cfghost/internal/server/migrations"
	"github.com/dmitrijs2005/cfghost/internal/server/models"
	"github.com/dmitrijs2005/cfghost/internal/server/repositories/configs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// versionTable is where goose keeps the applied versions.
const versionTable = "goose_db_version"

// migrator is the part of *goose.Provider the catalog drives.
type migrator interface {
	GetDBVersion(ctx context.Context) (int64, error)
	Up(ctx context.Context) ([]*goose.MigrationResult, error)
	ListSources() []*goose.Source
}

// newProvider is a seam for tests.
var newProvider = func(dialect goose.Dialect, db *sql.DB, fsys fs.FS) (migrator, error) {
	return goose.NewProvider(dialect, db, fsys)
}

type Catalog struct {
	mu       sync.Mutex
	db       *sql.DB
	driver   string
	repo     configs.Repository
	txRepo   func(dbx.DBTX) configs.Repository
	migrator migrator
	log      logging.Logger
}

// Open connects to the catalog database. driver is "postgres" (pgx) or
// "sqlite" (modernc, pure Go).
func Open(ctx context.Context, driver, dsn string, log logging.Logger) (*Catalog, error) {
	var sqlDriver string
	switch driver {
	case DriverPostgres:
		sqlDriver = "pgx"
	case DriverSQLite:
		sqlDriver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer at a time, and an in-memory database lives on its conn
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	c, err := New(db, driver, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an already opened database.
func New(db *sql.DB, driver string, log logging.Logger) (*Catalog, error) {
	var (
		dialect goose.Dialect
		txRepo  func(dbx.DBTX) configs.Repository
	)
	switch driver {
	case DriverPostgres:
		dialect = goose.DialectPostgres
		txRepo = func(db dbx.DBTX) configs.Repository { return configs.NewPostgresRepository(db) }
	case DriverSQLite:
		dialect = goose.DialectSQLite3
		txRepo = func(db dbx.DBTX) configs.Repository { return configs.NewSQLiteRepository(db) }
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", driver)
	}

	fsys, err := migrations.ForDialect(driver)
	if err != nil {
		return nil, err
	}
	m, err := newProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrMigration, err)
	}

	return &Catalog{
		db:       db,
		driver:   driver,
		repo:     txRepo(db),
		txRepo:   txRepo,
		migrator: m,
		log:      log.With("module", "catalog", "driver", driver),
	}, nil
}

func (c *Catalog) Driver() string { return c.driver }

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.PingContext(ctx)
}

// CurrentVersion returns the 0-based index of the last applied migration,
// or -1 for a database that has never been migrated.
func (c *Catalog) CurrentVersion(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentVersion(ctx)
}

func (c *Catalog) currentVersion(ctx context.Context) (int64, error) {
	ok, err := c.versionTableExists(ctx)
	if err != nil {
		return 0, fmt.Errorf("inspect schema: %w", err)
	}
	if !ok {
		return -1, nil
	}

	v, err := c.migrator.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v - 1, nil
}

func (c *Catalog) versionTableExists(ctx context.Context) (bool, error) {
	var query string
	switch c.driver {
	case DriverPostgres:
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1`
	default:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}

	var n int
	if err := c.db.QueryRowContext(ctx, query, versionTable).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Known returns the number of embedded migration scripts.
func (c *Catalog) Known() int {
	return len(c.migrator.ListSources())
}

// Migrate applies every pending migration in order. Each script runs in its
// own transaction together with its version record, so a failure leaves the
// database at the last fully applied version. Errors wrap
// common.ErrMigration and must stop the process.
func (c *Catalog) Migrate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrMigration, err)
	}
	known := int64(len(c.migrator.ListSources()))
	if current+1 > known {
		return fmt.Errorf("%w: database is at version %d but only %d migrations are known",
			common.ErrMigration, current, known)
	}

	results, err := c.migrator.Up(ctx)
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		if r.Error != nil {
			c.log.Error(ctx, "migration failed", "version", r.Source.Version-1, "path", r.Source.Path, "error", r.Error)
			continue
		}
		c.log.Info(ctx, "migration applied", "version", r.Source.Version-1, "path", r.Source.Path, "duration", r.Duration)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrMigration, err)
	}

	if len(results) == 0 {
		c.log.Debug(ctx, "schema up to date", "version", current)
	}
	return nil
}

// InsertEntry records a new entry. A name that is already catalogued fails
// with common.ErrAlreadyExists.
func (c *Catalog) InsertEntry(ctx context.Context, e models.NewConfigEntry) (*models.ConfigEntry, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("invalid config type %d", int16(e.Type))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.Insert(ctx, e)
}

// ListEntries returns a snapshot of all entries in insertion order.
func (c *Catalog) ListEntries(ctx context.Context) ([]*models.ConfigEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.List(ctx)
}

func (c *Catalog) GetByName(ctx context.Context, name string) (*models.ConfigEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.GetByName(ctx, name)
}

func (c *Catalog) GetByID(ctx context.Context, id int64) (*models.ConfigEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.GetByID(ctx, id)
}

// CompleteEntry rewrites a previously orphaned entry with the upload that is
// about to supply its artifact: type, owner, size and checksum. The update
// only applies while the entry still carries prevChecksum; an entry changed
// by another upload in the meantime fails with common.ErrAlreadyExists and
// a missing one with common.ErrorNotFound.
func (c *Catalog) CompleteEntry(ctx context.Context, id int64, prevChecksum string, e models.NewConfigEntry) error {
	if !e.Type.Valid() {
		return fmt.Errorf("invalid config type %d", int16(e.Type))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := c.txRepo(tx)
		if _, err := repo.GetByID(ctx, id); err != nil {
			return err
		}
		err := repo.CompleteEntry(ctx, id, prevChecksum, e)
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("entry #%d changed by another upload: %w", id, common.ErrAlreadyExists)
		}
		return err
	})
}

// IsNotFound is a convenience for callers matching lookups.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrorNotFound)
}
