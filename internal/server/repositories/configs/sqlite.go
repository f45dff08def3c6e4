package configs

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/cfghost/internal/dbx"
	"github.com/dmitrijs2005/cfghost/internal/server/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, e models.NewConfigEntry) (*models.ConfigEntry, error) {
	// timestamps are stored in UTC so lexical order matches time order
	created := e.CreatedAt.UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO configs (name, created_at, config_type, owner_id, size, checksum)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Name, created, int16(e.Type), nullable(e.OwnerID), e.Size, e.Checksum)
	if err != nil {
		return nil, insertError(e.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return &models.ConfigEntry{
		ID:        id,
		Name:      e.Name,
		CreatedAt: created,
		Type:      e.Type,
		OwnerID:   e.OwnerID,
		Size:      e.Size,
		Checksum:  e.Checksum,
	}, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select configs: %w", err)
	}
	return scanAll(rows)
}

func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*models.ConfigEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM configs WHERE name = ?`, name)
	return scanOne(row, name)
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.ConfigEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM configs WHERE id = ?`, id)
	return scanOne(row, fmt.Sprintf("#%d", id))
}

func (r *SQLiteRepository) CompleteEntry(ctx context.Context, id int64, prevChecksum string, e models.NewConfigEntry) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE configs SET created_at = ?, config_type = ?, owner_id = ?, size = ?, checksum = ?
		WHERE id = ? AND checksum = ?
	`, e.CreatedAt.UTC(), int16(e.Type), nullable(e.OwnerID), e.Size, e.Checksum, id, prevChecksum)
	return checkUpdated(res, err, id)
}
