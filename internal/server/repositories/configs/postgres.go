package configs

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/cfghost/internal/dbx"
	"github.com/dmitrijs2005/cfghost/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert records a new entry. A second entry under the same name fails with
// common.ErrAlreadyExists.
func (r *PostgresRepository) Insert(ctx context.Context, e models.NewConfigEntry) (*models.ConfigEntry, error) {
	query := `
		INSERT INTO configs (name, created_at, config_type, owner_id, size, checksum)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		e.Name, e.CreatedAt, int16(e.Type), nullable(e.OwnerID), e.Size, e.Checksum,
	).Scan(&id)
	if err != nil {
		return nil, insertError(e.Name, err)
	}

	return &models.ConfigEntry{
		ID:        id,
		Name:      e.Name,
		CreatedAt: e.CreatedAt,
		Type:      e.Type,
		OwnerID:   e.OwnerID,
		Size:      e.Size,
		Checksum:  e.Checksum,
	}, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select configs: %w", err)
	}
	return scanAll(rows)
}

func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*models.ConfigEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM configs WHERE name = $1`, name)
	return scanOne(row, name)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.ConfigEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM configs WHERE id = $1`, id)
	return scanOne(row, fmt.Sprintf("#%d", id))
}

// CompleteEntry rewrites an entry with the upload that is about to carry its
// artifact. The name and id stay. The row only changes while it still holds
// prevChecksum.
func (r *PostgresRepository) CompleteEntry(ctx context.Context, id int64, prevChecksum string, e models.NewConfigEntry) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE configs SET created_at = $1, config_type = $2, owner_id = $3, size = $4, checksum = $5
		WHERE id = $6 AND checksum = $7
	`, e.CreatedAt, int16(e.Type), nullable(e.OwnerID), e.Size, e.Checksum, id, prevChecksum)
	return checkUpdated(res, err, id)
}
