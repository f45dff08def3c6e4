// Package configs persists catalog entries. PostgresRepository and
// SQLiteRepository differ only in placeholder syntax and driver quirks.
package configs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/dbx"
	"github.com/dmitrijs2005/cfghost/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, e models.NewConfigEntry) (*models.ConfigEntry, error)
	List(ctx context.Context) ([]*models.ConfigEntry, error)
	GetByName(ctx context.Context, name string) (*models.ConfigEntry, error)
	GetByID(ctx context.Context, id int64) (*models.ConfigEntry, error)
	// CompleteEntry replaces the upload details of an existing entry whose
	// checksum is still prevChecksum; otherwise common.ErrorNotFound.
	CompleteEntry(ctx context.Context, id int64, prevChecksum string, e models.NewConfigEntry) error
}

const selectColumns = `id, name, created_at, config_type, owner_id, size, checksum`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.ConfigEntry, error) {
	var (
		e     models.ConfigEntry
		typ   int16
		owner sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Name, &e.CreatedAt, &typ, &owner, &e.Size, &e.Checksum); err != nil {
		return nil, err
	}

	t, err := models.ConfigTypeFromDB(typ)
	if err != nil {
		return nil, err
	}
	e.Type = t
	e.OwnerID = owner.String
	return &e, nil
}

func scanOne(row *sql.Row, what string) (*models.ConfigEntry, error) {
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select config %s: %w", what, err)
	}
	return e, nil
}

func scanAll(rows *sql.Rows) ([]*models.ConfigEntry, error) {
	defer rows.Close()

	var result []*models.ConfigEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate config rows: %w", err)
	}
	return result, nil
}

func insertError(name string, err error) error {
	if dbx.IsUniqueViolation(err) {
		return fmt.Errorf("config %s: %w", name, common.ErrAlreadyExists)
	}
	return fmt.Errorf("db error: %w", err)
}

func checkUpdated(res sql.Result, err error, id int64) error {
	if err != nil {
		return fmt.Errorf("failed to update config #%d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
