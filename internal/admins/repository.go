package admins

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/adminaction"
	"storefront/internal/users"
	"storefront/pkg/db"
)

// Repository is the Postgres Store.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id::text, COALESCE(telegram_id,''), COALESCE(username,''), is_active,
  COALESCE(added_by,''), COALESCE(notes,''), created_at, updated_at`

func (r *Repository) IsActive(ctx context.Context, externalID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM admins WHERE telegram_id = $1 AND is_active)`
	var ok bool
	if err := r.db.QueryRow(ctx, q, externalID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Repository) List(ctx context.Context) ([]Record, error) {
	q := `SELECT ` + recordColumns + ` FROM admins ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *Repository) InTx(ctx context.Context, fn func(tx StoreTx) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(repoTx{tx: tx})
	})
}

type repoTx struct {
	tx pgx.Tx
}

// Upsert refreshes the active record for the id, or inserts a new one.
func (t repoTx) Upsert(ctx context.Context, in GrantInput) (*Record, error) {
	if in.Active {
		q := `
UPDATE admins SET
  username = COALESCE(NULLIF($2,''), username),
  notes = COALESCE(NULLIF($3,''), notes),
  updated_at = now()
WHERE telegram_id = $1 AND is_active
RETURNING ` + recordColumns
		rec, err := scanRecord(t.tx.QueryRow(ctx, q, in.ExternalID, in.Username, in.Notes))
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	q := `
INSERT INTO admins (id, telegram_id, username, is_active, added_by, notes)
VALUES ($1, $2, NULLIF($3,''), $4, NULLIF($5,''), NULLIF($6,''))
RETURNING ` + recordColumns
	return scanRecord(t.tx.QueryRow(ctx, q,
		uuid.NewString(), in.ExternalID, in.Username, in.Active, in.AddedBy, in.Notes,
	))
}

func (t repoTx) Deactivate(ctx context.Context, externalID string) (int64, error) {
	const q = `UPDATE admins SET is_active = false, updated_at = now() WHERE telegram_id = $1 AND is_active`
	tag, err := t.tx.Exec(ctx, q, externalID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t repoTx) DeactivateAll(ctx context.Context) (int64, error) {
	const q = `UPDATE admins SET is_active = false, updated_at = now() WHERE is_active`
	tag, err := t.tx.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t repoTx) DemoteRole(ctx context.Context, telegramID int64) (bool, error) {
	return users.DemoteAdmin(ctx, t.tx, telegramID)
}

func (t repoTx) DemoteAllRoles(ctx context.Context) (int64, error) {
	return users.DemoteAllAdmins(ctx, t.tx)
}

func (t repoTx) RecordAction(ctx context.Context, a adminaction.Action) error {
	return adminaction.Insert(ctx, t.tx, a)
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(
		&rec.ID, &rec.ExternalID, &rec.Username, &rec.Active,
		&rec.AddedBy, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
