package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/pkg/telegram"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Touch registers p on first sight and refreshes profile fields afterwards.
// The stored role is never changed here.
func (r *Repository) Touch(ctx context.Context, p telegram.Principal) (*User, error) {
	const q = `
INSERT INTO users (telegram_id, display_name, username, photo_url, role)
VALUES ($1, $2, $3, $4, 'user')
ON CONFLICT (telegram_id) DO UPDATE SET
  display_name = EXCLUDED.display_name,
  username = EXCLUDED.username,
  photo_url = EXCLUDED.photo_url,
  last_seen_at = now()
RETURNING telegram_id, display_name, COALESCE(username,''), COALESCE(photo_url,''), role, created_at, last_seen_at
`
	u := &User{}
	if err := r.db.QueryRow(ctx, q, p.ID, p.DisplayName, p.Username, p.PhotoURL).Scan(
		&u.TelegramID, &u.DisplayName, &u.Username, &u.PhotoURL, &u.Role, &u.CreatedAt, &u.LastSeenAt,
	); err != nil {
		return nil, err
	}
	return u, nil
}

// RoleOf returns the stored role, or RoleUser for unknown accounts.
func (r *Repository) RoleOf(ctx context.Context, telegramID int64) (string, error) {
	const q = `SELECT role FROM users WHERE telegram_id = $1`
	var role string
	if err := r.db.QueryRow(ctx, q, telegramID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleUser, nil
		}
		return "", err
	}
	return role, nil
}

// DemoteAdmin resets an admin role flag to user inside tx.
func DemoteAdmin(ctx context.Context, tx pgx.Tx, telegramID int64) (bool, error) {
	const q = `UPDATE users SET role = 'user' WHERE telegram_id = $1 AND role = 'admin'`
	tag, err := tx.Exec(ctx, q, telegramID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DemoteAllAdmins resets every admin role flag inside tx.
func DemoteAllAdmins(ctx context.Context, tx pgx.Tx) (int64, error) {
	const q = `UPDATE users SET role = 'user' WHERE role = 'admin'`
	tag, err := tx.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
