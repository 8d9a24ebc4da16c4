package admins

import (
	"context"
	"time"

	"storefront/internal/adminaction"
)

// Record is one dynamic admin grant. Revoking flips Active and keeps the row.
type Record struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId,omitempty"`
	Username   string    `json:"username,omitempty"`
	Active     bool      `json:"isActive"`
	AddedBy    string    `json:"addedBy,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type GrantInput struct {
	ExternalID string
	Username   string
	AddedBy    string
	Notes      string
	// Active grants take effect immediately and are mirrored into the static file.
	Active bool
}

// Store is the persisted side of the admin lists.
type Store interface {
	IsActive(ctx context.Context, externalID string) (bool, error)
	List(ctx context.Context) ([]Record, error)
	// InTx runs fn in one transaction; a non-nil error from fn or from commit
	// means nothing fn did through tx was persisted.
	InTx(ctx context.Context, fn func(tx StoreTx) error) error
}

type StoreTx interface {
	Upsert(ctx context.Context, in GrantInput) (*Record, error)
	Deactivate(ctx context.Context, externalID string) (int64, error)
	DeactivateAll(ctx context.Context) (int64, error)
	DemoteRole(ctx context.Context, telegramID int64) (bool, error)
	DemoteAllRoles(ctx context.Context) (int64, error)
	RecordAction(ctx context.Context, a adminaction.Action) error
}

// RoleLookup reads the legacy session role flag of an account.
type RoleLookup interface {
	RoleOf(ctx context.Context, telegramID int64) (string, error)
}
