// Package adminstest provides an in-memory admins.Store for tests.
package adminstest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/internal/adminaction"
	"storefront/internal/admins"
	"storefront/internal/users"
)

// MemStore keeps admin records, account roles and audit rows in memory.
// Transactions apply to a copy that replaces the state only on success, and
// writes follow the SQL in admins.Repository.
type MemStore struct {
	mu      sync.Mutex
	records []admins.Record
	roles   map[int64]string
	actions []adminaction.Action

	failLookup error
	failCommit error
	slowLookup bool
	lookups    int
}

func NewMemStore() *MemStore {
	return &MemStore{roles: map[int64]string{}}
}

func (m *MemStore) SetRole(id int64, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[id] = role
}

func (m *MemStore) Actions() []adminaction.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adminaction.Action(nil), m.actions...)
}

// AddRecord stores r as if it had been inserted outside the authority.
func (m *MemStore) AddRecord(r admins.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.records = append(m.records, r)
}

// FailLookups makes IsActive and List return err; nil restores them.
func (m *MemStore) FailLookups(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLookup = err
}

// FailCommits makes every transaction fail after fn ran; nil restores them.
func (m *MemStore) FailCommits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommit = err
}

// SlowLookups makes IsActive block until its context is done.
func (m *MemStore) SlowLookups(slow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slowLookup = slow
}

// Lookups reports how many IsActive calls reached the store.
func (m *MemStore) Lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

func (m *MemStore) IsActive(ctx context.Context, externalID string) (bool, error) {
	m.mu.Lock()
	m.lookups++
	fail, slow := m.failLookup, m.slowLookup
	m.mu.Unlock()

	if slow {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if fail != nil {
		return false, fail
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ExternalID == externalID && r.Active {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) List(ctx context.Context) ([]admins.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLookup != nil {
		return nil, m.failLookup
	}
	return append([]admins.Record(nil), m.records...), nil
}

func (m *MemStore) RoleOf(ctx context.Context, telegramID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.roles[telegramID]; ok {
		return r, nil
	}
	return users.RoleUser, nil
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx admins.StoreTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		records: append([]admins.Record(nil), m.records...),
		roles:   make(map[int64]string, len(m.roles)),
		actions: append([]adminaction.Action(nil), m.actions...),
	}
	for k, v := range m.roles {
		tx.roles[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	if m.failCommit != nil {
		return m.failCommit
	}
	m.records, m.roles, m.actions = tx.records, tx.roles, tx.actions
	return nil
}

type memTx struct {
	records []admins.Record
	roles   map[int64]string
	actions []adminaction.Action
}

// Upsert refreshes an existing active record for an active grant and inserts a
// new row otherwise; an inactive grant never touches the active record.
func (tx *memTx) Upsert(ctx context.Context, in admins.GrantInput) (*admins.Record, error) {
	now := time.Now().UTC()
	if in.Active {
		for i := range tx.records {
			if tx.records[i].ExternalID == in.ExternalID && tx.records[i].Active {
				if in.Username != "" {
					tx.records[i].Username = in.Username
				}
				if in.Notes != "" {
					tx.records[i].Notes = in.Notes
				}
				tx.records[i].UpdatedAt = now
				rec := tx.records[i]
				return &rec, nil
			}
		}
	}
	rec := admins.Record{
		ID:         uuid.NewString(),
		ExternalID: in.ExternalID,
		Username:   in.Username,
		Active:     in.Active,
		AddedBy:    in.AddedBy,
		Notes:      in.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx.records = append(tx.records, rec)
	return &rec, nil
}

func (tx *memTx) Deactivate(ctx context.Context, externalID string) (int64, error) {
	var n int64
	for i := range tx.records {
		if tx.records[i].ExternalID == externalID && tx.records[i].Active {
			tx.records[i].Active = false
			n++
		}
	}
	return n, nil
}

func (tx *memTx) DeactivateAll(ctx context.Context) (int64, error) {
	var n int64
	for i := range tx.records {
		if tx.records[i].Active {
			tx.records[i].Active = false
			n++
		}
	}
	return n, nil
}

func (tx *memTx) DemoteRole(ctx context.Context, telegramID int64) (bool, error) {
	if tx.roles[telegramID] != users.RoleAdmin {
		return false, nil
	}
	tx.roles[telegramID] = users.RoleUser
	return true, nil
}

func (tx *memTx) DemoteAllRoles(ctx context.Context) (int64, error) {
	var n int64
	for id, role := range tx.roles {
		if role == users.RoleAdmin {
			tx.roles[id] = users.RoleUser
			n++
		}
	}
	return n, nil
}

func (tx *memTx) RecordAction(ctx context.Context, a adminaction.Action) error {
	tx.actions = append(tx.actions, a)
	return nil
}
