package admins

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/adminaction"
)

var tracer = otel.Tracer("storefront/internal/admins")

const DefaultLookupTimeout = 3 * time.Second

type Options struct {
	// Roles enables the session-role fallback for SessionIdentity checks.
	Roles RoleLookup

	// CacheTTL caches negative IsAdmin answers; 0 disables caching.
	CacheTTL time.Duration

	// Notifier, when set, is told after every change so other processes drop
	// their cached answers.
	Notifier Notifier

	// LookupTimeout bounds each database call made during a check.
	LookupTimeout time.Duration

	Now func() time.Time
}

// Authority reconciles the static file list, the dynamic database list and the
// legacy session role into one admin decision, and owns every write to the
// first two so they stay in step.
type Authority struct {
	static   *CachedFileSet
	store    Store
	cache    *decisionCache
	notifier Notifier

	telegramChain []Source
	sessionChain  []Source

	// mu pairs each database transaction with its file write.
	mu sync.Mutex
}

func NewAuthority(static *CachedFileSet, store Store, opts Options) *Authority {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	staticSrc := StaticSource{Set: static}
	dynamicSrc := DynamicSource{Store: store, Timeout: opts.LookupTimeout}

	a := &Authority{
		static:        static,
		store:         store,
		cache:         newDecisionCache(opts.CacheTTL, opts.Now),
		notifier:      opts.Notifier,
		telegramChain: []Source{staticSrc, dynamicSrc},
		sessionChain:  []Source{staticSrc, dynamicSrc},
	}
	if opts.Roles != nil {
		a.sessionChain = append(a.sessionChain, SessionRoleSource{Roles: opts.Roles, Timeout: opts.LookupTimeout})
	}
	return a
}

// IsAdmin answers whether a Telegram user is an admin according to the static
// and dynamic lists. Any lookup failure counts as "no".
func (a *Authority) IsAdmin(ctx context.Context, externalID string) bool {
	return a.Check(ctx, TelegramIdentity{ID: externalID})
}

// Check runs the source chain for the identity's kind, stopping at the first
// source that recognizes it.
func (a *Authority) Check(ctx context.Context, id Identity) bool {
	ctx, span := tracer.Start(ctx, "admins.Check", trace.WithAttributes(
		attribute.String("admin.identity_kind", id.Kind()),
	))
	defer span.End()

	_, cacheable := id.(TelegramIdentity)
	cacheable = cacheable && a.cache.enabled()

	var version, gen uint64
	if cacheable {
		gen = a.cache.generation()
		v, err := a.static.Refresh()
		if err != nil {
			cacheable = false
		} else {
			version = v
			if allowed, ok := a.cache.get(id.Subject(), version); ok {
				span.SetAttributes(attribute.Bool("admin.cached", true), attribute.Bool("admin.allowed", allowed))
				return allowed
			}
		}
	}

	chain := a.telegramChain
	if _, ok := id.(SessionIdentity); ok {
		chain = a.sessionChain
	}

	allowed, degraded := false, false
	for _, src := range chain {
		ok, err := src.Recognizes(ctx, id)
		if err != nil {
			degraded = true
			log.Printf("admin source failed source=%s kind=%s err=%v", src.Name(), id.Kind(), err)
			continue
		}
		if ok {
			allowed = true
			span.SetAttributes(attribute.String("admin.source", src.Name()))
			break
		}
	}
	span.SetAttributes(attribute.Bool("admin.allowed", allowed), attribute.Bool("admin.degraded", degraded))

	if cacheable && !degraded {
		a.cache.put(id.Subject(), allowed, version, gen)
	}
	return allowed
}

// Grant records an admin in the database and, for active grants, appends the id
// to the static file. Both writes land or neither does.
func (a *Authority) Grant(ctx context.Context, in GrantInput) (*Record, error) {
	n, err := ParseExternalID(in.ExternalID)
	if err != nil {
		return nil, err
	}
	in.ExternalID = strconv.FormatInt(n, 10)

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.cache.clear()

	prev, err := a.static.IDs()
	if err != nil {
		return nil, fmt.Errorf("read admin ids file: %w", err)
	}

	var (
		rec   *Record
		wrote bool
	)
	err = a.store.InTx(ctx, func(tx StoreTx) error {
		r, err := tx.Upsert(ctx, in)
		if err != nil {
			return fmt.Errorf("upsert admin: %w", err)
		}
		rec = r

		if err := tx.RecordAction(ctx, adminaction.Action{
			Type:     adminaction.ActionGrantAdmin,
			Target:   in.ExternalID,
			Actor:    in.AddedBy,
			Reason:   in.Notes,
			Metadata: map[string]any{"active": in.Active, "username": in.Username},
		}); err != nil {
			return fmt.Errorf("record admin action: %w", err)
		}

		if in.Active {
			changed, err := a.static.Add(n)
			wrote = changed
			if err != nil {
				return fmt.Errorf("update admin ids file: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if wrote {
			a.restoreStatic(prev)
		}
		return nil, err
	}

	log.Printf("admin granted id=%s by=%s active=%t", in.ExternalID, in.AddedBy, in.Active)
	a.notify(ctx)
	return rec, nil
}

type RevokeResult struct {
	Deactivated     int64 `json:"deactivated"`
	RemovedFromFile bool  `json:"removedFromFile"`
	RoleDemoted     bool  `json:"roleDemoted"`
}

// Revoke deactivates every active record for the id and removes it from the
// static file. ErrNotFound means neither list knew the id.
func (a *Authority) Revoke(ctx context.Context, externalID, actor string) (RevokeResult, error) {
	return a.revoke(ctx, externalID, actor, false)
}

// RevokeSelf is Revoke for the caller's own id; it also demotes the legacy
// session role of the same account so no source keeps granting access.
func (a *Authority) RevokeSelf(ctx context.Context, externalID string) (RevokeResult, error) {
	return a.revoke(ctx, externalID, externalID, true)
}

func (a *Authority) revoke(ctx context.Context, externalID, actor string, self bool) (RevokeResult, error) {
	n, err := ParseExternalID(externalID)
	if err != nil {
		return RevokeResult{}, err
	}
	externalID = strconv.FormatInt(n, 10)

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.cache.clear()

	// An unreadable file must not keep a database grant alive; only the file
	// step is skipped.
	prev, fileErr := a.static.IDs()
	if fileErr != nil {
		log.Printf("admin ids file unreadable, revoking from database only id=%s path=%s err=%v",
			externalID, a.static.Path(), fileErr)
	}

	action := adminaction.ActionRevokeAdmin
	if self {
		action = adminaction.ActionResignAdmin
	}

	var res RevokeResult
	err = a.store.InTx(ctx, func(tx StoreTx) error {
		count, err := tx.Deactivate(ctx, externalID)
		if err != nil {
			return fmt.Errorf("deactivate admin: %w", err)
		}
		res.Deactivated = count

		if self {
			demoted, err := tx.DemoteRole(ctx, n)
			if err != nil {
				return fmt.Errorf("demote session role: %w", err)
			}
			res.RoleDemoted = demoted
		}

		if fileErr == nil {
			removed, err := a.static.Remove(n)
			res.RemovedFromFile = removed
			if err != nil {
				return fmt.Errorf("update admin ids file: %w", err)
			}
		}

		if res.Deactivated == 0 && !res.RemovedFromFile && !res.RoleDemoted {
			return ErrNotFound
		}

		if err := tx.RecordAction(ctx, adminaction.Action{
			Type:     action,
			Target:   externalID,
			Actor:    actor,
			Metadata: res,
		}); err != nil {
			return fmt.Errorf("record admin action: %w", err)
		}
		return nil
	})
	if err != nil {
		if res.RemovedFromFile {
			a.restoreStatic(prev)
		}
		return RevokeResult{}, err
	}

	log.Printf("admin revoked id=%s by=%s self=%t deactivated=%d file=%t role=%t",
		externalID, actor, self, res.Deactivated, res.RemovedFromFile, res.RoleDemoted)
	a.notify(ctx)
	return res, nil
}

type RevokeAllResult struct {
	Deactivated  int64 `json:"deactivated"`
	RolesDemoted int64 `json:"rolesDemoted"`
	StaticIDs    int   `json:"staticCleared"`
}

// RevokeAll is the incident-response switch: every dynamic record is
// deactivated, every admin role flag demoted and the static file emptied.
func (a *Authority) RevokeAll(ctx context.Context, actor string) (RevokeAllResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.cache.clear()

	// A broken file must not block the emergency path; it is overwritten below.
	prev, prevErr := a.static.IDs()

	var (
		res   RevokeAllResult
		wrote bool
	)
	err := a.store.InTx(ctx, func(tx StoreTx) error {
		count, err := tx.DeactivateAll(ctx)
		if err != nil {
			return fmt.Errorf("deactivate admins: %w", err)
		}
		res.Deactivated = count

		demoted, err := tx.DemoteAllRoles(ctx)
		if err != nil {
			return fmt.Errorf("demote session roles: %w", err)
		}
		res.RolesDemoted = demoted

		if prevErr != nil {
			wrote = true
			if err := a.static.Replace(nil); err != nil {
				return fmt.Errorf("reset admin ids file: %w", err)
			}
		} else {
			cleared, err := a.static.Clear()
			res.StaticIDs = cleared
			wrote = cleared > 0
			if err != nil {
				return fmt.Errorf("clear admin ids file: %w", err)
			}
		}

		if err := tx.RecordAction(ctx, adminaction.Action{
			Type:     adminaction.ActionRevokeAllAdmin,
			Target:   "*",
			Actor:    actor,
			Metadata: res,
		}); err != nil {
			return fmt.Errorf("record admin action: %w", err)
		}
		return nil
	})
	if err != nil {
		if wrote && prevErr == nil {
			a.restoreStatic(prev)
		}
		return RevokeAllResult{}, err
	}

	log.Printf("all admins revoked by=%s deactivated=%d roles=%d static=%d",
		actor, res.Deactivated, res.RolesDemoted, res.StaticIDs)
	a.notify(ctx)
	return res, nil
}

type Entry struct {
	ExternalID string  `json:"externalId"`
	Source     string  `json:"source"`
	Active     bool    `json:"isActive"`
	Record     *Record `json:"record,omitempty"`
}

// ListAll returns static ids (file order) followed by every dynamic record,
// active or not.
func (a *Authority) ListAll(ctx context.Context) ([]Entry, error) {
	ids, err := a.static.IDs()
	if err != nil {
		return nil, fmt.Errorf("read admin ids file: %w", err)
	}

	records, err := a.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	out := make([]Entry, 0, len(ids)+len(records))
	for _, id := range ids {
		out = append(out, Entry{ExternalID: strconv.FormatInt(id, 10), Source: "static", Active: true})
	}
	for i := range records {
		rec := records[i]
		out = append(out, Entry{ExternalID: rec.ExternalID, Source: "dynamic", Active: rec.Active, Record: &rec})
	}
	return out, nil
}

// InvalidateStatic forces the next check to re-read the static file, here and
// in every process reached by the notifier.
func (a *Authority) InvalidateStatic(ctx context.Context) {
	a.invalidateLocal()
	a.notify(ctx)
}

func (a *Authority) invalidateLocal() {
	a.static.Invalidate()
	a.cache.clear()
}

func (a *Authority) notify(ctx context.Context) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Publish(context.WithoutCancel(ctx)); err != nil {
		log.Printf("admin invalidation publish failed err=%v", err)
	}
}

func (a *Authority) restoreStatic(prev []int64) {
	if err := a.static.Replace(prev); err != nil {
		log.Printf("admin ids file restore failed path=%s err=%v", a.static.Path(), err)
		return
	}
	log.Printf("admin ids file restored after failed transaction path=%s", a.static.Path())
}

// IsUpstream reports whether err came from the database side of a check.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
