package api

import (
	"context"

	"storefront/internal/session"
	"storefront/pkg/telegram"
)

type ctxKey string

const (
	ctxKeyClient  ctxKey = "client"
	ctxKeyAdmin   ctxKey = "admin"
	ctxKeySession ctxKey = "session"
	ctxKeyLaunch  ctxKey = "launch"
)

func WithClient(ctx context.Context, p *telegram.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyClient, p)
}

// ClientFromContext returns the authenticated mini-app user, or nil.
func ClientFromContext(ctx context.Context) *telegram.Principal {
	p, _ := ctx.Value(ctxKeyClient).(*telegram.Principal)
	return p
}

func WithAdmin(ctx context.Context, p *telegram.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyAdmin, p)
}

// AdminFromContext returns the caller when it passed an admin check, or nil.
func AdminFromContext(ctx context.Context) *telegram.Principal {
	p, _ := ctx.Value(ctxKeyAdmin).(*telegram.Principal)
	return p
}

func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, ctxKeySession, s)
}

func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(ctxKeySession).(*session.Session)
	return s
}

// WithLaunch keeps the verified init data the request authenticated with.
func WithLaunch(ctx context.Context, d *telegram.InitData) context.Context {
	return context.WithValue(ctx, ctxKeyLaunch, d)
}

// LaunchFromContext returns the verified init data, or nil when the request
// authenticated with a session cookie.
func LaunchFromContext(ctx context.Context) *telegram.InitData {
	d, _ := ctx.Value(ctxKeyLaunch).(*telegram.InitData)
	return d
}
