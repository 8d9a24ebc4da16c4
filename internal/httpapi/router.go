package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"storefront/internal/adminapi"
	"storefront/internal/admins"
	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/files"
	"storefront/internal/ratelimit"
	"storefront/internal/session"
	"storefront/pkg/config"
	"storefront/pkg/signedurl"
)

type Dependencies struct {
	Cfg       config.Config
	Gate      *api.Gate
	Authority *admins.Authority
	Sessions  *session.Bridge
	Users     auth.UserStore
	Uploads   *files.Dir
	Signer    *signedurl.Signer
	Limiter   ratelimit.Limiter
}

func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(api.RealIP(deps.Cfg.TrustedProxies))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	gate := deps.Gate
	authHandlers := auth.Handlers{
		Sessions: deps.Sessions,
		Users:    deps.Users,
		Admins:   deps.Authority,
	}
	adminHandlers := adminapi.Handlers{
		Authority: deps.Authority,
		Sessions:  deps.Sessions,
	}

	var uploadHandlers *files.Handlers
	if deps.Uploads != nil && deps.Signer != nil {
		uploadHandlers = &files.Handlers{FS: deps.Uploads.FS(), Signer: deps.Signer, TTL: deps.Cfg.Uploads.URLTTL}
		// Media links are authorized by their signature alone.
		r.Get("/uploads/{filename}", uploadHandlers.Serve)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.CORS(deps.Cfg.CORSAllowedOrigins))
		r.Use(api.RateLimit(deps.Limiter, deps.Cfg.RateLimitPerMinute))

		r.Delete("/auth/session", authHandlers.DeleteSession)
		r.With(gate.RequireClient).Post("/auth/session", authHandlers.CreateSession)
		r.With(gate.RequireClientOrAdmin).Get("/auth/me", authHandlers.Me)

		// Any verified client may ask; a "no" is not an error.
		r.With(gate.RequireClient).Get("/admin/verify", authHandlers.VerifyAdmin)

		r.Group(func(r chi.Router) {
			r.Use(gate.RequireAdmin)

			r.Get("/admin/admins", adminHandlers.List)
			r.Post("/admin/admins", adminHandlers.Grant)
			r.Delete("/admin/admins/{telegramID}", adminHandlers.Revoke)
			r.Post("/admin/admins/revoke-all", adminHandlers.RevokeAll)
			r.Post("/admin/cache/invalidate", adminHandlers.InvalidateCache)
			if uploadHandlers != nil {
				r.Get("/admin/uploads", uploadHandlers.List)
			}
		})

		r.With(gate.RequireSessionAdmin).Post("/account/admin/resign", adminHandlers.Resign)
	})

	return r
}
