package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"storefront/internal/admins"
	"storefront/internal/session"
	"storefront/pkg/telegram"
)

const (
	HeaderInitData = "X-Telegram-Init-Data"
	HeaderPlatform = "X-Telegram-Platform"

	authScheme = "tma"
)

var tracer = otel.Tracer("storefront/internal/api")

var (
	ErrNoCredentials      = errors.New("gate: no init data or session")
	ErrPlatformNotAllowed = errors.New("gate: client platform not allowed")
)

// State is how far a request got through authentication.
type State int

const (
	Unauthenticated State = iota
	ClientAuthenticated
	AdminAuthenticated
)

func (s State) String() string {
	switch s {
	case ClientAuthenticated:
		return "client"
	case AdminAuthenticated:
		return "admin"
	default:
		return "unauthenticated"
	}
}

// AdminChecker is the slice of admins.Authority the gate needs.
type AdminChecker interface {
	IsAdmin(ctx context.Context, externalID string) bool
	Check(ctx context.Context, id admins.Identity) bool
}

type GateOptions struct {
	BotToken         string
	MaxAge           time.Duration
	AllowedPlatforms []string
	Admins           AdminChecker
	// Sessions is optional; without it only init data authenticates.
	Sessions *session.Bridge
	Now      func() time.Time
}

// Gate answers the two questions every protected route asks: is this the
// legitimate mini-app client, and is the caller an admin.
type Gate struct {
	botToken  string
	maxAge    time.Duration
	platforms map[string]struct{}
	admins    AdminChecker
	sessions  *session.Bridge
	now       func() time.Time
}

func NewGate(opts GateOptions) (*Gate, error) {
	if strings.TrimSpace(opts.BotToken) == "" {
		return nil, telegram.ErrMisconfigured
	}
	if opts.Admins == nil {
		return nil, errors.New("gate: admin checker is required")
	}
	g := &Gate{
		botToken: opts.BotToken,
		maxAge:   opts.MaxAge,
		admins:   opts.Admins,
		sessions: opts.Sessions,
		now:      opts.Now,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if len(opts.AllowedPlatforms) > 0 {
		g.platforms = make(map[string]struct{}, len(opts.AllowedPlatforms))
		for _, p := range opts.AllowedPlatforms {
			g.platforms[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
		}
	}
	return g, nil
}

// AuthResult is the outcome of AuthenticateAdmin.
type AuthResult struct {
	State     State
	Principal *telegram.Principal
	// Session is set when the caller presented a valid session cookie for
	// the same user as Principal.
	Session *session.Session
	// Launch is the verified init data, when the request carried any.
	Launch *telegram.InitData
}

// AuthenticateClient verifies the request comes from the mini-app. Fresh init
// data wins over the session cookie; the cookie is used only when no init
// data was sent.
func (g *Gate) AuthenticateClient(r *http.Request) (*telegram.Principal, error) {
	res, err := g.authenticateClient(r)
	return res.Principal, err
}

func (g *Gate) authenticateClient(r *http.Request) (AuthResult, error) {
	none := AuthResult{State: Unauthenticated}
	if err := g.checkPlatform(r); err != nil {
		return none, err
	}

	if raw := InitDataFromRequest(r); raw != "" {
		d, err := telegram.Verify(raw, g.botToken, g.maxAge, g.now())
		if err != nil {
			return none, err
		}
		p, err := telegram.ExtractPrincipal(d)
		if err != nil {
			return none, err
		}
		return AuthResult{State: ClientAuthenticated, Principal: &p, Launch: d}, nil
	}

	if g.sessions != nil {
		s, err := g.sessions.Redeem(r, g.now())
		if err != nil {
			return none, err
		}
		p, err := principalFromSession(s)
		if err != nil {
			return none, err
		}
		return AuthResult{State: ClientAuthenticated, Principal: p, Session: s}, nil
	}
	return none, ErrNoCredentials
}

// AuthenticateAdmin tries the session cookie first, then fresh init data.
// Either way the admin answer comes from the admin lists, never from the role
// cached in the cookie.
func (g *Gate) AuthenticateAdmin(r *http.Request) (AuthResult, error) {
	ctx, span := tracer.Start(r.Context(), "gate.AuthenticateAdmin")
	defer span.End()

	res := AuthResult{State: Unauthenticated}
	if err := g.checkPlatform(r); err != nil {
		return res, err
	}

	var sess *session.Session
	if g.sessions != nil {
		if s, err := g.sessions.Redeem(r, g.now()); err == nil {
			if p, err := principalFromSession(s); err == nil {
				sess = s
				res = AuthResult{State: ClientAuthenticated, Principal: p, Session: s}
				if g.admins.IsAdmin(ctx, s.ExternalID) {
					res.State = AdminAuthenticated
					span.SetAttributes(attribute.String("gate.via", "session"), attribute.String("gate.state", res.State.String()))
					return res, nil
				}
			}
		} else if !errors.Is(err, session.ErrNoSession) {
			log.Printf("gate session rejected path=%s err=%v", r.URL.Path, err)
		}
	}

	if InitDataFromRequest(r) != "" {
		client, err := g.authenticateClient(r)
		if err != nil {
			span.SetStatus(codes.Error, telegram.ReasonOf(err))
			if res.State == Unauthenticated {
				return res, err
			}
			// The session still identifies a client; bad init data does not upgrade it.
			log.Printf("gate init data rejected with valid session path=%s reason=%s", r.URL.Path, reasonOf(err))
		} else {
			p := client.Principal
			// A cookie left over from another account does not describe this caller.
			if sess != nil && sess.ExternalID != p.ExternalID() {
				sess = nil
			}
			res = AuthResult{State: ClientAuthenticated, Principal: p, Session: sess, Launch: client.Launch}
			if g.admins.IsAdmin(ctx, p.ExternalID()) {
				res.State = AdminAuthenticated
			}
			span.SetAttributes(attribute.String("gate.via", "init_data"))
		}
	}

	span.SetAttributes(attribute.String("gate.state", res.State.String()))
	if res.State == Unauthenticated {
		return res, ErrNoCredentials
	}
	return res, nil
}

// RequireClient admits the mini-app client or rejects with 403.
func (g *Gate) RequireClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := g.authenticateClient(r)
		if err != nil {
			g.reject(w, r, "client", err, Forbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(g.withResult(r.Context(), res)))
	})
}

// RequireAdmin admits only admins; everything else gets the same 401.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := g.AuthenticateAdmin(r)
		if err == nil && res.State != AdminAuthenticated {
			err = admins.ErrNotAuthorized
		}
		if err != nil {
			g.reject(w, r, "admin", err, Unauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(g.withResult(r.Context(), res)))
	})
}

// RequireClientOrAdmin admits the mini-app client or an admin, 403 otherwise.
func (g *Gate) RequireClientOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := g.AuthenticateAdmin(r)
		if err != nil {
			g.reject(w, r, "client_or_admin", err, Forbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(g.withResult(r.Context(), res)))
	})
}

// RequireSessionAdmin guards account self-service: the caller must hold a
// session and be an admin by any source, including the stored account role.
func (g *Gate) RequireSessionAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.sessions == nil {
			g.reject(w, r, "session_admin", session.ErrNoSession, Unauthorized)
			return
		}
		s, err := g.sessions.Redeem(r, g.now())
		if err != nil {
			g.reject(w, r, "session_admin", err, Unauthorized)
			return
		}
		p, err := principalFromSession(s)
		if err != nil {
			g.reject(w, r, "session_admin", err, Unauthorized)
			return
		}
		if !g.admins.Check(r.Context(), admins.SessionIdentity{ID: s.ExternalID, Role: s.Role}) {
			g.reject(w, r, "session_admin", admins.ErrNotAuthorized, Unauthorized)
			return
		}
		ctx := WithSession(WithAdmin(WithClient(r.Context(), p), p), s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) withResult(ctx context.Context, res AuthResult) context.Context {
	ctx = WithClient(ctx, res.Principal)
	if res.Session != nil {
		ctx = WithSession(ctx, res.Session)
	}
	if res.Launch != nil {
		ctx = WithLaunch(ctx, res.Launch)
	}
	if res.State == AdminAuthenticated {
		ctx = WithAdmin(ctx, res.Principal)
	}
	return ctx
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, guard string, err error, write func(http.ResponseWriter)) {
	log.Printf("gate rejected guard=%s path=%s reason=%s err=%v", guard, r.URL.Path, reasonOf(err), err)
	write(w)
}

// checkPlatform narrows clients to the configured platforms. A request without
// the header is let through: older clients do not send it.
func (g *Gate) checkPlatform(r *http.Request) error {
	if len(g.platforms) == 0 {
		return nil
	}
	platform := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderPlatform)))
	if platform == "" {
		return nil
	}
	if _, ok := g.platforms[platform]; !ok {
		return ErrPlatformNotAllowed
	}
	return nil
}

// InitDataFromRequest reads "Authorization: tma <payload>" or the
// X-Telegram-Init-Data header.
func InitDataFromRequest(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > len(authScheme) && strings.EqualFold(authz[:len(authScheme)], authScheme) && authz[len(authScheme)] == ' ' {
		return strings.TrimSpace(authz[len(authScheme)+1:])
	}
	return strings.TrimSpace(r.Header.Get(HeaderInitData))
}

func principalFromSession(s *session.Session) (*telegram.Principal, error) {
	id, err := strconv.ParseInt(s.ExternalID, 10, 64)
	if err != nil || id <= 0 {
		return nil, session.ErrInvalid
	}
	return &telegram.Principal{ID: id, DisplayName: s.DisplayName, Username: s.Username}, nil
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrPlatformNotAllowed):
		return "platform"
	case errors.Is(err, ErrNoCredentials), errors.Is(err, session.ErrNoSession):
		return "missing"
	case errors.Is(err, session.ErrInvalid):
		return "session_invalid"
	case errors.Is(err, admins.ErrNotAuthorized):
		return "not_admin"
	default:
		return telegram.ReasonOf(err)
	}
}
