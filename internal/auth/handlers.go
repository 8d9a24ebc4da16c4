package auth

import (
	"context"
	"log"
	"net/http"
	"time"

	"storefront/internal/api"
	"storefront/internal/session"
	"storefront/internal/users"
	"storefront/pkg/telegram"
)

// UserStore records mini-app accounts on sign-in.
type UserStore interface {
	Touch(ctx context.Context, p telegram.Principal) (*users.User, error)
}

type AdminChecker interface {
	IsAdmin(ctx context.Context, externalID string) bool
}

type Handlers struct {
	Sessions *session.Bridge
	Users    UserStore
	Admins   AdminChecker
	Now      func() time.Time
}

type SessionResponse struct {
	User      *telegram.Principal `json:"user"`
	Role      string              `json:"role"`
	IsAdmin   bool                `json:"isAdmin"`
	ExpiresAt time.Time           `json:"expiresAt"`

	// StartParam and ChatType echo the launch context so the client can route
	// a deep link after signing in.
	StartParam string `json:"startParam,omitempty"`
	ChatType   string `json:"chatType,omitempty"`
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// CreateSession exchanges verified init data for a session cookie. The role
// stored in the cookie comes from the account record and is advisory only.
func (h Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	p := api.ClientFromContext(r.Context())
	if p == nil {
		api.Forbidden(w)
		return
	}

	role := users.RoleUser
	if h.Users != nil {
		u, err := h.Users.Touch(r.Context(), *p)
		if err != nil {
			log.Printf("session user upsert failed id=%d err=%v", p.ID, err)
			api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
			return
		}
		role = u.Role
	}

	cred, err := h.Sessions.Issue(*p, role, h.now())
	if err != nil {
		log.Printf("session issue failed id=%d err=%v", p.ID, err)
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	h.Sessions.SetCookie(w, cred)

	launch := api.LaunchFromContext(r.Context())
	log.Printf("session issued id=%d role=%s query_id=%s", p.ID, role, telegram.QueryID(launch))

	api.WriteJSON(w, http.StatusOK, SessionResponse{
		User:       p,
		Role:       role,
		IsAdmin:    h.Admins.IsAdmin(r.Context(), p.ExternalID()),
		ExpiresAt:  cred.ExpiresAt,
		StartParam: telegram.StartParam(launch),
		ChatType:   telegram.ChatType(launch),
	})
}

func (h Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.Sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me describes the caller as the gate saw it.
func (h Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p := api.ClientFromContext(r.Context())
	if p == nil {
		api.Forbidden(w)
		return
	}
	resp := map[string]any{
		"user":    p,
		"isAdmin": api.AdminFromContext(r.Context()) != nil,
	}
	if s := api.SessionFromContext(r.Context()); s != nil {
		resp["sessionExpiresAt"] = s.ExpiresAt
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// VerifyAdmin lets the legitimate client learn whether it is an admin. A
// denial carries the same hint whatever the reason.
func (h Handlers) VerifyAdmin(w http.ResponseWriter, r *http.Request) {
	p := api.ClientFromContext(r.Context())
	if p == nil {
		api.Forbidden(w)
		return
	}
	if h.Admins.IsAdmin(r.Context(), p.ExternalID()) {
		api.WriteJSON(w, http.StatusOK, map[string]any{"allowed": true})
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"allowed": false,
		"hint":    "this account does not have access to the back office",
	})
}
