package adminapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"storefront/internal/admins"
	"storefront/internal/api"
	"storefront/internal/session"
	"storefront/internal/users"
	"storefront/pkg/telegram"
)

// Handlers is the back-office admin management API.
type Handlers struct {
	Authority *admins.Authority
	Sessions  *session.Bridge
	Now       func() time.Time
}

type GrantRequest struct {
	TelegramID json.RawMessage `json:"telegramId"`
	Username   string          `json:"username"`
	Notes      string          `json:"notes"`
	IsActive   *bool           `json:"isActive"`
}

func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Authority.ListAll(r.Context())
	if err != nil {
		writeAuthorityError(w, "list", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) Grant(w http.ResponseWriter, r *http.Request) {
	actor := api.AdminFromContext(r.Context())
	if actor == nil {
		api.Unauthorized(w)
		return
	}

	var req GrantRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid json")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rec, err := h.Authority.Grant(r.Context(), admins.GrantInput{
		ExternalID: rawID(req.TelegramID),
		Username:   strings.TrimPrefix(strings.TrimSpace(req.Username), "@"),
		AddedBy:    actor.ExternalID(),
		Notes:      strings.TrimSpace(req.Notes),
		Active:     active,
	})
	if err != nil {
		writeAuthorityError(w, "grant", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, rec)
}

func (h Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	actor := api.AdminFromContext(r.Context())
	if actor == nil {
		api.Unauthorized(w)
		return
	}
	res, err := h.Authority.Revoke(r.Context(), chi.URLParam(r, "telegramID"), actor.ExternalID())
	if err != nil {
		writeAuthorityError(w, "revoke", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// RevokeAll is the incident switch. The caller loses access too unless they
// are restored through the file by an operator.
func (h Handlers) RevokeAll(w http.ResponseWriter, r *http.Request) {
	actor := api.AdminFromContext(r.Context())
	if actor == nil {
		api.Unauthorized(w)
		return
	}
	res, err := h.Authority.RevokeAll(r.Context(), actor.ExternalID())
	if err != nil {
		writeAuthorityError(w, "revoke_all", err)
		return
	}
	log.Printf("emergency revoke-all executed by=%s", actor.ExternalID())
	api.WriteJSON(w, http.StatusOK, res)
}

func (h Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.Authority.InvalidateStatic(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Resign drops the caller's own admin rights from every source and reissues
// their session with the plain user role.
func (h Handlers) Resign(w http.ResponseWriter, r *http.Request) {
	s := api.SessionFromContext(r.Context())
	p := api.ClientFromContext(r.Context())
	if s == nil || p == nil {
		api.Unauthorized(w)
		return
	}

	res, err := h.Authority.RevokeSelf(r.Context(), s.ExternalID)
	if err != nil && !errors.Is(err, admins.ErrNotFound) {
		writeAuthorityError(w, "resign", err)
		return
	}

	if h.Sessions != nil {
		now := time.Now()
		if h.Now != nil {
			now = h.Now()
		}
		cred, err := h.Sessions.Issue(telegram.Principal{ID: p.ID, DisplayName: s.DisplayName, Username: s.Username}, users.RoleUser, now)
		if err != nil {
			log.Printf("resign session reissue failed id=%s err=%v", s.ExternalID, err)
			h.Sessions.ClearCookie(w)
		} else {
			h.Sessions.SetCookie(w, cred)
		}
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func writeAuthorityError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, admins.ErrInvalidExternalID):
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "telegramId must be a positive integer")
	case errors.Is(err, admins.ErrNotFound):
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "admin not found")
	case admins.IsUpstream(err):
		log.Printf("admin %s failed: store unavailable err=%v", op, err)
		api.WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "try again later")
	default:
		log.Printf("admin %s failed err=%v", op, err)
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// rawID accepts the id as a JSON number or string.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
