package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/api"
	"storefront/internal/session"
	"storefront/internal/users"
	"storefront/pkg/telegram"
)

type fakeUsers struct {
	role string
	err  error
	seen []int64
}

func (f *fakeUsers) Touch(ctx context.Context, p telegram.Principal) (*users.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.seen = append(f.seen, p.ID)
	return &users.User{TelegramID: p.ID, DisplayName: p.DisplayName, Role: f.role}, nil
}

type staticAdmins map[string]bool

func (s staticAdmins) IsAdmin(ctx context.Context, id string) bool { return s[id] }

func newHandlers(t *testing.T, u *fakeUsers, adm staticAdmins) Handlers {
	t.Helper()
	b, err := session.NewBridge(session.Options{Secret: "test"})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	return Handlers{Sessions: b, Users: u, Admins: adm}
}

func withClient(r *http.Request, p *telegram.Principal) *http.Request {
	return r.WithContext(api.WithClient(r.Context(), p))
}

func TestCreateSession(t *testing.T) {
	u := &fakeUsers{role: users.RoleAdmin}
	h := newHandlers(t, u, staticAdmins{"7": true})
	p := &telegram.Principal{ID: 7, DisplayName: "Ada"}

	rec := httptest.NewRecorder()
	h.CreateSession(rec, withClient(httptest.NewRequest(http.MethodPost, "/v1/auth/session", nil), p))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsAdmin || resp.Role != users.RoleAdmin || resp.User.ID != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(u.seen) != 1 || u.seen[0] != 7 {
		t.Fatalf("expected user upsert, got %v", u.seen)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "session" {
		t.Fatalf("expected session cookie, got %+v", cookies)
	}
	s, err := h.Sessions.Parse(cookies[0].Value, time.Now())
	if err != nil || s.ExternalID != "7" || s.Role != users.RoleAdmin {
		t.Fatalf("unexpected session %+v err=%v", s, err)
	}
}

func TestCreateSession_Failures(t *testing.T) {
	h := newHandlers(t, &fakeUsers{err: errors.New("db down")}, staticAdmins{})

	rec := httptest.NewRecorder()
	h.CreateSession(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/session", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a client, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.CreateSession(rec, withClient(httptest.NewRequest(http.MethodPost, "/v1/auth/session", nil), &telegram.Principal{ID: 1}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the user store fails, got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("no cookie may be set when sign-in fails")
	}
}

func TestDeleteSession(t *testing.T) {
	h := newHandlers(t, &fakeUsers{}, staticAdmins{})
	rec := httptest.NewRecorder()
	h.DeleteSession(rec, httptest.NewRequest(http.MethodDelete, "/v1/auth/session", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	c := rec.Result().Cookies()
	if len(c) != 1 || c[0].MaxAge >= 0 {
		t.Fatalf("expected a deleting cookie, got %+v", c)
	}
}

func TestVerifyAdmin(t *testing.T) {
	h := newHandlers(t, &fakeUsers{}, staticAdmins{"1": true})

	for id, want := range map[int64]bool{1: true, 2: false} {
		rec := httptest.NewRecorder()
		h.VerifyAdmin(rec, withClient(httptest.NewRequest(http.MethodGet, "/v1/admin/verify", nil), &telegram.Principal{ID: id}))
		if rec.Code != http.StatusOK {
			t.Fatalf("id %d: expected 200, got %d", id, rec.Code)
		}
		var body struct {
			Allowed bool   `json:"allowed"`
			Hint    string `json:"hint"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Allowed != want {
			t.Fatalf("id %d: allowed=%v want %v", id, body.Allowed, want)
		}
		if !want && body.Hint == "" {
			t.Fatalf("expected a hint on denial")
		}
	}
}

func TestMe(t *testing.T) {
	h := newHandlers(t, &fakeUsers{}, staticAdmins{})
	p := &telegram.Principal{ID: 3, DisplayName: "Ada"}
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req = req.WithContext(api.WithAdmin(api.WithClient(req.Context(), p), p))

	rec := httptest.NewRecorder()
	h.Me(rec, req)
	var body struct {
		User    telegram.Principal `json:"user"`
		IsAdmin bool               `json:"isAdmin"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User.ID != 3 || !body.IsAdmin {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCreateSession_EchoesLaunchContext(t *testing.T) {
	h := newHandlers(t, &fakeUsers{role: users.RoleUser}, staticAdmins{})
	raw := telegram.Sign(map[string]string{
		"user":        `{"id":7,"first_name":"Ada"}`,
		"start_param": "product-991",
		"chat_type":   "private",
	}, "1:token", time.Now())
	d, err := telegram.Verify(raw, "1:token", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	req := withClient(httptest.NewRequest(http.MethodPost, "/v1/auth/session", nil), &telegram.Principal{ID: 7})
	req = req.WithContext(api.WithLaunch(req.Context(), d))
	rec := httptest.NewRecorder()
	h.CreateSession(rec, req)

	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StartParam != "product-991" || resp.ChatType != "private" {
		t.Fatalf("expected launch context in response, got %+v", resp)
	}
}
