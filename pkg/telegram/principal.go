package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Principal is the Telegram user a verified payload was issued for.
type Principal struct {
	ID           int64  `json:"id"`
	DisplayName  string `json:"displayName"`
	Username     string `json:"username,omitempty"`
	PhotoURL     string `json:"photoUrl,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
	IsPremium    bool   `json:"isPremium,omitempty"`
}

// ExternalID is the decimal form of ID, as used by the admin sources.
func (p Principal) ExternalID() string {
	return strconv.FormatInt(p.ID, 10)
}

type webAppUser struct {
	ID           json.RawMessage `json:"id"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	Username     string          `json:"username"`
	PhotoURL     string          `json:"photo_url"`
	LanguageCode string          `json:"language_code"`
	IsPremium    bool            `json:"is_premium"`
}

// ExtractPrincipal decodes the user object of an already verified payload.
func ExtractPrincipal(d *InitData) (Principal, error) {
	raw := strings.TrimSpace(d.Get("user"))
	if raw == "" {
		return Principal{}, fmt.Errorf("%w: no user field", ErrNoIdentity)
	}

	var u webAppUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return Principal{}, fmt.Errorf("%w: user field: %v", ErrNoIdentity, err)
	}
	id, err := parseUserID(u.ID)
	if err != nil {
		return Principal{}, err
	}

	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.Username
	}
	return Principal{
		ID:           id,
		DisplayName:  name,
		Username:     strings.TrimSpace(u.Username),
		PhotoURL:     strings.TrimSpace(u.PhotoURL),
		LanguageCode: u.LanguageCode,
		IsPremium:    u.IsPremium,
	}, nil
}

// StartParam is the start_param passed through a t.me/<bot>/<app>?startapp= link.
func StartParam(d *InitData) string { return d.Get("start_param") }

// QueryID identifies the inline query session for answerWebAppQuery, when present.
func QueryID(d *InitData) string { return d.Get("query_id") }

// ChatType is the type of chat the app was opened from (private, group, ...).
func ChatType(d *InitData) string { return d.Get("chat_type") }

// parseUserID accepts a JSON integer or a string holding one.
func parseUserID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: missing id", ErrNoIdentity)
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: bad id", ErrNoIdentity)
		}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %q is not a positive integer", ErrNoIdentity, s)
	}
	return id, nil
}
