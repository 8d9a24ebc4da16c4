package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront/pkg/telegram"
)

const (
	DefaultTTL = 30 * 24 * time.Hour

	issuer   = "storefront"
	audience = "storefront-miniapp"

	cookieProd = "__Host-session"
	cookieDev  = "session"
)

var (
	ErrNoSession     = errors.New("session: no session cookie")
	ErrInvalid       = errors.New("session: invalid credential")
	ErrMissingSecret = errors.New("session: missing signing secret")
)

type Claims struct {
	jwt.RegisteredClaims

	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
}

// Session is a redeemed credential. Role is what the account held when the
// credential was issued; admin routes must re-check it.
type Session struct {
	ExternalID  string
	DisplayName string
	Username    string
	Role        string
	ExpiresAt   time.Time
}

type Credential struct {
	Token     string
	ExpiresAt time.Time
}

type Options struct {
	Secret string
	// BotToken derives a signing key when Secret is empty outside production.
	BotToken string
	TTL      time.Duration
	Prod     bool
}

// Bridge trades a verified Telegram principal for a signed cookie so the
// mini-app does not have to resend init data on every request.
type Bridge struct {
	key  []byte
	ttl  time.Duration
	prod bool
}

func NewBridge(opts Options) (*Bridge, error) {
	var key []byte
	switch {
	case opts.Secret != "":
		key = []byte(opts.Secret)
	case !opts.Prod && opts.BotToken != "":
		mac := hmac.New(sha256.New, []byte("session"))
		mac.Write([]byte(opts.BotToken))
		key = mac.Sum(nil)
	default:
		return nil, ErrMissingSecret
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bridge{key: key, ttl: ttl, prod: opts.Prod}, nil
}

func (b *Bridge) CookieName() string {
	if b.prod {
		return cookieProd
	}
	return cookieDev
}

func (b *Bridge) TTL() time.Duration { return b.ttl }

// Issue signs a credential for p carrying role.
func (b *Bridge) Issue(p telegram.Principal, role string, now time.Time) (Credential, error) {
	exp := now.Add(b.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ExternalID(),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name:     p.DisplayName,
		Username: p.Username,
		Role:     role,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.key)
	if err != nil {
		return Credential{}, fmt.Errorf("sign session: %w", err)
	}
	return Credential{Token: tok, ExpiresAt: exp}, nil
}

// Redeem reads and verifies the session cookie on r.
func (b *Bridge) Redeem(r *http.Request, now time.Time) (*Session, error) {
	c, err := r.Cookie(b.CookieName())
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	return b.Parse(c.Value, now)
}

// Parse verifies a raw credential.
func (b *Bridge) Parse(token string, now time.Time) (*Session, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return b.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrInvalid
	}
	if n, err := strconv.ParseInt(claims.Subject, 10, 64); err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalid)
	}

	return &Session{
		ExternalID:  claims.Subject,
		DisplayName: claims.Name,
		Username:    claims.Username,
		Role:        claims.Role,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// SetCookie attaches cred to the response. Production cookies are host-bound
// and strict; development cookies are lax so the mini-app iframe keeps them.
func (b *Bridge) SetCookie(w http.ResponseWriter, cred Credential) {
	http.SetCookie(w, b.cookie(cred.Token, cred.ExpiresAt, int(b.ttl.Seconds())))
}

func (b *Bridge) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, b.cookie("", time.Unix(0, 0), -1))
}

func (b *Bridge) cookie(value string, expires time.Time, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     b.CookieName(),
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if b.prod {
		c.Secure = true
		c.SameSite = http.SameSiteStrictMode
	}
	return c
}
