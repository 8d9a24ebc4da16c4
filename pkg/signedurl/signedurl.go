package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTTL  = time.Hour
	maxNameLen  = 255
	DefaultBase = "/uploads/"
)

var (
	ErrBadFilename  = errors.New("signedurl: filename must be a single path component")
	ErrBadSignature = errors.New("signedurl: signature mismatch")
	ErrExpired      = errors.New("signedurl: link expired")
	ErrMalformed    = errors.New("signedurl: malformed token or expiry")
	ErrNoSecret     = errors.New("signedurl: missing secret")
)

// Signed is a time-limited reference to one stored file.
type Signed struct {
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Query returns "token=...&expires=...".
func (s Signed) Query() string {
	v := url.Values{}
	v.Set("token", s.Token)
	v.Set("expires", strconv.FormatInt(s.ExpiresAt.Unix(), 10))
	return v.Encode()
}

type Signer struct {
	secret []byte
	base   string
	now    func() time.Time
}

func New(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Signer{secret: []byte(secret), base: DefaultBase, now: time.Now}, nil
}

// WithClock returns a copy that reads time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	cp := *s
	cp.now = now
	return &cp
}

// Sign issues a token for name valid for ttl (DefaultTTL when ttl <= 0).
func (s *Signer) Sign(name string, ttl time.Duration) (Signed, error) {
	if err := ValidateFilename(name); err != nil {
		return Signed{}, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	exp := s.now().Add(ttl).Truncate(time.Second)
	return Signed{
		Name:      name,
		Token:     hex.EncodeToString(s.mac(name, exp.Unix())),
		ExpiresAt: exp,
	}, nil
}

// URL is Sign rendered as "/uploads/<name>?token=..&expires=..".
func (s *Signer) URL(name string, ttl time.Duration) (string, error) {
	signed, err := s.Sign(name, ttl)
	if err != nil {
		return "", err
	}
	return s.Link(signed), nil
}

// Link renders an already signed reference.
func (s *Signer) Link(signed Signed) string {
	return s.base + url.PathEscape(signed.Name) + "?" + signed.Query()
}

// Verify checks token and expires (unix seconds) for name. It never touches
// the filesystem.
func (s *Signer) Verify(name, token, expires string) error {
	if err := ValidateFilename(name); err != nil {
		return err
	}
	exp, err := strconv.ParseInt(strings.TrimSpace(expires), 10, 64)
	if err != nil || exp <= 0 {
		return ErrMalformed
	}
	got, err := hex.DecodeString(token)
	if err != nil || len(got) != sha256.Size {
		return ErrMalformed
	}
	if s.now().Unix() > exp {
		return ErrExpired
	}
	if !hmac.Equal(got, s.mac(name, exp)) {
		return ErrBadSignature
	}
	return nil
}

func (s *Signer) mac(name string, exp int64) []byte {
	m := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(m, "%s|%d", name, exp)
	return m.Sum(nil)
}

// ValidateFilename accepts only a bare file name: no separators, no dot
// segments, nothing a path join could climb out of.
func ValidateFilename(name string) error {
	switch {
	case name == "", len(name) > maxNameLen:
		return ErrBadFilename
	case name == ".", name == "..", strings.Contains(name, ".."):
		return ErrBadFilename
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrBadFilename
	}
	return nil
}
