package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxAge is the replay window applied when none is configured.
	DefaultMaxAge = 24 * time.Hour

	hashField     = "hash"
	authDateField = "auth_date"

	// webAppKeyDomain is the fixed key Telegram uses to derive the per-bot secret.
	webAppKeyDomain = "WebAppData"
)

// InitData is a parsed Mini App launch payload. It keeps every field from the
// query string, hash and auth_date included.
type InitData struct {
	fields   map[string]string
	Hash     string
	AuthDate time.Time
}

// Get returns the raw value for key, or "".
func (d *InitData) Get(key string) string {
	if d == nil {
		return ""
	}
	return d.fields[key]
}

// Parse decodes a raw init data string without checking its signature.
func Parse(raw string) (*InitData, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	fields := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) != 1 {
			return nil, fmt.Errorf("%w: repeated field %q", ErrMalformed, k)
		}
		fields[k] = vs[0]
	}

	hash := strings.TrimSpace(fields[hashField])
	if hash == "" {
		return nil, fmt.Errorf("%w: missing hash", ErrMalformed)
	}
	rawDate := strings.TrimSpace(fields[authDateField])
	if rawDate == "" {
		return nil, fmt.Errorf("%w: missing auth_date", ErrMalformed)
	}
	secs, err := strconv.ParseInt(rawDate, 10, 64)
	if err != nil || secs <= 0 {
		return nil, fmt.Errorf("%w: bad auth_date", ErrMalformed)
	}

	return &InitData{
		fields:   fields,
		Hash:     hash,
		AuthDate: time.Unix(secs, 0),
	}, nil
}

// Verify parses raw and checks it was signed with botToken no longer than maxAge ago.
// maxAge <= 0 disables the replay window.
func Verify(raw, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	if botToken == "" {
		return nil, ErrMisconfigured
	}
	d, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if maxAge > 0 && now.Sub(d.AuthDate) > maxAge {
		return nil, fmt.Errorf("%w: issued %s ago", ErrExpired, now.Sub(d.AuthDate).Truncate(time.Second))
	}

	given, err := hex.DecodeString(d.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: hash is not hex", ErrInvalidSignature)
	}
	expected := computeHash(d.fields, botToken)
	if !hmac.Equal(expected, given) {
		return nil, ErrInvalidSignature
	}
	return d, nil
}

// Sign builds a signed payload from fields. auth_date is set from authDate and any
// hash present in fields is replaced. Intended for tests and local tooling.
func Sign(fields map[string]string, botToken string, authDate time.Time) string {
	values := url.Values{}
	signed := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		if k == hashField {
			continue
		}
		signed[k] = v
		values.Set(k, v)
	}
	date := strconv.FormatInt(authDate.Unix(), 10)
	signed[authDateField] = date
	values.Set(authDateField, date)

	values.Set(hashField, hex.EncodeToString(computeHash(signed, botToken)))
	return values.Encode()
}

// SecretKey derives the per-bot HMAC key: HMAC_SHA256(key="WebAppData", msg=botToken).
func SecretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte(webAppKeyDomain))
	_, _ = mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// DataCheckString is the canonical string signed by Telegram: every field except
// hash, sorted by key, as key=value lines joined by "\n".
func DataCheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == hashField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

func computeHash(fields map[string]string, botToken string) []byte {
	mac := hmac.New(sha256.New, SecretKey(botToken))
	_, _ = mac.Write([]byte(DataCheckString(fields)))
	return mac.Sum(nil)
}
