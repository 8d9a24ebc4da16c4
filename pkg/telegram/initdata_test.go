package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testBotToken = "123456:TEST-bot-token"

var testNow = time.Unix(1700000000, 0)

func testFields() map[string]string {
	return map[string]string{
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":      `{"id":279058397,"first_name":"Vlad","last_name":"K","username":"vdkfrost","language_code":"en","is_premium":true}`,
		"chat_type": "private",
	}
}

// harnessHash recomputes the signature without using package helpers.
func harnessHash(t *testing.T, raw string) string {
	t.Helper()
	values, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var lines []string
	for k := range values {
		if k == "hash" {
			continue
		}
		lines = append(lines, k+"="+values.Get(k))
	}
	// sort lines by key; keys never contain '='
	for i := 1; i < len(lines); i++ {
		for j := i; j > 0 && lines[j] < lines[j-1]; j-- {
			lines[j], lines[j-1] = lines[j-1], lines[j]
		}
	}
	k := hmac.New(sha256.New, []byte("WebAppData"))
	k.Write([]byte(testBotToken))
	mac := hmac.New(sha256.New, k.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerify_ValidPayload(t *testing.T) {
	raw := Sign(testFields(), testBotToken, testNow.Add(-5*time.Minute))

	d, err := Verify(raw, testBotToken, DefaultMaxAge, testNow)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if d.Hash != harnessHash(t, raw) {
		t.Fatalf("hash does not match independently computed HMAC")
	}
	if !d.AuthDate.Equal(testNow.Add(-5 * time.Minute)) {
		t.Fatalf("unexpected auth date %v", d.AuthDate)
	}
	if got := QueryID(d); got != "AAHdF6IQAAAAAN0XohDhrOrc" {
		t.Fatalf("unexpected query id %q", got)
	}
}

func TestVerify_UnboundedAgeAcceptsOldPayload(t *testing.T) {
	raw := Sign(testFields(), testBotToken, testNow.Add(-400*24*time.Hour))
	if _, err := Verify(raw, testBotToken, 0, testNow); err != nil {
		t.Fatalf("expected success with no max age, got %v", err)
	}
}

func TestVerify_HarnessSignedPayload(t *testing.T) {
	values := url.Values{}
	for k, v := range testFields() {
		values.Set(k, v)
	}
	values.Set("auth_date", strconv.FormatInt(testNow.Unix(), 10))
	values.Set("hash", harnessHash(t, values.Encode()))

	if _, err := Verify(values.Encode(), testBotToken, DefaultMaxAge, testNow); err != nil {
		t.Fatalf("expected harness-signed payload to verify, got %v", err)
	}
}

func TestVerify_AnyMutationInvalidates(t *testing.T) {
	raw := Sign(testFields(), testBotToken, testNow.Add(-time.Minute))

	mutations := map[string]func(url.Values){
		"value changed":    func(v url.Values) { v.Set("chat_type", "group") },
		"case changed":     func(v url.Values) { v.Set("chat_type", "Private") },
		"whitespace added": func(v url.Values) { v.Set("chat_type", "private ") },
		"user reordered": func(v url.Values) {
			v.Set("user", `{"first_name":"Vlad","id":279058397,"last_name":"K","username":"vdkfrost","language_code":"en","is_premium":true}`)
		},
		"user id changed": func(v url.Values) {
			v.Set("user", strings.Replace(v.Get("user"), "279058397", "279058398", 1))
		},
		"auth_date changed": func(v url.Values) {
			v.Set("auth_date", strconv.FormatInt(testNow.Unix(), 10))
		},
		"field added":   func(v url.Values) { v.Set("start_param", "promo") },
		"field removed": func(v url.Values) { v.Del("query_id") },
		"hash flipped": func(v url.Values) {
			h := []byte(v.Get("hash"))
			if h[0] == 'a' {
				h[0] = 'b'
			} else {
				h[0] = 'a'
			}
			v.Set("hash", string(h))
		},
	}

	for name, mutate := range mutations {
		values, err := url.ParseQuery(raw)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		mutate(values)
		_, err = Verify(values.Encode(), testBotToken, DefaultMaxAge, testNow)
		if !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	raw := Sign(testFields(), testBotToken, testNow)
	if _, err := Verify(raw, "other:token", DefaultMaxAge, testNow); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	maxAge := time.Hour
	issued := testNow.Add(-maxAge - time.Second)

	valid := Sign(testFields(), testBotToken, issued)
	if _, err := Verify(valid, testBotToken, maxAge, testNow); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for validly signed stale payload, got %v", err)
	}

	tampered := strings.Replace(valid, "private", "group", 1)
	if _, err := Verify(tampered, testBotToken, maxAge, testNow); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for tampered stale payload, got %v", err)
	}

	edge := Sign(testFields(), testBotToken, testNow.Add(-maxAge))
	if _, err := Verify(edge, testBotToken, maxAge, testNow); err != nil {
		t.Fatalf("payload exactly maxAge old should verify, got %v", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"no hash":        "auth_date=1700000000&user=%7B%7D",
		"no auth_date":   "hash=abcd&user=%7B%7D",
		"bad auth_date":  "hash=abcd&auth_date=yesterday",
		"repeated field": "hash=abcd&auth_date=1700000000&user=1&user=2",
		"bad escape":     "hash=abcd&auth_date=1700000000&user=%zz",
		"negative date":  "hash=abcd&auth_date=-5",
	}
	for name, raw := range cases {
		if _, err := Verify(raw, testBotToken, DefaultMaxAge, testNow); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestVerify_MissingSecret(t *testing.T) {
	raw := Sign(testFields(), testBotToken, testNow)
	if _, err := Verify(raw, "", DefaultMaxAge, testNow); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}

func TestDataCheckString_SortedAndExcludesHash(t *testing.T) {
	got := DataCheckString(map[string]string{"user": "u", "auth_date": "1", "hash": "h", "chat_type": "c"})
	want := "auth_date=1\nchat_type=c\nuser=u"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestReasonOf(t *testing.T) {
	cases := map[error]string{
		ErrMalformed:        "malformed",
		ErrInvalidSignature: "invalid",
		ErrExpired:          "expired",
		ErrMisconfigured:    "misconfigured",
		ErrNoIdentity:       "malformed",
	}
	for err, want := range cases {
		if got := ReasonOf(err); got != want {
			t.Fatalf("ReasonOf(%v) = %q, want %q", err, got, want)
		}
	}
}
