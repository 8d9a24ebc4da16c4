package telegram

import "errors"

var (
	ErrMalformed        = errors.New("init data: malformed")
	ErrInvalidSignature = errors.New("init data: invalid signature")
	ErrExpired          = errors.New("init data: expired")
	ErrMisconfigured    = errors.New("init data: bot token not configured")
	ErrNoIdentity       = errors.New("init data: missing user identity")
)

// ReasonOf maps a verification error to a short label for logs and metrics.
// The label must never be sent to the caller.
func ReasonOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMisconfigured):
		return "misconfigured"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid"
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrNoIdentity):
		return "malformed"
	default:
		return "unknown"
	}
}
