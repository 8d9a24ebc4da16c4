package admins

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrNotAuthorized       = errors.New("admins: not authorized")
	ErrUpstreamUnavailable = errors.New("admins: admin store unavailable")
	ErrInvalidExternalID   = errors.New("admins: external id must be a positive integer")
	ErrNotFound            = errors.New("admins: no such admin")
)

// ParseExternalID validates a decimal Telegram user id.
func ParseExternalID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidExternalID
	}
	return n, nil
}
