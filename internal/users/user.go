package users

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a mini-app account keyed by Telegram user id. Role is the legacy
// session-level role flag; it is not an admin source for Telegram identities.
type User struct {
	TelegramID  int64     `json:"telegramId"`
	DisplayName string    `json:"displayName"`
	Username    string    `json:"username,omitempty"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}
