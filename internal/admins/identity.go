package admins

// Identity is who an admin check is asked about. The two variants come from
// different trust boundaries and are answered by different source chains:
// a TelegramIdentity is never recognized through a session role flag.
type Identity interface {
	Subject() string
	Kind() string
	isIdentity()
}

// TelegramIdentity is a user proven by freshly verified init data, or by a
// session credential that is being re-checked against the admin lists.
type TelegramIdentity struct {
	ID string
}

func (i TelegramIdentity) Subject() string { return i.ID }
func (TelegramIdentity) Kind() string      { return "telegram" }
func (TelegramIdentity) isIdentity()       {}

// SessionIdentity is the holder of a logged-in session; Role is the role
// recorded in the session credential at issuance.
type SessionIdentity struct {
	ID   string
	Role string
}

func (i SessionIdentity) Subject() string { return i.ID }
func (SessionIdentity) Kind() string      { return "session" }
func (SessionIdentity) isIdentity()       {}
