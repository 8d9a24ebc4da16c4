package adminaction

type ActionType string

const (
	ActionGrantAdmin     ActionType = "GRANT_ADMIN"
	ActionRevokeAdmin    ActionType = "REVOKE_ADMIN"
	ActionResignAdmin    ActionType = "RESIGN_ADMIN"
	ActionRevokeAllAdmin ActionType = "REVOKE_ALL_ADMINS"
)

// Action is one row of the admin audit trail. Target is the external id acted on
// ("*" for bulk actions); Actor is the external id (or tool name) performing it.
type Action struct {
	Type     ActionType
	Target   string
	Actor    string
	Reason   string
	Metadata any
}
