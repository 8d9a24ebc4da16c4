package adminaction

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
)

// Insert writes a within the caller's transaction so the audit row commits or
// rolls back together with the change it describes.
func Insert(ctx context.Context, tx pgx.Tx, a Action) error {
	var s *string
	if a.Metadata != nil {
		b, _ := json.Marshal(a.Metadata)
		str := string(b)
		s = &str
	}
	const q = `
INSERT INTO admin_actions (action_type, target, actor, reason, metadata)
VALUES ($1, $2, $3, $4, CAST($5 AS jsonb))
`
	_, err := tx.Exec(ctx, q, string(a.Type), a.Target, a.Actor, a.Reason, s)
	return err
}
