package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"auth-service/internal/model"
)

// AppendActivity writes the authoritative audit row. Fan-out to the
// analytics stores happens elsewhere and is best-effort; this write is
// the one that must not be lost.
func (s *Store) AppendActivity(ctx context.Context, event *model.ActivityEvent) error {
	const op = "postgres.AppendActivity"

	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO activity_log (id, user_id, event_type, device_id, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.UserID, event.EventType,
		event.DeviceID, event.IPAddress, event.UserAgent,
		metadata, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
