// Package report provides PostgreSQL-backed archival of abuse reports. The
// live report window that drives automatic bans lives in Redis (see
// internal/moderation); this archive exists for human moderator review and
// keeps who reported whom, the room context, and a short anonymised
// conversation snapshot.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roam-chat/roam/internal/room"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the abuse_reports table.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// Report is a single abuse report to be archived.
type Report struct {
	ReporterID string                 `json:"reporter_id"`
	TargetID   string                 `json:"target_id"`
	RoomID     string                 `json:"room_id"`
	Reason     string                 `json:"reason"`
	Messages   []room.BufferedMessage `json:"messages,omitempty"` // recent-message snapshot
}

// ValidReason reports whether the reason is one of the allowed values.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// Store manages the abuse-report archive.
type Store struct {
	db *sql.DB
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts an abuse report. The message snapshot is marshalled to
// JSONB; the reason is validated against the allowed set first.
func (s *Store) Create(ctx context.Context, rep *Report) error {
	if !ValidReason(rep.Reason) {
		return fmt.Errorf("report: invalid reason %q", rep.Reason)
	}

	var messagesJSON []byte
	if len(rep.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(rep.Messages)
		if err != nil {
			return fmt.Errorf("report: marshal messages: %w", err)
		}
	}

	const query = `
		INSERT INTO abuse_reports (reporter_session, target_session, room_id, reason, messages)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		rep.ReporterID,
		rep.TargetID,
		rep.RoomID,
		rep.Reason,
		messagesJSON,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of archived reports against a session
// within the given window. Useful for moderator dashboards; the automatic
// ban path counts from the Redis window instead.
func (s *Store) CountRecent(ctx context.Context, targetID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE target_session = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, targetID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
