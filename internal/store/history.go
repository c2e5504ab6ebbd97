package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/datallboy/gonzbd/internal/app"
	"github.com/segmentio/ksuid"
)

// RecordEvent appends one archive lifecycle event. KSUIDs sort
// chronologically, so the primary key doubles as insertion order.
func (s *PersistentStore) RecordEvent(archive, event, detail string) error {
	query := `INSERT INTO archive_events (id, archive, event, detail, created_at)
              VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		ksuid.New().String(),
		archive,
		event,
		detail,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events first.
func (s *PersistentStore) RecentEvents(limit int) ([]app.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, archive, event, detail, created_at
		FROM archive_events
		ORDER BY id DESC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer rows.Close()

	var events []app.Event
	for rows.Next() {
		var e app.Event
		var detail sql.NullString
		var created int64

		if err := rows.Scan(&e.ID, &e.Archive, &e.Event, &detail, &created); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		e.CreatedAt = time.Unix(created, 0)
		events = append(events, e)
	}

	return events, rows.Err()
}
