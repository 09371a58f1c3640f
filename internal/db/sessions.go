package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LinkSession is one handshake-to-disconnect period of the node link.
type LinkSession struct {
	ID       string     `json:"id"`
	Device   string     `json:"device"`
	Version  string     `json:"version"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// OpenLinkSession records the start of s.
func (db *DB) OpenLinkSession(ctx context.Context, s *LinkSession) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO link_sessions (session_id, device, version, opened_unix) VALUES (?, ?, ?, ?)`,
		s.ID, s.Device, s.Version, unixSeconds(s.OpenedAt))
	if err != nil {
		return fmt.Errorf("failed to insert link session: %w", err)
	}
	return nil
}

// CloseLinkSession stamps the end of session id.
func (db *DB) CloseLinkSession(ctx context.Context, id string, closedAt time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE link_sessions SET closed_unix = ? WHERE session_id = ?`,
		unixSeconds(closedAt), id)
	if err != nil {
		return fmt.Errorf("failed to close link session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link session %s: %w", id, ErrNotFound)
	}
	return nil
}

// LinkSessions returns up to limit sessions, newest first.
func (db *DB) LinkSessions(ctx context.Context, limit int) ([]LinkSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, device, version, opened_unix, closed_unix
		FROM link_sessions ORDER BY opened_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query link sessions: %w", err)
	}
	defer rows.Close()

	var out []LinkSession
	for rows.Next() {
		var (
			s      LinkSession
			opened float64
			closed sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &s.Device, &s.Version, &opened, &closed); err != nil {
			return nil, fmt.Errorf("failed to scan link session: %w", err)
		}
		s.OpenedAt = fromUnixSeconds(opened)
		if closed.Valid {
			ts := fromUnixSeconds(closed.Float64)
			s.ClosedAt = &ts
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
