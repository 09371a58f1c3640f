package db

import (
	"context"
	"fmt"
	"time"
)

// RangeEntry is one logged range report.
type RangeEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	ID64      string    `json:"id64"`
	ID16      int       `json:"id16"`
	Seq       int       `json:"seq"`
	RangeM    float64   `json:"range_m"`
	AngleDeg  float64   `json:"angle_deg"`
	PDOADeg   float64   `json:"pdoa_deg"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	RawX      float64   `json:"raw_x"`
	RawY      float64   `json:"raw_y"`
	ClockPPM  float64   `json:"clock_offset_ppm"`
	Mode      int       `json:"mode"`
	At        time.Time `json:"at"`
}

// InsertRangeEntry appends e to the range log.
func (db *DB) InsertRangeEntry(ctx context.Context, e *RangeEntry) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO range_log (
			session_id, id64, id16, seq, range_m, angle_deg, pdoa_deg,
			x_m, y_m, raw_x_m, raw_y_m, clock_ppm, mode, logged_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.ID64, e.ID16, e.Seq, e.RangeM, e.AngleDeg, e.PDOADeg,
		e.X, e.Y, e.RawX, e.RawY, e.ClockPPM, e.Mode, unixSeconds(e.At),
	)
	if err != nil {
		return fmt.Errorf("failed to insert range entry: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get range entry id: %w", err)
	}
	return nil
}

// RangeEntries returns up to limit entries for id64 (all devices when empty),
// newest first.
func (db *DB) RangeEntries(ctx context.Context, id64 string, limit int) ([]RangeEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.QueryContext(ctx,
		`SELECT entry_id, session_id, id64, id16, seq, range_m, angle_deg, pdoa_deg,
			x_m, y_m, raw_x_m, raw_y_m, clock_ppm, mode, logged_unix
		FROM range_log
		WHERE ? = '' OR id64 = ?
		ORDER BY logged_unix DESC, entry_id DESC LIMIT ?`, id64, id64, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query range log: %w", err)
	}
	defer rows.Close()

	var out []RangeEntry
	for rows.Next() {
		var (
			e  RangeEntry
			at float64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ID64, &e.ID16, &e.Seq, &e.RangeM,
			&e.AngleDeg, &e.PDOADeg, &e.X, &e.Y, &e.RawX, &e.RawY, &e.ClockPPM, &e.Mode, &at); err != nil {
			return nil, fmt.Errorf("failed to scan range entry: %w", err)
		}
		e.At = fromUnixSeconds(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
