package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CalibrationOffset is one stored pair of phase and range offsets.
type CalibrationOffset struct {
	ID         int64     `json:"id"`
	PhaseRad   float64   `json:"phase_rad"`
	RangeM     float64   `json:"range_m"`
	Source     string    `json:"source"`
	Target     string    `json:"target,omitempty"`
	ReferenceM float64   `json:"reference_m"`
	Samples    int       `json:"samples"`
	CreatedAt  time.Time `json:"created_at"`
}

// InsertCalibrationOffset stores off and sets its ID.
func (db *DB) InsertCalibrationOffset(ctx context.Context, off *CalibrationOffset) error {
	if off.CreatedAt.IsZero() {
		off.CreatedAt = time.Now()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO calibration_offsets (
			phase_rad, range_m, source, target_id64, reference_m, samples, created_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		off.PhaseRad, off.RangeM, off.Source, off.Target, off.ReferenceM, off.Samples,
		unixSeconds(off.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert calibration offset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get calibration offset id: %w", err)
	}
	off.ID = id
	return nil
}

const offsetColumns = `offset_id, phase_rad, range_m, source, target_id64, reference_m, samples, created_unix`

func scanOffset(row interface{ Scan(...any) error }) (*CalibrationOffset, error) {
	var (
		off     CalibrationOffset
		created float64
	)
	if err := row.Scan(&off.ID, &off.PhaseRad, &off.RangeM, &off.Source, &off.Target,
		&off.ReferenceM, &off.Samples, &created); err != nil {
		return nil, err
	}
	off.CreatedAt = fromUnixSeconds(created)
	return &off, nil
}

// LatestCalibrationOffset returns the most recently stored offsets.
func (db *DB) LatestCalibrationOffset(ctx context.Context) (*CalibrationOffset, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+offsetColumns+` FROM calibration_offsets
		ORDER BY created_unix DESC, offset_id DESC LIMIT 1`)
	off, err := scanOffset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("calibration offset: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration offset: %w", err)
	}
	return off, nil
}

// CalibrationOffsets returns up to limit offsets, newest first.
func (db *DB) CalibrationOffsets(ctx context.Context, limit int) ([]CalibrationOffset, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+offsetColumns+` FROM calibration_offsets
		ORDER BY created_unix DESC, offset_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration offsets: %w", err)
	}
	defer rows.Close()

	var out []CalibrationOffset
	for rows.Next() {
		off, err := scanOffset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calibration offset: %w", err)
		}
		out = append(out, *off)
	}
	return out, rows.Err()
}
