package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })

	db, err := NewDB(filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBMigrates(t *testing.T) {
	db := newTestDB(t)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, table := range []string{"calibration_offsets", "range_log", "link_sessions"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestNewDBReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.InsertCalibrationOffset(context.Background(), &CalibrationOffset{PhaseRad: 1, Source: "local"}))
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	off, err := db.LatestCalibrationOffset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, off.PhaseRad)
}

func TestMigrateDown(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
	require.NoError(t, db.MigrateUp())
}

func TestCalibrationOffsets(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.LatestCalibrationOffset(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &CalibrationOffset{PhaseRad: 0.1, RangeM: 0.02, Source: "node", CreatedAt: base}
	second := &CalibrationOffset{
		PhaseRad: -0.25, RangeM: 0.125, Source: "local", Target: "0102030405060708",
		ReferenceM: 2, Samples: 200, CreatedAt: base.Add(time.Minute),
	}
	require.NoError(t, db.InsertCalibrationOffset(ctx, first))
	require.NoError(t, db.InsertCalibrationOffset(ctx, second))
	assert.NotZero(t, second.ID)

	latest, err := db.LatestCalibrationOffset(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, -0.25, latest.PhaseRad)
	assert.Equal(t, 0.125, latest.RangeM)
	assert.Equal(t, "0102030405060708", latest.Target)
	assert.Equal(t, 200, latest.Samples)
	assert.WithinDuration(t, second.CreatedAt, latest.CreatedAt, time.Millisecond)

	all, err := db.CalibrationOffsets(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "local", all[0].Source)
	assert.Equal(t, "node", all[1].Source)
}

func TestRangeLog(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"000000000000000a", "000000000000000b", "000000000000000a"} {
		require.NoError(t, db.InsertRangeEntry(ctx, &RangeEntry{
			SessionID: "s1", ID64: id, ID16: 1, Seq: i, RangeM: 3, X: 2.5, Y: -0.5,
			At: at.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := db.RangeEntries(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := db.RangeEntries(ctx, "000000000000000a", 10)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, 2, onlyA[0].Seq)
	assert.Equal(t, 2.5, onlyA[0].X)
	assert.Equal(t, -0.5, onlyA[0].Y)
}

func TestLinkSessions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.OpenLinkSession(ctx, &LinkSession{ID: "abc", Device: "PDOA Node", Version: "1.0", OpenedAt: opened}))
	sessions, err := db.LinkSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Nil(t, sessions[0].ClosedAt)

	require.NoError(t, db.CloseLinkSession(ctx, "abc", opened.Add(time.Hour)))
	sessions, err = db.LinkSessions(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, sessions[0].ClosedAt)
	assert.WithinDuration(t, opened.Add(time.Hour), *sessions[0].ClosedAt, time.Millisecond)

	assert.ErrorIs(t, db.CloseLinkSession(ctx, "missing", opened), ErrNotFound)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}
