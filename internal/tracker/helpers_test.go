package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/db"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/events"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/testutil"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/timeutil"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type memStore struct {
	mu       sync.Mutex
	offsets  []db.CalibrationOffset
	ranges   []db.RangeEntry
	sessions map[string]*db.LinkSession
}

func newMemStore() *memStore { return &memStore{sessions: map[string]*db.LinkSession{}} }

func (m *memStore) InsertCalibrationOffset(_ context.Context, off *db.CalibrationOffset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off.ID = int64(len(m.offsets) + 1)
	m.offsets = append(m.offsets, *off)
	return nil
}

func (m *memStore) LatestCalibrationOffset(context.Context) (*db.CalibrationOffset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.offsets) == 0 {
		return nil, db.ErrNotFound
	}
	off := m.offsets[len(m.offsets)-1]
	return &off, nil
}

func (m *memStore) InsertRangeEntry(_ context.Context, e *db.RangeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranges = append(m.ranges, *e)
	return nil
}

func (m *memStore) OpenLinkSession(_ context.Context, s *db.LinkSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) CloseLinkSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errors.New("no session")
	}
	s.ClosedAt = &at
	return nil
}

type harness struct {
	tr     *Tracker
	clock  *timeutil.MockClock
	sender *testutil.RecordingSender
	store  *memStore
	events <-chan events.Event
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := timeutil.NewMockClock(t0)
	store := newMemStore()
	tr, err := New(cfg, Options{Clock: clock, Store: store})
	require.NoError(t, err)
	_, ch := tr.Bus().Subscribe()
	return &harness{tr: tr, clock: clock, sender: &testutil.RecordingSender{}, store: store, events: ch}
}

// feed frames each payload and hands the bytes to the tracker in one chunk.
func (h *harness) feed(t *testing.T, payloads ...string) {
	t.Helper()
	h.tr.HandleBytes(testutil.Frames(t, payloads...))
}

// connect completes the handshake and discards the resulting commands and events.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.tr.LinkUp(h.sender)
	h.feed(t, `{"Info":{"Device":"PDOA Node","Version":"2.1.0-long-build"}}`)
	h.sender.Take()
	h.drain()
}

// drain returns every event published so far.
func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}

func only(evs []events.Event, kind events.Kind) []events.Event {
	var out []events.Event
	for _, e := range evs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

const (
	tagA = "0000000000000001"
	tagB = "0000000000000002"

	klistAB = `{"KList":[
		{"slot":"0001","a64":"0000000000000001","a16":"0001","F":"0001","S":"0064","M":"0000"},
		{"slot":"0002","a64":"0000000000000002","a16":"0002","F":"0001","S":"0064","M":"0001"}]}`

	twrExample = `{"TWR":{"a16":"0001","R":1,"T":100,"D":300,"P":10,"Xcm":250,"Ycm":50,"O":1,"V":0,"X":0,"Y":0,"Z":0}}`
)

func storedOffset(phase, rng float64) db.CalibrationOffset {
	return db.CalibrationOffset{PhaseRad: phase, RangeM: rng, Source: "local", CreatedAt: t0}
}
