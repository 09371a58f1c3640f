package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/calibration"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/events"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/protocol"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/registry"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/session"
)

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 7
	_, err := New(cfg, Options{})
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Samples = 0
	_, err = New(cfg, Options{})
	assert.ErrorIs(t, err, calibration.ErrInvalidParams)
}

func TestHandshake(t *testing.T) {
	h := newHarness(t, nil)

	h.tr.LinkUp(h.sender)
	assert.Equal(t, []string{protocol.CmdIdentity}, h.sender.Take())
	assert.Equal(t, session.Connecting, h.tr.Status().Link)

	// a chunk with no identity reply triggers a resend
	h.tr.HandleBytes([]byte("noise"))
	assert.Equal(t, []string{protocol.CmdIdentity}, h.sender.Take())

	// so does a reply from something that is not a node
	h.feed(t, `{"Info":{"Device":"PDOA Tag","Version":"1"}}`)
	assert.Equal(t, []string{protocol.CmdIdentity}, h.sender.Take())

	h.drain()
	h.feed(t, `{"Info":{"Device":"PDOA Node","Version":"2.1.0-long-build"}}`)
	assert.Equal(t, []string{protocol.CmdGetKnownList}, h.sender.Take())

	st := h.tr.Status()
	assert.Equal(t, session.Connected, st.Link)
	assert.Equal(t, "2.1.0-long", st.Version)

	opened := only(h.drain(), events.LinkOpened)
	require.Len(t, opened, 1)
	link := opened[0].Data.(events.Link)
	assert.Equal(t, "2.1.0-long", link.Version)
	assert.Equal(t, st.SessionID, link.SessionID)

	require.Contains(t, h.store.sessions, st.SessionID)

	// no resend once identified
	h.tr.HandleBytes([]byte("more noise"))
	assert.Empty(t, h.sender.Take())
}

func TestEndToEndRangeReport(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, klistAB)
	h.drain()

	h.feed(t, twrExample)
	evs := h.drain()
	require.Equal(t, []events.Kind{events.PositionUpdate, events.RangeUpdate}, kinds(evs))

	pos := evs[0].Data.(events.Position)
	assert.Equal(t, tagA, pos.ID64)
	assert.InDelta(t, 2.50, pos.X, 1e-9)
	assert.InDelta(t, -0.50, pos.Y, 1e-9)

	rng := evs[1].Data.(events.Range)
	assert.InDelta(t, 3.00, rng.RangeM, 1e-9)
	assert.InDelta(t, math.Atan(2.5/-0.5)*180/math.Pi, rng.AngleDeg, 1e-9)
	assert.InDelta(t, 10.0, rng.PDOADeg, 1e-9)
	assert.InDelta(t, 0.01, rng.ClockPPM, 1e-9)

	info, err := h.tr.Device(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Reports)
	require.NotNil(t, info.Last)
	assert.InDelta(t, 3.0, info.Last.RangeM, 1e-9)
}

func TestChunkBoundaryIndependentEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, klistAB)
	h.drain()

	data := []byte("JS0064" + twrExample)
	for _, b := range data {
		h.tr.HandleBytes([]byte{b})
	}
	evs := h.drain()
	assert.Equal(t, []events.Kind{events.PositionUpdate, events.RangeUpdate}, kinds(evs))
}

func TestSmoothingAppliesAfterWindowFills(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Window = 4 })
	h.connect(t)
	h.feed(t, klistAB)
	h.drain()

	var xs []float64
	for _, xcm := range []int{500, 100, 300, 700} {
		h.feed(t, fmt.Sprintf(`{"TWR":{"a16":"0001","R":1,"T":0,"D":100,"P":0,"Xcm":%d,"Ycm":100,"O":0,"V":0,"X":0,"Y":0,"Z":0}}`, xcm))
		pos := only(h.drain(), events.PositionUpdate)
		require.Len(t, pos, 1)
		xs = append(xs, pos[0].Data.(events.Position).X)
	}
	assert.InDeltaSlice(t, []float64{5, 1, 3, 4}, xs, 1e-9)

	h.tr.SetSmoothing(false)
	h.feed(t, `{"TWR":{"a16":"0001","R":1,"T":0,"D":100,"P":0,"Xcm":900,"Ycm":100,"O":0,"V":0,"X":0,"Y":0,"Z":0}}`)
	pos := only(h.drain(), events.PositionUpdate)
	require.Len(t, pos, 1)
	assert.InDelta(t, 9.0, pos[0].Data.(events.Position).X, 1e-9)
}

func TestUnknownDeviceDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.feed(t, twrExample)
	assert.Empty(t, h.drain())
	assert.Equal(t, uint64(1), h.tr.Status().Unknown)
}

func TestMalformedPayloadIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.feed(t, `{"KList":`, klistAB)
	assert.Len(t, h.tr.Devices(), 2)
}

func TestDiscoveryEventsOnlyOnCreation(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.feed(t, `{"NewTag":"0000000000000007"}`)
	h.feed(t, `{"DList":["0000000000000007","0000000000000008"]}`)
	disc := only(h.drain(), events.DeviceDiscovered)
	require.Len(t, disc, 2)

	d := disc[0].Data.(events.Discovered)
	assert.Equal(t, "0000000000000007", d.ID64)
	assert.False(t, d.Known)
	assert.Equal(t, protocol.NoShortAddr, d.ID16)
	assert.Equal(t, -1, d.FastRate)
	assert.Equal(t, "0000000000000008", disc[1].Data.(events.Discovered).ID64)
}

func TestKnownListMarksJoined(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.feed(t, klistAB)
	disc := only(h.drain(), events.DeviceDiscovered)
	require.Len(t, disc, 2)
	b := disc[1].Data.(events.Discovered)
	assert.True(t, b.Known)
	assert.True(t, b.IMU)
	assert.Equal(t, 2, b.ID16)

	devs := h.tr.Devices()
	require.Len(t, devs, 2)
	assert.True(t, devs[0].Joined)
	assert.True(t, devs[1].Joined)
	assert.True(t, h.tr.Status().KnownList)
}

func TestShortAddressCollisionInvalidatesOther(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, klistAB)
	h.drain()

	// B takes A's short address
	h.feed(t, `{"TagAdded":{"slot":"0002","a64":"0000000000000002","a16":"0001","F":"0001","S":"0064","M":"0000"}}`)
	status := only(h.drain(), events.StatusText)
	require.NotEmpty(t, status)

	a, err := h.tr.Device(1)
	require.NoError(t, err)
	b, err := h.tr.Device(2)
	require.NoError(t, err)
	assert.Equal(t, protocol.NoShortAddr, a.ID16)
	assert.Equal(t, 1, b.ID16)

	h.feed(t, twrExample)
	pos := only(h.drain(), events.PositionUpdate)
	require.Len(t, pos, 1)
	assert.Equal(t, tagB, pos[0].Data.(events.Position).ID64)
}

func TestDisconnectClearsAndKnownListRepopulates(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, klistAB)
	h.feed(t, twrExample)
	h.drain()
	sessionID := h.tr.Status().SessionID

	h.tr.LinkDown()
	st := h.tr.Status()
	assert.Equal(t, session.Disconnected, st.Link)
	assert.Zero(t, st.Devices)
	assert.False(t, st.KnownList)
	assert.Contains(t, kinds(h.drain()), events.LinkClosed)
	require.NotNil(t, h.store.sessions[sessionID].ClosedAt)

	// nothing is polled while down
	h.clock.Advance(time.Minute)
	h.tr.Tick()
	assert.Empty(t, h.sender.Take())

	h.connect(t)
	h.feed(t, klistAB)
	devs := h.tr.Devices()
	require.Len(t, devs, 2)
	for _, d := range devs {
		assert.True(t, d.Joined)
		assert.Zero(t, d.Reports, "history starts fresh")
	}
}

func TestPolling(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.clock.Advance(time.Second)
	h.tr.Tick()
	assert.Empty(t, h.sender.Take())

	h.clock.Advance(time.Second)
	h.tr.Tick()
	assert.Equal(t, []string{protocol.CmdGetDiscoveredList, protocol.CmdGetKnownList}, h.sender.Take())

	h.feed(t, `{"KList":[]}`)
	h.clock.Advance(19 * time.Second)
	h.tr.Tick()
	assert.Empty(t, h.sender.Take())

	h.clock.Advance(time.Second)
	h.tr.Tick()
	assert.Equal(t, []string{protocol.CmdGetDiscoveredList}, h.sender.Take())
}

func TestRunDrivesTicks(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.tr.Run(ctx) }()

	var sent []string
	require.Eventually(t, func() bool {
		h.clock.Advance(500 * time.Millisecond)
		sent = append(sent, h.sender.Take()...)
		return len(sent) > 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.CmdGetDiscoveredList, sent[0])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestIdleDetection(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, klistAB)
	h.feed(t, twrExample)
	h.drain()

	// tag A has fast rate 1, so it is idle after 3s; the first check runs now
	h.tr.Tick()
	assert.Empty(t, only(h.drain(), events.DeviceIdle))

	h.clock.Advance(10 * time.Second)
	h.tr.Tick()
	idle := only(h.drain(), events.DeviceIdle)
	require.Len(t, idle, 1)
	assert.Equal(t, tagA, idle[0].Data.(events.Device).ID64)

	h.clock.Advance(10 * time.Second)
	h.tr.Tick()
	assert.Empty(t, only(h.drain(), events.DeviceIdle))

	// reporting again clears idle
	h.feed(t, twrExample)
	info, err := h.tr.Device(1)
	require.NoError(t, err)
	assert.False(t, info.Idle)
}

func TestJoinLeaveRemove(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.tr.Join(1, 1, false), ErrNotConnected)

	h.connect(t)
	h.feed(t, `{"DList":["0000000000000001"]}`)
	h.drain()

	assert.ErrorIs(t, h.tr.Join(9, 1, false), registry.ErrUnknownDevice)

	require.NoError(t, h.tr.Join(1, 2, true))
	assert.Equal(t, []string{"addtag 0000000000000001 0001 0002 64 01", "save"}, h.sender.Take())

	h.feed(t, `{"TagAdded":{"slot":"0001","a64":"0000000000000001","a16":"0001","F":"0002","S":"0064","M":"0001"}}`)
	info, err := h.tr.Device(1)
	require.NoError(t, err)
	assert.True(t, info.Joined)
	assert.Equal(t, 1, info.ID16)

	require.NoError(t, h.tr.Leave(1))
	assert.Equal(t, []string{"deltag 0000000000000001", "save"}, h.sender.Take())
	info, err = h.tr.Device(1)
	require.NoError(t, err)
	assert.False(t, info.Joined)
	assert.Equal(t, protocol.NoShortAddr, info.ID16)

	// the node's confirmation is informational only
	h.feed(t, `{"TagDeleted":"0000000000000001"}`)
	_, err = h.tr.Device(1)
	require.NoError(t, err)

	h.drain()
	require.NoError(t, h.tr.Remove(1))
	assert.Equal(t, []events.Kind{events.DeviceRemoved}, kinds(h.drain()))
	assert.ErrorIs(t, h.tr.Remove(1), registry.ErrUnknownDevice)
	assert.Empty(t, h.tr.Devices())
}

func TestTagAddedStatusText(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, `{"DList":["0000000000000001","0000000000000002"]}`)
	h.drain()

	h.feed(t,
		`{"TagAdded":{"slot":"0001","a64":"0000000000000001","a16":"00A1","F":"0001","S":"0064","M":"0000"}}`,
		`{"TagAdded":{"slot":"0002","a64":"0000000000000002","a16":"zz","F":"0001","S":"0064","M":"0000"}}`)

	var texts []string
	for _, e := range only(h.drain(), events.StatusText) {
		texts = append(texts, e.Data.(events.Status).Text)
	}
	assert.Equal(t, []string{
		"tag " + tagA + " joined with short address 00A1",
		"tag " + tagB + " joined with no short address",
	}, texts)

	info, err := h.tr.Device(2)
	require.NoError(t, err)
	assert.True(t, info.Joined)
	assert.Equal(t, protocol.NoShortAddr, info.ID16)
}

func rawTWR(a16 string, rangeCM, pdoaDeg float64) string {
	return fmt.Sprintf(`{"TWR":{"a16":%q,"R":1,"T":0,"D":%g,"P":%g,"Xcm":100,"Ycm":100,"O":0,"V":49152,"X":0,"Y":0,"Z":0}}`,
		a16, rangeCM, pdoaDeg)
}

func TestCalibration(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Warmup = 2
		c.Samples = 2
	})
	assert.ErrorIs(t, h.tr.ArmCalibration(1, 2), ErrNotConnected)

	h.connect(t)
	h.feed(t, klistAB)
	h.drain()

	require.NoError(t, h.tr.ArmCalibration(1, 2.0))
	assert.Equal(t, []string{"pdoaoff 0000", "rngoff 0000", "save"}, h.sender.Take())
	assert.Equal(t, calibration.Armed, h.tr.Calibration().State)
	assert.Equal(t, tagA, h.tr.Calibration().Target)

	// reports with node offsets applied do not count
	h.feed(t, twrExample)
	assert.Empty(t, only(h.drain(), events.CalibrationProgress))

	// warm-up samples far off, then two samples at 2.105 m / 2.20 m, 10 / 21 degrees
	h.feed(t, rawTWR("0001", 900, 90), rawTWR("0001", 900, 90))
	h.feed(t, rawTWR("0001", 210.5, 10), rawTWR("0001", 220, 21))
	evs := h.drain()

	progress := only(evs, events.CalibrationProgress)
	require.Len(t, progress, 4)
	last := progress[3].Data.(events.Progress)
	assert.Equal(t, 2, last.Stored)
	assert.InDelta(t, 1.0, last.Fraction, 1e-9)

	corr := only(evs, events.CorrectionUpdated)
	require.Len(t, corr, 1)
	c := corr[0].Data.(events.Correction)
	assert.Equal(t, events.SourceLocal, c.Source)
	assert.InDelta(t, 15.5*math.Pi/180, c.PhaseRad, 1e-9)
	assert.InDelta(t, 0.1525, c.RangeM, 1e-9)

	assert.Equal(t, []string{"pdoaoff 0015", "rngoff 0152", "save"}, h.sender.Take())
	assert.Equal(t, calibration.Inactive, h.tr.Calibration().State)

	require.Len(t, h.store.offsets, 1)
	assert.Equal(t, "local", h.store.offsets[0].Source)
	assert.Equal(t, tagA, h.store.offsets[0].Target)

	// the correction now applies to raw reports
	h.feed(t, rawTWR("0001", 215, 15))
	rng := only(h.drain(), events.RangeUpdate)
	require.Len(t, rng, 1)
	assert.InDelta(t, 1.9975, rng[0].Data.(events.Range).RangeM, 1e-9)
	assert.InDelta(t, -0.5, rng[0].Data.(events.Range).PDOADeg, 1e-9)
}

func TestCalibrationRejectsNonFiniteDistance(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, klistAB)
	h.drain()

	for _, d := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.ErrorIs(t, h.tr.ArmCalibration(1, d), calibration.ErrInvalidParams, "distance %v", d)
	}
	assert.Empty(t, h.sender.Take())
	assert.Empty(t, h.drain())
	assert.Equal(t, calibration.Inactive, h.tr.Calibration().State)

	_, err := json.Marshal(h.tr.Status())
	assert.NoError(t, err)
}

func TestCalibrationAbandonedOnDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, klistAB)
	require.NoError(t, h.tr.ArmCalibration(1, 1))

	assert.True(t, h.tr.CancelCalibration())
	assert.False(t, h.tr.CancelCalibration())

	require.NoError(t, h.tr.ArmCalibration(1, 1))
	h.tr.LinkDown()
	assert.Equal(t, calibration.Inactive, h.tr.Calibration().State)
}

func TestNodeCalibrationPush(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.feed(t, `{"Calibration":{"ANTTXA":0,"ANTRXA":0,"ANTTXB":0,"ANTRXB":0,"PDOAOFF":100,"RNGOFF":50,"ACCTHR":0,"ACCSTAT":0,"ACCMOVE":0}}`)
	corr := only(h.drain(), events.CorrectionUpdated)
	require.Len(t, corr, 1)
	c := corr[0].Data.(events.Correction)
	assert.Equal(t, events.SourceNode, c.Source)
	assert.InDelta(t, 0.1, c.PhaseRad, 1e-12)
	assert.InDelta(t, 0.05, c.RangeM, 1e-12)
	assert.InDelta(t, 0.05, h.tr.Status().Correction.RangeM, 1e-12)
	require.Len(t, h.store.offsets, 1)
	assert.Equal(t, "node", h.store.offsets[0].Source)
}

func TestRestoreCalibration(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	_, err := h.tr.RestoreCalibration(context.Background())
	assert.Error(t, err)

	h.store.offsets = append(h.store.offsets, storedOffset(0.5, 0.25))
	c, err := h.tr.RestoreCalibration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calibration.Correction{PhaseRad: 0.5, RangeM: 0.25}, c)
	assert.Equal(t, []string{"pdoaoff 0028", "rngoff 0250", "save"}, h.sender.Take())
}

func TestRangeLog(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, klistAB)

	h.feed(t, twrExample)
	assert.Empty(t, h.store.ranges)

	require.NoError(t, h.tr.SetRangeLog(true))
	h.feed(t, twrExample)
	require.Len(t, h.store.ranges, 1)
	e := h.store.ranges[0]
	assert.Equal(t, tagA, e.ID64)
	assert.Equal(t, h.tr.Status().SessionID, e.SessionID)
	assert.InDelta(t, 3.0, e.RangeM, 1e-9)

	noStore, err := New(DefaultConfig(), Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, noStore.SetRangeLog(true), ErrNoStore)
}

func TestSendCommandPassthrough(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.tr.SendCommand("getcfg"), ErrNotConnected)
	h.tr.LinkUp(h.sender)
	h.sender.Take()
	require.NoError(t, h.tr.SendCommand("  getcfg "))
	assert.Equal(t, []string{"getcfg"}, h.sender.Take())
	assert.ErrorIs(t, h.tr.SendCommand(" "), ErrInvalidCommand)

	for _, cmd := range []string{"save\r\ngetKList", "getcfg\nsave", "a\rb"} {
		assert.ErrorIs(t, h.tr.SendCommand(cmd), ErrInvalidCommand, "%q", cmd)
	}
	assert.Empty(t, h.sender.Take())
}

func TestLinkFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.tr.LinkFailed(fmt.Errorf("no such port"))
	assert.Equal(t, session.ConnectionFailed, h.tr.Status().Link)
	status := only(h.drain(), events.StatusText)
	require.Len(t, status, 1)
	assert.Contains(t, status[0].Data.(events.Status).Text, "no such port")
}

func TestTracks(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.feed(t, klistAB)
	h.feed(t, twrExample, twrExample)

	tracks := h.tr.Tracks()
	require.Len(t, tracks[tagA], 2)
	assert.InDelta(t, -0.5, tracks[tagA][1].Y, 1e-9)
	assert.Empty(t, tracks[tagB])
}
