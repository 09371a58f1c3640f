package tracker

import (
	"context"
	"fmt"
	"math"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/calibration"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/db"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/events"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/filter"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/protocol"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/registry"
)

// handler is the protocol.Handler view of a Tracker. Its methods run with
// t.mu held, from HandleBytes.
type handler Tracker

var _ protocol.Handler = (*handler)(nil)

func (h *handler) tracker() *Tracker { return (*Tracker)(h) }

func (h *handler) HandleIdentity(id protocol.Identity) {
	t := h.tracker()
	ok, cmds := t.sess.Identify(id, t.now)
	if !ok {
		if !id.IsNode() {
			monitoring.Logf("tracker: ignoring identity from %q", id.Device)
		}
		return
	}
	t.identified = true
	t.metrics.LinkState.Set(float64(t.sess.State()))
	monitoring.Logf("tracker: connected to %s version %s (session %s)", t.sess.Device(), t.sess.Version(), t.sess.ID())

	if t.store != nil {
		err := t.store.OpenLinkSession(context.Background(), &db.LinkSession{
			ID:       t.sess.ID(),
			Device:   t.sess.Device(),
			Version:  t.sess.Version(),
			OpenedAt: t.now,
		})
		if err != nil {
			monitoring.Logf("tracker: record link session: %v", err)
		}
	}
	t.emit(events.LinkOpened, events.Link{
		SessionID: t.sess.ID(),
		Device:    t.sess.Device(),
		Version:   t.sess.Version(),
	})
	t.status(fmt.Sprintf("connected to %s (version %s)", t.sess.Device(), t.sess.Version()))
	t.sendAll(cmds)
}

func (h *handler) HandleCalibration(c protocol.CalibrationReport) {
	t := h.tracker()
	t.setCorrection(calibration.Correction{
		PhaseRad: float64(c.PDOAOffsetMrad) / 1000,
		RangeM:   float64(c.RangeOffsetMM) / 1000,
	}, events.SourceNode)
}

func (h *handler) HandleTagDeleted(id64 uint64) {
	t := h.tracker()
	monitoring.Logf("tracker: node deleted tag %s", protocol.FormatID64(id64))
	t.status(fmt.Sprintf("tag %s deleted from node", protocol.FormatID64(id64)))
}

func (h *handler) HandleTagAdded(e protocol.TagEntry) {
	t := h.tracker()
	t.assignShort(e.ID64, e.ID16)
	d, ok := t.reg.Get(e.ID64)
	if !ok {
		return
	}
	d.Joined = true
	d.Slot = e.Slot
	d.FastRate = e.FastRate
	d.SlowRate = e.SlowRate
	d.Mode = e.Mode
	if e.ID16 == protocol.NoShortAddr {
		t.status(fmt.Sprintf("tag %s joined with no short address", protocol.FormatID64(e.ID64)))
		return
	}
	t.status(fmt.Sprintf("tag %s joined with short address %04X", protocol.FormatID64(e.ID64), e.ID16))
}

func (h *handler) HandleNewTag(id64 uint64) { h.discovered(id64) }

func (h *handler) HandleDiscoveredTag(id64 uint64) { h.discovered(id64) }

func (h *handler) discovered(id64 uint64) {
	t := h.tracker()
	if _, created := t.reg.Ensure(id64); !created {
		return
	}
	t.emit(events.DeviceDiscovered, events.Discovered{
		ID64:     protocol.FormatID64(id64),
		ID16:     protocol.NoShortAddr,
		FastRate: -1,
	})
}

func (h *handler) HandleKnownTag(e protocol.TagEntry) {
	t := h.tracker()
	d, _ := t.reg.Ensure(e.ID64)
	d.Joined = true
	d.Slot = e.Slot
	d.FastRate = e.FastRate
	d.SlowRate = e.SlowRate
	d.Mode = e.Mode
	t.assignShort(e.ID64, e.ID16)
	t.emit(events.DeviceDiscovered, events.Discovered{
		ID64:     protocol.FormatID64(e.ID64),
		ID16:     d.ID16,
		Known:    true,
		FastRate: e.FastRate,
		IMU:      e.IMU(),
	})
}

func (h *handler) HandleKnownListEnd(count int) {
	t := h.tracker()
	t.reg.SetKnownListReceived()
	monitoring.Logf("tracker: known list received with %d tags", count)
}

func (h *handler) HandleServiceReport(s protocol.ServiceReport) {
	t := h.tracker()
	t.emit(events.NodeService, events.Service{
		ID16: s.ID16,
		Mode: s.Mode,
		AccX: s.AccX,
		AccY: s.AccY,
		AccZ: s.AccZ,
	})
}

func (h *handler) HandleRangeReport(r protocol.RangeReport) {
	t := h.tracker()
	d, err := t.reg.Lookup(r.ID16)
	if err != nil {
		t.unknown++
		t.metrics.UnknownDevice.Inc()
		return
	}
	t.metrics.RangeReports.Inc()

	flags := protocol.DecodeMode(r.Mode)
	pdoaRad := r.PDOADeg * math.Pi / 180

	rangeM := r.RangeM
	if flags.RangeOffsetZero {
		rangeM -= t.correction.RangeM
	}
	phaseRad := pdoaRad
	if flags.PDOAOffsetZero {
		phaseRad -= t.correction.PhaseRad
	}

	raw := filter.Point{X: r.XM, Y: -r.YM}
	pos := d.Filter.Apply(raw, t.smoothing)
	angle := angleDeg(pos)

	if t.cal.Wants(d.ID64) && protocol.RawOffsets(r.Mode) {
		t.addCalibrationSample(d.ID64, pdoaRad, r.RangeM)
	}

	wasIdle := d.Idle
	d.Idle = false
	d.LastUpdate = t.now
	d.Reports++
	d.Last = &registry.Measurement{
		Seq:      r.Seq,
		Position: pos,
		Raw:      raw,
		RangeM:   rangeM,
		AngleDeg: angle,
		PDOADeg:  phaseRad * 180 / math.Pi,
		ClockPPM: r.ClockOffsetPPM,
		Flags:    flags,
	}
	if wasIdle {
		monitoring.Logf("tracker: device %s reporting again", protocol.FormatID64(d.ID64))
	}

	id := protocol.FormatID64(d.ID64)
	t.emit(events.PositionUpdate, events.Position{
		ID64: id,
		ID16: d.ID16,
		Seq:  r.Seq,
		X:    pos.X,
		Y:    pos.Y,
	})
	t.emit(events.RangeUpdate, events.Range{
		ID64:     id,
		ID16:     d.ID16,
		Seq:      r.Seq,
		RangeM:   rangeM,
		AngleDeg: angle,
		PDOADeg:  d.Last.PDOADeg,
		ClockPPM: r.ClockOffsetPPM,
		Mode:     r.Mode,
		Flags:    flags,
		AccX:     r.AccX,
		AccY:     r.AccY,
		AccZ:     r.AccZ,
	})

	if t.rangeLog && t.store != nil {
		err := t.store.InsertRangeEntry(context.Background(), &db.RangeEntry{
			SessionID: t.sess.ID(),
			ID64:      id,
			ID16:      d.ID16,
			Seq:       r.Seq,
			RangeM:    rangeM,
			AngleDeg:  angle,
			PDOADeg:   d.Last.PDOADeg,
			X:         pos.X,
			Y:         pos.Y,
			RawX:      raw.X,
			RawY:      raw.Y,
			ClockPPM:  r.ClockOffsetPPM,
			Mode:      r.Mode,
			At:        t.now,
		})
		if err != nil {
			monitoring.Logf("tracker: range log: %v", err)
		}
	}
}

// angleDeg is the bearing of p from the node's boresight in degrees.
func angleDeg(p filter.Point) float64 {
	a := math.Atan(p.X/p.Y) * 180 / math.Pi
	if math.IsNaN(a) {
		return 0
	}
	return a
}

// assignShort gives id16 to id64 and reports a displaced device. Must hold t.mu.
func (t *Tracker) assignShort(id64 uint64, id16 int) {
	other, displaced := t.reg.AssignShort(id64, id16)
	if !displaced {
		return
	}
	t.metrics.Collisions.Inc()
	monitoring.Logf("tracker: short address %04X moved from %s to %s",
		id16, protocol.FormatID64(other), protocol.FormatID64(id64))
	t.status(fmt.Sprintf("short address %04X reassigned from %s to %s",
		id16, protocol.FormatID64(other), protocol.FormatID64(id64)))
}
