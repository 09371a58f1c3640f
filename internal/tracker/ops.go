package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/calibration"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/db"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/events"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/filter"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/protocol"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/registry"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/session"
)

// Status summarises the tracker.
type Status struct {
	Link        session.LinkState      `json:"link"`
	SessionID   string                 `json:"session_id,omitempty"`
	Device      string                 `json:"device,omitempty"`
	Version     string                 `json:"version,omitempty"`
	KnownList   bool                   `json:"known_list_received"`
	Devices     int                    `json:"devices"`
	Smoothing   bool                   `json:"smoothing"`
	Window      int                    `json:"window"`
	RangeLog    bool                   `json:"range_log"`
	Unknown     uint64                 `json:"unknown_device_reports"`
	Correction  calibration.Correction `json:"correction"`
	Calibration CalibrationStatus      `json:"calibration"`
}

// CalibrationStatus is the engine state with its target rendered.
type CalibrationStatus struct {
	calibration.Status
	Target     string                 `json:"target,omitempty"`
	Correction calibration.Correction `json:"correction"`
}

// Status returns a snapshot of the tracker.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Link:        t.sess.State(),
		SessionID:   t.sess.ID(),
		Device:      t.sess.Device(),
		Version:     t.sess.Version(),
		KnownList:   t.reg.KnownListReceived(),
		Devices:     t.reg.Len(),
		Smoothing:   t.smoothing,
		Window:      t.cfg.Window,
		RangeLog:    t.rangeLog,
		Unknown:     t.unknown,
		Correction:  t.correction,
		Calibration: t.calibrationStatus(),
	}
}

// Devices returns the registry contents ordered by id64.
func (t *Tracker) Devices() []registry.Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.Snapshot()
}

// Device returns one device.
func (t *Tracker) Device(id64 uint64) (registry.Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.reg.Get(id64)
	if !ok {
		return registry.Info{}, fmt.Errorf("%w: %s", registry.ErrUnknownDevice, protocol.FormatID64(id64))
	}
	return d.Info(), nil
}

// Tracks returns every device's raw position history, oldest first.
func (t *Tracker) Tracks() map[string][]filter.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]filter.Point, t.reg.Len())
	for _, d := range t.reg.Devices() {
		out[protocol.FormatID64(d.ID64)] = d.Filter.History()
	}
	return out
}

// Join asks the node to add id64 to its known list.
func (t *Tracker) Join(id64 uint64, fastRate int, imu bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sess.Connected() {
		return ErrNotConnected
	}
	if _, ok := t.reg.Get(id64); !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownDevice, protocol.FormatID64(id64))
	}
	if fastRate <= 0 {
		fastRate = 1
	}
	return t.sendAll([]string{protocol.AddTag(id64, fastRate, imu), protocol.CmdSave})
}

// Leave asks the node to drop id64 and marks it unjoined locally.
func (t *Tracker) Leave(id64 uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sess.Connected() {
		return ErrNotConnected
	}
	d, ok := t.reg.Get(id64)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownDevice, protocol.FormatID64(id64))
	}
	d.Joined = false
	t.reg.AssignShort(id64, protocol.NoShortAddr)
	return t.sendAll([]string{protocol.DeleteTag(id64), protocol.CmdSave})
}

// Remove deletes id64 from the registry. The node is not told.
func (t *Tracker) Remove(id64 uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.reg.Get(id64)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownDevice, protocol.FormatID64(id64))
	}
	id16 := d.ID16
	if err := t.reg.Remove(id64); err != nil {
		return err
	}
	if t.cal.Wants(id64) {
		t.cal.Cancel()
		t.status("calibration abandoned: target removed")
	}
	t.metrics.Devices.Set(float64(t.reg.Len()))
	t.emit(events.DeviceRemoved, events.Device{ID64: protocol.FormatID64(id64), ID16: id16})
	return nil
}

// SetSmoothing turns the position filter's smoothing on or off.
func (t *Tracker) SetSmoothing(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.smoothing = on
}

// SetRangeLog turns range logging to the store on or off.
func (t *Tracker) SetRangeLog(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if on && t.store == nil {
		return ErrNoStore
	}
	t.rangeLog = on
	return nil
}

// SendCommand passes a raw command line to the node.
func (t *Tracker) SendCommand(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCommand)
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return fmt.Errorf("%w: %q holds a line break", ErrInvalidCommand, cmd)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.send(cmd)
}

// ArmCalibration starts calibrating against id64 placed referenceM metres
// from the node. The current correction is reset and the node is told to
// report raw values.
func (t *Tracker) ArmCalibration(id64 uint64, referenceM float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sess.Connected() {
		return ErrNotConnected
	}
	if _, ok := t.reg.Get(id64); !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownDevice, protocol.FormatID64(id64))
	}
	if err := t.cal.Arm(id64, referenceM); err != nil {
		return err
	}
	t.setCorrection(calibration.Correction{}, events.SourceReset)
	t.status(fmt.Sprintf("calibrating %s at %.2f m", protocol.FormatID64(id64), referenceM))
	return t.sendAll([]string{protocol.PDOAOffset(0), protocol.RangeOffset(0), protocol.CmdSave})
}

// CancelCalibration abandons a calibration in progress.
func (t *Tracker) CancelCalibration() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cal.Cancel() {
		return false
	}
	t.status("calibration cancelled")
	return true
}

// Calibration returns the engine state and the current correction.
func (t *Tracker) Calibration() CalibrationStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calibrationStatus()
}

func (t *Tracker) calibrationStatus() CalibrationStatus {
	st := CalibrationStatus{Status: t.cal.Status(), Correction: t.correction}
	if t.cal.Active() {
		st.Target = protocol.FormatID64(st.Status.Target)
	}
	return st
}

// RestoreCalibration re-applies the most recently stored offsets and sends
// them to the node.
func (t *Tracker) RestoreCalibration(ctx context.Context) (calibration.Correction, error) {
	if t.store == nil {
		return calibration.Correction{}, ErrNoStore
	}
	off, err := t.store.LatestCalibrationOffset(ctx)
	if err != nil {
		return calibration.Correction{}, err
	}
	c := calibration.Correction{PhaseRad: off.PhaseRad, RangeM: off.RangeM}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sess.Connected() {
		return c, ErrNotConnected
	}
	t.setCorrection(c, events.SourceStored)
	return c, t.sendAll([]string{protocol.PDOAOffset(c.PhaseRad), protocol.RangeOffset(c.RangeM), protocol.CmdSave})
}

// addCalibrationSample feeds the engine and finishes the session when it
// completes. Must hold t.mu.
func (t *Tracker) addCalibrationSample(id64 uint64, pdoaRad, rangeM float64) {
	p, res, err := t.cal.Add(pdoaRad, rangeM)
	if err != nil {
		monitoring.Logf("tracker: calibration sample: %v", err)
		return
	}
	t.emit(events.CalibrationProgress, events.Progress{
		ID64:     protocol.FormatID64(id64),
		Progress: p,
		Fraction: p.Done(),
	})
	if res == nil {
		return
	}

	t.setCorrection(res.Correction, events.SourceLocal)
	monitoring.Logf("tracker: calibration of %s complete: phase %.4f rad, range %.4f m",
		protocol.FormatID64(id64), res.Correction.PhaseRad, res.Correction.RangeM)
	t.status("calibration complete")
	t.sendAll([]string{
		protocol.PDOAOffset(res.Correction.PhaseRad),
		protocol.RangeOffset(res.Correction.RangeM),
		protocol.CmdSave,
	})

	if t.store != nil {
		err := t.store.InsertCalibrationOffset(context.Background(), &db.CalibrationOffset{
			PhaseRad:   res.Correction.PhaseRad,
			RangeM:     res.Correction.RangeM,
			Source:     string(events.SourceLocal),
			Target:     protocol.FormatID64(res.Target),
			ReferenceM: res.ReferenceM,
			Samples:    res.Samples,
			CreatedAt:  t.clock.Now(),
		})
		if err != nil {
			monitoring.Logf("tracker: store calibration: %v", err)
		}
	}
}

// setCorrection replaces the correction and announces it. Must hold t.mu.
func (t *Tracker) setCorrection(c calibration.Correction, src events.CorrectionSource) {
	t.correction = c
	t.emit(events.CorrectionUpdated, events.Correction{Correction: c, Source: src})
	if src == events.SourceNode && t.store != nil {
		err := t.store.InsertCalibrationOffset(context.Background(), &db.CalibrationOffset{
			PhaseRad:  c.PhaseRad,
			RangeM:    c.RangeM,
			Source:    string(src),
			CreatedAt: t.clock.Now(),
		})
		if err != nil {
			monitoring.Logf("tracker: store node calibration: %v", err)
		}
	}
}
