// Package registry keeps the set of tags seen on the current link, keyed by
// their 64-bit address with a secondary index on the 16-bit short address the
// node assigns.
//
// A Registry is not safe for concurrent use; the tracker serializes access.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/filter"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/protocol"
)

// ErrUnknownDevice is returned when no device holds the requested address.
var ErrUnknownDevice = errors.New("unknown device")

// DefaultIdleTimeout applies to IMU tags and to tags with no known fast rate.
const DefaultIdleTimeout = 30 * time.Second

// Measurement is the last processed range report of a device.
type Measurement struct {
	Seq      int                `json:"seq"`
	Position filter.Point       `json:"position"`
	Raw      filter.Point       `json:"raw"`
	RangeM   float64            `json:"range_m"`
	AngleDeg float64            `json:"angle_deg"`
	PDOADeg  float64            `json:"pdoa_deg"`
	ClockPPM float64            `json:"clock_offset_ppm"`
	Flags    protocol.ModeFlags `json:"flags"`
}

// Device is one tag's tracking record.
type Device struct {
	ID64     uint64
	ID16     int
	Slot     int
	FastRate int
	SlowRate int
	Mode     int
	Joined   bool

	Filter *filter.Filter

	Last       *Measurement
	LastUpdate time.Time
	Reports    uint64
	Idle       bool
}

// IMU reports whether the device runs with accelerometer-driven rates.
func (d *Device) IMU() bool { return d.Mode&0x1 != 0 }

// IdleTimeout returns how long the device may stay silent before it counts
// as idle.
func (d *Device) IdleTimeout() time.Duration {
	if d.IMU() || d.FastRate <= 0 {
		return DefaultIdleTimeout
	}
	return time.Duration(d.FastRate) * 3 * time.Second
}

// Info is an immutable view of a Device.
type Info struct {
	ID64       string       `json:"id64"`
	ID16       int          `json:"id16"`
	Slot       int          `json:"slot"`
	FastRate   int          `json:"fast_rate"`
	SlowRate   int          `json:"slow_rate"`
	IMU        bool         `json:"imu"`
	Joined     bool         `json:"joined"`
	Idle       bool         `json:"idle"`
	Reports    uint64       `json:"reports"`
	LastUpdate *time.Time   `json:"last_update,omitempty"`
	Last       *Measurement `json:"last,omitempty"`
	Ready      bool         `json:"history_full"`
}

// Registry is the device table.
type Registry struct {
	devices   map[uint64]*Device
	byShort   map[int]uint64
	knownList bool

	window     int
	historyLen int
}

// New returns an empty registry whose devices smooth over window samples and
// keep historyLen raw samples.
func New(window, historyLen int) (*Registry, error) {
	if err := filter.ValidateWindow(window); err != nil {
		return nil, err
	}
	if historyLen < 1 {
		historyLen = filter.DefaultHistory
	}
	return &Registry{
		devices:    make(map[uint64]*Device),
		byShort:    make(map[int]uint64),
		window:     window,
		historyLen: historyLen,
	}, nil
}

// Ensure returns the device for id64, creating it if needed. created reports
// whether a new record was made.
func (r *Registry) Ensure(id64 uint64) (d *Device, created bool) {
	if d, ok := r.devices[id64]; ok {
		return d, false
	}
	f, err := filter.New(r.window, r.historyLen)
	if err != nil {
		// window was validated in New
		panic(err)
	}
	d = &Device{
		ID64:     id64,
		ID16:     protocol.NoShortAddr,
		FastRate: -1,
		Filter:   f,
	}
	r.devices[id64] = d
	return d, true
}

// Get returns the device for id64.
func (r *Registry) Get(id64 uint64) (*Device, bool) {
	d, ok := r.devices[id64]
	return d, ok
}

// Lookup returns the device currently holding short address id16.
func (r *Registry) Lookup(id16 int) (*Device, error) {
	if id64, ok := r.byShort[id16]; ok {
		if d, ok := r.devices[id64]; ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: short address %04x", ErrUnknownDevice, id16)
}

// AssignShort gives id16 to id64. Any other device holding id16 loses its short
// address; the displaced id64 is returned with displaced=true. If id64 is not
// registered only the displacement happens. Passing protocol.NoShortAddr
// clears the device's short address.
func (r *Registry) AssignShort(id64 uint64, id16 int) (other uint64, displaced bool) {
	if id16 != protocol.NoShortAddr {
		if holder, ok := r.byShort[id16]; ok && holder != id64 {
			if hd, ok := r.devices[holder]; ok {
				hd.ID16 = protocol.NoShortAddr
			}
			delete(r.byShort, id16)
			other, displaced = holder, true
		}
	}

	d, ok := r.devices[id64]
	if !ok {
		return other, displaced
	}
	if d.ID16 != protocol.NoShortAddr && r.byShort[d.ID16] == id64 {
		delete(r.byShort, d.ID16)
	}
	d.ID16 = id16
	if id16 != protocol.NoShortAddr {
		r.byShort[id16] = id64
	}
	return other, displaced
}

// Remove deletes the device for id64.
func (r *Registry) Remove(id64 uint64) error {
	d, ok := r.devices[id64]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, protocol.FormatID64(id64))
	}
	if d.ID16 != protocol.NoShortAddr && r.byShort[d.ID16] == id64 {
		delete(r.byShort, d.ID16)
	}
	delete(r.devices, id64)
	return nil
}

// Clear forgets every device and the known-list flag.
func (r *Registry) Clear() {
	clear(r.devices)
	clear(r.byShort)
	r.knownList = false
}

// Len returns the number of devices.
func (r *Registry) Len() int { return len(r.devices) }

// SetKnownListReceived records that the node answered a known-list query.
func (r *Registry) SetKnownListReceived() { r.knownList = true }

// KnownListReceived reports whether a known list arrived on this link.
func (r *Registry) KnownListReceived() bool { return r.knownList }

// Devices returns the devices ordered by id64.
func (r *Registry) Devices() []*Device {
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Device) int {
		switch {
		case a.ID64 < b.ID64:
			return -1
		case a.ID64 > b.ID64:
			return 1
		}
		return 0
	})
	return out
}

// Snapshot returns a copy of every device ordered by id64.
func (r *Registry) Snapshot() []Info {
	devs := r.Devices()
	out := make([]Info, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.Info())
	}
	return out
}

// Info copies the device's externally visible state.
func (d *Device) Info() Info {
	info := Info{
		ID64:     protocol.FormatID64(d.ID64),
		ID16:     d.ID16,
		Slot:     d.Slot,
		FastRate: d.FastRate,
		SlowRate: d.SlowRate,
		IMU:      d.IMU(),
		Joined:   d.Joined,
		Idle:     d.Idle,
		Reports:  d.Reports,
		Ready:    d.Filter.Ready(),
	}
	if !d.LastUpdate.IsZero() {
		ts := d.LastUpdate
		info.LastUpdate = &ts
	}
	if d.Last != nil {
		m := *d.Last
		info.Last = &m
	}
	return info
}

// MarkIdle flags devices that have reported before but not within their idle
// timeout. It returns the devices that became idle on this call.
func (r *Registry) MarkIdle(now time.Time) []*Device {
	var out []*Device
	for _, d := range r.Devices() {
		if d.Idle || d.LastUpdate.IsZero() {
			continue
		}
		if now.Sub(d.LastUpdate) >= d.IdleTimeout() {
			d.Idle = true
			out = append(out, d)
		}
	}
	return out
}
