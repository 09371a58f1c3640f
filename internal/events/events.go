// Package events defines what the tracker reports to the outside world and
// fans those reports out to subscribers without ever blocking the tracker.
package events

import (
	"time"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/calibration"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/protocol"
)

// Kind names an event type. Kinds double as NATS subject suffixes.
type Kind string

const (
	DeviceDiscovered    Kind = "device_discovered"
	DeviceIdle          Kind = "device_idle"
	DeviceRemoved       Kind = "device_removed"
	PositionUpdate      Kind = "position_update"
	RangeUpdate         Kind = "range_update"
	NodeService         Kind = "node_service"
	StatusText          Kind = "status_text"
	CalibrationProgress Kind = "calibration_progress"
	CorrectionUpdated   Kind = "correction_updated"
	LinkOpened          Kind = "link_opened"
	LinkClosed          Kind = "link_closed"
)

// Event is one report. Data holds the payload type matching Kind.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Discovered is the payload of DeviceDiscovered.
type Discovered struct {
	ID64     string `json:"id64"`
	ID16     int    `json:"id16"`
	Known    bool   `json:"known"`
	FastRate int    `json:"fast_rate"`
	IMU      bool   `json:"imu"`
}

// Device identifies a device in DeviceIdle and DeviceRemoved.
type Device struct {
	ID64 string `json:"id64"`
	ID16 int    `json:"id16"`
}

// Position is the payload of PositionUpdate.
type Position struct {
	ID64 string  `json:"id64"`
	ID16 int     `json:"id16"`
	Seq  int     `json:"seq"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Range is the payload of RangeUpdate.
type Range struct {
	ID64     string             `json:"id64"`
	ID16     int                `json:"id16"`
	Seq      int                `json:"seq"`
	RangeM   float64            `json:"range_m"`
	AngleDeg float64            `json:"angle_deg"`
	PDOADeg  float64            `json:"pdoa_deg"`
	ClockPPM float64            `json:"clock_offset_ppm"`
	Mode     int                `json:"mode"`
	Flags    protocol.ModeFlags `json:"flags"`
	AccX     int                `json:"acc_x"`
	AccY     int                `json:"acc_y"`
	AccZ     int                `json:"acc_z"`
}

// Service is the payload of NodeService.
type Service struct {
	ID16 int `json:"id16"`
	Mode int `json:"mode"`
	AccX int `json:"acc_x"`
	AccY int `json:"acc_y"`
	AccZ int `json:"acc_z"`
}

// Status is the payload of StatusText.
type Status struct {
	Text string `json:"text"`
}

// Progress is the payload of CalibrationProgress.
type Progress struct {
	ID64 string `json:"id64"`
	calibration.Progress
	Fraction float64 `json:"fraction"`
}

// CorrectionSource says where a correction came from.
type CorrectionSource string

const (
	SourceLocal  CorrectionSource = "local"
	SourceNode   CorrectionSource = "node"
	SourceReset  CorrectionSource = "reset"
	SourceStored CorrectionSource = "stored"
)

// Correction is the payload of CorrectionUpdated.
type Correction struct {
	calibration.Correction
	Source CorrectionSource `json:"source"`
}

// Link is the payload of LinkOpened and LinkClosed.
type Link struct {
	SessionID string `json:"session_id"`
	Device    string `json:"device,omitempty"`
	Version   string `json:"version,omitempty"`
}
