// Package protocol defines the JSON messages a PDOA node emits inside frames,
// routes a decoded payload to a Handler by its root key, and builds the ASCII
// commands the node accepts.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedPayload is wrapped by every error Route returns for a payload
	// (or part of one) that could not be decoded.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrBadAddress reports an address string that is not valid hex.
	ErrBadAddress = errors.New("invalid address")
)

// Root keys recognised by Route.
const (
	KeyInfo        = "Info"
	KeyCalibration = "Calibration"
	KeyTWR         = "TWR"
	KeyTagDeleted  = "TagDeleted"
	KeyTagAdded    = "TagAdded"
	KeyNewTag      = "NewTag"
	KeyDList       = "DList"
	KeyKList       = "KList"
	KeySN          = "SN"
)

// NoShortAddr marks a device that has no 16-bit address assigned.
const NoShortAddr = -1

// TagEntry is one element of a KList reply, or the body of TagAdded.
type TagEntry struct {
	Slot     int
	ID64     uint64
	ID16     int
	FastRate int
	SlowRate int
	Mode     int
}

// IMU reports whether the entry's mode enables accelerometer-driven rates.
func (e TagEntry) IMU() bool { return e.Mode&0x1 != 0 }

// RangeReport is a TWR report converted to SI units.
type RangeReport struct {
	ID16           int
	Seq            int
	ResponseTimeUS int
	RangeM         float64
	PDOADeg        float64
	XM             float64
	YM             float64
	ClockOffsetPPM float64
	Mode           int
	AccX           int
	AccY           int
	AccZ           int
}

// ServiceReport is the node's own service/IMU message.
type ServiceReport struct {
	ID16 int
	Mode int
	AccX int
	AccY int
	AccZ int
}

// CalibrationReport carries the node's stored calibration constants.
type CalibrationReport struct {
	AntennaTXA      int
	AntennaRXA      int
	AntennaTXB      int
	AntennaRXB      int
	PDOAOffsetMrad  int
	RangeOffsetMM   int
	AccThreshold    int
	AccStationaryMS int
	AccMovingMS     int
}

// Identity is the node's reply to the identity query.
type Identity struct {
	Device  string
	Version string
}

// IsNode reports whether the identity belongs to a PDOA node.
func (id Identity) IsNode() bool { return strings.Contains(id.Device, "Node") }

// ParseID64 parses a 64-bit hex address such as "0102030405060708".
func ParseID64(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrBadAddress, s, err)
	}
	return v, nil
}

// ParseID16 parses a 16-bit hex short address such as "2E5C".
func ParseID16(s string) (int, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 16)
	if err != nil {
		return NoShortAddr, fmt.Errorf("%w %q: %v", ErrBadAddress, s, err)
	}
	return int(v), nil
}

// FormatID64 renders a 64-bit address the way the node's commands expect it.
func FormatID64(id uint64) string { return fmt.Sprintf("%016x", id) }

// parseHexField parses an optional hex-encoded integer field; empty strings and
// invalid values read as zero.
func parseHexField(s string) int {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
