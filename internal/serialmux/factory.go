package serialmux

import (
	"go.bug.st/serial"
)

// RealSerialPortFactory opens ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns a factory for hardware ports.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens path with mode, or DefaultSerialPortMode when mode is nil.
func (f *RealSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	port, err := serial.Open(path, serialMode(mode))
	if err != nil {
		return nil, err
	}
	return port, nil
}

// serialMode maps mode onto go.bug.st/serial. A nil mode is 115200 8N1.
func serialMode(mode *SerialPortMode) *serial.Mode {
	if mode == nil {
		mode = DefaultSerialPortMode()
	}
	return &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   convertParity(mode.Parity),
		StopBits: convertStopBits(mode.StopBits),
	}
}

func convertParity(p Parity) serial.Parity {
	switch p {
	case OddParity:
		return serial.OddParity
	case EvenParity:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func convertStopBits(s StopBits) serial.StopBits {
	if s == TwoStopBits {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
