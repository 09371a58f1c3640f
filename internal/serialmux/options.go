package serialmux

import (
	"fmt"
	"slices"
	"strings"
)

// PortOptions describes the serial connection parameters used when opening a real
// serial port. Zero values take the node defaults (115200 8N1).
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// standardBaudRates lists the rates accepted by Normalise.
var standardBaudRates = []int{110, 300, 600, 1200, 2400, 4800, 9600, 14400, 19200, 28800, 38400, 57600, 115200, 128000, 230400, 256000, 460800, 921600}

// Normalise validates the options and applies defaults for any unset values.
func (o PortOptions) Normalise() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if !slices.Contains(standardBaudRates, opts.BaudRate) {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}

	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// Equal reports whether two PortOptions describe the same serial configuration.
func (o PortOptions) Equal(other PortOptions) (bool, error) {
	a, err := o.Normalise()
	if err != nil {
		return false, err
	}
	b, err := other.Normalise()
	if err != nil {
		return false, err
	}
	return a == b, nil
}

// PortMode converts the options into the factory-neutral SerialPortMode.
func (o PortOptions) PortMode() (*SerialPortMode, error) {
	opts, err := o.Normalise()
	if err != nil {
		return nil, err
	}

	mode := &SerialPortMode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = EvenParity
	case "O":
		mode.Parity = OddParity
	default:
		mode.Parity = NoParity
	}
	return mode, nil
}
