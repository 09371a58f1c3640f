// Package frame extracts length-prefixed JSON payloads from the byte stream a
// PDOA node writes to its serial link.
//
// A frame is the two-byte marker "JS", four hexadecimal digits giving the
// payload length L, then L bytes of payload:
//
//	JS003A{"TWR":{"a16":"0001", ...}}
//
// There is no checksum. Bytes before a marker are echo or noise and are skipped
// silently. The decoder knows nothing about message semantics.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	// HeaderLen is the marker plus the four-digit length field.
	HeaderLen = 6

	// DefaultMaxBuffered bounds the bytes retained between calls. It is larger
	// than the biggest frame the length field can describe.
	DefaultMaxBuffered = 128 * 1024
)

var marker = []byte("JS")

// ErrDesync is returned by Feed when a zero or unparsable length field (or an
// overfull buffer) forced the decoder to discard everything it had buffered.
var ErrDesync = errors.New("frame desync")

// Stats counts decoder activity since creation.
type Stats struct {
	Frames       uint64 `json:"frames"`
	Desyncs      uint64 `json:"desyncs"`
	SkippedBytes uint64 `json:"skipped_bytes"`
	Overflows    uint64 `json:"overflows"`
}

// Decoder incrementally decodes frames from an append-only buffer.
type Decoder struct {
	buf         []byte
	maxBuffered int
	stats       Stats
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxBuffered sets the retained-bytes bound. Values below one frame header
// are ignored.
func WithMaxBuffered(n int) Option {
	return func(d *Decoder) {
		if n >= HeaderLen {
			d.maxBuffered = n
		}
	}
}

// NewDecoder returns an empty decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{maxBuffered: DefaultMaxBuffered}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends chunk to the buffer and returns every complete payload now
// available, in stream order. Unconsumed trailing bytes stay buffered for the
// next call.
//
// When a desync occurs the returned error wraps ErrDesync; payloads emitted
// earlier in the same call are still returned and valid.
func (d *Decoder) Feed(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var (
		payloads [][]byte
		offset   int
	)
	length := len(d.buf)

	for length > 1 {
		if !bytes.Equal(d.buf[offset:offset+2], marker) {
			offset++
			length--
			d.stats.SkippedBytes++
			continue
		}

		if length < HeaderLen {
			break
		}

		field := d.buf[offset+2 : offset+HeaderLen]
		n, err := strconv.ParseUint(string(field), 16, 16)
		if err != nil || n == 0 {
			d.stats.Desyncs++
			d.drop()
			return payloads, fmt.Errorf("%w: length field %q", ErrDesync, field)
		}

		need := int(n) + HeaderLen
		if length < need {
			break
		}

		payloads = append(payloads, bytes.Clone(d.buf[offset+HeaderLen:offset+need]))
		d.stats.Frames++
		offset += need
		length -= need
	}

	d.buf = append(d.buf[:0], d.buf[offset:]...)

	if len(d.buf) > d.maxBuffered {
		d.stats.Overflows++
		d.stats.Desyncs++
		size := len(d.buf)
		d.drop()
		return payloads, fmt.Errorf("%w: %d bytes buffered without a complete frame", ErrDesync, size)
	}

	return payloads, nil
}

// Buffered returns the number of bytes retained for the next call.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() Stats { return d.stats }

// Reset discards buffered bytes. Counters are kept.
func (d *Decoder) Reset() { d.drop() }

func (d *Decoder) drop() {
	d.buf = d.buf[:0]
}

// Encode wraps payload in a frame header. Payloads longer than 0xFFFF bytes
// cannot be described by the length field and are rejected.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > 0xFFFF {
		return nil, fmt.Errorf("cannot frame payload of %d bytes", len(payload))
	}
	out := make([]byte, 0, HeaderLen+len(payload))
	out = append(out, marker...)
	out = append(out, fmt.Sprintf("%04X", len(payload))...)
	return append(out, payload...), nil
}
