// Package session tracks the link to the node: the identity handshake that
// precedes normal traffic and the periodic list polling that follows it.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/protocol"
)

const (
	DefaultPollInitial  = 2 * time.Second
	DefaultPollInterval = 20 * time.Second
	DefaultVersionLen   = 10
)

// LinkState is the state of the transport as seen by the tracker.
type LinkState int

const (
	Disconnected LinkState = iota
	Connecting
	Connected
	ConnectionFailed
)

func (s LinkState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnectionFailed:
		return "connection_failed"
	default:
		return "disconnected"
	}
}

// MarshalText renders the state name in JSON.
func (s LinkState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config holds the session timing.
type Config struct {
	PollInitial  time.Duration
	PollInterval time.Duration
	VersionLen   int
}

func (c Config) withDefaults() Config {
	if c.PollInitial <= 0 {
		c.PollInitial = DefaultPollInitial
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.VersionLen <= 0 {
		c.VersionLen = DefaultVersionLen
	}
	return c
}

// Session is the link state machine. It produces the commands to send and
// leaves the writing to the caller. Not safe for concurrent use.
type Session struct {
	cfg Config

	state    LinkState
	id       string
	device   string
	version  string
	opened   time.Time
	nextPoll time.Time
}

// New returns a disconnected session.
func New(cfg Config) *Session {
	return &Session{cfg: cfg.withDefaults()}
}

// Open starts the handshake on a freshly opened transport and returns the
// commands to send.
func (s *Session) Open(now time.Time) []string {
	s.state = Connecting
	s.id = uuid.NewString()
	s.device = ""
	s.version = ""
	s.opened = now
	s.nextPoll = time.Time{}
	return []string{protocol.CmdIdentity}
}

// OpenFailed records a transport that could not be opened.
func (s *Session) OpenFailed() {
	s.state = ConnectionFailed
	s.id = ""
	s.nextPoll = time.Time{}
}

// Unidentified returns the identity query to resend after a chunk that carried
// no identity reply, or nil once the handshake is done.
func (s *Session) Unidentified() []string {
	if s.state != Connecting {
		return nil
	}
	return []string{protocol.CmdIdentity}
}

// Identify handles an identity reply. It reports whether the reply completed
// the handshake and, if so, returns the commands to send.
func (s *Session) Identify(id protocol.Identity, now time.Time) (bool, []string) {
	if s.state != Connecting || !id.IsNode() {
		return false, nil
	}
	s.state = Connected
	s.device = id.Device
	s.version = id.Version
	if r := []rune(s.version); len(r) > s.cfg.VersionLen {
		s.version = string(r[:s.cfg.VersionLen])
	}
	s.nextPoll = now.Add(s.cfg.PollInitial)
	return true, []string{protocol.CmdGetKnownList}
}

// Tick returns the poll commands due at now. knownList reports whether the
// node has already sent its known list on this link.
func (s *Session) Tick(now time.Time, knownList bool) []string {
	if s.state != Connected || now.Before(s.nextPoll) {
		return nil
	}
	s.nextPoll = now.Add(s.cfg.PollInterval)
	cmds := []string{protocol.CmdGetDiscoveredList}
	if !knownList {
		cmds = append(cmds, protocol.CmdGetKnownList)
	}
	return cmds
}

// Close marks the transport down. It reports whether a link was open.
func (s *Session) Close() bool {
	was := s.state == Connecting || s.state == Connected
	s.state = Disconnected
	s.nextPoll = time.Time{}
	return was
}

// State returns the link state.
func (s *Session) State() LinkState { return s.state }

// Connected reports whether the handshake completed.
func (s *Session) Connected() bool { return s.state == Connected }

// ID returns the identifier of the current link, empty when none was opened.
func (s *Session) ID() string { return s.id }

// Device returns the node's device string.
func (s *Session) Device() string { return s.device }

// Version returns the node firmware version, truncated.
func (s *Session) Version() string { return s.version }

// OpenedAt returns when the current link was opened.
func (s *Session) OpenedAt() time.Time { return s.opened }

// NextPoll returns when the next poll is due; zero when not polling.
func (s *Session) NextPoll() time.Time { return s.nextPoll }
