// Package tracker composes the frame decoder, message router, device registry,
// position filter, calibration engine and link session into the single
// serialized core that turns node traffic into events and node commands.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/calibration"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/db"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/events"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/filter"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/frame"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/protocol"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/registry"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/session"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/timeutil"
)

var (
	// ErrNotConnected is returned by operations that need to talk to the node
	// before the handshake has completed.
	ErrNotConnected = errors.New("node not connected")

	// ErrNoStore is returned by operations that need persistence when none is
	// configured.
	ErrNoStore = errors.New("no store configured")

	// ErrInvalidCommand is returned by SendCommand for an empty command or
	// one spanning more than a line.
	ErrInvalidCommand = errors.New("invalid command")
)

// CommandSender writes one command line to the node.
type CommandSender interface {
	SendCommand(string) error
}

// Store persists calibration offsets, range logs and link sessions.
type Store interface {
	InsertCalibrationOffset(ctx context.Context, off *db.CalibrationOffset) error
	LatestCalibrationOffset(ctx context.Context) (*db.CalibrationOffset, error)
	InsertRangeEntry(ctx context.Context, e *db.RangeEntry) error
	OpenLinkSession(ctx context.Context, s *db.LinkSession) error
	CloseLinkSession(ctx context.Context, id string, closedAt time.Time) error
}

// Config holds the tracker's tunables.
type Config struct {
	Smoothing    bool
	Window       int
	History      int
	Warmup       int
	Samples      int
	PollInitial  time.Duration
	PollInterval time.Duration
	IdleCheck    time.Duration
	TickInterval time.Duration
	MaxBuffer    int
	VersionLen   int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Smoothing:    true,
		Window:       filter.DefaultWindow,
		History:      filter.DefaultHistory,
		Warmup:       calibration.DefaultWarmup,
		Samples:      calibration.DefaultSamples,
		PollInitial:  session.DefaultPollInitial,
		PollInterval: session.DefaultPollInterval,
		IdleCheck:    10 * time.Second,
		TickInterval: 500 * time.Millisecond,
		MaxBuffer:    frame.DefaultMaxBuffered,
		VersionLen:   session.DefaultVersionLen,
	}
}

// Options are the tracker's collaborators. Every field is optional.
type Options struct {
	Clock   timeutil.Clock
	Bus     *events.Bus
	Metrics *monitoring.Metrics
	Store   Store
}

// Tracker is the core. All methods are safe for concurrent use; each call is
// fully processed, emitted events included, before the next one starts.
type Tracker struct {
	mu sync.Mutex

	cfg     Config
	clock   timeutil.Clock
	bus     *events.Bus
	metrics *monitoring.Metrics
	store   Store

	decoder    *frame.Decoder
	lastStats  frame.Stats
	reg        *registry.Registry
	cal        *calibration.Engine
	sess       *session.Session
	sender     CommandSender
	correction calibration.Correction
	smoothing  bool
	rangeLog   bool

	nextIdleCheck time.Time
	unknown       uint64

	// set while routing a chunk
	identified bool
	now        time.Time
}

// New builds a Tracker. It fails only on invalid configuration.
func New(cfg Config, opts Options) (*Tracker, error) {
	reg, err := registry.New(cfg.Window, cfg.History)
	if err != nil {
		return nil, err
	}
	cal, err := calibration.New(cfg.Warmup, cfg.Samples)
	if err != nil {
		return nil, err
	}
	if cfg.IdleCheck <= 0 {
		cfg.IdleCheck = DefaultConfig().IdleCheck
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = frame.DefaultMaxBuffered
	}

	t := &Tracker{
		cfg:       cfg,
		clock:     opts.Clock,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		store:     opts.Store,
		decoder:   frame.NewDecoder(frame.WithMaxBuffered(cfg.MaxBuffer)),
		reg:       reg,
		cal:       cal,
		smoothing: cfg.Smoothing,
		sess: session.New(session.Config{
			PollInitial:  cfg.PollInitial,
			PollInterval: cfg.PollInterval,
			VersionLen:   cfg.VersionLen,
		}),
	}
	if t.clock == nil {
		t.clock = timeutil.RealClock{}
	}
	if t.bus == nil {
		t.bus = events.NewBus()
	}
	if t.metrics == nil {
		m, err := monitoring.NewMetrics(prometheus.NewRegistry())
		if err != nil {
			return nil, err
		}
		t.metrics = m
	}
	return t, nil
}

// Bus returns the bus events are published on.
func (t *Tracker) Bus() *events.Bus { return t.bus }

// Run drives polling and idle detection until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			t.Tick()
		}
	}
}

// Tick sends any poll commands that are due and runs the idle check when its
// interval has elapsed.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()

	t.sendAll(t.sess.Tick(now, t.reg.KnownListReceived()))

	if now.Before(t.nextIdleCheck) {
		return
	}
	t.nextIdleCheck = now.Add(t.cfg.IdleCheck)
	for _, d := range t.reg.MarkIdle(now) {
		monitoring.Logf("tracker: device %s idle since %s", protocol.FormatID64(d.ID64), d.LastUpdate.Format(time.RFC3339))
		t.emit(events.DeviceIdle, events.Device{ID64: protocol.FormatID64(d.ID64), ID16: d.ID16})
	}
}

// LinkUp starts a session on a freshly opened transport.
func (t *Tracker) LinkUp(sender CommandSender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sender = sender
	t.decoder.Reset()
	cmds := t.sess.Open(t.clock.Now())
	t.metrics.LinkState.Set(float64(t.sess.State()))
	t.status("connecting to node")
	t.sendAll(cmds)
}

// LinkFailed records a transport that could not be opened.
func (t *Tracker) LinkFailed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sess.OpenFailed()
	t.metrics.LinkState.Set(float64(t.sess.State()))
	monitoring.Logf("tracker: open failed: %v", err)
	t.status(fmt.Sprintf("connection failed: %v", err))
}

// LinkDown tears down the session: the registry and smoothing state are
// cleared, polling stops and any calibration is abandoned.
func (t *Tracker) LinkDown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.sess.ID()
	connected := t.sess.Connected()
	was := t.sess.Close()
	t.sender = nil
	t.decoder.Reset()
	t.reg.Clear()
	t.metrics.Devices.Set(0)
	t.metrics.LinkState.Set(float64(t.sess.State()))
	if t.cal.Cancel() {
		t.status("calibration abandoned")
	}
	if !was {
		return
	}
	if connected && t.store != nil {
		if err := t.store.CloseLinkSession(context.Background(), id, t.clock.Now()); err != nil {
			monitoring.Logf("tracker: close link session %s: %v", id, err)
		}
	}
	monitoring.Logf("tracker: link %s closed", id)
	t.emit(events.LinkClosed, events.Link{SessionID: id})
	t.status("disconnected")
}

// HandleBytes consumes a chunk received from the transport.
func (t *Tracker) HandleBytes(chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = t.clock.Now()
	t.identified = false

	payloads, err := t.decoder.Feed(chunk)
	if err != nil {
		monitoring.Logf("tracker: %v", err)
	}
	t.updateFrameMetrics()

	h := (*handler)(t)
	for _, p := range payloads {
		if err := protocol.Route(p, h); err != nil {
			t.metrics.Malformed.Inc()
			monitoring.Logf("tracker: dropping payload %.80q (keys %v): %v", p, protocol.Keys(p), err)
		}
	}

	if !t.identified {
		t.sendAll(t.sess.Unidentified())
	}
	t.metrics.Devices.Set(float64(t.reg.Len()))
}

func (t *Tracker) updateFrameMetrics() {
	s := t.decoder.Stats()
	t.metrics.Frames.Add(float64(s.Frames - t.lastStats.Frames))
	t.metrics.Desyncs.Add(float64(s.Desyncs - t.lastStats.Desyncs))
	t.metrics.SkippedBytes.Add(float64(s.SkippedBytes - t.lastStats.SkippedBytes))
	t.lastStats = s
}

// send writes one command, logging failures. Must hold t.mu.
func (t *Tracker) send(cmd string) error {
	if t.sender == nil {
		return ErrNotConnected
	}
	verb, _, _ := strings.Cut(cmd, " ")
	t.metrics.Commands.WithLabelValues(verb).Inc()
	if err := t.sender.SendCommand(cmd); err != nil {
		t.metrics.CommandErrors.Inc()
		monitoring.Logf("tracker: send %q: %v", cmd, err)
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	return nil
}

func (t *Tracker) sendAll(cmds []string) error {
	var errs []error
	for _, c := range cmds {
		if err := t.send(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tracker) emit(kind events.Kind, data any) {
	t.metrics.Events.WithLabelValues(string(kind)).Inc()
	t.bus.Publish(events.Event{Kind: kind, Time: t.clock.Now(), Data: data})
}

func (t *Tracker) status(text string) {
	t.emit(events.StatusText, events.Status{Text: text})
}
