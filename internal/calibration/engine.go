// Package calibration estimates the phase and range offsets of a node from a
// tag placed at a known distance on its boresight.
package calibration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultWarmup  = 200
	DefaultSamples = 200
)

var (
	// ErrNotArmed is returned when no calibration is in progress.
	ErrNotArmed = errors.New("calibration not armed")

	// ErrInvalidParams reports a bad warm-up, sample count or reference.
	ErrInvalidParams = errors.New("invalid calibration parameters")
)

// State is the engine's lifecycle position.
type State int

const (
	Inactive State = iota
	Armed
	Collecting
	Complete
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Collecting:
		return "collecting"
	case Complete:
		return "complete"
	default:
		return "inactive"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Correction is the pair of offsets subtracted from raw reports.
type Correction struct {
	PhaseRad float64 `json:"phase_rad"`
	RangeM   float64 `json:"range_m"`
}

// Progress describes an in-flight session after a sample.
type Progress struct {
	Target    uint64 `json:"-"`
	Discarded int    `json:"discarded"`
	Stored    int    `json:"stored"`
	Warmup    int    `json:"warmup"`
	Samples   int    `json:"samples"`
}

// Done is the fraction of the session completed, warm-up included.
func (p Progress) Done() float64 {
	total := p.Warmup + p.Samples
	if total == 0 {
		return 1
	}
	return float64(p.Discarded+p.Stored) / float64(total)
}

// Result is a finished calibration.
type Result struct {
	Target     uint64
	ReferenceM float64
	Samples    int
	Correction Correction
}

// Status is a snapshot of the engine.
type Status struct {
	State      State    `json:"state"`
	Target     uint64   `json:"-"`
	ReferenceM float64  `json:"reference_m"`
	Progress   Progress `json:"progress"`
}

// Engine runs one calibration at a time: Arm, then Add qualifying samples
// until a Result is produced. The first warmup samples are discarded.
type Engine struct {
	warmup  int
	samples int

	state     State
	target    uint64
	reference float64
	discarded int
	phases    []float64
	ranges    []float64
}

// New returns an inactive engine.
func New(warmup, samples int) (*Engine, error) {
	if warmup < 0 || samples < 1 {
		return nil, fmt.Errorf("%w: warmup=%d samples=%d", ErrInvalidParams, warmup, samples)
	}
	return &Engine{
		warmup:  warmup,
		samples: samples,
		phases:  make([]float64, 0, samples),
		ranges:  make([]float64, 0, samples),
	}, nil
}

// Arm starts a session for target at referenceM metres, discarding any
// progress of a previous one.
func (e *Engine) Arm(target uint64, referenceM float64) error {
	if referenceM < 0 || math.IsNaN(referenceM) || math.IsInf(referenceM, 0) {
		return fmt.Errorf("%w: reference distance %v", ErrInvalidParams, referenceM)
	}
	e.reset()
	e.state = Armed
	e.target = target
	e.reference = referenceM
	return nil
}

// Cancel abandons the current session. It reports whether one was active.
func (e *Engine) Cancel() bool {
	active := e.Active()
	e.reset()
	return active
}

func (e *Engine) reset() {
	e.state = Inactive
	e.target = 0
	e.reference = 0
	e.discarded = 0
	e.phases = e.phases[:0]
	e.ranges = e.ranges[:0]
}

// Active reports whether a session is armed or collecting.
func (e *Engine) Active() bool { return e.state == Armed || e.state == Collecting }

// Wants reports whether samples from id64 feed the current session.
func (e *Engine) Wants(id64 uint64) bool { return e.Active() && e.target == id64 }

// Add feeds one raw sample. It returns the session progress, and a non-nil
// Result on the sample that completes the session, after which the engine is
// inactive again.
func (e *Engine) Add(pdoaRad, rangeM float64) (Progress, *Result, error) {
	if !e.Active() {
		return Progress{}, nil, ErrNotArmed
	}
	e.state = Collecting
	if e.discarded < e.warmup {
		e.discarded++
		return e.progress(), nil, nil
	}
	e.phases = append(e.phases, pdoaRad)
	e.ranges = append(e.ranges, rangeM-e.reference)
	p := e.progress()
	if len(e.phases) < e.samples {
		return p, nil, nil
	}

	e.state = Complete
	res := &Result{
		Target:     e.target,
		ReferenceM: e.reference,
		Samples:    len(e.phases),
		Correction: Correction{
			PhaseRad: stat.Mean(e.phases, nil),
			RangeM:   stat.Mean(e.ranges, nil),
		},
	}
	e.reset()
	return p, res, nil
}

func (e *Engine) progress() Progress {
	return Progress{
		Target:    e.target,
		Discarded: e.discarded,
		Stored:    len(e.phases),
		Warmup:    e.warmup,
		Samples:   e.samples,
	}
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	return Status{
		State:      e.state,
		Target:     e.target,
		ReferenceM: e.reference,
		Progress:   e.progress(),
	}
}

// Params returns the configured warm-up and sample counts.
func (e *Engine) Params() (warmup, samples int) { return e.warmup, e.samples }
