package sim

import (
	"fmt"
	"sync"
	"time"

	"rmt-go/errcode"
	"rmt-go/hal"
)

// Forever marks a level that is held until something else drives the line.
const Forever = time.Duration(1<<63 - 1)

// Segment is one stretch of constant level on a wire.
type Segment struct {
	Level    uint8
	Duration time.Duration
}

// matrix is the GPIO routing fabric: at most one channel drives a pin, any
// number of receive channels listen to it.
type matrix struct {
	mu    sync.Mutex
	count int
	pins  map[int]*pinState
}

type pinState struct {
	driver    *hal.ChanID
	driveMode hal.PinMode
	listeners map[hal.ChanID]listener
	taps      []*Tap
}

type listener struct {
	rx     *rxEngine
	invert bool
}

func newMatrix(count int) *matrix {
	return &matrix{count: count, pins: make(map[int]*pinState)}
}

func (m *matrix) pin(n int) *pinState {
	p := m.pins[n]
	if p == nil {
		p = &pinState{listeners: make(map[hal.ChanID]listener)}
		m.pins[n] = p
	}
	return p
}

func (m *matrix) bind(ch hal.ChanID, n int, mode hal.PinMode, rx *rxEngine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n < 0 || n >= m.count {
		return errcode.New(errcode.InvalidArgument, "bind_pin", fmt.Sprintf("gpio %d out of range", n))
	}
	p := m.pin(n)
	if mode.Output {
		if p.driver != nil && *p.driver != ch {
			return errcode.New(errcode.InvalidState, "bind_pin", fmt.Sprintf("gpio %d already driven", n))
		}
		id := ch
		p.driver = &id
		p.driveMode = mode
	}
	if mode.Input && rx != nil {
		p.listeners[ch] = listener{rx: rx, invert: mode.Invert}
	}
	return nil
}

func (m *matrix) release(ch hal.ChanID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pins[n]
	if !ok {
		return
	}
	if p.driver != nil && *p.driver == ch {
		p.driver = nil
		p.driveMode = hal.PinMode{}
	}
	delete(p.listeners, ch)
	if p.driver == nil && len(p.listeners) == 0 && len(p.taps) == 0 {
		delete(m.pins, n)
	}
}

// drive is called by a TX engine with the raw (pre-inversion) waveform.
func (m *matrix) drive(ch hal.ChanID, n int, segs []Segment) {
	m.mu.Lock()
	p, ok := m.pins[n]
	if !ok || p.driver == nil || *p.driver != ch {
		m.mu.Unlock()
		return
	}
	mode := p.driveMode
	out := invertSegs(segs, mode.Invert)
	taps := append([]*Tap(nil), p.taps...)
	var ls []listener
	if mode.Loopback {
		for _, l := range p.listeners {
			ls = append(ls, l)
		}
	}
	m.mu.Unlock()

	for _, t := range taps {
		t.record(out)
	}
	for _, l := range ls {
		l.rx.feed(invertSegs(out, l.invert))
	}
}

// inject feeds an external waveform to every receive channel on pin n.
func (m *matrix) inject(n int, segs []Segment) {
	m.mu.Lock()
	var ls []listener
	if p, ok := m.pins[n]; ok {
		for _, l := range p.listeners {
			ls = append(ls, l)
		}
	}
	m.mu.Unlock()
	for _, l := range ls {
		l.rx.feed(invertSegs(segs, l.invert))
	}
}

func (m *matrix) tap(n int) *Tap {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &Tap{}
	p := m.pin(n)
	p.taps = append(p.taps, t)
	return t
}

func (m *matrix) driverOf(n int) (hal.ChanID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pins[n]; ok && p.driver != nil {
		return *p.driver, true
	}
	return hal.ChanID{}, false
}

func invertSegs(segs []Segment, invert bool) []Segment {
	if !invert {
		return segs
	}
	out := make([]Segment, len(segs))
	for i, s := range segs {
		out[i] = Segment{Level: s.Level ^ 1, Duration: s.Duration}
	}
	return out
}

// Tap records what is driven onto a pin.
type Tap struct {
	mu   sync.Mutex
	segs []Segment
}

func (t *Tap) record(segs []Segment) {
	t.mu.Lock()
	t.segs = append(t.segs, segs...)
	t.mu.Unlock()
}

// Segments returns a copy of everything recorded so far.
func (t *Tap) Segments() []Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Segment(nil), t.segs...)
}

// Reset drops the recording.
func (t *Tap) Reset() {
	t.mu.Lock()
	t.segs = nil
	t.mu.Unlock()
}
