package sim

import (
	"math"
	"sync"
	"time"

	"rmt-go/hal"
	"rmt-go/rmt/symbol"
	"rmt-go/x/timex"
)

// rxEngine captures the waveform fed to its pin. Segments are queued by the
// driving side and processed on the engine's own goroutine, so a transmitter
// never waits on a receiver's interrupt.
type rxEngine struct {
	port

	qmu    sync.Mutex
	qcond  *sync.Cond
	queue  []Segment
	closed bool
	done   chan struct{}

	mu      sync.Mutex
	cfg     hal.RxConfig
	armed   bool
	epoch   uint64
	line    uint8
	inFrame bool
	cur     uint8
	acc     time.Duration
	hasHalf bool
	half    symbol.Symbol
	written int
	full    bool
}

func newRxEngine(g *group, id hal.ChanID) *rxEngine {
	e := &rxEngine{port: port{id: id, g: g}, done: make(chan struct{})}
	e.qcond = sync.NewCond(&e.qmu)
	go e.serve()
	return e
}

func (e *rxEngine) close() {
	e.qmu.Lock()
	e.closed = true
	e.qcond.Broadcast()
	e.qmu.Unlock()
	<-e.done
}

func (e *rxEngine) configure(cfg hal.RxConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *rxEngine) start() {
	e.mu.Lock()
	e.epoch++
	e.armed = true
	e.inFrame = false
	e.hasHalf = false
	e.written = 0
	e.full = false
	e.mu.Unlock()
}

func (e *rxEngine) stop() {
	e.mu.Lock()
	e.epoch++
	e.armed = false
	e.inFrame = false
	e.mu.Unlock()
}

func (e *rxEngine) status() hal.RxStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return hal.RxStatus{Written: e.written}
}

func (e *rxEngine) feed(segs []Segment) {
	if len(segs) == 0 {
		return
	}
	e.qmu.Lock()
	e.queue = append(e.queue, segs...)
	e.qcond.Signal()
	e.qmu.Unlock()
}

func (e *rxEngine) serve() {
	defer close(e.done)
	for {
		e.qmu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.qcond.Wait()
		}
		if e.closed {
			e.qmu.Unlock()
			return
		}
		batch := e.queue
		e.queue = nil
		e.qmu.Unlock()

		for _, s := range batch {
			e.process(s)
		}
	}
}

// process advances the capture state machine by one segment.
func (e *rxEngine) process(s Segment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.armed {
		e.line = s.Level
		return
	}
	filter := e.filterSpan()
	if !e.inFrame {
		if s.Level == e.line || s.Duration < filter {
			return
		}
		e.inFrame = true
		e.cur = s.Level
		e.acc = s.Duration
		e.checkIdle()
		return
	}
	if s.Level == e.cur || s.Duration < filter {
		e.acc = addSpan(e.acc, s.Duration)
		e.checkIdle()
		return
	}
	epoch := e.epoch
	e.commit(e.cur, e.ticks(e.acc))
	if e.epoch != epoch || !e.inFrame {
		return
	}
	e.cur = s.Level
	e.acc = s.Duration
	e.checkIdle()
}

func (e *rxEngine) filterSpan() time.Duration {
	if e.cfg.FilterTicks == 0 {
		return 0
	}
	return timex.Span(uint64(e.cfg.FilterTicks), e.g.clockHz.Load())
}

func (e *rxEngine) ticks(d time.Duration) uint32 {
	if d >= time.Hour {
		return math.MaxUint32
	}
	t := timex.NsToTicks(uint64(d), e.tickHz())
	if t > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(t)
}

func addSpan(a, b time.Duration) time.Duration {
	if a >= Forever-b {
		return Forever
	}
	return a + b
}

// checkIdle ends the frame once the current level outlasts the idle
// threshold. The held level is stored with a zero duration.
func (e *rxEngine) checkIdle() {
	if e.ticks(e.acc) <= e.cfg.IdleTicks {
		return
	}
	epoch := e.epoch
	end := e.cur
	e.commitEnd(end)
	if e.epoch != epoch {
		return
	}
	e.inFrame = false
	e.line = end
	e.armed = false
	e.raiseLocked(hal.EventRxDone)
}

// commit stores one half-symbol of ticks at level.
func (e *rxEngine) commit(level uint8, ticks uint32) {
	if ticks == 0 {
		ticks = 1
	}
	if ticks > symbol.MaxDuration {
		ticks = symbol.MaxDuration
	}
	if !e.hasHalf {
		e.half = symbol.Symbol{Level0: level, Duration0: uint16(ticks)}
		e.hasHalf = true
		return
	}
	s := e.half
	s.Level1, s.Duration1 = level, uint16(ticks)
	e.hasHalf = false
	e.store(s)
}

func (e *rxEngine) commitEnd(level uint8) {
	s := symbol.Symbol{Level0: level}
	if e.hasHalf {
		s = e.half
		s.Level1 = level
		e.hasHalf = false
	}
	e.store(s)
}

// store writes one symbol into the channel memory, raising threshold events
// in ping-pong mode and a memory-full event otherwise.
func (e *rxEngine) store(s symbol.Symbol) {
	if e.full {
		return
	}
	e.g.memMu.Lock()
	size := e.region.Size
	if size == 0 || (!e.cfg.PingPong && e.written >= size) {
		e.g.memMu.Unlock()
		e.full = true
		e.raiseLocked(hal.EventRxMemFull)
		return
	}
	e.storeLocked(e.written, s)
	e.g.memMu.Unlock()
	e.written++

	if e.cfg.PingPong && size >= 2 && e.written%(size/2) == 0 {
		e.raiseLocked(hal.EventRxThreshold)
	}
}

// raiseLocked drops mu around the interrupt so the handler can read status.
func (e *rxEngine) raiseLocked(kind hal.EventKind) {
	e.mu.Unlock()
	e.g.raise(&e.port, kind)
	e.mu.Lock()
}
