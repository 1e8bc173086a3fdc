package sim

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"rmt-go/hal"
	"rmt-go/rmt/symbol"
	"rmt-go/x/timex"
)

// txEngine plays a channel's memory onto its pin. One goroutine per channel
// waits for start requests; mu is released while the engine sleeps or waits
// on the interrupt handler, so StopTx returns only at a safe point.
type startReq struct {
	at    time.Time
	epoch uint64
}

type txEngine struct {
	port

	startCh chan startReq
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	cfg     hal.TxConfig
	loop    int
	epoch   uint64
	running bool
	started time.Time
	gpio    int
}

func newTxEngine(g *group, id hal.ChanID) *txEngine {
	e := &txEngine{
		port:    port{id: id, g: g},
		startCh: make(chan startReq, 1),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go e.serve()
	return e
}

func (e *txEngine) close() {
	e.stop()
	close(e.quit)
	<-e.done
}

func (e *txEngine) configure(cfg hal.TxConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *txEngine) setLoop(count int) {
	e.mu.Lock()
	e.loop = count
	e.mu.Unlock()
}

func (e *txEngine) start(at time.Time) {
	e.mu.Lock()
	req := startReq{at: at, epoch: e.epoch}
	e.mu.Unlock()
	select {
	case e.startCh <- req:
	default:
		Logger().Warn("tx start while a start is pending", zap.Int("group", e.id.Group), zap.Int("channel", e.id.Index))
	}
}

func (e *txEngine) stop() {
	e.mu.Lock()
	e.epoch++
	e.running = false
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	// A start that has not been picked up yet is cancelled too.
	select {
	case <-e.startCh:
	default:
	}
}

func (e *txEngine) busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *txEngine) lastStart() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *txEngine) serve() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case req := <-e.startCh:
			e.run(req)
		}
	}
}

// pin finds the GPIO this channel drives, if any.
func (e *txEngine) pin() (int, bool) {
	m := e.g.b.gpio
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, p := range m.pins {
		if p.driver != nil && *p.driver == e.id {
			return n, true
		}
	}
	return 0, false
}

// run plays one transmission. In loop mode the frame is replayed from the
// start of memory; otherwise memory is consumed as a ring and a threshold
// interrupt is raised each time half of it has been sent.
func (e *txEngine) run(req startReq) {
	e.mu.Lock()
	if req.epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	select {
	case <-e.wake:
	default:
	}
	epoch := e.epoch
	e.running = true
	e.started = req.at
	loop := e.loop
	eot := e.cfg.EOTLevel
	e.mu.Unlock()

	gpio, wired := e.pin()
	size := e.size()
	if size == 0 {
		e.finish(epoch, hal.EventTxDone)
		return
	}
	half := size / 2
	hz := e.tickHz()

	var (
		segs    []Segment
		pending time.Duration
		pos     int
	)
	flush := func() {
		if wired && len(segs) > 0 {
			e.g.b.gpio.drive(e.id, gpio, segs)
		}
		segs = segs[:0]
	}
	emit := func(level uint8, ticks uint16) {
		d := timex.Span(uint64(ticks), hz)
		segs = append(segs, Segment{Level: level, Duration: d})
		pending += d
	}
	// alive reports whether the run has not been stopped; it must be called
	// with mu held.
	alive := func() bool { return e.epoch == epoch }

	replays := 0
	for {
		e.mu.Lock()
		if !alive() {
			e.mu.Unlock()
			return
		}
		s := e.loadMem(pos)
		pos++
		end := false
		if s.Duration0 == 0 {
			end = true
		} else {
			emit(s.Level0, s.Duration0)
			if s.Duration1 == 0 {
				end = true
			} else {
				emit(s.Level1, s.Duration1)
			}
		}
		e.mu.Unlock()

		if !end {
			if loop == 0 && half > 0 && pos%half == 0 {
				flush()
				if !e.pace(epoch, &pending) {
					return
				}
				e.g.raise(&e.port, hal.EventTxThreshold)
			}
			continue
		}

		flush()
		if !e.pace(epoch, &pending) {
			return
		}
		if loop == 0 {
			break
		}

		replays++
		pos = 0
		if loop > 0 && replays == loop {
			if e.g.b.v.TxLoopAutoStop {
				break
			}
			// Without auto-stop the counter only raises the interrupt and
			// replay continues until the driver stops the channel.
			e.g.raise(&e.port, hal.EventTxLoopEnd)
		}
		if !e.sleep(epoch, e.g.b.loopPause) {
			return
		}
	}

	segs = append(segs, Segment{Level: eot, Duration: Forever})
	flush()
	kind := hal.EventTxDone
	if loop > 0 {
		kind = hal.EventTxLoopEnd
	}
	e.finish(epoch, kind)
}

func (e *txEngine) loadMem(pos int) symbol.Symbol {
	e.g.memMu.Lock()
	defer e.g.memMu.Unlock()
	return e.loadLocked(pos)
}

func (e *txEngine) finish(epoch uint64, kind hal.EventKind) {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()
	e.g.raise(&e.port, kind)
}

// pace sleeps for the scaled waveform time accumulated in *pending.
func (e *txEngine) pace(epoch uint64, pending *time.Duration) bool {
	d := time.Duration(float64(*pending) * e.g.b.scale)
	*pending = 0
	return e.sleep(epoch, d)
}

// sleep waits for d unless the run is stopped first.
func (e *txEngine) sleep(epoch uint64, d time.Duration) bool {
	if d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-e.wake:
			t.Stop()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch == epoch
}
