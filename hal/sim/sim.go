// Package sim is a host model of the RMT peripheral. It keeps each group's
// symbol memory, runs one engine goroutine per channel and delivers
// interrupts through a per-group controller, so the driver can be exercised
// without silicon. Waveforms travel between channels over simulated wires.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rmt-go/errcode"
	"rmt-go/hal"
	"rmt-go/rmt/symbol"
)

// Option configures a Backend.
type Option func(*Backend)

// WithTimeScale paces engines at scale times the real waveform duration.
// 0 (the default) runs as fast as the host allows.
func WithTimeScale(scale float64) Option {
	return func(b *Backend) {
		if scale > 0 {
			b.scale = scale
		}
	}
}

// WithLoopPause sets the minimum pause between loop replays.
func WithLoopPause(d time.Duration) Option {
	return func(b *Backend) { b.loopPause = d }
}

// Backend implements hal.Backend.
type Backend struct {
	v         hal.Variant
	scale     float64
	loopPause time.Duration

	groups []*group
	gpio   *matrix

	closeOnce sync.Once
}

var _ hal.Backend = (*Backend)(nil)

type group struct {
	id int
	b  *Backend

	clockHz atomic.Uint32

	memMu sync.Mutex
	mem   []symbol.Symbol

	intrMu sync.Mutex
	intr   *intrController
	drops  uint32

	tx []*txEngine
	rx []*rxEngine

	syncMu sync.Mutex
	sync   syncState
}

type syncState struct {
	members map[int]bool
	armed   map[int]bool
	spent   bool
}

// New returns a backend modelling variant v.
func New(v hal.Variant, opts ...Option) *Backend {
	b := &Backend{v: v, loopPause: 100 * time.Microsecond, gpio: newMatrix(v.GPIOCount)}
	for _, o := range opts {
		o(b)
	}
	for g := 0; g < v.Groups; g++ {
		grp := &group{id: g, b: b, mem: make([]symbol.Symbol, v.MemSymbols)}
		for i := 0; i < v.TxChannels; i++ {
			grp.tx = append(grp.tx, newTxEngine(grp, hal.ChanID{Group: g, Dir: hal.TX, Index: i}))
		}
		for i := 0; i < v.RxChannels; i++ {
			grp.rx = append(grp.rx, newRxEngine(grp, hal.ChanID{Group: g, Dir: hal.RX, Index: i}))
		}
		b.groups = append(b.groups, grp)
	}
	return b
}

// Close stops every engine and interrupt line.
func (b *Backend) Close() {
	b.closeOnce.Do(func() {
		for _, g := range b.groups {
			for _, e := range g.tx {
				e.close()
			}
			for _, e := range g.rx {
				e.close()
			}
			g.intrMu.Lock()
			c := g.intr
			g.intr = nil
			g.intrMu.Unlock()
			if c != nil {
				c.Free()
			}
		}
	})
}

func (b *Backend) Variant() hal.Variant { return b.v }

func (b *Backend) group(id int) *group {
	if id < 0 || id >= len(b.groups) {
		panic(fmt.Sprintf("sim: group %d out of range", id))
	}
	return b.groups[id]
}

func (b *Backend) port(ch hal.ChanID) *port {
	g := b.group(ch.Group)
	if ch.Dir == hal.RX {
		return &g.rx[ch.Index].port
	}
	return &g.tx[ch.Index].port
}

func (b *Backend) SelectClock(group int, src hal.ClockSource) {
	_, hz, ok := b.v.ClockFor(src)
	if !ok {
		Logger().Warn("unsupported clock source", zap.Int("group", group), zap.Stringer("src", src))
		return
	}
	b.group(group).clockHz.Store(hz)
}

// AllocIntr installs h as the group's interrupt handler.
func (b *Backend) AllocIntr(group, priority int, h hal.Handler) (hal.Intr, error) {
	if h == nil {
		return nil, errcode.New(errcode.InvalidArgument, "alloc_intr", "nil handler")
	}
	g := b.group(group)
	g.intrMu.Lock()
	defer g.intrMu.Unlock()
	if g.intr != nil {
		select {
		case <-g.intr.done:
		default:
			return nil, errcode.New(errcode.InvalidState, "alloc_intr", "line already allocated")
		}
	}
	g.intr = newIntrController(group, priority, h)
	return g.intr, nil
}

func (b *Backend) EnableIntr(ch hal.ChanID, on bool) {
	b.port(ch).intrOn.Store(on)
}

func (b *Backend) BindPin(ch hal.ChanID, gpio int, mode hal.PinMode) error {
	var rx *rxEngine
	if ch.Dir == hal.RX {
		rx = b.group(ch.Group).rx[ch.Index]
	}
	return b.gpio.bind(ch, gpio, mode, rx)
}

func (b *Backend) ReleasePin(ch hal.ChanID, gpio int) {
	b.gpio.release(ch, gpio)
}

func (b *Backend) SetRegion(ch hal.ChanID, r hal.Region) {
	p := b.port(ch)
	p.g.memMu.Lock()
	defer p.g.memMu.Unlock()
	p.region = r
	p.ring = nil
	if r.DMA {
		p.ring = make([]symbol.Symbol, r.Size)
	}
}

func (b *Backend) SetDivider(ch hal.ChanID, div uint32) {
	if div == 0 {
		div = 1
	}
	b.port(ch).div.Store(div)
}

func (b *Backend) WriteMem(ch hal.ChanID, off int, syms []symbol.Symbol) {
	b.port(ch).write(off, syms)
}

func (b *Backend) ReadMem(ch hal.ChanID, off int, dst []symbol.Symbol) {
	b.port(ch).read(off, dst)
}

func (b *Backend) ConfigureTx(ch hal.ChanID, cfg hal.TxConfig) {
	b.group(ch.Group).tx[ch.Index].configure(cfg)
}

func (b *Backend) SetTxLoop(ch hal.ChanID, count int) {
	b.group(ch.Group).tx[ch.Index].setLoop(count)
}

func (b *Backend) StartTx(ch hal.ChanID) {
	g := b.group(ch.Group)
	if g.holdForSync(ch.Index) {
		return
	}
	g.tx[ch.Index].start(time.Now())
}

func (b *Backend) StopTx(ch hal.ChanID) {
	g := b.group(ch.Group)
	g.disarmSync(ch.Index)
	g.tx[ch.Index].stop()
}

func (b *Backend) ConfigureRx(ch hal.ChanID, cfg hal.RxConfig) {
	b.group(ch.Group).rx[ch.Index].configure(cfg)
}

func (b *Backend) StartRx(ch hal.ChanID) { b.group(ch.Group).rx[ch.Index].start() }

func (b *Backend) StopRx(ch hal.ChanID) { b.group(ch.Group).rx[ch.Index].stop() }

func (b *Backend) RxStatus(ch hal.ChanID) hal.RxStatus {
	return b.group(ch.Group).rx[ch.Index].status()
}

// SetSync makes the listed TX channels start together. nil disables.
func (b *Backend) SetSync(group int, members []int) {
	g := b.group(group)
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	g.sync = syncState{}
	if len(members) == 0 {
		return
	}
	g.sync.members = make(map[int]bool, len(members))
	g.sync.armed = make(map[int]bool, len(members))
	for _, m := range members {
		g.sync.members[m] = true
	}
}

// ResetSync re-arms an aligned start.
func (b *Backend) ResetSync(group int) {
	g := b.group(group)
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	g.sync.spent = false
	g.sync.armed = make(map[int]bool, len(g.sync.members))
}

// holdForSync parks a start request until every member has asked to start,
// then releases them all with one timestamp.
func (g *group) holdForSync(idx int) bool {
	g.syncMu.Lock()
	s := &g.sync
	if !s.members[idx] || s.spent {
		g.syncMu.Unlock()
		return false
	}
	s.armed[idx] = true
	if len(s.armed) < len(s.members) {
		g.syncMu.Unlock()
		return true
	}
	s.spent = true
	var ready []int
	for m := range s.members {
		ready = append(ready, m)
	}
	g.syncMu.Unlock()

	at := time.Now()
	for _, m := range ready {
		g.tx[m].start(at)
	}
	return true
}

func (g *group) disarmSync(idx int) {
	g.syncMu.Lock()
	if g.sync.armed != nil {
		delete(g.sync.armed, idx)
	}
	g.syncMu.Unlock()
}

// raise delivers an interrupt for ch and waits for the handler. Masked
// events and events without a line are dropped.
func (g *group) raise(p *port, kind hal.EventKind) {
	if !p.intrOn.Load() {
		atomic.AddUint32(&g.drops, 1)
		return
	}
	g.intrMu.Lock()
	c := g.intr
	g.intrMu.Unlock()
	if c == nil || !c.raise(hal.Event{Chan: p.id, Kind: kind}) {
		atomic.AddUint32(&g.drops, 1)
	}
}

// Drops reports interrupts discarded because they were masked or unrouted.
func (b *Backend) Drops(group int) uint32 { return atomic.LoadUint32(&b.group(group).drops) }

// Yields reports how many handler runs asked for a reschedule.
func (b *Backend) Yields(group int) uint32 {
	g := b.group(group)
	g.intrMu.Lock()
	defer g.intrMu.Unlock()
	if g.intr == nil {
		return 0
	}
	return g.intr.Yields()
}

// Inject drives an external waveform into pin gpio.
func (b *Backend) Inject(gpio int, segs []Segment) { b.gpio.inject(gpio, segs) }

// Tap starts recording what TX channels drive onto gpio.
func (b *Backend) Tap(gpio int) *Tap { return b.gpio.tap(gpio) }

// LastStart returns when ch last began transmitting.
func (b *Backend) LastStart(ch hal.ChanID) time.Time {
	return b.group(ch.Group).tx[ch.Index].lastStart()
}

// Busy reports whether ch is transmitting.
func (b *Backend) Busy(ch hal.ChanID) bool {
	return b.group(ch.Group).tx[ch.Index].busy()
}

// port is the state shared by both channel directions.
type port struct {
	id     hal.ChanID
	g      *group
	intrOn atomic.Bool
	div    atomic.Uint32

	// guarded by g.memMu
	region hal.Region
	ring   []symbol.Symbol
}

func (p *port) write(off int, syms []symbol.Symbol) {
	p.g.memMu.Lock()
	defer p.g.memMu.Unlock()
	for i, s := range syms {
		p.storeLocked(off+i, s)
	}
}

func (p *port) read(off int, dst []symbol.Symbol) {
	p.g.memMu.Lock()
	defer p.g.memMu.Unlock()
	for i := range dst {
		dst[i] = p.loadLocked(off + i)
	}
}

func (p *port) size() int {
	p.g.memMu.Lock()
	defer p.g.memMu.Unlock()
	return p.region.Size
}

func (p *port) storeLocked(i int, s symbol.Symbol) {
	n := p.region.Size
	if n == 0 {
		return
	}
	i %= n
	if p.region.DMA {
		p.ring[i] = s
		return
	}
	p.g.mem[p.region.Base+i] = s
}

func (p *port) loadLocked(i int) symbol.Symbol {
	n := p.region.Size
	if n == 0 {
		return symbol.EOF
	}
	i %= n
	if p.region.DMA {
		return p.ring[i]
	}
	return p.g.mem[p.region.Base+i]
}

// tickHz is the channel resolution.
func (p *port) tickHz() uint32 {
	div := p.div.Load()
	if div == 0 {
		div = 1
	}
	return p.g.clockHz.Load() / div
}
