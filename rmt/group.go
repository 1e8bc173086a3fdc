package rmt

import (
	"sync/atomic"

	"go.uber.org/zap"

	"rmt-go/hal"
	"rmt-go/rmt/internal/alloc"
)

// group is one hardware channel group: a shared symbol pool, one clock, one
// interrupt line. Fields other than the slot tables are guarded by the
// controller's mutex.
type group struct {
	c  *Controller
	id int

	pool     *alloc.Pool
	clock    hal.ClockSource
	clockHz  uint32
	priority int
	intr     hal.Intr
	refs     int
	sync     *SyncManager

	txUsed []bool
	rxUsed []bool

	// Read by the interrupt handler without the controller lock.
	txs []atomic.Pointer[TxChannel]
	rxs []atomic.Pointer[RxChannel]
}

func newGroup(c *Controller, id int) *group {
	return &group{
		c:      c,
		id:     id,
		pool:   alloc.New(c.v.MemSymbols),
		txUsed: make([]bool, c.v.TxChannels),
		rxUsed: make([]bool, c.v.RxChannels),
		txs:    make([]atomic.Pointer[TxChannel], c.v.TxChannels),
		rxs:    make([]atomic.Pointer[RxChannel], c.v.RxChannels),
	}
}

func (g *group) freeSlot(dir hal.Dir) int {
	used := g.txUsed
	if dir == hal.RX {
		used = g.rxUsed
	}
	for i, u := range used {
		if !u {
			return i
		}
	}
	return -1
}

func (g *group) reserve(dir hal.Dir, idx int) {
	if dir == hal.RX {
		g.rxUsed[idx] = true
		return
	}
	g.txUsed[idx] = true
}

func (g *group) unreserve(dir hal.Dir, idx int) {
	if dir == hal.RX {
		g.rxUsed[idx] = false
		g.rxs[idx].Store(nil)
		return
	}
	g.txUsed[idx] = false
	g.txs[idx].Store(nil)
}

// ensureIntrLocked allocates the group interrupt line on first use.
func (g *group) ensureIntrLocked() error {
	if g.intr != nil {
		return nil
	}
	in, err := g.c.hw.AllocIntr(g.id, g.priority, g.handle)
	if err != nil {
		return err
	}
	g.intr = in
	return nil
}

// handle is the group interrupt service routine.
func (g *group) handle(ev hal.Event) hal.IntrResult {
	var yield bool
	switch ev.Chan.Dir {
	case hal.TX:
		tx := g.txs[ev.Chan.Index].Load()
		if tx == nil {
			Logger().Warn("stale tx interrupt", zap.Int("group", g.id), zap.Int("index", ev.Chan.Index), zap.Stringer("event", ev.Kind))
			return hal.IntrHandled
		}
		yield = tx.handle(ev.Kind)
	case hal.RX:
		rx := g.rxs[ev.Chan.Index].Load()
		if rx == nil {
			Logger().Warn("stale rx interrupt", zap.Int("group", g.id), zap.Int("index", ev.Chan.Index), zap.Stringer("event", ev.Kind))
			return hal.IntrHandled
		}
		yield = rx.handle(ev.Kind)
	}
	if yield {
		return hal.IntrYield
	}
	return hal.IntrHandled
}
