// Package rmt drives the Remote-signal Modulation/Transceiver peripheral:
// channel allocation, queued interrupt-driven transmission, receive
// sessions and synchronised starts, on top of a hal.Backend.
package rmt

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"rmt-go/errcode"
	"rmt-go/hal"
	"rmt-go/rmt/internal/alloc"
	"rmt-go/x/mathx"
)

// Controller owns one RMT peripheral instance. Groups are created when their
// first channel is allocated and torn down with their last.
type Controller struct {
	hw hal.Backend
	v  hal.Variant

	mu     sync.Mutex
	groups []*group
}

// NewController returns a controller for the peripheral behind hw.
func NewController(hw hal.Backend) *Controller {
	v := hw.Variant()
	return &Controller{hw: hw, v: v, groups: make([]*group, v.Groups)}
}

// Variant returns the capabilities of the underlying peripheral.
func (c *Controller) Variant() hal.Variant { return c.v }

// chanRequest is the direction-independent part of a channel config.
type chanRequest struct {
	op         string
	dir        hal.Dir
	gpio       int
	clock      hal.ClockSource
	resolution uint32
	memSymbols int
	priority   int
	dma        bool
	pin        hal.PinMode
}

// claim is what a channel holds from its group.
type claim struct {
	g          *group
	id         hal.ChanID
	mem        alloc.Range
	size       int // symbols visible to the channel: block or DMA ring
	resolution uint32
	priority   int
}

func (c *Controller) validate(r *chanRequest) error {
	if r.gpio < 0 || r.gpio >= c.v.GPIOCount {
		return errcode.New(errcode.InvalidArgument, r.op, fmt.Sprintf("invalid gpio %d", r.gpio))
	}
	if r.resolution == 0 {
		return errcode.New(errcode.InvalidArgument, r.op, "resolution must be non-zero")
	}
	if r.memSymbols == 0 {
		r.memSymbols = c.v.BlockSymbols
	}
	if r.memSymbols < 0 || !mathx.IsEven(r.memSymbols) {
		return errcode.New(errcode.InvalidArgument, r.op, fmt.Sprintf("mem_block_symbols %d must be even", r.memSymbols))
	}
	if !mathx.Between(r.priority, 0, 3) {
		return errcode.New(errcode.InvalidArgument, r.op, fmt.Sprintf("invalid interrupt priority %d", r.priority))
	}
	if r.dma && !c.v.DMA {
		return errcode.New(errcode.NotSupported, r.op, "DMA not supported")
	}
	src, _, ok := c.v.ClockFor(r.clock)
	if !ok {
		return errcode.New(errcode.NotSupported, r.op, fmt.Sprintf("clock source %s not supported", r.clock))
	}
	r.clock = src
	return nil
}

// allocate finds a slot and memory for r in the first group that can hold
// it, applying the group-wide clock and priority rules.
func (c *Controller) allocate(r chanRequest) (*claim, error) {
	if err := c.validate(&r); err != nil {
		return nil, err
	}
	poolSymbols := r.memSymbols
	if r.dma {
		poolSymbols = c.v.BlockSymbols
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for gid := range c.groups {
		g := c.groupLocked(gid)
		idx := g.freeSlot(r.dir)
		if idx < 0 {
			c.dropIfUnusedLocked(g)
			continue
		}
		mem, err := g.pool.Alloc(poolSymbols)
		if err != nil {
			c.dropIfUnusedLocked(g)
			continue
		}
		cl, err := c.bindLocked(g, idx, mem, r)
		if err != nil {
			g.pool.Free(mem)
			c.dropIfUnusedLocked(g)
			return nil, err
		}
		return cl, nil
	}
	return nil, errcode.New(errcode.NotFound, r.op, "no free channel or memory")
}

func (c *Controller) bindLocked(g *group, idx int, mem alloc.Range, r chanRequest) (*claim, error) {
	if g.refs > 0 && g.clock != r.clock {
		return nil, errcode.New(errcode.NotSupported, r.op,
			fmt.Sprintf("group %d runs from %s, requested %s", g.id, g.clock, r.clock))
	}
	if r.priority != 0 {
		// An allocated line is fixed, even one picked automatically.
		held := g.priority
		if g.intr != nil {
			held = g.intr.Priority()
		}
		if (held != 0 || g.intr != nil) && held != r.priority {
			return nil, errcode.New(errcode.InvalidArgument, r.op,
				fmt.Sprintf("group %d interrupt priority is %d, requested %d", g.id, held, r.priority))
		}
	}
	_, clockHz, _ := c.v.ClockFor(r.clock)
	div := mathx.RoundDiv(clockHz, r.resolution)
	if div == 0 || div > c.v.MaxDivider {
		return nil, errcode.New(errcode.InvalidArgument, r.op,
			fmt.Sprintf("resolution %d Hz not reachable from %d Hz", r.resolution, clockHz))
	}
	got := clockHz / div
	if got != r.resolution {
		Logger().Warn("channel resolution loss",
			zap.Uint32("requested_hz", r.resolution), zap.Uint32("real_hz", got))
	}

	id := hal.ChanID{Group: g.id, Dir: r.dir, Index: idx}
	if err := c.hw.BindPin(id, r.gpio, r.pin); err != nil {
		return nil, err
	}

	if g.refs == 0 {
		g.clock = r.clock
		g.clockHz = clockHz
		c.hw.SelectClock(g.id, r.clock)
	}
	if r.priority != 0 {
		g.priority = r.priority
	}
	g.refs++
	g.reserve(r.dir, idx)

	cl := &claim{g: g, id: id, mem: mem, size: r.memSymbols, resolution: got, priority: r.priority}
	region := hal.Region{Base: mem.Start, Size: mem.Len}
	if r.dma {
		region = hal.Region{Size: r.memSymbols, DMA: true}
	}
	c.hw.SetRegion(id, region)
	c.hw.SetDivider(id, div)
	Logger().Debug("channel allocated",
		zap.Stringer("dir", r.dir), zap.Int("group", g.id), zap.Int("index", idx),
		zap.Int("gpio", r.gpio), zap.Int("mem_start", mem.Start), zap.Int("mem_len", mem.Len),
		zap.Bool("dma", r.dma), zap.Uint32("resolution_hz", got))
	return cl, nil
}

// release returns everything a channel claimed.
func (c *Controller) release(cl *claim, gpio int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := cl.g
	c.hw.ReleasePin(cl.id, gpio)
	g.pool.Free(cl.mem)
	g.unreserve(cl.id.Dir, cl.id.Index)
	g.refs--
	c.dropIfUnusedLocked(g)
}

func (c *Controller) groupLocked(id int) *group {
	if g := c.groups[id]; g != nil {
		return g
	}
	g := newGroup(c, id)
	c.groups[id] = g
	return g
}

// dropIfUnusedLocked tears a group down once nothing references it.
func (c *Controller) dropIfUnusedLocked(g *group) {
	if g.refs > 0 || g.sync != nil {
		return
	}
	if g.intr != nil {
		g.intr.Free()
		g.intr = nil
	}
	c.groups[g.id] = nil
}
