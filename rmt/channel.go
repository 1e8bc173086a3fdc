package rmt

import (
	"sync/atomic"

	"rmt-go/errcode"
	"rmt-go/hal"
)

// Channel is implemented by *TxChannel and *RxChannel.
type Channel interface {
	ID() hal.ChanID
	Enable() error
	Disable() error
	Delete() error
	ApplyCarrier(cfg *CarrierConfig) error
}

var (
	_ Channel = (*TxChannel)(nil)
	_ Channel = (*RxChannel)(nil)
)

// Channel life cycle. Busy covers the short enable/disable windows.
const (
	stateInit int32 = iota
	stateEnabled
	stateBusy
	stateDeleted
)

// base is what both channel directions share.
type base struct {
	c     *Controller
	cl    *claim
	gpio  int
	dma   bool
	state atomic.Int32
}

// ID returns the hardware group, direction and index.
func (b *base) ID() hal.ChanID { return b.cl.id }

// GPIO returns the bound pin.
func (b *base) GPIO() int { return b.gpio }

// ResolutionHz returns the real tick rate after dividing the group clock.
func (b *base) ResolutionHz() uint32 { return b.cl.resolution }

// MemSymbols returns the symbols the channel reads or writes per pass.
func (b *base) MemSymbols() int { return b.cl.size }

func (b *base) enabled() bool { return b.state.Load() == stateEnabled }

// beginEnable moves Init to Busy and makes sure the group has its line.
func (b *base) beginEnable(op string) error {
	if !b.state.CompareAndSwap(stateInit, stateBusy) {
		return errcode.New(errcode.InvalidState, op, "channel not in init state")
	}
	b.c.mu.Lock()
	err := b.cl.g.ensureIntrLocked()
	b.c.mu.Unlock()
	if err != nil {
		b.state.Store(stateInit)
		return err
	}
	b.c.hw.EnableIntr(b.cl.id, true)
	return nil
}

// beginDisable moves Enabled to Busy and masks the channel interrupt.
func (b *base) beginDisable(op string) error {
	if !b.state.CompareAndSwap(stateEnabled, stateBusy) {
		return errcode.New(errcode.InvalidState, op, "channel not enabled")
	}
	b.c.hw.EnableIntr(b.cl.id, false)
	return nil
}

// delete releases the channel's claim. Only a disabled channel can go.
func (b *base) delete(op string) error {
	if !b.state.CompareAndSwap(stateInit, stateDeleted) {
		return errcode.New(errcode.InvalidState, op, "channel must be disabled first")
	}
	b.c.release(b.cl, b.gpio)
	return nil
}
