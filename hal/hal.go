// Package hal is the hardware-abstraction surface the RMT driver drives.
//
// Calls are synchronous and side-effect-only: configure memory, select the
// clock, arm loop replay, start/stop, read receive status. Only resource
// allocation (pins, interrupts) can fail. A Backend is either real silicon or
// the host model in hal/sim.
package hal

import (
	"rmt-go/rmt/symbol"
)

// Dir is the capability of a channel.
type Dir uint8

const (
	TX Dir = iota
	RX
)

func (d Dir) String() string {
	if d == RX {
		return "rx"
	}
	return "tx"
}

// ChanID addresses one channel inside one group.
type ChanID struct {
	Group int
	Dir   Dir
	Index int
}

// ClockSource selects the group clock.
type ClockSource uint8

const (
	ClockDefault ClockSource = iota
	ClockAPB
	ClockXTAL
	ClockRCFast
)

func (c ClockSource) String() string {
	switch c {
	case ClockAPB:
		return "apb"
	case ClockXTAL:
		return "xtal"
	case ClockRCFast:
		return "rc_fast"
	}
	return "default"
}

// PinMode is the GPIO binding requested by a channel.
type PinMode struct {
	Output    bool
	Input     bool
	OpenDrain bool
	Invert    bool
	// Loopback routes the output back into the input path of the same pin.
	Loopback bool
}

// Region is the symbol storage a channel reads from or writes to.
// Pool regions live in the group's shared memory at [Base, Base+Size);
// DMA regions are a private ring of Size symbols.
type Region struct {
	Base int
	Size int
	DMA  bool
}

// Carrier is the modulation (TX) or demodulation (RX) setting.
type Carrier struct {
	FrequencyHz  uint32
	DutyCycle    float32
	ActiveLow    bool
	AlwaysOn     bool
	Demodulating bool
}

// TxConfig is static per-channel transmit setup.
type TxConfig struct {
	EOTLevel uint8
	Carrier  *Carrier
}

// RxConfig arms the capture path.
type RxConfig struct {
	// FilterTicks are group-clock ticks; pulses shorter are ignored. 0 disables.
	FilterTicks uint32
	// IdleTicks are channel ticks; a level held longer ends the frame.
	IdleTicks uint32
	// PingPong raises a threshold event every half region.
	PingPong bool
	Carrier  *Carrier
}

// RxStatus is the receive write position.
type RxStatus struct {
	// Written counts symbols stored since StartRx, across wraps.
	Written int
}

// EventKind names an interrupt source.
type EventKind uint8

const (
	EventTxThreshold EventKind = iota + 1
	EventTxDone
	EventTxLoopEnd
	EventRxThreshold
	EventRxDone
	EventRxMemFull
)

var eventNames = [...]string{"", "tx_threshold", "tx_done", "tx_loop_end", "rx_threshold", "rx_done", "rx_mem_full"}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is one interrupt cause on one channel.
type Event struct {
	Chan ChanID
	Kind EventKind
}

// IntrResult is the hand-off from the interrupt handler back to the
// interrupt controller: Yield asks it to reschedule before returning to the
// interrupted context.
type IntrResult uint8

const (
	IntrHandled IntrResult = iota
	IntrYield
)

// Handler is the per-group dispatch routine. It runs in interrupt context:
// serialised per group, must not block.
type Handler func(Event) IntrResult

// Intr is an allocated interrupt line.
type Intr interface {
	Priority() int
	Free()
}

// Backend is the peripheral as seen by the driver.
type Backend interface {
	Variant() Variant

	// Group level.
	SelectClock(group int, src ClockSource)
	AllocIntr(group, priority int, h Handler) (Intr, error)
	SetSync(group int, members []int)
	ResetSync(group int)

	// Channel level.
	EnableIntr(ch ChanID, on bool)
	BindPin(ch ChanID, gpio int, mode PinMode) error
	ReleasePin(ch ChanID, gpio int)
	SetRegion(ch ChanID, r Region)
	SetDivider(ch ChanID, div uint32)
	WriteMem(ch ChanID, off int, syms []symbol.Symbol)
	ReadMem(ch ChanID, off int, dst []symbol.Symbol)

	// Transmit.
	ConfigureTx(ch ChanID, cfg TxConfig)
	// SetTxLoop arms hardware replay: 0 disables, -1 loops forever, N>0 loops
	// N times then raises EventTxLoopEnd.
	SetTxLoop(ch ChanID, count int)
	StartTx(ch ChanID)
	// StopTx halts transmission and returns once the channel is idle.
	StopTx(ch ChanID)

	// Receive.
	ConfigureRx(ch ChanID, cfg RxConfig)
	StartRx(ch ChanID)
	StopRx(ch ChanID)
	RxStatus(ch ChanID) RxStatus
}
