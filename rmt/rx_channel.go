package rmt

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"rmt-go/errcode"
	"rmt-go/hal"
	"rmt-go/rmt/symbol"
	"rmt-go/x/timex"
)

// RxChannel is a receive channel. One receive session can be armed at a
// time; it ends when the line idles.
type RxChannel struct {
	base

	mu      sync.Mutex
	armed   bool
	session uint64
	buf     []symbol.Symbol
	copied  int // symbols in buf
	hwRead  int // symbols taken from channel memory
	partial bool
	warned  bool
	cbs     RxEventCallbacks
	carrier *hal.Carrier
}

// NewRxChannel allocates a receive channel. The channel starts disabled.
func (c *Controller) NewRxChannel(cfg RxChannelConfig) (*RxChannel, error) {
	cl, err := c.allocate(chanRequest{
		op:         "new_rx_channel",
		dir:        hal.RX,
		gpio:       cfg.GPIO,
		clock:      cfg.ClockSource,
		resolution: cfg.ResolutionHz,
		memSymbols: cfg.MemBlockSymbols,
		priority:   cfg.IntrPriority,
		dma:        cfg.WithDMA,
		pin:        hal.PinMode{Input: true, Invert: cfg.InvertIn},
	})
	if err != nil {
		return nil, err
	}
	rx := &RxChannel{base: base{c: c, cl: cl, gpio: cfg.GPIO, dma: cfg.WithDMA}}
	cl.g.rxs[cl.id.Index].Store(rx)
	return rx, nil
}

// RegisterEventCallbacks installs callbacks. The channel must be disabled.
func (rx *RxChannel) RegisterEventCallbacks(cbs RxEventCallbacks) error {
	if rx.state.Load() != stateInit {
		return errcode.New(errcode.InvalidState, "register_rx_callbacks", "channel not in init state")
	}
	rx.mu.Lock()
	rx.cbs = cbs
	rx.mu.Unlock()
	return nil
}

// Enable attaches the group interrupt so the channel can receive.
func (rx *RxChannel) Enable() error {
	if err := rx.beginEnable("enable_rx"); err != nil {
		return err
	}
	rx.state.Store(stateEnabled)
	return nil
}

// Disable aborts an armed receive.
func (rx *RxChannel) Disable() error {
	if err := rx.beginDisable("disable_rx"); err != nil {
		return err
	}
	rx.c.hw.StopRx(rx.cl.id)
	rx.mu.Lock()
	rx.armed = false
	rx.buf = nil
	rx.state.Store(stateInit)
	rx.mu.Unlock()
	return nil
}

// Delete frees the channel and its memory. It must be disabled.
func (rx *RxChannel) Delete() error { return rx.delete("delete_rx") }

// ApplyCarrier enables (or with nil, disables) carrier demodulation for the
// following receive sessions.
func (rx *RxChannel) ApplyCarrier(cfg *CarrierConfig) error {
	const op = "apply_rx_carrier"
	var hc *hal.Carrier
	if cfg != nil {
		if !rx.c.v.RxDemodulation {
			return errcode.New(errcode.NotSupported, op, "carrier demodulation not supported")
		}
		if cfg.FrequencyHz == 0 {
			return errcode.New(errcode.InvalidArgument, op, "carrier frequency must be non-zero")
		}
		hc = &hal.Carrier{
			FrequencyHz:  cfg.FrequencyHz,
			DutyCycle:    cfg.DutyCycle,
			ActiveLow:    cfg.PolarityActiveLow,
			Demodulating: true,
		}
	}
	rx.mu.Lock()
	rx.carrier = hc
	rx.mu.Unlock()
	return nil
}

// Receive arms a session that fills buf. It returns immediately; results
// arrive through OnRecvDone. buf must stay untouched until then.
func (rx *RxChannel) Receive(buf []symbol.Symbol, cfg ReceiveConfig) error {
	const op = "receive"
	v := rx.c.v
	if len(buf) == 0 {
		return errcode.New(errcode.InvalidArgument, op, "empty buffer")
	}
	if cfg.EnablePartialRx && !v.RxPingPong && !rx.dma {
		return errcode.New(errcode.NotSupported, op, "partial receive not supported")
	}
	filter := timex.NsToTicks(cfg.SignalRangeMinNs, rx.cl.g.clockHz)
	if filter > uint64(v.MaxFilterTicks) {
		return errcode.New(errcode.InvalidArgument, op, fmt.Sprintf("signal_range_min_ns %d too big", cfg.SignalRangeMinNs))
	}
	idle := timex.NsToTicks(cfg.SignalRangeMaxNs, rx.cl.resolution)
	if idle == 0 || idle > uint64(v.MaxIdleTicks) {
		return errcode.New(errcode.InvalidArgument, op, fmt.Sprintf("signal_range_max_ns %d out of range", cfg.SignalRangeMaxNs))
	}

	rx.mu.Lock()
	defer rx.mu.Unlock()
	if !rx.enabled() {
		return errcode.New(errcode.InvalidState, op, "channel not enabled")
	}
	if rx.armed {
		return errcode.New(errcode.InvalidState, op, "receive already in progress")
	}
	rx.armed = true
	rx.session++
	rx.buf = buf
	rx.copied = 0
	rx.hwRead = 0
	rx.partial = cfg.EnablePartialRx
	rx.warned = false

	id := rx.cl.id
	rx.c.hw.ConfigureRx(id, hal.RxConfig{
		FilterTicks: uint32(filter),
		IdleTicks:   uint32(idle),
		PingPong:    cfg.EnablePartialRx || rx.dma,
		Carrier:     rx.carrier,
	})
	rx.c.hw.StartRx(id)
	Logger().Debug("rx armed",
		zap.Int("group", id.Group), zap.Int("index", id.Index),
		zap.Int("buf", len(buf)), zap.Uint64("filter_ticks", filter), zap.Uint64("idle_ticks", idle))
	return nil
}

// handle runs in interrupt context.
func (rx *RxChannel) handle(kind hal.EventKind) bool {
	switch kind {
	case hal.EventRxThreshold:
		return rx.drain(false)
	case hal.EventRxDone:
		return rx.drain(true)
	case hal.EventRxMemFull:
		rx.mu.Lock()
		if rx.armed {
			Logger().Warn("hardware memory full, received symbols truncated",
				zap.Int("group", rx.cl.id.Group), zap.Int("index", rx.cl.id.Index), zap.Int("mem_symbols", rx.cl.size))
		}
		rx.mu.Unlock()
	default:
		Logger().Warn("unexpected rx event", zap.Stringer("event", kind))
	}
	return false
}

// drain copies what the hardware has stored since the last call into the
// session buffer. In partial mode a full buffer is handed to the callback
// and reused; otherwise the excess is dropped. done ends the session.
func (rx *RxChannel) drain(done bool) bool {
	yield := false
	rx.mu.Lock()
	if !rx.armed {
		rx.mu.Unlock()
		return false
	}
	buf, session := rx.buf, rx.session
	pending := rx.c.hw.RxStatus(rx.cl.id).Written - rx.hwRead
	for pending > 0 {
		room := len(buf) - rx.copied
		if pending > room && rx.partial && rx.copied > 0 {
			chunk := buf[:rx.copied]
			rx.copied = 0
			cb := rx.cbs.OnRecvDone
			rx.mu.Unlock()
			if cb != nil && cb(rx, RxDoneEvent{Symbols: chunk}) {
				yield = true
			}
			rx.mu.Lock()
			if !rx.armed || rx.session != session {
				rx.mu.Unlock()
				return yield
			}
			continue
		}
		if room == 0 {
			if !rx.warned {
				rx.warned = true
				Logger().Warn("user buffer too small, received symbols truncated",
					zap.Int("group", rx.cl.id.Group), zap.Int("index", rx.cl.id.Index), zap.Int("buf", len(buf)))
			}
			rx.hwRead += pending
			break
		}
		n := min(room, pending)
		rx.c.hw.ReadMem(rx.cl.id, rx.hwRead, buf[rx.copied:rx.copied+n])
		rx.copied += n
		rx.hwRead += n
		pending -= n
	}
	if !done {
		rx.mu.Unlock()
		return yield
	}

	ev := RxDoneEvent{Symbols: buf[:rx.copied], IsLast: true}
	rx.armed = false
	rx.buf = nil
	cb := rx.cbs.OnRecvDone
	rx.mu.Unlock()
	if cb != nil && cb(rx, ev) {
		yield = true
	}
	return yield
}
