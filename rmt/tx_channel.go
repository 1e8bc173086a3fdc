package rmt

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"rmt-go/errcode"
	"rmt-go/hal"
	"rmt-go/rmt/symbol"
)

// TxChannel is a transmit channel with a bounded transaction queue.
type TxChannel struct {
	base

	// free holds idle descriptors; ready holds queued ones in FIFO order.
	// Both have capacity TransQueueDepth.
	free  chan *transaction
	ready chan *transaction

	mu      sync.Mutex
	cur     *transaction
	seq     uint64
	w       memWriter
	cbs     TxEventCallbacks
	carrier *hal.Carrier

	// guarded by the controller mutex
	syncMgr *SyncManager
}

// NewTxChannel allocates a transmit channel. The channel starts disabled.
func (c *Controller) NewTxChannel(cfg TxChannelConfig) (*TxChannel, error) {
	const op = "new_tx_channel"
	if cfg.TransQueueDepth <= 0 {
		return nil, errcode.New(errcode.InvalidArgument, op, "trans_queue_depth must be positive")
	}
	cl, err := c.allocate(chanRequest{
		op:         op,
		dir:        hal.TX,
		gpio:       cfg.GPIO,
		clock:      cfg.ClockSource,
		resolution: cfg.ResolutionHz,
		memSymbols: cfg.MemBlockSymbols,
		priority:   cfg.IntrPriority,
		dma:        cfg.WithDMA,
		pin: hal.PinMode{
			Output:    true,
			Input:     cfg.IOLoopBack,
			Loopback:  cfg.IOLoopBack,
			OpenDrain: cfg.IOOpenDrain,
			Invert:    cfg.InvertOut,
		},
	})
	if err != nil {
		return nil, err
	}

	tx := &TxChannel{
		base:  base{c: c, cl: cl, gpio: cfg.GPIO, dma: cfg.WithDMA},
		free:  make(chan *transaction, cfg.TransQueueDepth),
		ready: make(chan *transaction, cfg.TransQueueDepth),
	}
	tx.w = memWriter{hw: c.hw, id: cl.id}
	for i := 0; i < cfg.TransQueueDepth; i++ {
		tx.free <- &transaction{}
	}
	cl.g.txs[cl.id.Index].Store(tx)
	return tx, nil
}

// RegisterEventCallbacks installs callbacks. The channel must be disabled.
func (tx *TxChannel) RegisterEventCallbacks(cbs TxEventCallbacks) error {
	if tx.state.Load() != stateInit {
		return errcode.New(errcode.InvalidState, "register_tx_callbacks", "channel not in init state")
	}
	tx.mu.Lock()
	tx.cbs = cbs
	tx.mu.Unlock()
	return nil
}

// Enable makes the channel able to transmit and starts any queued
// transaction.
func (tx *TxChannel) Enable() error {
	if err := tx.beginEnable("enable_tx"); err != nil {
		return err
	}
	tx.state.Store(stateEnabled)
	Logger().Debug("tx enabled", zap.Int("group", tx.cl.id.Group), zap.Int("index", tx.cl.id.Index))
	tx.kick()
	return nil
}

// Disable stops the transaction in flight, including an endless loop, and
// returns its descriptor to the pool. Queued transactions stay queued.
func (tx *TxChannel) Disable() error {
	if err := tx.beginDisable("disable_tx"); err != nil {
		return err
	}
	// StopTx may wait for the engine, which may be waiting on our handler:
	// it must run without mu.
	tx.c.hw.StopTx(tx.cl.id)

	tx.mu.Lock()
	if t := tx.cur; t != nil {
		tx.cur = nil
		if err := t.reset(); err != nil {
			Logger().Warn("encoder reset failed", zap.Error(err))
		}
		tx.recycle(t)
	}
	tx.state.Store(stateInit)
	tx.mu.Unlock()
	Logger().Debug("tx disabled", zap.Int("group", tx.cl.id.Group), zap.Int("index", tx.cl.id.Index))
	return nil
}

// Delete frees the channel. It must be disabled and not part of a sync
// manager.
func (tx *TxChannel) Delete() error {
	const op = "delete_tx"
	tx.c.mu.Lock()
	synced := tx.syncMgr != nil
	tx.c.mu.Unlock()
	if synced {
		return errcode.New(errcode.InvalidState, op, "channel is bound to a sync manager")
	}
	return tx.delete(op)
}

// ApplyCarrier sets (or with nil, clears) carrier modulation. It takes
// effect from the next transaction.
func (tx *TxChannel) ApplyCarrier(cfg *CarrierConfig) error {
	const op = "apply_tx_carrier"
	var hc *hal.Carrier
	if cfg != nil {
		if cfg.FrequencyHz == 0 {
			return errcode.New(errcode.InvalidArgument, op, "carrier frequency must be non-zero")
		}
		if cfg.DutyCycle <= 0 || cfg.DutyCycle >= 1 {
			return errcode.New(errcode.InvalidArgument, op, "duty cycle must be in (0,1)")
		}
		hc = &hal.Carrier{
			FrequencyHz: cfg.FrequencyHz,
			DutyCycle:   cfg.DutyCycle,
			ActiveLow:   cfg.PolarityActiveLow,
			AlwaysOn:    cfg.AlwaysOn,
		}
	}
	tx.mu.Lock()
	tx.carrier = hc
	tx.mu.Unlock()
	return nil
}

// WaitAllDone blocks until every queued and in-flight transaction has
// completed. A negative timeout waits forever.
func (tx *TxChannel) WaitAllDone(timeout time.Duration) error {
	depth := cap(tx.free)
	held := make([]*transaction, 0, depth)
	defer func() {
		for _, t := range held {
			tx.free <- t
		}
	}()

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for len(held) < depth {
		select {
		case t := <-tx.free:
			held = append(held, t)
			continue
		default:
		}
		select {
		case t := <-tx.free:
			held = append(held, t)
		case <-expired:
			return errcode.New(errcode.Timeout, "wait_all_done", "transactions still pending")
		}
	}
	return nil
}

// memWriter exposes the window [off, end) of channel memory to an encoder.
type memWriter struct {
	hw       hal.Backend
	id       hal.ChanID
	off, end int
}

func (w *memWriter) Free() int { return w.end - w.off }

func (w *memWriter) Write(syms ...symbol.Symbol) int {
	n := min(len(syms), w.Free())
	if n <= 0 {
		return 0
	}
	w.hw.WriteMem(w.id, w.off, syms[:n])
	w.off += n
	return n
}
