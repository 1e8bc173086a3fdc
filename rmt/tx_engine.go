package rmt

import (
	"context"

	"go.uber.org/zap"

	"rmt-go/errcode"
	"rmt-go/hal"
	"rmt-go/rmt/encoder"
	"rmt-go/rmt/symbol"
	"rmt-go/x/mathx"
)

// transaction is one queued transmission. Descriptors come from a fixed pool
// and are recycled on completion.
type transaction struct {
	encode func(w symbol.Writer) (int, encoder.State)
	reset  func() error

	loop      int // as requested: 0, N or -1
	remaining int // loops not yet armed
	eot       uint8

	symbols      int
	doneEncoding bool
	needEOF      bool
}

// Transmit queues payload for encoding by enc on tx. It waits for a free
// descriptor unless cfg.QueueNonBlocking is set; ctx bounds that wait and
// a nil ctx waits without bound.
// A disabled channel accepts transactions and starts them once enabled.
func Transmit[P any](ctx context.Context, tx *TxChannel, enc encoder.Encoder[P], payload P, cfg TransmitConfig) error {
	if tx == nil || enc == nil {
		return errcode.New(errcode.InvalidArgument, "transmit", "nil channel or encoder")
	}
	return tx.submit(ctx, func(w symbol.Writer) (int, encoder.State) {
		return enc.Encode(w, payload)
	}, enc.Reset, cfg)
}

func (tx *TxChannel) submit(ctx context.Context, encode func(symbol.Writer) (int, encoder.State), reset func() error, cfg TransmitConfig) error {
	const op = "transmit"
	if ctx == nil {
		ctx = context.Background()
	}
	v := tx.c.v
	switch {
	case cfg.LoopCount < -1:
		return errcode.New(errcode.InvalidArgument, op, "invalid loop count")
	case cfg.LoopCount != 0 && !v.TxLoop:
		return errcode.New(errcode.NotSupported, op, "loop transmission not supported")
	case cfg.LoopCount > 0 && !v.TxLoopCount:
		return errcode.New(errcode.NotSupported, op, "finite loop count not supported")
	case cfg.LoopCount != 0 && tx.dma:
		return errcode.New(errcode.NotSupported, op, "loop transmission not supported with DMA")
	}
	if tx.state.Load() == stateDeleted {
		return errcode.New(errcode.InvalidState, op, "channel deleted")
	}

	var t *transaction
	select {
	case t = <-tx.free:
	default:
		if cfg.QueueNonBlocking {
			return errcode.Wrap(errcode.InvalidState, op, ErrQueueFull)
		}
		select {
		case t = <-tx.free:
		case <-ctx.Done():
			return errcode.Wrap(errcode.Timeout, op, ctx.Err())
		}
	}
	*t = transaction{
		encode:    encode,
		reset:     reset,
		loop:      cfg.LoopCount,
		remaining: cfg.LoopCount,
		eot:       cfg.EOTLevel & 1,
	}
	tx.ready <- t
	tx.kick()
	return nil
}

// kick starts the next queued transaction if the channel is idle.
func (tx *TxChannel) kick() {
	tx.mu.Lock()
	t, seq := tx.dispatchLocked()
	tx.mu.Unlock()
	if t != nil {
		tx.finish(t, seq)
	}
}

// dispatchLocked pops the next transaction, fills channel memory and starts
// the hardware. A transaction that has to complete at once (a looped frame
// too large for memory) is returned, still current, for the caller to
// finish without mu.
func (tx *TxChannel) dispatchLocked() (*transaction, uint64) {
	if tx.cur != nil || !tx.enabled() {
		return nil, 0
	}
	var t *transaction
	select {
	case t = <-tx.ready:
	default:
		return nil, 0
	}
	tx.cur = t
	tx.seq++

	hw, id := tx.c.hw, tx.cl.id
	hw.ConfigureTx(id, hal.TxConfig{EOTLevel: t.eot, Carrier: tx.carrier})
	tx.w.off, tx.w.end = 0, tx.cl.size
	tx.encodeLocked(t)

	if t.loop != 0 && (!t.doneEncoding || t.needEOF) {
		Logger().Error("looped frame does not fit channel memory",
			zap.Int("group", id.Group), zap.Int("index", id.Index), zap.Int("mem_symbols", tx.cl.size))
		if err := t.reset(); err != nil {
			Logger().Warn("encoder reset failed", zap.Error(err))
		}
		t.symbols = 0
		return t, tx.seq
	}
	hw.SetTxLoop(id, tx.armLoop(t))
	Logger().Debug("tx dispatch",
		zap.Int("group", id.Group), zap.Int("index", id.Index),
		zap.Int("symbols", t.symbols), zap.Int("loop", t.loop), zap.Int("batches", tx.loopBatches(t)))
	hw.StartTx(id)
	return nil, 0
}

// loopBatches is the number of hardware loop runs a finite loop needs.
func (tx *TxChannel) loopBatches(t *transaction) int {
	limit := tx.c.v.LoopCountMax
	if t.loop <= 0 || limit <= 0 {
		return 1
	}
	return int(mathx.CeilDiv(uint(t.loop), uint(limit)))
}

// armLoop returns the count for the next hardware loop batch.
func (tx *TxChannel) armLoop(t *transaction) int {
	if t.loop <= 0 {
		return t.loop
	}
	batch := t.remaining
	if limit := tx.c.v.LoopCountMax; limit > 0 && batch > limit {
		batch = limit
	}
	t.remaining -= batch
	return batch
}

// encodeLocked runs the encoder into the current memory window and writes
// the end marker once the encoder is complete.
func (tx *TxChannel) encodeLocked(t *transaction) {
	n, st := t.encode(&tx.w)
	t.symbols += n
	switch {
	case st.Has(encoder.Complete):
		t.doneEncoding = true
		if tx.w.Free() > 0 {
			tx.writeEOF(t)
		} else {
			t.needEOF = true
		}
	case st.Has(encoder.MemFull):
	default:
		Logger().Error("encoder returned neither complete nor mem_full",
			zap.Int("group", tx.cl.id.Group), zap.Int("index", tx.cl.id.Index), zap.Stringer("state", st))
		t.doneEncoding = true
		if tx.w.Free() > 0 {
			tx.writeEOF(t)
		} else {
			t.needEOF = true
		}
	}
}

func (tx *TxChannel) writeEOF(t *transaction) {
	tx.w.Write(symbol.EOF)
	t.symbols++
	t.needEOF = false
}

func (tx *TxChannel) recycle(t *transaction) {
	*t = transaction{}
	select {
	case tx.free <- t:
	default:
		panic("rmt: transaction descriptor pool overflow")
	}
}

// handle runs in interrupt context.
func (tx *TxChannel) handle(kind hal.EventKind) bool {
	switch kind {
	case hal.EventTxThreshold:
		tx.onThreshold()
	case hal.EventTxDone:
		return tx.onDone()
	case hal.EventTxLoopEnd:
		return tx.onLoopEnd()
	default:
		Logger().Warn("unexpected tx event", zap.Stringer("event", kind))
	}
	return false
}

// onThreshold refills the half of memory the hardware just drained.
func (tx *TxChannel) onThreshold() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	t := tx.cur
	if t == nil || t.loop != 0 || !tx.enabled() {
		return
	}
	size := tx.cl.size
	if tx.w.off >= size {
		tx.w.off = 0
	}
	tx.w.end = tx.w.off + size/2
	if t.doneEncoding {
		if t.needEOF {
			tx.writeEOF(t)
		}
		return
	}
	tx.encodeLocked(t)
}

func (tx *TxChannel) onDone() bool {
	tx.mu.Lock()
	t, seq := tx.cur, tx.seq
	ok := t != nil && tx.enabled()
	tx.mu.Unlock()
	if !ok {
		return false
	}
	return tx.finish(t, seq)
}

// onLoopEnd re-arms the next batch of a long finite loop or completes it.
func (tx *TxChannel) onLoopEnd() bool {
	tx.mu.Lock()
	t, seq := tx.cur, tx.seq
	if t == nil || t.loop <= 0 || !tx.enabled() {
		tx.mu.Unlock()
		return false
	}
	hw, id := tx.c.hw, tx.cl.id
	if !tx.c.v.TxLoopAutoStop {
		hw.StopTx(id)
	}
	if t.remaining > 0 {
		hw.SetTxLoop(id, tx.armLoop(t))
		hw.StartTx(id)
		tx.mu.Unlock()
		return false
	}
	tx.mu.Unlock()
	return tx.finish(t, seq)
}

// finish reports t's completion, recycles it and dispatches the next
// transaction. It must be called without mu so the callback may transmit.
func (tx *TxChannel) finish(t *transaction, seq uint64) bool {
	yield := false
	for t != nil {
		tx.mu.Lock()
		if tx.cur != t || tx.seq != seq {
			tx.mu.Unlock()
			return yield
		}
		cb := tx.cbs.OnTransDone
		ev := TxDoneEvent{NumSymbols: t.symbols}
		tx.mu.Unlock()

		if cb != nil && cb(tx, ev) {
			yield = true
		}

		tx.mu.Lock()
		if tx.cur == t && tx.seq == seq {
			tx.cur = nil
			tx.recycle(t)
			t, seq = tx.dispatchLocked()
		} else {
			t = nil
		}
		tx.mu.Unlock()
	}
	return yield
}
