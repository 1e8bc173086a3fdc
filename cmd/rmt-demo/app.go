package main

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"rmt-go/drivers/irnec"
	"rmt-go/drivers/ledstrip"
	"rmt-go/hal"
	"rmt-go/hal/sim"
	"rmt-go/internal/bus"
	"rmt-go/internal/config"
	"rmt-go/rmt"
	"rmt-go/rmt/encoder"
	"rmt-go/rmt/symbol"
	"rmt-go/x/timex"
)

// Raw TX channels send bytes with these bit shapes.
const (
	rawShortNs = 2000
	rawLongNs  = 6000
)

type txEntry struct {
	name  string
	role  string
	ch    *rmt.TxChannel
	bytes *encoder.BytesEncoder
	nec   *irnec.Transmitter
	strip ledstrip.Canvas
}

type rxEntry struct {
	name string
	role string
	ch   *rmt.RxChannel
	buf  []symbol.Symbol
	rcfg rmt.ReceiveConfig
	nec  *irnec.Receiver
}

// app is a simulated board built from a plan.
type app struct {
	plan *config.Plan
	hw   *sim.Backend
	c    *rmt.Controller
	bus  *bus.Bus
	conn *bus.Connection
	log  *zap.Logger

	tx    map[string]*txEntry
	rx    map[string]*rxEntry
	syncs map[string]*rmt.SyncManager

	cancel context.CancelFunc
}

func newApp(p *config.Plan, log *zap.Logger) (*app, error) {
	v, ok := hal.Lookup(p.Variant)
	if !ok {
		return nil, fmt.Errorf("unknown variant %q", p.Variant)
	}
	hw := sim.New(v, sim.WithTimeScale(p.TimeScale))
	b := bus.NewBus(32)
	a := &app{
		plan:  p,
		hw:    hw,
		c:     rmt.NewController(hw),
		bus:   b,
		conn:  b.NewConnection("demo"),
		log:   log,
		tx:    make(map[string]*txEntry),
		rx:    make(map[string]*rxEntry),
		syncs: make(map[string]*rmt.SyncManager),
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	// Receivers first so loopback transmitters find their listener.
	for _, r := range a.plan.RX {
		if err := a.addRx(ctx, r); err != nil {
			return fmt.Errorf("rx %q: %w", r.Name, err)
		}
	}
	for _, t := range a.plan.TX {
		if err := a.addTx(t); err != nil {
			return fmt.Errorf("tx %q: %w", t.Name, err)
		}
	}
	for _, s := range a.plan.Sync {
		var chans []*rmt.TxChannel
		for _, m := range s.Members {
			chans = append(chans, a.tx[m].ch)
		}
		sm, err := rmt.NewSyncManager(chans)
		if err != nil {
			return fmt.Errorf("sync %q: %w", s.Name, err)
		}
		a.syncs[s.Name] = sm
	}
	return nil
}

func (a *app) addTx(t config.TxPlan) error {
	ch, err := a.c.NewTxChannel(rmt.TxChannelConfig{
		GPIO:            t.GPIO,
		ResolutionHz:    t.ResolutionHz,
		MemBlockSymbols: t.MemSymbols,
		TransQueueDepth: t.QueueDepth,
		IntrPriority:    t.Priority,
		WithDMA:         t.DMA,
		InvertOut:       t.Invert,
		IOLoopBack:      t.Loopback,
	})
	if err != nil {
		return err
	}
	e := &txEntry{name: t.Name, role: t.Role, ch: ch}
	a.tx[t.Name] = e

	done := bus.T("tx", t.Name, "done")
	if err := ch.RegisterEventCallbacks(rmt.TxEventCallbacks{
		OnTransDone: func(_ *rmt.TxChannel, ev rmt.TxDoneEvent) bool {
			a.conn.Publish(&bus.Message{Topic: done, Payload: map[string]any{"symbols": ev.NumSymbols}})
			return false
		},
	}); err != nil {
		return err
	}
	if err := ch.Enable(); err != nil {
		return err
	}

	switch t.Role {
	case config.RoleNEC:
		e.nec, err = irnec.NewTransmitter(ch)
	case config.RoleLEDStrip:
		var s *ledstrip.Strip
		if s, err = ledstrip.New(ch, ledstrip.Config{Width: int16(t.Pixels)}); err == nil {
			e.strip = s
		}
	default:
		ticks := func(ns uint64) uint32 { return uint32(timex.NsToTicks(ns, ch.ResolutionHz())) }
		e.bytes, err = encoder.NewBytesEncoder(encoder.BytesConfig{
			Bit0:     symbol.New(1, ticks(rawShortNs), 0, ticks(rawLongNs)),
			Bit1:     symbol.New(1, ticks(rawLongNs), 0, ticks(rawShortNs)),
			MSBFirst: true,
		})
	}
	return err
}

func (a *app) addRx(ctx context.Context, r config.RxPlan) error {
	ch, err := a.c.NewRxChannel(rmt.RxChannelConfig{
		GPIO:            r.GPIO,
		ResolutionHz:    r.ResolutionHz,
		MemBlockSymbols: r.MemSymbols,
		IntrPriority:    r.Priority,
		WithDMA:         r.DMA,
		InvertIn:        r.Invert,
	})
	if err != nil {
		return err
	}
	e := &rxEntry{
		name: r.Name,
		role: r.Role,
		ch:   ch,
		buf:  make([]symbol.Symbol, r.BufSymbols),
		rcfg: rmt.ReceiveConfig{SignalRangeMinNs: r.MinNs, SignalRangeMaxNs: r.MaxNs},
	}
	a.rx[r.Name] = e

	if r.Role == config.RoleNEC {
		if e.nec, err = irnec.NewReceiver(ch, 8); err != nil {
			return err
		}
		if err := e.nec.Start(); err != nil {
			return err
		}
		go a.pumpNEC(ctx, e)
		return nil
	}

	topic := bus.T("rx", r.Name)
	if err := ch.RegisterEventCallbacks(rmt.RxEventCallbacks{
		OnRecvDone: func(ch *rmt.RxChannel, ev rmt.RxDoneEvent) bool {
			a.conn.Publish(&bus.Message{Topic: topic, Payload: map[string]any{
				"symbols": len(ev.Symbols),
				"last":    ev.IsLast,
			}})
			if ev.IsLast {
				if err := ch.Receive(e.buf, e.rcfg); err != nil {
					a.log.Warn("re-arm failed", zap.String("rx", e.name), zap.Error(err))
				}
			}
			return false
		},
	}); err != nil {
		return err
	}
	if err := ch.Enable(); err != nil {
		return err
	}
	return ch.Receive(e.buf, e.rcfg)
}

// pumpNEC moves decoded frames from the receiver onto the bus.
func (a *app) pumpNEC(ctx context.Context, e *rxEntry) {
	topic := bus.T("ir", e.name)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-e.nec.Frames():
			payload := map[string]any{"repeat": f.Repeat}
			if !f.Repeat {
				payload["address"] = f.Code.Address
				payload["command"] = f.Code.Command
				payload["valid"] = f.Valid()
			}
			a.conn.Publish(&bus.Message{Topic: topic, Payload: payload})
		}
	}
}

func (a *app) txNamed(name string) (*txEntry, error) {
	e, ok := a.tx[name]
	if !ok {
		return nil, fmt.Errorf("no tx channel %q", name)
	}
	return e, nil
}

func (a *app) rxNamed(name string) (*rxEntry, error) {
	e, ok := a.rx[name]
	if !ok {
		return nil, fmt.Errorf("no rx channel %q", name)
	}
	return e, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// close tears everything down in reverse order. Errors are logged only.
func (a *app) close() {
	a.cancel()
	for _, name := range sortedKeys(a.syncs) {
		if err := a.syncs[name].Delete(); err != nil {
			a.log.Warn("sync delete", zap.String("sync", name), zap.Error(err))
		}
	}
	for _, name := range sortedKeys(a.tx) {
		ch := a.tx[name].ch
		_ = ch.Disable()
		if err := ch.Delete(); err != nil {
			a.log.Warn("tx delete", zap.String("tx", name), zap.Error(err))
		}
	}
	for _, name := range sortedKeys(a.rx) {
		ch := a.rx[name].ch
		_ = ch.Disable()
		if err := ch.Delete(); err != nil {
			a.log.Warn("rx delete", zap.String("rx", name), zap.Error(err))
		}
	}
	a.conn.Disconnect()
	a.hw.Close()
}
