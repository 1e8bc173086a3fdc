package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rmt-go/errcode"
	"rmt-go/hal"
	"rmt-go/rmt/symbol"
)

var (
	tx0 = hal.ChanID{Group: 0, Dir: hal.TX, Index: 0}
	tx1 = hal.ChanID{Group: 0, Dir: hal.TX, Index: 1}
	rx0 = hal.ChanID{Group: 0, Dir: hal.RX, Index: 0}
)

// recorder collects interrupts; react, when set, runs inside the handler.
type recorder struct {
	events chan hal.Event
	react  func(hal.Event)
}

func newRecorder() *recorder { return &recorder{events: make(chan hal.Event, 256)} }

func (r *recorder) handle(ev hal.Event) hal.IntrResult {
	if r.react != nil {
		r.react(ev)
	}
	r.events <- ev
	return hal.IntrHandled
}

func (r *recorder) wait(t *testing.T, ch hal.ChanID, kind hal.EventKind) {
	t.Helper()
	r.waitAll(t, kind, ch)
}

// waitAll returns once kind has been seen on every channel in chs, in any
// order.
func (r *recorder) waitAll(t *testing.T, kind hal.EventKind, chs ...hal.ChanID) {
	t.Helper()
	pending := make(map[hal.ChanID]bool, len(chs))
	for _, ch := range chs {
		pending[ch] = true
	}
	deadline := time.After(2 * time.Second)
	for len(pending) > 0 {
		select {
		case ev := <-r.events:
			if ev.Kind == kind {
				delete(pending, ev.Chan)
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s on %+v", kind, pending)
		}
	}
}

func newBackend(t *testing.T) (*Backend, *recorder) {
	t.Helper()
	b := New(hal.Variants["esp32s3"])
	t.Cleanup(b.Close)
	b.SelectClock(0, hal.ClockDefault)
	r := newRecorder()
	_, err := b.AllocIntr(0, 1, r.handle)
	require.NoError(t, err)
	return b, r
}

func TestMemoryWrapsWithinRegion(t *testing.T) {
	b, _ := newBackend(t)
	b.SetRegion(tx0, hal.Region{Base: 8, Size: 4})
	in := []symbol.Symbol{symbol.New(1, 1, 0, 1), symbol.New(1, 2, 0, 2), symbol.New(1, 3, 0, 3)}
	b.WriteMem(tx0, 3, in)

	out := make([]symbol.Symbol, 4)
	b.ReadMem(tx0, 0, out)
	require.Equal(t, in[1], out[0])
	require.Equal(t, in[2], out[1])
	require.Equal(t, in[0], out[3])
}

func TestOutputPinHasOneDriver(t *testing.T) {
	b, _ := newBackend(t)
	require.NoError(t, b.BindPin(tx0, 4, hal.PinMode{Output: true}))
	err := b.BindPin(tx1, 4, hal.PinMode{Output: true})
	require.ErrorIs(t, err, errcode.InvalidState)

	b.ReleasePin(tx0, 4)
	require.NoError(t, b.BindPin(tx1, 4, hal.PinMode{Output: true}))

	require.ErrorIs(t, b.BindPin(tx0, 99, hal.PinMode{Output: true}), errcode.InvalidArgument)
}

func TestLoopbackCapture(t *testing.T) {
	b, r := newBackend(t)

	b.SetRegion(tx0, hal.Region{Base: 0, Size: 48})
	b.SetDivider(tx0, 80)
	b.ConfigureTx(tx0, hal.TxConfig{})
	require.NoError(t, b.BindPin(tx0, 5, hal.PinMode{Output: true, Input: true, Loopback: true}))

	b.SetRegion(rx0, hal.Region{Base: 48, Size: 48})
	b.SetDivider(rx0, 80)
	b.ConfigureRx(rx0, hal.RxConfig{IdleTicks: 1000})
	require.NoError(t, b.BindPin(rx0, 5, hal.PinMode{Input: true}))

	b.EnableIntr(tx0, true)
	b.EnableIntr(rx0, true)

	b.WriteMem(tx0, 0, []symbol.Symbol{symbol.New(1, 100, 0, 200), symbol.New(1, 300, 0, 400), symbol.EOF})
	b.StartRx(rx0)
	b.StartTx(tx0)

	r.wait(t, rx0, hal.EventRxDone)
	st := b.RxStatus(rx0)
	require.Equal(t, 2, st.Written)
	got := make([]symbol.Symbol, st.Written)
	b.ReadMem(rx0, 0, got)
	require.Equal(t, []symbol.Symbol{
		symbol.New(1, 100, 0, 200),
		{Level0: 1, Duration0: 300, Level1: 0, Duration1: 0},
	}, got)
}

func TestGlitchFilterAndMemFull(t *testing.T) {
	b, r := newBackend(t)
	b.SetRegion(rx0, hal.Region{Base: 0, Size: 2})
	b.SetDivider(rx0, 80) // 1 MHz
	// 80 ticks at 80 MHz = 1us filter.
	b.ConfigureRx(rx0, hal.RxConfig{IdleTicks: 500, FilterTicks: 80})
	require.NoError(t, b.BindPin(rx0, 7, hal.PinMode{Input: true}))
	b.EnableIntr(rx0, true)
	b.StartRx(rx0)

	us := time.Microsecond
	b.Inject(7, []Segment{
		{Level: 1, Duration: 100 * us},
		{Level: 0, Duration: 500 * time.Nanosecond}, // glitch
		{Level: 1, Duration: 100 * us},
		{Level: 0, Duration: 50 * us},
		{Level: 1, Duration: 10 * us},
		{Level: 0, Duration: 10 * us},
		{Level: 1, Duration: 10 * us},
		{Level: 0, Duration: Forever},
	})
	r.wait(t, rx0, hal.EventRxMemFull)
	r.wait(t, rx0, hal.EventRxDone)

	got := make([]symbol.Symbol, b.RxStatus(rx0).Written)
	require.Len(t, got, 2)
	b.ReadMem(rx0, 0, got)
	require.Equal(t, uint16(200), got[0].Duration0)
	require.Equal(t, uint16(50), got[0].Duration1)
}

func TestThresholdRefill(t *testing.T) {
	b, r := newBackend(t)
	b.SetRegion(tx0, hal.Region{Base: 0, Size: 8})
	b.SetDivider(tx0, 80)
	require.NoError(t, b.BindPin(tx0, 2, hal.PinMode{Output: true}))
	tap := b.Tap(2)
	b.EnableIntr(tx0, true)

	frame := make([]symbol.Symbol, 8)
	for i := range frame {
		frame[i] = symbol.New(1, 10, 0, 10)
	}
	b.WriteMem(tx0, 0, frame)

	thresholds := 0
	r.react = func(ev hal.Event) {
		if ev.Kind == hal.EventTxThreshold {
			thresholds++
			if thresholds == 1 {
				b.WriteMem(tx0, 0, []symbol.Symbol{symbol.EOF})
			}
		}
	}
	b.StartTx(tx0)
	r.wait(t, tx0, hal.EventTxDone)

	require.Equal(t, 2, thresholds)
	segs := tap.Segments()
	require.Len(t, segs, 8*2+1)
	require.Equal(t, Forever, segs[len(segs)-1].Duration)
}

func TestSyncStartsTogether(t *testing.T) {
	b, r := newBackend(t)
	for _, ch := range []hal.ChanID{tx0, tx1} {
		b.SetRegion(ch, hal.Region{Base: ch.Index * 48, Size: 48})
		b.SetDivider(ch, 80)
		b.WriteMem(ch, 0, []symbol.Symbol{symbol.New(1, 5, 0, 5), symbol.EOF})
		b.EnableIntr(ch, true)
	}
	b.SetSync(0, []int{0, 1})

	b.StartTx(tx0)
	time.Sleep(10 * time.Millisecond)
	require.True(t, b.LastStart(tx0).IsZero(), "member started before the group was complete")

	b.StartTx(tx1)
	r.waitAll(t, hal.EventTxDone, tx0, tx1)
	require.False(t, b.LastStart(tx0).IsZero())
	require.Equal(t, b.LastStart(tx0), b.LastStart(tx1))

	// Spent until reset: a lone start goes straight out.
	first := b.LastStart(tx0)
	b.StartTx(tx0)
	r.wait(t, tx0, hal.EventTxDone)
	require.True(t, b.LastStart(tx0).After(first))
}

func TestMaskedInterruptsAreDropped(t *testing.T) {
	b, r := newBackend(t)
	b.SetRegion(tx0, hal.Region{Base: 0, Size: 48})
	b.SetDivider(tx0, 80)
	b.WriteMem(tx0, 0, []symbol.Symbol{symbol.EOF})
	b.StartTx(tx0)

	require.Eventually(t, func() bool { return b.Drops(0) == 1 }, time.Second, time.Millisecond)
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}
