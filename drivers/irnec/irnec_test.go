package irnec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rmt-go/hal"
	"rmt-go/hal/sim"
	"rmt-go/rmt"
	"rmt-go/rmt/encoder"
	"rmt-go/rmt/symbol"
)

func loopback(t *testing.T, depth int) (*Transmitter, *Receiver) {
	t.Helper()
	b := sim.New(hal.Variants["esp32s3"])
	t.Cleanup(b.Close)
	c := rmt.NewController(b)

	tx, err := c.NewTxChannel(rmt.TxChannelConfig{GPIO: 5, ResolutionHz: 1_000_000, TransQueueDepth: 4, IOLoopBack: true})
	require.NoError(t, err)
	rx, err := c.NewRxChannel(rmt.RxChannelConfig{GPIO: 5, ResolutionHz: 1_000_000})
	require.NoError(t, err)

	r, err := NewReceiver(rx, depth)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	require.NoError(t, tx.Enable())
	tr, err := NewTransmitter(tx)
	require.NoError(t, err)
	return tr, r
}

func next(t *testing.T, r *Receiver) Frame {
	t.Helper()
	select {
	case f := <-r.Frames():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	return Frame{}
}

func TestSendReceive(t *testing.T) {
	tr, r := loopback(t, 4)
	ctx := context.Background()

	code := encoder.NECStandard(0x04, 0x08)
	require.NoError(t, tr.Send(ctx, code))
	f := next(t, r)
	require.False(t, f.Repeat)
	require.Equal(t, code, f.Code)
	require.True(t, f.Valid())

	require.NoError(t, tr.Repeat(ctx))
	require.True(t, next(t, r).Repeat)

	ext := encoder.NECScanCode{Address: 0x1234, Command: 0x00ff}
	require.NoError(t, tr.Send(ctx, ext))
	f = next(t, r)
	require.Equal(t, ext, f.Code)
	require.False(t, f.Valid())
	require.Zero(t, r.Invalid())
}

func TestFullChannelDrops(t *testing.T) {
	tr, r := loopback(t, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Send(ctx, encoder.NECStandard(uint8(i), 1)))
	}
	require.Eventually(t, func() bool { return r.Dropped() == 2 }, 2*time.Second, time.Millisecond)
	require.Equal(t, uint8(0), uint8(next(t, r).Code.Address))
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode(nil, 1_000_000)
	require.ErrorIs(t, err, ErrNotNEC)

	// Right leader, too few bits.
	_, err = Decode([]symbol.Symbol{symbol.New(1, 9000, 0, 4500), symbol.New(1, 560, 0, 0)}, 1_000_000)
	require.ErrorIs(t, err, ErrNotNEC)

	// Leader 40% short.
	_, err = Decode([]symbol.Symbol{symbol.New(1, 5400, 0, 2250), symbol.New(1, 560, 0, 0)}, 1_000_000)
	require.ErrorIs(t, err, ErrNotNEC)

	// A repeat 20% slow still decodes, here at half-rate ticks.
	f, err := Decode([]symbol.Symbol{symbol.New(1, 10800/2, 0, 2700/2), symbol.New(1, 560, 0, 0)}, 500_000)
	require.NoError(t, err)
	require.True(t, f.Repeat)
}
