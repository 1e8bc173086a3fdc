package rmt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rmt-go/errcode"
	"rmt-go/rmt/encoder"
)

func TestSyncManagerAlignsStarts(t *testing.T) {
	c, b := newController(t, variant("esp32s3"))
	a := newTx(t, c, TxChannelConfig{GPIO: 1})
	z := newTx(t, c, TxChannelConfig{GPIO: 2})
	require.NoError(t, a.Enable())
	require.NoError(t, z.Enable())

	sm, err := NewSyncManager([]*TxChannel{a, z})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Transmit(ctx, a, encoder.NewCopyEncoder(), frame(4), TransmitConfig{}))
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.LastStart(a.ID()).IsZero(), "held until every member is ready")
	require.NoError(t, Transmit(ctx, z, encoder.NewCopyEncoder(), frame(4), TransmitConfig{}))
	require.NoError(t, a.WaitAllDone(time.Second))
	require.NoError(t, z.WaitAllDone(time.Second))

	skew := b.LastStart(a.ID()).Sub(b.LastStart(z.ID()))
	require.LessOrEqual(t, skew.Abs(), time.Millisecond)

	// Without the manager the offset follows the caller.
	require.NoError(t, sm.Delete())
	require.NoError(t, Transmit(ctx, a, encoder.NewCopyEncoder(), frame(4), TransmitConfig{}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, Transmit(ctx, z, encoder.NewCopyEncoder(), frame(4), TransmitConfig{}))
	require.NoError(t, a.WaitAllDone(time.Second))
	require.NoError(t, z.WaitAllDone(time.Second))
	skew = b.LastStart(z.ID()).Sub(b.LastStart(a.ID()))
	require.GreaterOrEqual(t, skew, 20*time.Millisecond)
}

func TestSyncManagerResetRearms(t *testing.T) {
	c, b := newController(t, variant("esp32c3"))
	a := newTx(t, c, TxChannelConfig{GPIO: 1})
	z := newTx(t, c, TxChannelConfig{GPIO: 2})
	require.NoError(t, a.Enable())
	require.NoError(t, z.Enable())
	sm, err := NewSyncManager([]*TxChannel{a, z})
	require.NoError(t, err)
	ctx := context.Background()

	for round := 0; round < 2; round++ {
		require.NoError(t, Transmit(ctx, a, encoder.NewCopyEncoder(), frame(2), TransmitConfig{}))
		require.NoError(t, Transmit(ctx, z, encoder.NewCopyEncoder(), frame(2), TransmitConfig{}))
		require.NoError(t, a.WaitAllDone(time.Second))
		require.NoError(t, z.WaitAllDone(time.Second))
		require.Equal(t, b.LastStart(a.ID()), b.LastStart(z.ID()))
		require.NoError(t, sm.Reset())
	}
	require.NoError(t, sm.Delete())
	require.ErrorIs(t, sm.Reset(), errcode.InvalidState)
}

func TestSyncManagerValidation(t *testing.T) {
	_, err := NewSyncManager(nil)
	require.ErrorIs(t, err, errcode.InvalidArgument)

	esp32, _ := newController(t, variant("esp32"))
	old := newTx(t, esp32, TxChannelConfig{GPIO: 1})
	_, err = NewSyncManager([]*TxChannel{old})
	require.ErrorIs(t, err, errcode.NotSupported)

	c, _ := newController(t, variant("esp32s3"))
	var chans []*TxChannel
	for i := 0; i < 4; i++ {
		chans = append(chans, newTx(t, c, TxChannelConfig{GPIO: i + 1}))
	}
	_, err = NewSyncManager(chans[:2])
	require.ErrorIs(t, err, errcode.InvalidState, "members must be enabled")

	for _, tx := range chans {
		require.NoError(t, tx.Enable())
	}
	sm, err := NewSyncManager(chans[:2])
	require.NoError(t, err)

	_, err = NewSyncManager(chans[1:3])
	require.ErrorIs(t, err, errcode.InvalidState, "already synced")
	_, err = NewSyncManager(chans[2:])
	require.ErrorIs(t, err, errcode.NotFound, "one manager per group")

	require.NoError(t, chans[0].Disable())
	require.ErrorIs(t, chans[0].Delete(), errcode.InvalidState)
	require.NoError(t, sm.Delete())
	require.NoError(t, chans[0].Delete())

	other, _ := newController(t, variant("esp32s3"))
	foreign := newTx(t, other, TxChannelConfig{GPIO: 1})
	require.NoError(t, foreign.Enable())
	_, err = NewSyncManager([]*TxChannel{chans[1], foreign})
	require.ErrorIs(t, err, errcode.InvalidArgument)
}
