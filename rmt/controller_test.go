package rmt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rmt-go/errcode"
	"rmt-go/hal"
)

func TestAllocateExhaustDeleteReallocate(t *testing.T) {
	c, _ := newController(t, variant("esp32s3")) // 384 symbols, 4+4 slots

	a, err := c.NewTxChannel(TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, MemBlockSymbols: 128, TransQueueDepth: 1})
	require.NoError(t, err)
	b, err := c.NewTxChannel(TxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000, MemBlockSymbols: 128, TransQueueDepth: 1})
	require.NoError(t, err)
	r, err := c.NewRxChannel(RxChannelConfig{GPIO: 3, ResolutionHz: 1_000_000, MemBlockSymbols: 128})
	require.NoError(t, err)

	_, err = c.NewRxChannel(RxChannelConfig{GPIO: 4, ResolutionHz: 1_000_000, MemBlockSymbols: 2})
	require.ErrorIs(t, err, errcode.NotFound)

	require.NoError(t, b.Delete())
	again, err := c.NewTxChannel(TxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000, MemBlockSymbols: 128, TransQueueDepth: 1})
	require.NoError(t, err)
	require.Equal(t, b.ID(), again.ID())

	for _, ch := range []Channel{a, again, r} {
		require.NoError(t, ch.Delete())
	}
}

func TestSlotsRunOut(t *testing.T) {
	c, _ := newController(t, variant("esp32c3")) // 2 TX slots
	for i := 0; i < 2; i++ {
		_, err := c.NewTxChannel(TxChannelConfig{GPIO: i, ResolutionHz: 1_000_000, MemBlockSymbols: 2, TransQueueDepth: 1})
		require.NoError(t, err)
	}
	_, err := c.NewTxChannel(TxChannelConfig{GPIO: 5, ResolutionHz: 1_000_000, MemBlockSymbols: 2, TransQueueDepth: 1})
	require.ErrorIs(t, err, errcode.NotFound)
}

func TestSecondGroupUsedWhenFirstIsFull(t *testing.T) {
	c, _ := newController(t, variant("basic")) // 2 groups, 2 TX each
	var ids []hal.ChanID
	for i := 0; i < 4; i++ {
		tx, err := c.NewTxChannel(TxChannelConfig{GPIO: i, ResolutionHz: 1_000_000, TransQueueDepth: 1})
		require.NoError(t, err)
		ids = append(ids, tx.ID())
	}
	require.Equal(t, 0, ids[1].Group)
	require.Equal(t, 1, ids[2].Group)
	require.Equal(t, 1, ids[3].Index)
}

func TestInterruptPriorityConflict(t *testing.T) {
	c, _ := newController(t, variant("esp32s3"))

	_, err := c.NewTxChannel(TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, TransQueueDepth: 1, IntrPriority: 1})
	require.NoError(t, err)
	_, err = c.NewRxChannel(RxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000, IntrPriority: 2})
	require.ErrorIs(t, err, errcode.InvalidArgument)

	_, err = c.NewRxChannel(RxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000})
	require.NoError(t, err, "priority 0 never conflicts")
	_, err = c.NewRxChannel(RxChannelConfig{GPIO: 3, ResolutionHz: 1_000_000, IntrPriority: 1})
	require.NoError(t, err)
}

func TestPriorityReleasedWithGroup(t *testing.T) {
	c, _ := newController(t, variant("esp32s3"))
	tx, err := c.NewTxChannel(TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, TransQueueDepth: 1, IntrPriority: 3})
	require.NoError(t, err)
	require.NoError(t, tx.Delete())

	_, err = c.NewTxChannel(TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, TransQueueDepth: 1, IntrPriority: 1})
	require.NoError(t, err)
}

func TestExplicitPriorityAfterAutoLine(t *testing.T) {
	c, _ := newController(t, variant("esp32s3"))
	a, err := c.NewTxChannel(TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, TransQueueDepth: 1})
	require.NoError(t, err)
	require.NoError(t, a.Enable())

	_, err = c.NewTxChannel(TxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000, TransQueueDepth: 1, IntrPriority: 3})
	require.ErrorIs(t, err, errcode.InvalidArgument, "line already runs at auto priority")
	_, err = c.NewTxChannel(TxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000, TransQueueDepth: 1})
	require.NoError(t, err)
}

func TestExplicitPriorityBeforeLineIsHonored(t *testing.T) {
	c, _ := newController(t, variant("esp32s3"))
	a, err := c.NewTxChannel(TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, TransQueueDepth: 1})
	require.NoError(t, err)
	b, err := c.NewTxChannel(TxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000, TransQueueDepth: 1, IntrPriority: 3})
	require.NoError(t, err)

	require.NoError(t, a.Enable())
	require.NoError(t, b.Enable())
	require.Equal(t, 3, b.cl.g.intr.Priority())
}

func TestChannelConfigValidation(t *testing.T) {
	s3, _ := newController(t, variant("esp32s3"))
	base := TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, TransQueueDepth: 1}

	cases := []struct {
		name string
		mut  func(*TxChannelConfig)
		want errcode.Code
	}{
		{"gpio", func(c *TxChannelConfig) { c.GPIO = 200 }, errcode.InvalidArgument},
		{"negative gpio", func(c *TxChannelConfig) { c.GPIO = -1 }, errcode.InvalidArgument},
		{"zero resolution", func(c *TxChannelConfig) { c.ResolutionHz = 0 }, errcode.InvalidArgument},
		{"unreachable resolution", func(c *TxChannelConfig) { c.ResolutionHz = 100 }, errcode.InvalidArgument},
		{"odd memory", func(c *TxChannelConfig) { c.MemBlockSymbols = 47 }, errcode.InvalidArgument},
		{"queue depth", func(c *TxChannelConfig) { c.TransQueueDepth = 0 }, errcode.InvalidArgument},
		{"priority", func(c *TxChannelConfig) { c.IntrPriority = 4 }, errcode.InvalidArgument},
		{"too much memory", func(c *TxChannelConfig) { c.MemBlockSymbols = 1024 }, errcode.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mut(&cfg)
			_, err := s3.NewTxChannel(cfg)
			require.ErrorIs(t, err, tc.want)
		})
	}

	esp32, _ := newController(t, variant("esp32"))
	_, err := esp32.NewTxChannel(TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, TransQueueDepth: 1, WithDMA: true})
	require.ErrorIs(t, err, errcode.NotSupported)
	_, err = esp32.NewTxChannel(TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, TransQueueDepth: 1, ClockSource: hal.ClockXTAL})
	require.ErrorIs(t, err, errcode.NotSupported)
}

func TestGroupSharesOneClockSource(t *testing.T) {
	c, _ := newController(t, variant("esp32s3"))
	_, err := c.NewTxChannel(TxChannelConfig{GPIO: 1, ResolutionHz: 1_000_000, TransQueueDepth: 1, ClockSource: hal.ClockAPB})
	require.NoError(t, err)
	_, err = c.NewRxChannel(RxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000, ClockSource: hal.ClockXTAL})
	require.ErrorIs(t, err, errcode.NotSupported)
	_, err = c.NewRxChannel(RxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000})
	require.NoError(t, err, "default resolves to the group clock")
}

func TestOutputPinConflictIsReturned(t *testing.T) {
	c, _ := newController(t, variant("esp32s3"))
	_, err := c.NewTxChannel(TxChannelConfig{GPIO: 9, ResolutionHz: 1_000_000, TransQueueDepth: 1})
	require.NoError(t, err)
	_, err = c.NewTxChannel(TxChannelConfig{GPIO: 9, ResolutionHz: 1_000_000, TransQueueDepth: 1})
	require.ErrorIs(t, err, errcode.InvalidState)

	// The failed attempt must not leak its slot or memory.
	for i := 0; i < 3; i++ {
		_, err = c.NewTxChannel(TxChannelConfig{GPIO: 10 + i, ResolutionHz: 1_000_000, TransQueueDepth: 1})
		require.NoError(t, err)
	}
}

func TestLifecycleStates(t *testing.T) {
	c, _ := newController(t, variant("esp32s3"))
	tx := newTx(t, c, TxChannelConfig{GPIO: 1})

	require.ErrorIs(t, tx.Disable(), errcode.InvalidState)
	require.NoError(t, tx.Enable())
	require.ErrorIs(t, tx.Enable(), errcode.InvalidState)
	require.ErrorIs(t, tx.Delete(), errcode.InvalidState)
	require.ErrorIs(t, tx.RegisterEventCallbacks(TxEventCallbacks{}), errcode.InvalidState)
	require.NoError(t, tx.Disable())
	require.NoError(t, tx.Delete())
	require.ErrorIs(t, tx.Delete(), errcode.InvalidState)
	require.ErrorIs(t, tx.Enable(), errcode.InvalidState)
}

func TestApplyCarrier(t *testing.T) {
	c, _ := newController(t, variant("esp32s3"))
	tx := newTx(t, c, TxChannelConfig{GPIO: 1})
	require.ErrorIs(t, tx.ApplyCarrier(&CarrierConfig{FrequencyHz: 38000}), errcode.InvalidArgument)
	require.ErrorIs(t, tx.ApplyCarrier(&CarrierConfig{DutyCycle: 0.33}), errcode.InvalidArgument)
	require.NoError(t, tx.ApplyCarrier(&CarrierConfig{FrequencyHz: 38000, DutyCycle: 0.33}))
	require.NoError(t, tx.ApplyCarrier(nil))

	rx, err := c.NewRxChannel(RxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000})
	require.NoError(t, err)
	require.NoError(t, rx.ApplyCarrier(&CarrierConfig{FrequencyHz: 38000, DutyCycle: 0.33}))

	basic, _ := newController(t, variant("basic"))
	brx, err := basic.NewRxChannel(RxChannelConfig{GPIO: 2, ResolutionHz: 1_000_000})
	require.NoError(t, err)
	require.ErrorIs(t, brx.ApplyCarrier(&CarrierConfig{FrequencyHz: 38000, DutyCycle: 0.5}), errcode.NotSupported)
}
