package rmt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rmt-go/hal"
	"rmt-go/hal/sim"
	"rmt-go/rmt/encoder"
	"rmt-go/rmt/symbol"
)

var (
	testBit0 = symbol.New(1, 3, 0, 9)
	testBit1 = symbol.New(1, 9, 0, 3)
)

func newController(t *testing.T, v hal.Variant, opts ...sim.Option) (*Controller, *sim.Backend) {
	t.Helper()
	b := sim.New(v, opts...)
	t.Cleanup(b.Close)
	return NewController(b), b
}

func variant(name string) hal.Variant { return hal.Variants[name] }

func newBytesEncoder(t *testing.T) encoder.Encoder[[]byte] {
	t.Helper()
	enc, err := encoder.NewBytesEncoder(encoder.BytesConfig{Bit0: testBit0, Bit1: testBit1, MSBFirst: true})
	require.NoError(t, err)
	return enc
}

func newTx(t *testing.T, c *Controller, cfg TxChannelConfig) *TxChannel {
	t.Helper()
	if cfg.ResolutionHz == 0 {
		cfg.ResolutionHz = 1_000_000
	}
	if cfg.TransQueueDepth == 0 {
		cfg.TransQueueDepth = 4
	}
	tx, err := c.NewTxChannel(cfg)
	require.NoError(t, err)
	return tx
}

// frame returns n distinct data symbols.
func frame(n int) []symbol.Symbol {
	out := make([]symbol.Symbol, n)
	for i := range out {
		out[i] = symbol.New(1, uint32(5+i%7), 0, 5)
	}
	return out
}
