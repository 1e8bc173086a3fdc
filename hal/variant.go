package hal

// Variant describes what one chip's RMT peripheral can do.
type Variant struct {
	Name string

	Groups     int
	TxChannels int // per group
	RxChannels int // per group
	// MemSymbols is the shared symbol pool per group.
	MemSymbols int
	// BlockSymbols is the default per-channel block.
	BlockSymbols int
	GPIOCount    int

	ClockHz    map[ClockSource]uint32
	MaxDivider uint32

	// Maximum register values.
	MaxFilterTicks uint32
	MaxIdleTicks   uint32
	LoopCountMax   int

	DMA            bool
	TxLoop         bool // hardware can replay a block
	TxLoopCount    bool // ... a bounded number of times
	TxLoopAutoStop bool
	TxSync         bool
	RxDemodulation bool
	RxPingPong     bool
}

// ClockFor resolves ClockDefault and reports whether src exists.
func (v Variant) ClockFor(src ClockSource) (ClockSource, uint32, bool) {
	if src == ClockDefault {
		src = ClockAPB
		if _, ok := v.ClockHz[src]; !ok {
			src = ClockXTAL
		}
	}
	hz, ok := v.ClockHz[src]
	return src, hz, ok
}

// Variants lists the known chips by name.
var Variants = map[string]Variant{
	"esp32": {
		Name: "esp32", Groups: 1, TxChannels: 8, RxChannels: 8,
		MemSymbols: 512, BlockSymbols: 64, GPIOCount: 40,
		ClockHz:    map[ClockSource]uint32{ClockAPB: 80_000_000},
		MaxDivider: 256, MaxFilterTicks: 255, MaxIdleTicks: 0x7fff,
		TxLoop: true, RxDemodulation: true,
	},
	"esp32s3": {
		Name: "esp32s3", Groups: 1, TxChannels: 4, RxChannels: 4,
		MemSymbols: 384, BlockSymbols: 48, GPIOCount: 49,
		ClockHz:    map[ClockSource]uint32{ClockAPB: 80_000_000, ClockXTAL: 40_000_000, ClockRCFast: 17_500_000},
		MaxDivider: 256, MaxFilterTicks: 255, MaxIdleTicks: 0x7fff, LoopCountMax: 1023,
		DMA: true, TxLoop: true, TxLoopCount: true, TxLoopAutoStop: true, TxSync: true,
		RxDemodulation: true, RxPingPong: true,
	},
	"esp32c3": {
		Name: "esp32c3", Groups: 1, TxChannels: 2, RxChannels: 2,
		MemSymbols: 192, BlockSymbols: 48, GPIOCount: 22,
		ClockHz:    map[ClockSource]uint32{ClockAPB: 80_000_000, ClockXTAL: 40_000_000, ClockRCFast: 17_500_000},
		MaxDivider: 256, MaxFilterTicks: 255, MaxIdleTicks: 0x7fff, LoopCountMax: 1023,
		TxLoop: true, TxLoopCount: true, TxSync: true, RxDemodulation: true, RxPingPong: true,
	},
	// basic models a minimal part: no replay, no sync, no ping-pong.
	"basic": {
		Name: "basic", Groups: 2, TxChannels: 2, RxChannels: 2,
		MemSymbols: 128, BlockSymbols: 32, GPIOCount: 16,
		ClockHz:    map[ClockSource]uint32{ClockXTAL: 40_000_000},
		MaxDivider: 256, MaxFilterTicks: 255, MaxIdleTicks: 0x7fff,
	},
}

// Lookup returns the named variant.
func Lookup(name string) (Variant, bool) {
	v, ok := Variants[name]
	return v, ok
}
