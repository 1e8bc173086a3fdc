// internal/config/config.go
package config

// Plan describes a simulated RMT setup for the demo command.
type Plan struct {
	Variant   string      `yaml:"variant" toml:"variant"`
	TimeScale float64     `yaml:"time_scale" toml:"time_scale"`
	Log       LogConfig   `yaml:"log" toml:"log"`
	TX        []TxPlan    `yaml:"tx" toml:"tx"`
	RX        []RxPlan    `yaml:"rx" toml:"rx"`
	Sync      []SyncPlan  `yaml:"sync" toml:"sync"`
	MQTT      *MQTTConfig `yaml:"mqtt" toml:"mqtt"`
}

// ---- LOGGING ----

type LogConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
}

// ---- CHANNELS ----

// Roles select the consumer bound to a channel.
const (
	RoleRaw      = "raw"
	RoleNEC      = "nec"
	RoleLEDStrip = "ledstrip"
)

type TxPlan struct {
	Name         string `yaml:"name" toml:"name"`
	Role         string `yaml:"role" toml:"role"`
	GPIO         int    `yaml:"gpio" toml:"gpio"`
	ResolutionHz uint32 `yaml:"resolution_hz" toml:"resolution_hz"`
	MemSymbols   int    `yaml:"mem_symbols" toml:"mem_symbols"`
	QueueDepth   int    `yaml:"queue_depth" toml:"queue_depth"`
	Priority     int    `yaml:"priority" toml:"priority"`
	DMA          bool   `yaml:"dma" toml:"dma"`
	Loopback     bool   `yaml:"loopback" toml:"loopback"`
	Invert       bool   `yaml:"invert" toml:"invert"`

	// ledstrip only
	Pixels int `yaml:"pixels" toml:"pixels"`
}

type RxPlan struct {
	Name         string `yaml:"name" toml:"name"`
	Role         string `yaml:"role" toml:"role"`
	GPIO         int    `yaml:"gpio" toml:"gpio"`
	ResolutionHz uint32 `yaml:"resolution_hz" toml:"resolution_hz"`
	MemSymbols   int    `yaml:"mem_symbols" toml:"mem_symbols"`
	Priority     int    `yaml:"priority" toml:"priority"`
	DMA          bool   `yaml:"dma" toml:"dma"`
	Invert       bool   `yaml:"invert" toml:"invert"`
	BufSymbols   int    `yaml:"buf_symbols" toml:"buf_symbols"`
	MinNs        uint64 `yaml:"min_ns" toml:"min_ns"`
	MaxNs        uint64 `yaml:"max_ns" toml:"max_ns"`
}

// SyncPlan groups TX channels that start together.
type SyncPlan struct {
	Name    string   `yaml:"name" toml:"name"`
	Members []string `yaml:"members" toml:"members"`
}

// ---- MQTT ----

type MQTTConfig struct {
	Broker   string `yaml:"broker" toml:"broker"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
	QoS      byte   `yaml:"qos" toml:"qos"`
}
