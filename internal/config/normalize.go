// internal/config/normalize.go
package config

import "strings"

// Defaults filled in by Normalize.
const (
	DefaultVariant      = "esp32s3"
	DefaultResolutionHz = 1_000_000
	DefaultLEDHz        = 10_000_000
	DefaultQueueDepth   = 4
	DefaultBufSymbols   = 64
	DefaultMinNs        = 1250
	DefaultMaxNs        = 12_000_000
	DefaultPrefix       = "rmt"
)

// Normalize fills defaults. It must be called only after Validate.
func Normalize(p *Plan) {
	if p == nil {
		return
	}
	p.Variant = variantOrDefault(p.Variant)
	if p.Log.Level == "" {
		p.Log.Level = "info"
	}
	for i := range p.TX {
		t := &p.TX[i]
		if t.Role == "" {
			t.Role = RoleRaw
		}
		if t.ResolutionHz == 0 {
			t.ResolutionHz = DefaultResolutionHz
			if t.Role == RoleLEDStrip {
				t.ResolutionHz = DefaultLEDHz
			}
		}
		if t.QueueDepth == 0 {
			t.QueueDepth = DefaultQueueDepth
		}
	}
	for i := range p.RX {
		r := &p.RX[i]
		if r.Role == "" {
			r.Role = RoleRaw
		}
		if r.ResolutionHz == 0 {
			r.ResolutionHz = DefaultResolutionHz
		}
		if r.BufSymbols == 0 {
			r.BufSymbols = DefaultBufSymbols
		}
		if r.MinNs == 0 {
			r.MinNs = DefaultMinNs
		}
		if r.MaxNs == 0 {
			r.MaxNs = DefaultMaxNs
		}
	}
	if m := p.MQTT; m != nil {
		m.Prefix = strings.Trim(m.Prefix, "/")
		if m.Prefix == "" {
			m.Prefix = DefaultPrefix
		}
	}
}
