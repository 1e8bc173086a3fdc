// internal/config/validate.go
package config

import (
	"fmt"

	"rmt-go/hal"
)

// Validate checks plan correctness. It does not mutate the plan.
func Validate(p *Plan) error {
	if p == nil {
		return fmt.Errorf("nil plan")
	}
	v, ok := hal.Lookup(variantOrDefault(p.Variant))
	if !ok {
		return fmt.Errorf("unknown variant %q", p.Variant)
	}
	if p.TimeScale < 0 {
		return fmt.Errorf("time_scale must not be negative")
	}
	switch p.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", p.Log.Level)
	}

	names := make(map[string]string) // name -> direction
	pins := make(map[int]string)     // gpio -> tx name
	for _, t := range p.TX {
		if err := checkName(names, t.Name, "tx"); err != nil {
			return err
		}
		if t.GPIO < 0 || t.GPIO >= v.GPIOCount {
			return fmt.Errorf("tx %q: gpio %d out of range for %s", t.Name, t.GPIO, v.Name)
		}
		if prev, dup := pins[t.GPIO]; dup {
			return fmt.Errorf("tx %q: gpio %d already driven by %q", t.Name, t.GPIO, prev)
		}
		pins[t.GPIO] = t.Name
		switch t.Role {
		case "", RoleRaw, RoleNEC:
		case RoleLEDStrip:
			if t.Pixels <= 0 {
				return fmt.Errorf("tx %q: ledstrip needs pixels", t.Name)
			}
		default:
			return fmt.Errorf("tx %q: unknown role %q", t.Name, t.Role)
		}
		if t.QueueDepth < 0 || t.MemSymbols < 0 {
			return fmt.Errorf("tx %q: negative size", t.Name)
		}
	}
	for _, r := range p.RX {
		if err := checkName(names, r.Name, "rx"); err != nil {
			return err
		}
		if r.GPIO < 0 || r.GPIO >= v.GPIOCount {
			return fmt.Errorf("rx %q: gpio %d out of range for %s", r.Name, r.GPIO, v.Name)
		}
		switch r.Role {
		case "", RoleRaw, RoleNEC:
		default:
			return fmt.Errorf("rx %q: unknown role %q", r.Name, r.Role)
		}
		if r.MaxNs != 0 && r.MinNs >= r.MaxNs {
			return fmt.Errorf("rx %q: min_ns must be below max_ns", r.Name)
		}
	}

	inSync := make(map[string]string)
	for _, s := range p.Sync {
		if len(s.Members) == 0 {
			return fmt.Errorf("sync %q: no members", s.Name)
		}
		for _, m := range s.Members {
			if names[m] != "tx" {
				return fmt.Errorf("sync %q: %q is not a tx channel", s.Name, m)
			}
			if prev, dup := inSync[m]; dup {
				return fmt.Errorf("sync %q: %q already in sync %q", s.Name, m, prev)
			}
			inSync[m] = s.Name
		}
	}

	if p.MQTT != nil {
		if p.MQTT.Broker == "" {
			return fmt.Errorf("mqtt: broker is required")
		}
		if p.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt: qos %d out of range", p.MQTT.QoS)
		}
	}
	return nil
}

func checkName(seen map[string]string, name, dir string) error {
	if name == "" {
		return fmt.Errorf("%s channel without a name", dir)
	}
	if _, dup := seen[name]; dup {
		return fmt.Errorf("duplicate channel name %q", name)
	}
	seen[name] = dir
	return nil
}

func variantOrDefault(name string) string {
	if name == "" {
		return DefaultVariant
	}
	return name
}
