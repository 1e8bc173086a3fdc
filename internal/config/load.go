// internal/config/load.go
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads a plan from path, picking the decoder by extension, then
// validates and normalizes it.
func Load(path string) (*Plan, error) {
	var (
		p   *Plan
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		p, err = loadYAML(path)
	case ".toml":
		p, err = loadTOML(path)
	default:
		return nil, fmt.Errorf("load plan %s: unknown extension", path)
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	Normalize(p)
	return p, nil
}

func defaults() *Plan {
	return &Plan{Log: LogConfig{Level: "info", Development: true}}
}

func loadYAML(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	p := defaults()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("load plan %s: %w", path, err)
	}
	return p, nil
}

func loadTOML(path string) (*Plan, error) {
	var raw Plan
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", path, err)
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		return nil, fmt.Errorf("load plan %s: unknown key %q", path, keys[0].String())
	}

	p := defaults()
	if meta.IsDefined("log", "level") {
		p.Log.Level = raw.Log.Level
	}
	if meta.IsDefined("log", "development") {
		p.Log.Development = raw.Log.Development
	}
	p.Variant = raw.Variant
	p.TimeScale = raw.TimeScale
	p.TX = raw.TX
	p.RX = raw.RX
	p.Sync = raw.Sync
	p.MQTT = raw.MQTT
	return p, nil
}
