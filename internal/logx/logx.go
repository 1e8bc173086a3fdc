// Package logx builds the command's zap logger and hands it to the library
// packages.
package logx

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rmt-go/hal/sim"
	"rmt-go/rmt"
)

// New returns a console logger in development mode and a JSON logger
// otherwise, filtered at level.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = !development
	return cfg.Build()
}

// Install routes the driver and simulator logs to l.
func Install(l *zap.Logger) {
	rmt.SetLogger(l.Named("rmt"))
	sim.SetLogger(l.Named("sim"))
}
