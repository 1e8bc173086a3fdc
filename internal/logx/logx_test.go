package logx

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"rmt-go/rmt"
)

func TestNew(t *testing.T) {
	l, err := New("warn", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be filtered at warn")
	}
	if _, err := New("loud", true); err == nil {
		t.Fatal("expected level parse error")
	}
}

func TestInstall(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Install(zap.New(core))
	t.Cleanup(func() { Install(zap.NewNop()) })

	rmt.Logger().Info("hello")
	if logs.Len() != 1 || logs.All()[0].LoggerName != "rmt" {
		t.Fatalf("entries = %+v", logs.All())
	}
}
