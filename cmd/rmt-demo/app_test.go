package main

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rmt-go/internal/bridge"
	"rmt-go/internal/bus"
	"rmt-go/internal/config"
)

func newTestApp(t *testing.T, p *config.Plan) *app {
	t.Helper()
	require.NoError(t, config.Validate(p))
	config.Normalize(p)
	a, err := newApp(p, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func script(t *testing.T, a *app, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, a.runScript(strings.NewReader(strings.Join(lines, "\n")), &out))
	return out.String()
}

func TestDefaultPlanRoundTrip(t *testing.T) {
	a := newTestApp(t, defaultPlan())
	events := a.bus.NewConnection("test").Subscribe(bus.T("ir", "ir-in"))

	script(t, a,
		"# IR loopback",
		"nec ir-out 0x04 0x08",
		"wait ir-out",
	)
	select {
	case m := <-events.Channel():
		p := m.Payload.(map[string]any)
		require.Equal(t, uint16(0xfb04), p["address"])
		require.Equal(t, true, p["valid"])
	case <-time.After(2 * time.Second):
		t.Fatal("no ir event")
	}

	out := script(t, a, "fill pixels 1 2 3", "pixel pixels 7 255 0 0", "show pixels", "fade pixels 0 0 0 20", "channels", "stats")
	require.Contains(t, out, "tx pixels")
	require.Contains(t, out, "res=1000000Hz tick=1000ns")
	require.Contains(t, out, "group 0:")
	require.Contains(t, out, "rx ir-in: dropped_frames=0")
}

func TestScriptErrors(t *testing.T) {
	a := newTestApp(t, defaultPlan())
	for _, line := range []string{
		"warp 9",
		"send ir-out hello",
		"nec nowhere 1 2",
		"pixel pixels 99 1 1 1",
		"nec ir-out 1",
		`send "unterminated`,
	} {
		err := a.runScript(strings.NewReader(line), &bytes.Buffer{})
		require.Error(t, err, line)
		require.Contains(t, err.Error(), "line 1", line)
	}
}

func TestRawChannelsAndSync(t *testing.T) {
	a := newTestApp(t, &config.Plan{
		Variant: "esp32c3",
		TX: []config.TxPlan{
			{Name: "a", GPIO: 1, Loopback: true},
			{Name: "b", GPIO: 2},
		},
		RX:   []config.RxPlan{{Name: "r", GPIO: 1, BufSymbols: 128, MaxNs: 100_000}},
		Sync: []config.SyncPlan{{Name: "pair", Members: []string{"a", "b"}}},
	})
	sub := a.bus.NewConnection("test").Subscribe(bus.T("rx", "r"))
	done := a.bus.NewConnection("test").Subscribe(bus.T("tx", "+", "done"))

	script(t, a,
		"send a hi",
		"pulse b 10 10",
		"wait a", "wait b",
		"sync pair",
	)
	for i := 0; i < 2; i++ {
		select {
		case <-done.Channel():
		case <-time.After(2 * time.Second):
			t.Fatal("missing tx done event")
		}
	}
	select {
	case m := <-sub.Channel():
		p := m.Payload.(map[string]any)
		require.Equal(t, 16, p["symbols"])
		require.Equal(t, true, p["last"])
	case <-time.After(2 * time.Second):
		t.Fatal("no rx event")
	}
}

func TestHelpListsCommands(t *testing.T) {
	a := newTestApp(t, defaultPlan())
	var out bytes.Buffer
	require.NoError(t, a.exec([]string{"help"}, &out))
	for _, c := range commands {
		require.Contains(t, out.String(), c.usage)
	}
}

type closeLink struct{ closed atomic.Bool }

func (l *closeLink) Publish(string, byte, bool, []byte) error { return nil }
func (l *closeLink) Close()                                   { l.closed.Store(true) }

func TestBackgroundJoinsBridge(t *testing.T) {
	p := defaultPlan()
	p.MQTT = &config.MQTTConfig{Broker: "tcp://127.0.0.1:1883"}
	a := newTestApp(t, p)

	link := &closeLink{}
	dial := func(context.Context, config.MQTTConfig) (bridge.Link, error) { return link, nil }
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	wait := a.background(ctx, &out, dial)
	cancel()
	wait()

	require.True(t, link.closed.Load(), "bridge still running after wait")
	conn := a.bus.NewConnection("check")
	defer conn.Disconnect()
	select {
	case m := <-conn.Subscribe(bridge.StateTopic).Channel():
		require.Equal(t, "stopped", m.Payload.(map[string]any)["status"])
	case <-time.After(time.Second):
		t.Fatal("no retained bridge state")
	}
}
