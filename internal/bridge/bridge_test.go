package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rmt-go/internal/bus"
	"rmt-go/internal/config"
)

type sent struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeLink struct {
	mu     sync.Mutex
	out    chan sent
	fail   error
	closed bool
}

func (l *fakeLink) Publish(topic string, _ byte, retained bool, payload []byte) error {
	l.mu.Lock()
	err := l.fail
	l.mu.Unlock()
	if err != nil {
		return err
	}
	l.out <- sent{topic: topic, retained: retained, payload: payload}
	return nil
}

func (l *fakeLink) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func nextState(t *testing.T, sub *bus.Subscription) (level, status string) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("state payload type: got %T", m.Payload)
		}
		return p["level"].(string), p["status"].(string)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bridge/state")
	}
	return "", ""
}

func expectState(t *testing.T, sub *bus.Subscription, level, status string) {
	t.Helper()
	gl, gs := nextState(t, sub)
	if gl != level || gs != status {
		t.Fatalf("state = %s/%s, want %s/%s", gl, gs, level, status)
	}
}

func TestBridgeForwardsAndReconnects(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	stateSub := conn.Subscribe(StateTopic)

	link := &fakeLink{out: make(chan sent, 4)}
	dials := 0
	dial := func(ctx context.Context, cfg config.MQTTConfig) (Link, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		return link, nil
	}
	s := New(conn, config.MQTTConfig{Broker: "tcp://x:1883", Prefix: "lab"}, bus.T("#"), dial, nil)
	s.minBackoff, s.maxBackoff = time.Millisecond, 2*time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	expectState(t, stateSub, "connecting", "dialing")
	expectState(t, stateSub, "degraded", "dial_failed_retrying")
	expectState(t, stateSub, "connecting", "dialing")
	expectState(t, stateSub, "up", "link_established")

	conn.Publish(b.NewMessage(bus.T("ir", "rx0"), map[string]any{"addr": 4}, false))
	select {
	case m := <-link.out:
		if m.topic != "lab/ir/rx0" {
			t.Fatalf("topic = %q", m.topic)
		}
		var got map[string]int
		if err := json.Unmarshal(m.payload, &got); err != nil || got["addr"] != 4 {
			t.Fatalf("payload = %s (%v)", m.payload, err)
		}
	case <-time.After(time.Second):
		t.Fatal("message not forwarded")
	}

	link.mu.Lock()
	link.fail = errors.New("broken pipe")
	link.mu.Unlock()
	conn.Publish(b.NewMessage(bus.T("ir", "rx0"), "x", false))
	expectState(t, stateSub, "degraded", "link_lost_retrying")

	cancel()
	<-done
	link.mu.Lock()
	defer link.mu.Unlock()
	if !link.closed {
		t.Fatal("link not closed after loss")
	}
}

func TestStopWhileDialing(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test")
	stateSub := conn.Subscribe(StateTopic)

	dial := func(ctx context.Context, cfg config.MQTTConfig) (Link, error) {
		return nil, errors.New("no route")
	}
	s := New(conn, config.MQTTConfig{Broker: "tcp://x:1883", Prefix: "p"}, bus.T("#"), dial, nil)
	s.minBackoff, s.maxBackoff = time.Hour, time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()
	expectState(t, stateSub, "connecting", "dialing")
	expectState(t, stateSub, "degraded", "dial_failed_retrying")
	cancel()
	expectState(t, stateSub, "idle", "stopped")
	<-done
}

func TestClientID(t *testing.T) {
	id := ClientID()
	if !strings.HasPrefix(id, "rmt-") || len(id) > len("rmt-")+12 {
		t.Fatalf("client id %q", id)
	}
}
