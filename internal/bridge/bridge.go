// Package bridge forwards demo bus events to an MQTT broker. It supervises
// one link, reconnecting with backoff, and reports its state as a retained
// message on {"bridge","state"}.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"rmt-go/internal/bus"
	"rmt-go/internal/config"
)

// StateTopic carries the link state.
var StateTopic = bus.T("bridge", "state")

// Link publishes to the remote side.
type Link interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// Dialer opens a link.
type Dialer func(ctx context.Context, cfg config.MQTTConfig) (Link, error)

// Service is one bridge instance.
type Service struct {
	conn    *bus.Connection
	cfg     config.MQTTConfig
	dial    Dialer
	pattern bus.Topic
	log     *zap.Logger

	minBackoff, maxBackoff time.Duration
}

// New returns a bridge that forwards messages matching pattern. A nil dial
// uses MQTT.
func New(conn *bus.Connection, cfg config.MQTTConfig, pattern bus.Topic, dial Dialer, log *zap.Logger) *Service {
	if dial == nil {
		dial = DialMQTT
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		conn:       conn,
		cfg:        cfg,
		dial:       dial,
		pattern:    pattern,
		log:        log,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	sub := s.conn.Subscribe(s.pattern)
	defer s.conn.Unsubscribe(sub)

	backoff := backoffSeq(s.minBackoff, s.maxBackoff)
	for {
		s.publishState("connecting", "dialing", nil)
		link, err := s.dial(ctx, s.cfg)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				s.publishState("idle", "stopped", nil)
				return
			}
			continue
		}
		backoff = backoffSeq(s.minBackoff, s.maxBackoff)
		s.publishState("up", "link_established", nil)

		err = s.forward(ctx, link, sub)
		link.Close()
		if err == nil {
			s.publishState("idle", "stopped", nil)
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			s.publishState("idle", "stopped", nil)
			return
		}
	}
}

// forward copies bus messages to the link until ctx ends (nil) or a
// publish fails.
func (s *Service) forward(ctx context.Context, link Link, sub *bus.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			if StateTopic.Match(msg.Topic) {
				continue
			}
			payload, err := json.Marshal(msg.Payload)
			if err != nil {
				s.log.Warn("dropping unencodable message", zap.Stringer("topic", msg.Topic), zap.Error(err))
				continue
			}
			topic := s.cfg.Prefix + "/" + msg.Topic.String()
			if err := link.Publish(topic, s.cfg.QoS, msg.Retained, payload); err != nil {
				return err
			}
		}
	}
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,
		"status": status,
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
		s.log.Warn("bridge "+status, zap.Error(err))
	} else {
		s.log.Debug("bridge " + status)
	}
	s.conn.Publish(&bus.Message{Topic: StateTopic, Payload: payload, Retained: true})
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ---- MQTT ----

type mqttLink struct {
	client paho.Client
}

// DialMQTT connects to cfg.Broker. Without a client id one is derived from
// the machine id.
func DialMQTT(ctx context.Context, cfg config.MQTTConfig) (Link, error) {
	id := cfg.ClientID
	if id == "" {
		id = ClientID()
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker).
		SetClientID(id).
		SetAutoReconnect(false).
		SetCleanSession(true)
	c := paho.NewClient(opts)
	tok := c.Connect()
	if err := wait(ctx, tok); err != nil {
		return nil, err
	}
	return &mqttLink{client: c}, nil
}

func (l *mqttLink) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !l.client.IsConnected() {
		return fmt.Errorf("mqtt: not connected")
	}
	return wait(context.Background(), l.client.Publish(topic, qos, retained, payload))
}

func (l *mqttLink) Close() { l.client.Disconnect(250) }

func wait(ctx context.Context, tok paho.Token) error {
	for !tok.WaitTimeout(100 * time.Millisecond) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return tok.Error()
}

// ClientID returns "rmt-" plus a short machine id, or "rmt-demo" when the
// machine id is unavailable.
func ClientID() string {
	id, err := machineid.ID()
	if err != nil || id == "" {
		return "rmt-demo"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "rmt-" + id
}
