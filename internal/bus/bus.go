// Package bus is the in-process event bus of the demo command. Driver
// callbacks publish on it from interrupt context, so Publish never blocks:
// a full subscriber queue loses its oldest message.
//
// Topics are slash-free token lists. A subscription may use "+" to match one
// token and a trailing "#" to match any remainder, including none.
package bus

import (
	"strings"
	"sync"
)

const (
	wildOne  = "+"
	wildRest = "#"
)

// Topic is a sequence of tokens.
type Topic []string

// T builds a topic.
func T(tokens ...string) Topic { return Topic(tokens) }

// Parse splits a slash-separated topic.
func Parse(s string) Topic {
	if s == "" {
		return nil
	}
	return Topic(strings.Split(s, "/"))
}

func (t Topic) String() string { return strings.Join(t, "/") }

// Match reports whether a concrete topic matches the pattern t.
func (t Topic) Match(topic Topic) bool {
	for i, tok := range t {
		if tok == wildRest {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if tok != wildOne && tok != topic[i] {
			return false
		}
	}
	return len(t) == len(topic)
}

// Message is one published value. Retained messages are replayed to later
// subscribers; a retained nil payload clears the slot.
type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

// Subscription delivers matching messages on a bounded channel.
type Subscription struct {
	pattern Topic
	ch      chan *Message
	conn    *Connection
}

func (s *Subscription) Topic() Topic             { return s.pattern }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

type node struct {
	children map[string]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok string, create bool) *node {
	c := n.children[tok]
	if c == nil && create {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		c = &node{}
		n.children[tok] = c
	}
	return c
}

// Bus routes messages between connections.
type Bus struct {
	mu   sync.Mutex
	root *node
	qLen int
}

// NewBus creates a bus whose subscriptions queue up to queueLen messages.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{root: &node{}, qLen: queueLen}
}

// NewMessage is a convenience constructor.
func (b *Bus) NewMessage(t Topic, payload any, retained bool) *Message {
	return &Message{Topic: t, Payload: payload, Retained: retained}
}

// Publish delivers msg to every matching subscription.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		n := b.root
		for _, tok := range msg.Topic {
			n = n.child(tok, true)
		}
		if msg.Payload == nil {
			n.retained = nil
		} else {
			n.retained = msg
		}
	}
	b.deliver(b.root, msg, 0)
}

// deliver walks the subscription patterns that can match msg.Topic[i:].
func (b *Bus) deliver(n *node, msg *Message, i int) {
	if c := n.children[wildRest]; c != nil {
		for _, s := range c.subs {
			s.offer(msg)
		}
	}
	if i == len(msg.Topic) {
		for _, s := range n.subs {
			s.offer(msg)
		}
		return
	}
	if c := n.children[msg.Topic[i]]; c != nil {
		b.deliver(c, msg, i+1)
	}
	if msg.Topic[i] != wildOne {
		if c := n.children[wildOne]; c != nil {
			b.deliver(c, msg, i+1)
		}
	}
}

func (s *Subscription) offer(msg *Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- msg:
	default:
	}
}

// retainedFor collects retained messages matching pattern.
func (b *Bus) retainedFor(n *node, path Topic, pattern Topic, out []*Message) []*Message {
	if n.retained != nil && pattern.Match(path) {
		out = append(out, n.retained)
	}
	for tok, c := range n.children {
		out = b.retainedFor(c, append(path[:len(path):len(path)], tok), pattern, out)
	}
	return out
}

func (b *Bus) subscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.root
	for _, tok := range sub.pattern {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)
	for _, m := range b.retainedFor(b.root, nil, sub.pattern, nil) {
		sub.offer(m)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.root
	for _, tok := range sub.pattern {
		if n = n.child(tok, false); n == nil {
			return
		}
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
}

// Connection owns a set of subscriptions.
type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

// NewConnection creates a connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

// ID returns the name given at creation.
func (c *Connection) ID() string { return c.id }

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers pattern and replays matching retained messages.
func (c *Connection) Subscribe(pattern Topic) *Subscription {
	sub := &Subscription{pattern: pattern, ch: make(chan *Message, c.bus.qLen), conn: c}
	c.bus.subscribe(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect closes every subscription of the connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		c.bus.unsubscribe(s)
		close(s.ch)
	}
}
