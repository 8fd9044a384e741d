// Package realtime carries campaign chat, dice and presence traffic over
// websocket sessions. Each session owns a lifecycle manager that suspends
// its non-critical topic subscriptions while the user is idle.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is one published item.
type Message struct {
	ID     string          `json:"id"`
	Topic  string          `json:"topic"`
	Kind   string          `json:"kind"`
	From   string          `json:"from"`
	Body   json.RawMessage `json:"body,omitempty"`
	SentAt time.Time       `json:"sent_at"`
}

// DeliverFunc receives messages for a subscription. It must not block.
type DeliverFunc func(Message)

// Broker is an in-process topic fan-out.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription
	nextID uint64
	logger *logging.Logger
}

// NewBroker returns an empty broker.
func NewBroker(logger *logging.Logger) *Broker {
	return &Broker{
		topics: make(map[string]map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscription is one registered receiver on a topic.
type Subscription struct {
	broker  *Broker
	topic   string
	id      uint64
	deliver DeliverFunc
	closed  atomic.Bool
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Active reports whether the subscription still receives messages.
func (s *Subscription) Active() bool {
	return !s.closed.Load()
}

// Unsubscribe removes the subscription. Calling it again is a no-op.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.broker.remove(s)
	return nil
}

// Subscribe registers deliver for topic.
func (b *Broker) Subscribe(topic string, deliver DeliverFunc) (*Subscription, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if deliver == nil {
		return nil, errors.New("deliver func is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{broker: b, topic: topic, id: b.nextID, deliver: deliver}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.topics[topic] = subs
	}
	subs[sub.id] = sub
	return sub, nil
}

// Publish delivers msg to every current subscriber of msg.Topic and returns
// how many received it. ID and SentAt are filled when empty.
func (b *Broker) Publish(msg Message) (Message, int) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.topics[msg.Topic]))
	for _, sub := range b.topics[msg.Topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if !sub.Active() {
			continue
		}
		sub.deliver(msg)
		delivered++
	}

	if b.logger != nil {
		b.logger.Debug("message published",
			zap.String("topic", msg.Topic),
			zap.String("kind", msg.Kind),
			zap.Int("delivered", delivered))
	}
	return msg, delivered
}

// Subscribers returns the number of active subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}
