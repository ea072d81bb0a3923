package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Topic is the single channel name shared by every flow instance in a
// deployment. Session scoping is a message-level filter, not a separate
// transport.
const Topic = "onramp-flow-results"

// MessageType tags a terminal result message.
type MessageType string

const (
	TypeComplete MessageType = "complete"
	TypeError    MessageType = "error"
)

// Message is the terminal result envelope. Listeners only act on messages
// whose session id matches their own.
type Message struct {
	SessionID string          `json:"sessionId"`
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Validate checks the schema of an inbound message.
func (m *Message) Validate() error {
	if m.SessionID == "" {
		return fmt.Errorf("missing session id")
	}
	if m.Type != TypeComplete && m.Type != TypeError {
		return fmt.Errorf("unknown message type '%s'", m.Type)
	}
	return nil
}

// Broker is the underlying shared transport for the topic.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe returns a channel of raw topic payloads and a cancel
	// function that releases the subscription.
	Subscribe(ctx context.Context) (<-chan []byte, func(), error)
}

// Channel delivers terminal flow results out of band, so the outcome reaches
// the embedder even if the direct connection is already torn down.
type Channel struct {
	broker Broker
}

// NewChannel wraps a broker.
func NewChannel(broker Broker) *Channel {
	return &Channel{broker: broker}
}

// Send publishes a terminal result, best effort and fire-and-forget from the
// flow's point of view.
func (c *Channel) Send(ctx context.Context, sessionID string, typ MessageType, data interface{}) error {
	msg := Message{SessionID: sessionID, Type: typ}
	if data != nil {
		buf, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("cannot marshal result data: %w", err)
		}
		msg.Data = buf
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.broker.Publish(ctx, payload)
}

// Listen subscribes to the shared topic and invokes fn for every valid
// message matching sessionID. Messages for other sessions are silently
// ignored; malformed messages are logged and dropped. The returned cancel
// function is idempotent.
func (c *Channel) Listen(ctx context.Context, sessionID string, fn func(Message)) (func(), error) {
	payloads, cancel, err := c.broker.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	logger := log.WithField("sessionId", sessionID)
	go func() {
		for payload := range payloads {
			var msg Message
			if err := json.Unmarshal(payload, &msg); err != nil {
				logger.WithError(err).Warn("dropping malformed broadcast message")
				continue
			}
			if err := msg.Validate(); err != nil {
				logger.WithError(err).Warn("dropping invalid broadcast message")
				continue
			}
			if msg.SessionID != sessionID {
				continue
			}
			fn(msg)
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}
