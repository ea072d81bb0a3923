package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Conn is an established session-scoped connection. Calls are one-way
// notifications: Notify has no response semantics beyond send success.
type Conn struct {
	t         Transport
	sessionID string
	handlers  map[Method]Handler

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(t Transport, opts Options) *Conn {
	return &Conn{
		t:         t,
		sessionID: opts.SessionID,
		handlers:  opts.Handlers,
		done:      make(chan struct{}),
	}
}

// SessionID returns the session this connection is scoped to.
func (c *Conn) SessionID() string {
	return c.sessionID
}

// Notify sends a fire-and-forget call to the peer.
func (c *Conn) Notify(method Method, payload interface{}) error {
	msg := Message{Type: TypeCall, SessionID: c.sessionID, Method: method}
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("cannot marshal payload for '%s': %w", method, err)
		}
		msg.Payload = buf
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.t.Send(msg)
}

// Serve reads and dispatches inbound calls until the connection is closed or
// the transport fails. Malformed frames and frames for other sessions are
// logged and dropped, never fatal.
func (c *Conn) Serve() error {
	logger := log.WithField("sessionId", c.sessionID)

	for {
		msg, err := c.t.Receive()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
				return fmt.Errorf("connection transport error: %w", err)
			}
		}

		if err := msg.Validate(); err != nil {
			logger.WithError(err).Warn("dropping invalid frame")
			continue
		}
		if msg.SessionID != c.sessionID {
			continue
		}

		switch msg.Type {
		case TypeError:
			logger.WithField("error", msg.Error).Warn("peer reported a protocol error")
		case TypeCall:
			handler, ok := c.handlers[msg.Method]
			if !ok {
				logger.WithField("method", msg.Method).Warn("no handler for method")
				continue
			}
			if err := handler(msg.Payload); err != nil {
				logger.WithError(err).WithField("method", msg.Method).Warn("handler failed")
			}
		}
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.t.Close()
	})
	return err
}
