package protocol

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// WildcardOrigin matches any opener origin. Tolerated in development to ease
// local testing, fatal in production.
const WildcardOrigin = "*"

var (
	// ErrWildcardOrigin aborts a handshake configured with a wildcard
	// origin in production. This is a configuration error, not a security
	// downgrade to accept silently.
	ErrWildcardOrigin = errors.New("wildcard origin is not allowed in production")

	// ErrMissingSDKOrigin aborts a popup handshake that has no opener
	// origin to validate against.
	ErrMissingSDKOrigin = errors.New("SDK identification parameter missing")

	// ErrOriginMismatch rejects a peer reporting an unexpected origin.
	ErrOriginMismatch = errors.New("origin mismatch")
)

// Handler processes one inbound method payload.
type Handler func(payload []byte) error

// Options configure one side of the handshake.
type Options struct {
	// SessionID scopes the connection to one flow invocation.
	SessionID string
	// Origin is the resolved SDK origin both sides must agree on.
	Origin string
	// Production forbids the wildcard origin and a missing origin.
	Production bool
	// Handlers receive inbound calls after the handshake.
	Handlers map[Method]Handler
}

// EstablishEmbedder runs the embedder side of the handshake: it validates
// its own origin configuration before writing or reading anything, then
// waits for the popup's hello and acknowledges it.
func EstablishEmbedder(ctx context.Context, t Transport, opts Options) (*Conn, error) {
	if opts.Production && (opts.Origin == WildcardOrigin || opts.Origin == "") {
		return nil, ErrWildcardOrigin
	}

	msg, err := receive(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("handshake transport error: %w", err)
	}
	if msg.Type != TypeHello {
		return nil, fmt.Errorf("expected hello, got '%s'", msg.Type)
	}
	if msg.SessionID != opts.SessionID {
		_ = t.Send(Message{Type: TypeError, SessionID: opts.SessionID, Error: "session mismatch"})
		return nil, fmt.Errorf("handshake for unknown session '%s'", msg.SessionID)
	}
	if !originAccepted(opts, msg.Origin) {
		_ = t.Send(Message{Type: TypeError, SessionID: opts.SessionID, Error: ErrOriginMismatch.Error()})
		return nil, fmt.Errorf("%w: peer reported '%s'", ErrOriginMismatch, msg.Origin)
	}

	ack := Message{Type: TypeHelloAck, SessionID: opts.SessionID, Origin: opts.Origin}
	if err := t.Send(ack); err != nil {
		return nil, fmt.Errorf("handshake transport error: %w", err)
	}

	return newConn(t, opts), nil
}

// EstablishPopup runs the popup side of the handshake: it refuses to start
// without a resolved opener origin in production, sends hello and waits for
// the acknowledgement.
func EstablishPopup(ctx context.Context, t Transport, opts Options) (*Conn, error) {
	if opts.Origin == "" {
		if opts.Production {
			return nil, ErrMissingSDKOrigin
		}
		log.Warn("no SDK origin supplied, falling back to wildcard for development")
		opts.Origin = WildcardOrigin
	}
	if opts.Production && opts.Origin == WildcardOrigin {
		return nil, ErrWildcardOrigin
	}

	hello := Message{Type: TypeHello, SessionID: opts.SessionID, Origin: opts.Origin}
	if err := t.Send(hello); err != nil {
		return nil, fmt.Errorf("handshake transport error: %w", err)
	}

	msg, err := receive(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("handshake transport error: %w", err)
	}
	switch msg.Type {
	case TypeHelloAck:
	case TypeError:
		return nil, fmt.Errorf("handshake rejected: %s", msg.Error)
	default:
		return nil, fmt.Errorf("expected hello_ack, got '%s'", msg.Type)
	}
	if msg.SessionID != opts.SessionID {
		return nil, fmt.Errorf("handshake acknowledged for unknown session '%s'", msg.SessionID)
	}

	return newConn(t, opts), nil
}

// originAccepted decides whether the peer's reported origin is acceptable
// for this side's configuration.
func originAccepted(opts Options, peerOrigin string) bool {
	if !opts.Production && (opts.Origin == WildcardOrigin || opts.Origin == "") {
		return true
	}
	if !opts.Production && peerOrigin == WildcardOrigin {
		return true
	}
	return peerOrigin == opts.Origin
}

func receive(ctx context.Context, t Transport) (Message, error) {
	type result struct {
		msg Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := t.Receive()
		ch <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case r := <-ch:
		return r.msg, r.err
	}
}
