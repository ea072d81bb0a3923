package protocol

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport moves messages between the two window contexts. Implementations
// must allow concurrent Send calls; Receive is called from a single
// goroutine.
type Transport interface {
	Send(msg Message) error
	Receive() (Message, error)
	Close() error
}

type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebsocketTransport wraps an established websocket connection.
func NewWebsocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(msg Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) Receive() (Message, error) {
	var msg Message
	if err := t.conn.ReadJSON(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// pipeTransport is an in-process transport for tests and same-process
// embedder/popup pairs.
type pipeTransport struct {
	in   <-chan Message
	out  chan<- Message
	done chan struct{}
	once sync.Once
}

// NewPipe returns two connected transports: what one side sends, the other
// receives.
func NewPipe() (Transport, Transport) {
	a := make(chan Message, 16)
	b := make(chan Message, 16)
	done := make(chan struct{})
	left := &pipeTransport{in: a, out: b, done: done}
	right := &pipeTransport{in: b, out: a, done: done}
	return left, right
}

func (t *pipeTransport) Send(msg Message) error {
	select {
	case <-t.done:
		return fmt.Errorf("transport is closed")
	case t.out <- msg:
		return nil
	}
}

func (t *pipeTransport) Receive() (Message, error) {
	select {
	case <-t.done:
		return Message{}, fmt.Errorf("transport is closed")
	case msg := <-t.in:
		return msg, nil
	}
}

func (t *pipeTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
