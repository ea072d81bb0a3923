package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType enumerates wire message types.
type MessageType string

const (
	// TypeHello opens the handshake, popup to embedder.
	TypeHello MessageType = "hello"
	// TypeHelloAck completes the handshake, embedder to popup.
	TypeHelloAck MessageType = "hello_ack"
	// TypeCall carries a method invocation after the handshake.
	TypeCall MessageType = "call"
	// TypeError reports a protocol-level failure to the peer.
	TypeError MessageType = "error"
)

// Method is one of the closed set of cross-context methods. The wire format
// is an external interface: method names and payloads are validated at the
// receiving boundary, never dispatched by arbitrary string.
type Method string

const (
	// MethodStartFlow is the single payload-carrying call, embedder to
	// popup: start the flow with this target asset and fee configuration.
	MethodStartFlow Method = "startFlow"

	// Popup to embedder, fire-and-forget notifications.
	MethodPopupReady  Method = "popupReady"
	MethodStepChanged Method = "stepChanged"
	MethodPopupClosed Method = "popupClosed"
	MethodFlowStarted Method = "flowStarted"
)

var knownMethods = map[Method]bool{
	MethodStartFlow:   true,
	MethodPopupReady:  true,
	MethodStepChanged: true,
	MethodPopupClosed: true,
	MethodFlowStarted: true,
}

// Message is the envelope every cross-context frame uses. Origin is only set
// on handshake frames; Payload is an opaque per-method document.
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	Origin    string          `json:"origin,omitempty"`
	Method    Method          `json:"method,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Validate checks the envelope against the closed enums.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeHello, TypeHelloAck, TypeError:
	case TypeCall:
		if !knownMethods[m.Method] {
			return fmt.Errorf("unknown method '%s'", m.Method)
		}
	default:
		return fmt.Errorf("unknown message type '%s'", m.Type)
	}
	if m.SessionID == "" {
		return fmt.Errorf("missing session id")
	}
	return nil
}

// AppFee routes a share of the flow amount to a partner recipient.
type AppFee struct {
	Recipient string  `json:"recipient"`
	Fee       float64 `json:"fee"`
}

// StartFlowPayload is the payload of MethodStartFlow.
type StartFlowPayload struct {
	Chain           string   `json:"chain"`
	Asset           string   `json:"asset"`
	AppFees         []AppFee `json:"appFees,omitempty"`
	WalletConnected bool     `json:"walletConnected,omitempty"`
}

// StepChangedPayload is the payload of MethodStepChanged. Retrying marks a
// transient transport-level retry, not a stage change.
type StepChangedPayload struct {
	Step     string `json:"step"`
	Retrying bool   `json:"retrying,omitempty"`
}
