package onramp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"near-onramp/pkg/broadcast"
	"near-onramp/pkg/protocol"
)

// DefaultClosedCheckInterval is how often the popup's closed flag is polled
// while a flow is active.
const DefaultClosedCheckInterval = time.Second

// Status is the lifecycle state of a Client. A client runs at most one flow
// and is permanently unusable once closed; starting another flow requires a
// new Client.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// DialFunc opens the handshake transport for a session.
type DialFunc func(ctx context.Context, wsURL string) (protocol.Transport, error)

func defaultDial(ctx context.Context, wsURL string) (protocol.Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return protocol.NewWebsocketTransport(conn), nil
}

// Config configures an embedder client.
type Config struct {
	// PopupBaseURL is where the popup service lives.
	PopupBaseURL string
	// SDKOrigin identifies this embedder to the popup. Must be a concrete
	// origin in production; the wildcard is tolerated in development only.
	SDKOrigin string
	// Production enables the strict origin rules.
	Production bool
	// ClosedCheckInterval overrides the closed-flag poll interval.
	ClosedCheckInterval time.Duration
	// Opener overrides how the popup context is spawned.
	Opener Opener
	// Broker overrides the result channel transport.
	Broker broadcast.Broker
	// Dial overrides the handshake transport dialer.
	Dial DialFunc
	// OnPopupClose is invoked exactly once when the popup goes away.
	OnPopupClose func()
	// OnStepChanged receives the popup's progress notifications.
	OnStepChanged func(step string, retrying bool)
}

type outcome struct {
	result *FlowResult
	err    error
}

// Client is the embedder-side SDK instance. All mutable state is guarded by
// mu plus the explicit idle/active/closed status: a second StartFlow while
// one is active focuses the popup and rejects instead of racing it.
type Client struct {
	cfg     Config
	channel *broadcast.Channel

	mu           sync.Mutex
	status       Status
	window       Window
	conn         *protocol.Conn
	cancelListen func()
	stopWatch    chan struct{}
	outcomeCh    chan outcome
	settled      bool
	lastStep     string

	closeCallback sync.Once
}

// New creates an idle client.
func New(cfg Config) (*Client, error) {
	if cfg.PopupBaseURL == "" {
		return nil, fmt.Errorf("popup base url is required")
	}
	if cfg.ClosedCheckInterval <= 0 {
		cfg.ClosedCheckInterval = DefaultClosedCheckInterval
	}
	if cfg.Opener == nil {
		cfg.Opener = &RemoteOpener{}
	}
	if cfg.Broker == nil {
		cfg.Broker = broadcast.NewMemoryBroker()
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}

	return &Client{
		cfg:     cfg,
		channel: broadcast.NewChannel(cfg.Broker),
		status:  StatusIdle,
	}, nil
}

// Status returns the client lifecycle status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StartFlow runs one onramp flow to its terminal outcome: it opens the popup
// context, performs the handshake, hands over the flow parameters and waits
// for the terminal result on the session channel. It returns the settled
// result or the flow-ending error.
func (c *Client) StartFlow(ctx context.Context, params FlowParams) (*FlowResult, error) {
	c.mu.Lock()
	switch c.status {
	case StatusActive:
		window := c.window
		c.mu.Unlock()
		if window != nil {
			_ = window.Focus()
		}
		return nil, &FlowError{Message: "a flow is already active"}
	case StatusClosed:
		c.mu.Unlock()
		return nil, &FlowError{Message: "client is closed, create a new instance to start another flow"}
	}

	// Configuration errors abort before any network activity.
	if c.cfg.Production && (c.cfg.SDKOrigin == "" || c.cfg.SDKOrigin == protocol.WildcardOrigin) {
		c.mu.Unlock()
		return nil, &FlowError{Message: "invalid SDK origin configuration", Details: protocol.ErrWildcardOrigin.Error()}
	}

	if params.SessionID == "" {
		params.SessionID = uuid.NewString()
	}
	c.status = StatusActive
	c.outcomeCh = make(chan outcome, 1)
	c.settled = false
	c.stopWatch = make(chan struct{})
	c.mu.Unlock()

	logger := log.WithField("sessionId", params.SessionID)

	launchURL, err := BuildPopupURL(c.cfg.PopupBaseURL, c.cfg.SDKOrigin, params)
	if err != nil {
		c.cleanup()
		return nil, err
	}

	window, err := c.cfg.Opener.Open(launchURL)
	if err != nil {
		c.cleanup()
		return nil, &FlowError{Message: "failed to open popup window", Details: err.Error()}
	}
	c.mu.Lock()
	c.window = window
	c.mu.Unlock()

	// The session channel is subscribed before the handshake so a result
	// cannot slip past even if the direct link dies early.
	cancelListen, err := c.channel.Listen(ctx, params.SessionID, c.handleResult)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("cannot listen on the session channel: %w", err)
	}
	c.mu.Lock()
	c.cancelListen = cancelListen
	c.mu.Unlock()

	if err := c.connect(ctx, params, logger); err != nil {
		c.cleanup()
		return nil, err
	}

	go c.watchClosed(window)

	select {
	case <-ctx.Done():
		c.cleanup()
		return nil, ctx.Err()
	case out := <-c.outcomeCh:
		c.cleanup()
		return out.result, out.err
	}
}

// Close force-ends any active flow and permanently closes the client.
// Repeated calls are no-ops.
func (c *Client) Close() {
	c.settle(outcome{err: &FlowError{Message: "flow closed by embedder"}})
	c.cleanup()
}

func (c *Client) connect(ctx context.Context, params FlowParams, logger *log.Entry) error {
	wsURL, err := BuildWebsocketURL(c.cfg.PopupBaseURL, params.SessionID)
	if err != nil {
		return err
	}

	transport, err := c.cfg.Dial(ctx, wsURL)
	if err != nil {
		return &FlowError{Message: "handshake failed", Details: err.Error()}
	}

	handlers := map[protocol.Method]protocol.Handler{
		protocol.MethodPopupReady: func([]byte) error {
			return c.notifyStartFlow(params)
		},
		protocol.MethodFlowStarted: func([]byte) error {
			logger.Debug("popup confirmed the flow start")
			return nil
		},
		protocol.MethodStepChanged: func(payload []byte) error {
			var p protocol.StepChangedPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return err
			}
			c.mu.Lock()
			if !p.Retrying {
				c.lastStep = p.Step
			}
			c.mu.Unlock()
			if c.cfg.OnStepChanged != nil {
				c.cfg.OnStepChanged(p.Step, p.Retrying)
			}
			return nil
		},
		protocol.MethodPopupClosed: func([]byte) error {
			c.settle(outcome{err: &FlowError{Message: "Popup closed by user", Step: c.currentStep()}})
			return nil
		},
	}

	conn, err := protocol.EstablishEmbedder(ctx, transport, protocol.Options{
		SessionID:  params.SessionID,
		Origin:     c.cfg.SDKOrigin,
		Production: c.cfg.Production,
		Handlers:   handlers,
	})
	if err != nil {
		_ = transport.Close()
		return &FlowError{Message: "handshake failed", Details: err.Error()}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go func() {
		if err := conn.Serve(); err != nil {
			// The direct link dying is survivable: the terminal result
			// still arrives on the session channel.
			logger.WithError(err).Debug("connection to popup ended")
		}
	}()

	return nil
}

func (c *Client) notifyStartFlow(params FlowParams) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("connection is not established")
	}
	return conn.Notify(protocol.MethodStartFlow, protocol.StartFlowPayload{
		Chain:   params.Chain,
		Asset:   params.Asset,
		AppFees: params.AppFees,
	})
}

// handleResult consumes terminal messages from the session channel. A second
// message for an already settled flow is a harmless no-op.
func (c *Client) handleResult(msg broadcast.Message) {
	switch msg.Type {
	case broadcast.TypeComplete:
		var result FlowResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			log.WithError(err).Warn("dropping malformed complete message")
			return
		}
		c.settle(outcome{result: &result})
	case broadcast.TypeError:
		flowErr := &FlowError{}
		if err := json.Unmarshal(msg.Data, flowErr); err != nil || flowErr.Message == "" {
			flowErr = &FlowError{Message: "flow failed"}
		}
		c.settle(outcome{err: flowErr})
	}
}

// watchClosed polls the popup's closed flag while the flow is active. A
// popup that disappears before a terminal message is an explicit failure,
// distinct from a provider-reported one.
func (c *Client) watchClosed(window Window) {
	ticker := time.NewTicker(c.cfg.ClosedCheckInterval)
	defer ticker.Stop()

	c.mu.Lock()
	stop := c.stopWatch
	c.mu.Unlock()
	if stop == nil {
		return
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if window.Closed() {
				c.settle(outcome{err: &FlowError{Message: "Popup closed before completion", Step: c.currentStep()}})
				return
			}
		}
	}
}

func (c *Client) currentStep() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStep
}

func (c *Client) settle(out outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled || c.outcomeCh == nil {
		return
	}
	c.settled = true
	c.outcomeCh <- out
}

// cleanup tears the flow down: stops the closed-detection timer, closes the
// session channel listener, the connection and the popup window, and moves
// the client to its final closed status. Idempotent.
func (c *Client) cleanup() {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return
	}
	c.status = StatusClosed

	if c.stopWatch != nil {
		close(c.stopWatch)
		c.stopWatch = nil
	}
	cancelListen := c.cancelListen
	c.cancelListen = nil
	conn := c.conn
	c.conn = nil
	window := c.window
	c.mu.Unlock()

	if cancelListen != nil {
		cancelListen()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if window != nil && !window.Closed() {
		_ = window.Close()
	}

	c.closeCallback.Do(func() {
		if c.cfg.OnPopupClose != nil {
			c.cfg.OnPopupClose()
		}
	})
}
