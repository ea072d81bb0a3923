package polling

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"near-onramp/pkg/flow"
	"near-onramp/pkg/provider"
)

const (
	// DefaultInterval is the delay between two successful polls.
	DefaultInterval = 5 * time.Second

	// TransportRetryFactor stretches the interval after a transport
	// failure so a flaky network is not hammered.
	TransportRetryFactor = 2
)

// StatusClient is the single provider call the engine repeats.
type StatusClient interface {
	GetSwapStatus(depositAddress string) (*provider.StatusSnapshot, error)
}

// Update is emitted after every poll. A transport failure produces an update
// with Retrying set and no snapshot; it is never a terminal outcome, only
// provider-reported statuses are.
type Update struct {
	DepositAddress string
	Snapshot       *provider.StatusSnapshot
	Stage          flow.Stage
	Terminal       bool
	Retrying       bool
	Err            error
}

// Engine turns the one-shot status lookup into a continuous monitor for one
// deposit address at a time. Polls are strictly sequential: the next poll is
// scheduled only after the previous one resolved, so requests never pile up
// under a slow network. Reaching a terminal stage stops the engine for that
// address permanently; supplying a new address restarts it.
type Engine struct {
	client   StatusClient
	onUpdate func(Update)
	interval time.Duration
	after    func(time.Duration) <-chan time.Time

	mu             sync.Mutex
	stopChan       chan struct{}
	depositAddress string
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithInterval overrides the normal polling interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// NewEngine creates an engine delivering every poll result to onUpdate.
// Updates are delivered from a single goroutine, in poll order.
func NewEngine(client StatusClient, onUpdate func(Update), opts ...Option) *Engine {
	e := &Engine{
		client:   client,
		onUpdate: onUpdate,
		interval: DefaultInterval,
		after:    time.After,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins polling the given deposit address, first poll immediately.
// Any poller for a previous address is cancelled: there are never two
// concurrent pollers for one engine.
func (e *Engine) Start(depositAddress string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopChan != nil {
		close(e.stopChan)
	}
	e.stopChan = make(chan struct{})
	e.depositAddress = depositAddress

	go e.run(depositAddress, e.stopChan)
}

// Stop cancels any pending poll. Stopping an idle engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopChan != nil {
		close(e.stopChan)
		e.stopChan = nil
	}
}

// DepositAddress returns the address currently being monitored.
func (e *Engine) DepositAddress() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.depositAddress
}

func (e *Engine) run(depositAddress string, stop chan struct{}) {
	logger := log.WithField("depositAddress", depositAddress)

	var delay time.Duration
	for {
		if delay > 0 {
			select {
			case <-stop:
				return
			case <-e.after(delay):
			}
		}

		snapshot, err := e.client.GetSwapStatus(depositAddress)

		// The poller may have been cancelled while the request was in
		// flight; a stale update must not reach the callback.
		select {
		case <-stop:
			return
		default:
		}

		if err != nil {
			pollsTotal.WithLabelValues("transport_error").Inc()
			logger.WithError(err).Warn("status poll failed, retrying")
			e.onUpdate(Update{DepositAddress: depositAddress, Retrying: true, Err: err})
			delay = time.Duration(TransportRetryFactor) * e.interval
			continue
		}

		pollsTotal.WithLabelValues("ok").Inc()

		stage, known := provider.MapStatus(snapshot.Status)
		if !known {
			logger.WithField("status", snapshot.Status).Warn("unhandled provider status, treating as failed")
		}

		terminal := stage.IsTerminal()
		e.onUpdate(Update{
			DepositAddress: depositAddress,
			Snapshot:       snapshot,
			Stage:          stage,
			Terminal:       terminal,
		})

		if terminal {
			terminalTotal.WithLabelValues(string(stage)).Inc()
			return
		}
		delay = e.interval
	}
}
