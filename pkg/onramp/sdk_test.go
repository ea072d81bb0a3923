package onramp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"near-onramp/pkg/broadcast"
	"near-onramp/pkg/protocol"
)

type fakeWindow struct {
	mu           sync.Mutex
	closed       bool
	focusCalls   int
	closeCalls   int
	closedChecks int
}

func (w *fakeWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closedChecks++
	return w.closed
}

func (w *fakeWindow) Focus() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.focusCalls++
	return nil
}

func (w *fakeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.closeCalls++
	return nil
}

func (w *fakeWindow) setClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func (w *fakeWindow) checks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closedChecks
}

type fakeOpener struct {
	window  *fakeWindow
	lastURL atomic.Value
	opens   atomic.Int64
}

func (o *fakeOpener) Open(launchURL string) (Window, error) {
	o.opens.Add(1)
	o.lastURL.Store(launchURL)
	return o.window, nil
}

// popupBehavior runs the scripted popup side once the handshake is done.
type popupBehavior func(ctx context.Context, conn *protocol.Conn, started <-chan protocol.StartFlowPayload)

// scriptedPopup returns a DialFunc standing in for the popup service: the
// embedder gets one end of an in-memory pipe, the scripted popup the other.
func scriptedPopup(sessionID, origin string, behavior popupBehavior) DialFunc {
	return func(ctx context.Context, wsURL string) (protocol.Transport, error) {
		left, right := protocol.NewPipe()
		go func() {
			started := make(chan protocol.StartFlowPayload, 1)
			conn, err := protocol.EstablishPopup(ctx, right, protocol.Options{
				SessionID: sessionID,
				Origin:    origin,
				Handlers: map[protocol.Method]protocol.Handler{
					protocol.MethodStartFlow: func(payload []byte) error {
						var p protocol.StartFlowPayload
						if err := json.Unmarshal(payload, &p); err != nil {
							return err
						}
						started <- p
						return nil
					},
				},
			})
			if err != nil {
				return
			}
			go func() { _ = conn.Serve() }()
			_ = conn.Notify(protocol.MethodPopupReady, nil)
			if behavior != nil {
				behavior(ctx, conn, started)
			}
		}()
		return left, nil
	}
}

func TestStartFlowResolvesWithBroadcastResult(t *testing.T) {
	const sessionID = "abc123"
	const origin = "https://merchant.example"

	broker := broadcast.NewMemoryBroker()
	channel := broadcast.NewChannel(broker)
	opener := &fakeOpener{window: &fakeWindow{}}

	var steps []string
	dial := scriptedPopup(sessionID, origin, func(ctx context.Context, conn *protocol.Conn, started <-chan protocol.StartFlowPayload) {
		p := <-started
		_ = conn.Notify(protocol.MethodFlowStarted, nil)
		_ = conn.Notify(protocol.MethodStepChanged, protocol.StepChangedPayload{Step: "deposit"})
		_ = channel.Send(ctx, sessionID, broadcast.TypeComplete, FlowResult{
			Type:           ResultTypeIntents,
			Action:         ResultActionWithdraw,
			DepositAddress: "0xdeposit",
			Network:        p.Chain,
			Asset:          p.Asset,
			Amount:         "10",
			Recipient:      "alice.near",
		})
	})

	var mu sync.Mutex
	client, err := New(Config{
		PopupBaseURL: "https://popup.example",
		SDKOrigin:    origin,
		Production:   true,
		Opener:       opener,
		Broker:       broker,
		Dial:         dial,
		OnStepChanged: func(step string, retrying bool) {
			mu.Lock()
			steps = append(steps, step)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	result, err := client.StartFlow(context.Background(), FlowParams{SessionID: sessionID, Chain: "NEAR", Asset: "wNEAR"})
	require.NoError(t, err)
	require.Equal(t, ResultTypeIntents, result.Type)
	require.Equal(t, ResultActionWithdraw, result.Action)
	require.Equal(t, "NEAR", result.Network)
	require.Equal(t, "wNEAR", result.Asset)

	require.Equal(t, StatusClosed, client.Status())
	launchURL := opener.lastURL.Load().(string)
	require.Contains(t, launchURL, "sessionId=abc123&chain=NEAR&asset=wNEAR")
	require.Contains(t, launchURL, "sdkOrigin="+strings.ReplaceAll(origin, "://", "%3A%2F%2F"))
}

func TestStartFlowRejectsWhenPopupClosesEarly(t *testing.T) {
	const sessionID = "abc123"

	window := &fakeWindow{}
	opener := &fakeOpener{window: window}
	dial := scriptedPopup(sessionID, "https://merchant.example", nil)

	client, err := New(Config{
		PopupBaseURL:        "https://popup.example",
		SDKOrigin:           "https://merchant.example",
		ClosedCheckInterval: 10 * time.Millisecond,
		Opener:              opener,
		Dial:                dial,
	})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.StartFlow(context.Background(), FlowParams{SessionID: sessionID, Chain: "NEAR", Asset: "wNEAR"})
		errCh <- err
	}()

	// Give the flow a moment to become active, then close the window
	// behind the SDK's back.
	time.Sleep(50 * time.Millisecond)
	window.setClosed()

	select {
	case err := <-errCh:
		var flowErr *FlowError
		require.ErrorAs(t, err, &flowErr)
		require.Equal(t, "Popup closed before completion", flowErr.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("flow did not reject after the popup closed")
	}

	// The closed-detection timer must not keep firing after settlement.
	time.Sleep(30 * time.Millisecond)
	checks := window.checks()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, checks, window.checks())
}

func TestStartFlowRejectsSecondConcurrentFlow(t *testing.T) {
	const sessionID = "abc123"

	window := &fakeWindow{}
	opener := &fakeOpener{window: window}
	dial := scriptedPopup(sessionID, "https://merchant.example", nil)

	client, err := New(Config{
		PopupBaseURL: "https://popup.example",
		SDKOrigin:    "https://merchant.example",
		Opener:       opener,
		Dial:         dial,
	})
	require.NoError(t, err)

	go func() {
		_, _ = client.StartFlow(context.Background(), FlowParams{SessionID: sessionID, Chain: "NEAR", Asset: "wNEAR"})
	}()

	require.Eventually(t, func() bool { return client.Status() == StatusActive }, time.Second, 5*time.Millisecond)

	_, err = client.StartFlow(context.Background(), FlowParams{SessionID: "other", Chain: "NEAR", Asset: "wNEAR"})
	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	require.Equal(t, "a flow is already active", flowErr.Message)

	// The second call focuses the already open popup instead.
	window.mu.Lock()
	focusCalls := window.focusCalls
	window.mu.Unlock()
	require.Equal(t, 1, focusCalls)

	client.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	var closeCalls atomic.Int64

	client, err := New(Config{
		PopupBaseURL: "https://popup.example",
		OnPopupClose: func() { closeCalls.Add(1) },
	})
	require.NoError(t, err)

	client.Close()
	client.Close()

	require.Equal(t, StatusClosed, client.Status())
	require.Equal(t, int64(1), closeCalls.Load())

	_, err = client.StartFlow(context.Background(), FlowParams{SessionID: "abc123", Chain: "NEAR", Asset: "wNEAR"})
	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	require.Contains(t, flowErr.Message, "closed")
}

func TestStartFlowRejectsWildcardOriginInProduction(t *testing.T) {
	opener := &fakeOpener{window: &fakeWindow{}}

	client, err := New(Config{
		PopupBaseURL: "https://popup.example",
		SDKOrigin:    protocol.WildcardOrigin,
		Production:   true,
		Opener:       opener,
	})
	require.NoError(t, err)

	_, err = client.StartFlow(context.Background(), FlowParams{SessionID: "abc123", Chain: "NEAR", Asset: "wNEAR"})
	require.Error(t, err)

	// The configuration error aborts before any popup is opened.
	require.Zero(t, opener.opens.Load())
	require.Equal(t, StatusIdle, client.Status())
}

func TestStartFlowRejectsErrorBroadcast(t *testing.T) {
	const sessionID = "abc123"

	broker := broadcast.NewMemoryBroker()
	channel := broadcast.NewChannel(broker)
	opener := &fakeOpener{window: &fakeWindow{}}

	dial := scriptedPopup(sessionID, "https://merchant.example", func(ctx context.Context, conn *protocol.Conn, started <-chan protocol.StartFlowPayload) {
		<-started
		_ = channel.Send(ctx, sessionID, broadcast.TypeError, &FlowError{Message: "swap REFUNDED", Step: "swap"})
	})

	client, err := New(Config{
		PopupBaseURL: "https://popup.example",
		SDKOrigin:    "https://merchant.example",
		Opener:       opener,
		Broker:       broker,
		Dial:         dial,
	})
	require.NoError(t, err)

	_, err = client.StartFlow(context.Background(), FlowParams{SessionID: sessionID, Chain: "NEAR", Asset: "wNEAR"})
	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	require.Equal(t, "swap REFUNDED", flowErr.Message)
	require.Equal(t, "swap", flowErr.Step)
}
