package polling

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"near-onramp/pkg/flow"
	"near-onramp/pkg/provider"
)

type pollResult struct {
	snap *provider.StatusSnapshot
	err  error
}

type scriptedClient struct {
	mu      sync.Mutex
	results []pollResult
	calls   int
}

func (c *scriptedClient) GetSwapStatus(string) (*provider.StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.calls
	c.calls++
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	return c.results[i].snap, c.results[i].err
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func snap(status provider.Status) *provider.StatusSnapshot {
	return &provider.StatusSnapshot{Status: status, UpdatedAt: time.Now()}
}

// newTestEngine wires an engine whose timers fire immediately while the
// requested delays are recorded for inspection.
func newTestEngine(client StatusClient, onUpdate func(Update)) (*Engine, chan time.Duration) {
	delays := make(chan time.Duration, 32)
	e := NewEngine(client, onUpdate, WithInterval(100*time.Millisecond))
	e.after = func(d time.Duration) <-chan time.Time {
		delays <- d
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return e, delays
}

func collectUpdates(t *testing.T, updates <-chan Update, n int) []Update {
	t.Helper()

	out := make([]Update, 0, n)
	for len(out) < n {
		select {
		case u := <-updates:
			out = append(out, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for update %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestEngineStopsAfterSuccess(t *testing.T) {
	client := &scriptedClient{results: []pollResult{
		{snap: snap(provider.StatusPendingDeposit)},
		{snap: snap(provider.StatusProcessing)},
		{snap: snap(provider.StatusSuccess)},
	}}

	updates := make(chan Update, 16)
	e, _ := newTestEngine(client, func(u Update) { updates <- u })
	e.Start("0xdeposit")

	got := collectUpdates(t, updates, 3)
	require.Equal(t, flow.StageDeposit, got[0].Stage)
	require.Equal(t, flow.StageSwap, got[1].Stage)
	require.Equal(t, flow.StageCompleted, got[2].Stage)
	require.True(t, got[2].Terminal)

	// Terminal stage must stop the poller for good.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 3, client.callCount())
	select {
	case u := <-updates:
		t.Fatalf("unexpected update after terminal stage: %+v", u)
	default:
	}
}

func TestEngineStopsAfterProviderFailure(t *testing.T) {
	for _, status := range []provider.Status{provider.StatusFailed, provider.StatusRefunded, provider.StatusExpired} {
		client := &scriptedClient{results: []pollResult{
			{snap: snap(provider.StatusProcessing)},
			{snap: snap(status)},
		}}

		updates := make(chan Update, 16)
		e, _ := newTestEngine(client, func(u Update) { updates <- u })
		e.Start("0xdeposit")

		got := collectUpdates(t, updates, 2)
		require.Equal(t, flow.StageFailed, got[1].Stage, "status %s", status)
		require.True(t, got[1].Terminal)

		time.Sleep(50 * time.Millisecond)
		require.Equal(t, 2, client.callCount(), "status %s", status)
	}
}

func TestEngineRetriesTransportErrorsAtDoubleInterval(t *testing.T) {
	client := &scriptedClient{results: []pollResult{
		{snap: snap(provider.StatusProcessing)},
		{err: &provider.APIError{StatusCode: 502, Message: "bad gateway"}},
		{snap: snap(provider.StatusProcessing)},
		{snap: snap(provider.StatusSuccess)},
	}}

	updates := make(chan Update, 16)
	e, delays := newTestEngine(client, func(u Update) { updates <- u })
	e.Start("0xdeposit")

	got := collectUpdates(t, updates, 4)

	// A transport failure is a retry, never a terminal failure.
	require.True(t, got[1].Retrying)
	require.Error(t, got[1].Err)
	require.False(t, got[1].Terminal)
	require.Nil(t, got[1].Snapshot)

	// Poll 3 happens and completes the flow.
	require.Equal(t, flow.StageSwap, got[2].Stage)
	require.Equal(t, flow.StageCompleted, got[3].Stage)

	// First poll is immediate; after poll 1 the normal interval, after the
	// failed poll 2 the doubled one.
	require.Equal(t, 100*time.Millisecond, <-delays)
	require.Equal(t, 200*time.Millisecond, <-delays)
	require.Equal(t, 100*time.Millisecond, <-delays)
}

func TestEngineMapsUnrecognizedStatusToFailed(t *testing.T) {
	client := &scriptedClient{results: []pollResult{
		{snap: snap(provider.Status("FUTURE_STATUS"))},
	}}

	updates := make(chan Update, 16)
	e, _ := newTestEngine(client, func(u Update) { updates <- u })
	e.Start("0xdeposit")

	got := collectUpdates(t, updates, 1)
	require.Equal(t, flow.StageFailed, got[0].Stage)
	require.True(t, got[0].Terminal)
}

type blockingClient struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (c *blockingClient) GetSwapStatus(addr string) (*provider.StatusSnapshot, error) {
	var first bool
	c.once.Do(func() { first = true })
	if first {
		close(c.entered)
		<-c.release
		return snap(provider.StatusProcessing), nil
	}
	return snap(provider.StatusSuccess), nil
}

func TestEngineRestartCancelsPreviousPoller(t *testing.T) {
	client := &blockingClient{release: make(chan struct{}), entered: make(chan struct{})}

	updates := make(chan Update, 16)
	e, _ := newTestEngine(client, func(u Update) { updates <- u })

	e.Start("0xold")
	<-client.entered

	// Restarting with a new deposit address cancels the old poller even
	// though its request is still in flight.
	e.Start("0xnew")
	close(client.release)

	got := collectUpdates(t, updates, 1)
	require.Equal(t, "0xnew", got[0].DepositAddress)
	require.Equal(t, "0xnew", e.DepositAddress())

	time.Sleep(50 * time.Millisecond)
	select {
	case u := <-updates:
		require.NotEqual(t, "0xold", u.DepositAddress)
	default:
	}
}

func TestEngineStopIsIdempotent(t *testing.T) {
	client := &scriptedClient{results: []pollResult{{snap: snap(provider.StatusProcessing)}}}
	e, _ := newTestEngine(client, func(Update) {})
	e.Start("0xdeposit")
	e.Stop()
	e.Stop()
}
