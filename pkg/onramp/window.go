package onramp

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Window is a handle to an opened popup context.
type Window interface {
	// Closed reports whether the popup context is gone.
	Closed() bool
	// Focus brings an already open popup to the user's attention.
	Focus() error
	// Close force-closes the popup context. Must be safe to call on an
	// already closed window.
	Close() error
}

// Opener spawns a popup context for a launch URL.
type Opener interface {
	Open(launchURL string) (Window, error)
}

// RemoteOpener opens flows against a running popup service: the launch URL
// boots the session, and the service's session endpoints back the window
// handle (liveness is the closed flag, DELETE is the forced close).
type RemoteOpener struct {
	HTTPClient *http.Client
}

func (o *RemoteOpener) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Open boots a session on the popup service.
func (o *RemoteOpener) Open(launchURL string) (Window, error) {
	parsed, err := url.Parse(launchURL)
	if err != nil {
		return nil, fmt.Errorf("invalid launch url: %w", err)
	}
	sessionID := parsed.Query().Get("sessionId")
	if sessionID == "" {
		return nil, fmt.Errorf("launch url is missing the session id")
	}

	resp, err := o.httpClient().Get(launchURL)
	if err != nil {
		return nil, fmt.Errorf("popup service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("popup service refused the session (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	base := *parsed
	base.Path = ""
	base.RawQuery = ""

	return &remoteWindow{
		client:     o.httpClient(),
		sessionURL: base.String() + "/sessions/" + url.PathEscape(sessionID),
	}, nil
}

type remoteWindow struct {
	client     *http.Client
	sessionURL string
}

func (w *remoteWindow) Closed() bool {
	resp, err := w.client.Get(w.sessionURL)
	if err != nil {
		return true
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode != http.StatusOK
}

func (w *remoteWindow) Focus() error {
	// Focus is a browser affordance; the remote session has no equivalent.
	return nil
}

func (w *remoteWindow) Close() error {
	req, err := http.NewRequest(http.MethodDelete, w.sessionURL, nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
