package onramp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"near-onramp/pkg/protocol"
)

// PopupPath is the path of the popup launch endpoint.
const PopupPath = "/onramp"

// FlowParams describe one flow invocation.
type FlowParams struct {
	// SessionID is the caller-generated session id; one is generated when
	// empty.
	SessionID string
	// Chain and Asset identify the target the user should receive.
	Chain string
	Asset string
	// AppFees are optional partner fees serialized into the launch URL.
	AppFees []protocol.AppFee
}

// BuildPopupURL assembles the popup launch URL. The query parameter order is
// part of the external interface: sessionId, chain, asset, then the optional
// appFees and sdkOrigin.
func BuildPopupURL(baseURL, sdkOrigin string, params FlowParams) (string, error) {
	if params.SessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	if params.Chain == "" || params.Asset == "" {
		return "", fmt.Errorf("target chain and asset are required")
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	b.WriteString(PopupPath)
	b.WriteString("?sessionId=")
	b.WriteString(url.QueryEscape(params.SessionID))
	b.WriteString("&chain=")
	b.WriteString(url.QueryEscape(params.Chain))
	b.WriteString("&asset=")
	b.WriteString(url.QueryEscape(params.Asset))

	if len(params.AppFees) > 0 {
		fees, err := json.Marshal(params.AppFees)
		if err != nil {
			return "", fmt.Errorf("cannot serialize app fees: %w", err)
		}
		b.WriteString("&appFees=")
		b.WriteString(url.QueryEscape(string(fees)))
	}
	if sdkOrigin != "" {
		b.WriteString("&sdkOrigin=")
		b.WriteString(url.QueryEscape(sdkOrigin))
	}

	return b.String(), nil
}

// BuildWebsocketURL derives the handshake endpoint for a session from the
// popup base URL.
func BuildWebsocketURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid popup base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported popup base url scheme '%s'", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = "sessionId=" + url.QueryEscape(sessionID)
	return u.String(), nil
}
