package onramp

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"near-onramp/pkg/protocol"
)

func TestBuildPopupURLParameterOrder(t *testing.T) {
	got, err := BuildPopupURL("https://popup.example", "", FlowParams{
		SessionID: "abc123",
		Chain:     "NEAR",
		Asset:     "wNEAR",
	})
	require.NoError(t, err)
	require.Equal(t, "https://popup.example/onramp?sessionId=abc123&chain=NEAR&asset=wNEAR", got)
	require.Contains(t, got, "sessionId=abc123&chain=NEAR&asset=wNEAR")
}

func TestBuildPopupURLAppFeesRoundTrip(t *testing.T) {
	fees := []protocol.AppFee{
		{Recipient: "partner.near", Fee: 0.5},
		{Recipient: "0x71C7656EC7ab88b098defB751B7401B5f6d8976F", Fee: 1.25},
	}

	got, err := BuildPopupURL("https://popup.example", "https://merchant.example", FlowParams{
		SessionID: "abc123",
		Chain:     "NEAR",
		Asset:     "wNEAR",
		AppFees:   fees,
	})
	require.NoError(t, err)

	parsed, err := url.Parse(got)
	require.NoError(t, err)
	require.Equal(t, "https://merchant.example", parsed.Query().Get("sdkOrigin"))

	var decoded []protocol.AppFee
	require.NoError(t, json.Unmarshal([]byte(parsed.Query().Get("appFees")), &decoded))
	require.Equal(t, fees, decoded)
}

func TestBuildPopupURLRequiresSessionAndTarget(t *testing.T) {
	_, err := BuildPopupURL("https://popup.example", "", FlowParams{Chain: "NEAR", Asset: "wNEAR"})
	require.Error(t, err)
	_, err = BuildPopupURL("https://popup.example", "", FlowParams{SessionID: "abc123"})
	require.Error(t, err)
}

func TestBuildWebsocketURL(t *testing.T) {
	got, err := BuildWebsocketURL("https://popup.example", "abc123")
	require.NoError(t, err)
	require.Equal(t, "wss://popup.example/ws?sessionId=abc123", got)

	got, err = BuildWebsocketURL("http://localhost:8080", "abc123")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/ws?sessionId=abc123", got)
}
