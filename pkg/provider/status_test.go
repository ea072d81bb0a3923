package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"near-onramp/pkg/flow"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		status   Status
		stage    flow.Stage
		known    bool
		terminal bool
	}{
		{StatusPendingDeposit, flow.StageDeposit, true, false},
		{StatusKnownDepositTx, flow.StageDeposit, true, false},
		{StatusProcessing, flow.StageSwap, true, false},
		{StatusSuccess, flow.StageCompleted, true, true},
		{StatusRefunded, flow.StageFailed, true, true},
		{StatusFailed, flow.StageFailed, true, true},
		{StatusExpired, flow.StageFailed, true, true},
	}

	for _, tt := range tests {
		stage, known := MapStatus(tt.status)
		require.Equal(t, tt.stage, stage, "status %s", tt.status)
		require.Equal(t, tt.known, known, "status %s", tt.status)
		require.Equal(t, tt.terminal, tt.status.IsTerminal(), "status %s", tt.status)
	}
}

func TestMapStatusUnrecognizedFailsDefensively(t *testing.T) {
	stage, known := MapStatus(Status("SOMETHING_NEW"))
	require.Equal(t, flow.StageFailed, stage)
	require.False(t, known)
	require.True(t, Status("SOMETHING_NEW").IsTerminal())
}

func TestAPIErrorPreservesStatusAndMessage(t *testing.T) {
	err := &APIError{StatusCode: 422, Message: "amount too low"}
	require.Contains(t, err.Error(), "422")
	require.Contains(t, err.Error(), "amount too low")
}
