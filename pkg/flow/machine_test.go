package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachineAdvancesForwardOnly(t *testing.T) {
	m, err := NewMachine(StageConnectWallet, nil)
	require.NoError(t, err)

	require.NoError(t, m.Advance(StageFormEntry))
	require.NoError(t, m.Advance(StageQuerying))
	require.NoError(t, m.Advance(StageDeposit))

	err = m.Advance(StageFormEntry)
	require.Error(t, err)
	require.Equal(t, StageDeposit, m.Stage())

	require.NoError(t, m.Advance(StageSwap))
	require.NoError(t, m.Advance(StageCompleted))
	require.True(t, m.Stage().IsTerminal())
}

func TestMachineSameStageIsNoOp(t *testing.T) {
	var changes []Stage
	m, err := NewMachine(StageFormEntry, func(s Stage) { changes = append(changes, s) })
	require.NoError(t, err)

	require.NoError(t, m.Advance(StageDeposit))
	require.NoError(t, m.Advance(StageDeposit))
	require.NoError(t, m.Advance(StageDeposit))

	require.Equal(t, []Stage{StageDeposit}, changes)
}

func TestMachineFailFromAnyNonTerminalStage(t *testing.T) {
	for _, start := range []Stage{StageConnectWallet, StageFormEntry, StageQuerying, StageDeposit, StageSwap} {
		m, err := NewMachine(start, nil)
		require.NoError(t, err)
		require.NoError(t, m.Fail())
		require.Equal(t, StageFailed, m.Stage())
	}
}

func TestMachineTerminalStagesAreFinal(t *testing.T) {
	m, err := NewMachine(StageFormEntry, nil)
	require.NoError(t, err)
	require.NoError(t, m.Advance(StageCompleted))

	require.Error(t, m.Advance(StageSwap))
	require.Error(t, m.Fail())
	require.Error(t, m.Retry())
	require.Equal(t, StageCompleted, m.Stage())
}

func TestMachineRetryStartsNewAttempt(t *testing.T) {
	m, err := NewMachine(StageFormEntry, nil)
	require.NoError(t, err)
	require.NoError(t, m.Advance(StageDeposit))
	require.NoError(t, m.Fail())

	require.Equal(t, 1, m.Attempt())
	require.NoError(t, m.Retry())
	require.Equal(t, StageFormEntry, m.Stage())
	require.Equal(t, 2, m.Attempt())

	// The new attempt may pass through earlier stages again.
	require.NoError(t, m.Advance(StageDeposit))
}

func TestMachineRetryOnlyFromFailed(t *testing.T) {
	m, err := NewMachine(StageFormEntry, nil)
	require.NoError(t, err)
	require.Error(t, m.Retry())
}

func TestNewMachineRejectsTerminalAndUnknownStart(t *testing.T) {
	_, err := NewMachine(StageFailed, nil)
	require.Error(t, err)

	_, err = NewMachine(Stage("bogus"), nil)
	require.Error(t, err)
}
