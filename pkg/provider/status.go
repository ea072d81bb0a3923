package provider

import "near-onramp/pkg/flow"

// Status is the swap status as reported by the 1Click API.
type Status string

const (
	StatusPendingDeposit Status = "PENDING_DEPOSIT"
	StatusKnownDepositTx Status = "KNOWN_DEPOSIT_TX"
	StatusProcessing     Status = "PROCESSING"
	StatusSuccess        Status = "SUCCESS"
	StatusRefunded       Status = "REFUNDED"
	StatusFailed         Status = "FAILED"
	StatusExpired        Status = "EXPIRED"
)

// MapStatus translates a provider status into the flow stage that should be
// shown for it. The second return value is false for status values this
// version does not recognize; those map to StageFailed as a defensive
// default and callers should log the raw value.
func MapStatus(s Status) (flow.Stage, bool) {
	switch s {
	case StatusPendingDeposit, StatusKnownDepositTx:
		return flow.StageDeposit, true
	case StatusProcessing:
		return flow.StageSwap, true
	case StatusSuccess:
		return flow.StageCompleted, true
	case StatusRefunded, StatusFailed, StatusExpired:
		return flow.StageFailed, true
	default:
		return flow.StageFailed, false
	}
}

// IsTerminal returns true if the provider will never report another status
// for this swap.
func (s Status) IsTerminal() bool {
	stage, _ := MapStatus(s)
	return stage.IsTerminal()
}
