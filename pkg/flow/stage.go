package flow

// Stage is the user-visible progress stage of one onramp attempt. It is
// deliberately distinct from the swap provider's status enum: provider
// statuses are mapped onto stages, never shown directly.
type Stage string

const (
	StageConnectWallet Stage = "connect-wallet"
	StageFormEntry     Stage = "form-entry"
	StageQuerying      Stage = "querying"
	StageDeposit       Stage = "deposit"
	StageSigning       Stage = "signing"
	StageSending       Stage = "sending"
	StageSwap          Stage = "swap"
	StageCompleted     Stage = "completed"
	StageFailed        Stage = "failed"
)

// stageRank orders stages within a single attempt. Transitions may only move
// to a higher rank, except for StageFailed which is reachable from any
// non-terminal stage.
var stageRank = map[Stage]int{
	StageConnectWallet: 0,
	StageFormEntry:     1,
	StageQuerying:      2,
	StageDeposit:       3,
	StageSigning:       4,
	StageSending:       5,
	StageSwap:          6,
	StageCompleted:     7,
	StageFailed:        8,
}

// IsValid returns true if the stage is one of the known stages.
func (s Stage) IsValid() bool {
	_, ok := stageRank[s]
	return ok
}

// IsTerminal returns true if no further progression happens from this stage
// without a full restart of the attempt.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// IsProcessing returns true for the intermediate stages between form
// submission and the terminal outcome.
func (s Stage) IsProcessing() bool {
	switch s {
	case StageQuerying, StageDeposit, StageSigning, StageSending, StageSwap:
		return true
	default:
		return false
	}
}
