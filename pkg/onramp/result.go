package onramp

import "fmt"

// FlowResult is what a successful flow resolves with: a withdraw intent the
// embedder can act on.
type FlowResult struct {
	Type           string `json:"type"`
	Action         string `json:"action"`
	DepositAddress string `json:"depositAddress"`
	Network        string `json:"network"`
	Asset          string `json:"asset"`
	Amount         string `json:"amount"`
	Recipient      string `json:"recipient"`
}

const (
	ResultTypeIntents    = "intents"
	ResultActionWithdraw = "withdraw"
)

// FlowError is the rejection value of a failed flow. Step, when set, names
// the stage the flow was in when it failed, so the embedder can tell "user
// abandoned" from "swap failed".
type FlowError struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Step    string `json:"step,omitempty"`
}

func (e *FlowError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}
