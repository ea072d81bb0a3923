package provider

import "time"

// SwapRequest describes a requested swap in user terms: token symbols plus
// chain names, amount in human units.
type SwapRequest struct {
	Amount        string
	SourceToken   string
	SourceChain   string
	DestToken     string
	DestChain     string
	RecipientAddr string
	RefundAddr    string
}

// Quote is an immutable snapshot of a provider quote. It is only valid until
// Deadline; after that a fresh quote must be requested.
type Quote struct {
	DepositAddress     string
	DepositMemo        string
	AmountInFormatted  string
	AmountOutFormatted string
	TimeEstimateSec    float64
	Deadline           time.Time
}

// Expired reports whether the quote deadline has passed.
func (q *Quote) Expired() bool {
	return time.Now().After(q.Deadline)
}

// StatusSnapshot is one poll result. Every poll produces a new, fully
// replacing snapshot; snapshots are never merged field by field.
type StatusSnapshot struct {
	Status         Status
	UpdatedAt      time.Time
	AmountIn       string
	AmountOut      string
	OriginTxHashes []string
	DestTxHashes   []string
}
