package popup

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"near-onramp/pkg/broadcast"
	"near-onramp/pkg/flow"
	"near-onramp/pkg/onramp"
	"near-onramp/pkg/polling"
	"near-onramp/pkg/protocol"
	"near-onramp/pkg/provider"
	"near-onramp/pkg/validate"
)

// ProviderClient is the slice of the swap provider the runner needs.
type ProviderClient interface {
	GetQuote(req *provider.SwapRequest) (*provider.Quote, error)
	GetSwapStatus(depositAddress string) (*provider.StatusSnapshot, error)
	SubmitDepositTx(depositAddress, txHash string) error
}

// FormInput is one form submission: where the user's funds come from and
// where the swapped asset should go.
type FormInput struct {
	SourceToken   string `json:"sourceToken"`
	SourceChain   string `json:"sourceChain"`
	Recipient     string `json:"recipient"`
	RefundAddr    string `json:"refundAddress,omitempty"`
	Amount        string `json:"amount"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	DepositTxHash string `json:"depositTxHash,omitempty"`
}

// Runner drives one session's flow: it owns the stage machine, the quote and
// the polling engine, pushes step changes over the embedder connection and
// broadcasts exactly one terminal result per attempt on the session channel.
type Runner struct {
	sess    *Session
	prov    ProviderClient
	channel *broadcast.Channel
	catalog []validate.PaymentCurrency

	mu           sync.Mutex
	machine      *flow.Machine
	conn         *protocol.Conn
	quote        *provider.Quote
	form         *FormInput
	engine       *polling.Engine
	terminalSent bool
	logger       *log.Entry
}

// NewRunner creates a runner for a freshly launched or reloaded session.
func NewRunner(sess *Session, prov ProviderClient, channel *broadcast.Channel, opts ...polling.Option) *Runner {
	r := &Runner{
		sess:    sess,
		prov:    prov,
		channel: channel,
		logger:  log.WithField("sessionId", sess.ID),
	}
	r.engine = polling.NewEngine(prov, r.onPollUpdate, opts...)
	return r
}

// Session returns the session this runner drives.
func (r *Runner) Session() *Session {
	return r.sess
}

// SetCatalog supplies the payment-method limits used for amount validation.
func (r *Runner) SetCatalog(catalog []validate.PaymentCurrency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog = catalog
}

// Attach hands the runner the established embedder connection. Step changes
// are best-effort notifications from here on.
func (r *Runner) Attach(conn *protocol.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = conn
}

// HandleStartFlow reacts to the embedder's flow parameters: the flow enters
// the wallet-connect stage, or skips straight to form entry when the embedder
// reports an already connected wallet.
func (r *Runner) HandleStartFlow(p protocol.StartFlowPayload) error {
	initial := flow.StageConnectWallet
	if p.WalletConnected {
		initial = flow.StageFormEntry
	}

	machine, err := flow.NewMachine(initial, r.notifyStage)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.machine != nil {
		r.mu.Unlock()
		return fmt.Errorf("flow already started")
	}
	r.machine = machine
	if len(p.AppFees) > 0 {
		r.sess.AppFees = p.AppFees
	}
	r.mu.Unlock()

	r.notify(protocol.MethodFlowStarted, nil)
	r.notifyStage(initial)
	return nil
}

// ConnectWallet moves the flow from wallet connection to form entry.
func (r *Runner) ConnectWallet() error {
	machine, err := r.currentMachine()
	if err != nil {
		return err
	}
	return machine.Advance(flow.StageFormEntry)
}

// SubmitForm validates the form, fetches a quote (re-quoting if a previous
// one expired), reports the deposit transaction when one is supplied and
// starts monitoring the deposit address. Validation errors are recoverable:
// they are returned to the caller and leave the stage untouched.
func (r *Runner) SubmitForm(ctx context.Context, input FormInput) (*provider.Quote, error) {
	machine, err := r.currentMachine()
	if err != nil {
		return nil, err
	}

	if err := validate.RecipientAddress(r.sess.Chain, input.Recipient); err != nil {
		return nil, err
	}
	r.mu.Lock()
	catalog := r.catalog
	r.mu.Unlock()
	if err := validate.AmountWithinLimits(input.Amount, input.PaymentMethod, catalog); err != nil {
		return nil, err
	}
	if input.SourceToken == "" || input.SourceChain == "" {
		return nil, fmt.Errorf("source token and chain are required")
	}

	if err := machine.Advance(flow.StageQuerying); err != nil {
		return nil, err
	}

	quote, err := r.ensureQuote(&input)
	if err != nil {
		r.failFlow("failed to get a quote", err)
		return nil, err
	}

	if input.DepositTxHash != "" {
		if err := r.prov.SubmitDepositTx(quote.DepositAddress, input.DepositTxHash); err != nil {
			// The provider still detects the deposit on chain, just slower.
			r.logger.WithError(err).Warn("could not report the deposit transaction")
		}
	}

	if err := machine.Advance(flow.StageDeposit); err != nil {
		return nil, err
	}
	r.engine.Start(quote.DepositAddress)

	return quote, nil
}

// Retry re-enters form entry after a terminal failure, arming a new attempt
// with its own terminal broadcast.
func (r *Runner) Retry() error {
	machine, err := r.currentMachine()
	if err != nil {
		return err
	}
	if err := machine.Retry(); err != nil {
		return err
	}

	r.mu.Lock()
	r.terminalSent = false
	r.quote = nil
	r.form = nil
	r.mu.Unlock()
	return nil
}

// Stage returns the current flow stage, or the empty stage before the flow
// has started.
func (r *Runner) Stage() flow.Stage {
	r.mu.Lock()
	machine := r.machine
	r.mu.Unlock()
	if machine == nil {
		return ""
	}
	return machine.Stage()
}

// HandleClose ends the session from the popup side: polling stops and the
// embedder is told the popup is going away.
func (r *Runner) HandleClose() {
	r.engine.Stop()
	r.notify(protocol.MethodPopupClosed, nil)
}

// ensureQuote returns a quote valid right now, replacing an expired one. The
// form is remembered so a re-quote after expiry reuses the same input.
func (r *Runner) ensureQuote(input *FormInput) (*provider.Quote, error) {
	r.mu.Lock()
	cached := r.quote
	r.mu.Unlock()
	if cached != nil && !cached.Expired() {
		return cached, nil
	}
	if cached != nil {
		r.logger.Info("quote deadline passed, requesting a fresh quote")
	}

	quote, err := r.prov.GetQuote(&provider.SwapRequest{
		Amount:        input.Amount,
		SourceToken:   input.SourceToken,
		SourceChain:   input.SourceChain,
		DestToken:     r.sess.Asset,
		DestChain:     r.sess.Chain,
		RecipientAddr: input.Recipient,
		RefundAddr:    input.RefundAddr,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.quote = quote
	r.form = input
	r.mu.Unlock()
	return quote, nil
}

// onPollUpdate consumes engine updates. Transport retries surface as a
// retrying step notification; provider statuses advance the machine; terminal
// stages additionally settle the flow on the session channel.
func (r *Runner) onPollUpdate(update polling.Update) {
	if update.Retrying {
		r.notify(protocol.MethodStepChanged, protocol.StepChangedPayload{
			Step:     string(r.Stage()),
			Retrying: true,
		})
		return
	}

	machine, err := r.currentMachine()
	if err != nil {
		return
	}
	if err := machine.Advance(update.Stage); err != nil {
		r.logger.WithError(err).WithField("stage", update.Stage).Warn("ignoring stage update")
	}

	if update.Terminal {
		r.settle(update)
	}
}

func (r *Runner) settle(update polling.Update) {
	r.mu.Lock()
	if r.terminalSent {
		r.mu.Unlock()
		return
	}
	r.terminalSent = true
	quote := r.quote
	form := r.form
	r.mu.Unlock()

	ctx := context.Background()
	if update.Stage == flow.StageCompleted {
		result := onramp.FlowResult{
			Type:      onramp.ResultTypeIntents,
			Action:    onramp.ResultActionWithdraw,
			Network:   r.sess.Chain,
			Asset:     r.sess.Asset,
			Amount:    update.Snapshot.AmountOut,
			Recipient: recipientOf(form),
		}
		if quote != nil {
			result.DepositAddress = quote.DepositAddress
		}
		if err := r.channel.Send(ctx, r.sess.ID, broadcast.TypeComplete, result); err != nil {
			r.logger.WithError(err).Error("could not broadcast the flow result")
		}
		return
	}

	flowErr := &onramp.FlowError{
		Message: fmt.Sprintf("swap ended with status %s", update.Snapshot.Status),
		Step:    string(flow.StageSwap),
	}
	if err := r.channel.Send(ctx, r.sess.ID, broadcast.TypeError, flowErr); err != nil {
		r.logger.WithError(err).Error("could not broadcast the flow error")
	}
}

// failFlow marks the flow failed after an unrecoverable provider error and
// settles it on the session channel.
func (r *Runner) failFlow(message string, cause error) {
	machine, err := r.currentMachine()
	if err == nil {
		if ferr := machine.Fail(); ferr != nil {
			r.logger.WithError(ferr).Warn("could not mark the flow failed")
		}
	}

	r.mu.Lock()
	if r.terminalSent {
		r.mu.Unlock()
		return
	}
	r.terminalSent = true
	stage := ""
	if machine != nil {
		stage = string(flow.StageFailed)
	}
	r.mu.Unlock()

	flowErr := &onramp.FlowError{Message: message, Details: cause.Error(), Step: stage}
	if err := r.channel.Send(context.Background(), r.sess.ID, broadcast.TypeError, flowErr); err != nil {
		r.logger.WithError(err).Error("could not broadcast the flow error")
	}
}

func (r *Runner) currentMachine() (*flow.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine == nil {
		return nil, fmt.Errorf("flow has not started")
	}
	return r.machine, nil
}

func (r *Runner) notifyStage(stage flow.Stage) {
	r.notify(protocol.MethodStepChanged, protocol.StepChangedPayload{Step: string(stage)})
}

// notify pushes a call to the embedder when a connection is attached. The
// direct link is best effort; terminal outcomes never depend on it.
func (r *Runner) notify(method protocol.Method, payload interface{}) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Notify(method, payload); err != nil {
		r.logger.WithError(err).WithField("method", method).Debug("could not notify the embedder")
	}
}

func recipientOf(form *FormInput) string {
	if form == nil {
		return ""
	}
	return form.Recipient
}
