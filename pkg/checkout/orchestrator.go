// Package checkout drives a Pi payment from the buyer's side: it registers the wallet SDK
// callbacks and bridges each of them to the payment gateway, one phase at a time.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/money"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/pisdk"
)

// Failure kinds carried by an unsuccessful PaymentResult.
const (
	KindSDKUnavailable = "sdk_unavailable"
	KindValidation     = "validation"
	KindAuthentication = "authentication"
	KindApproval       = "approval"
	KindCancelled      = "cancelled"
	KindCompletion     = "completion"
	KindSDK            = "sdk_error"
	KindProtocol       = "protocol"
	KindContext        = "context"
	KindUnexpected     = "unexpected"
)

// ErrorCancelled is the Error of a result cancelled by the user.
const ErrorCancelled = "cancelled"

// Item is what the buyer is paying for.
type Item struct {
	ID          string
	Type        string
	Price       decimal.Decimal
	Description string
	Metadata    map[string]any
}

// PaymentResult is the single outcome shape of ProcessPayment.
type PaymentResult struct {
	Success   bool
	PaymentID string
	TxID      string
	Error     string
	Details   string
	Kind      string
	State     State
	Payment   *pisdk.Payment
}

// Orchestrator runs checkout flows for one wallet session. Flows are independent of each
// other; only the authenticated identity is shared.
type Orchestrator struct {
	sdk      pisdk.SDK
	gateway  Gateway
	log      *zap.Logger
	progress ProgressFunc
	scopes   []string
	timeout  time.Duration

	mu       sync.Mutex
	identity *pisdk.AuthResult
}

type Option func(*Orchestrator)

func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

func WithScopes(scopes ...string) Option {
	return func(o *Orchestrator) { o.scopes = scopes }
}

// WithTimeout bounds every ProcessPayment call. Zero leaves flows unbounded, waiting on the
// SDK for as long as the caller's context allows.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func New(sdk pisdk.SDK, gateway Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sdk:     sdk,
		gateway: gateway,
		log:     zap.NewNop(),
		scopes:  []string{pisdk.ScopeUsername, pisdk.ScopePayments, pisdk.ScopeWalletAddress},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Identity returns the authenticated wallet user, if any.
func (o *Orchestrator) Identity() (pisdk.AuthResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.identity == nil {
		return pisdk.AuthResult{}, false
	}
	return *o.identity, true
}

type eventKind int

const (
	evApproval eventKind = iota
	evCompletion
	evCancel
	evError
)

type event struct {
	kind      eventKind
	paymentID string
	txid      string
	err       error
	payment   *pisdk.Payment
}

// ProcessPayment takes item through authentication, approval and completion. It never
// panics and never returns an error: every failure is reported in the result.
func (o *Orchestrator) ProcessPayment(ctx context.Context, item Item) (result PaymentResult) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	f := newFlow(o.progress)
	defer func() {
		if r := recover(); r != nil {
			result = o.fail(f, KindUnexpected, fmt.Errorf("unexpected panic: %v", r), nil)
		}
	}()

	f.emit(PhaseInit, map[string]any{"itemId": item.ID, "itemType": item.Type, "amount": item.Price.String()})

	if o.sdk == nil {
		return o.fail(f, KindSDKUnavailable, pisdk.ErrUnavailable, nil)
	}
	if err := money.Validate(item.Price); err != nil {
		return o.fail(f, KindValidation, err, nil)
	}

	identity, err := o.authenticate(ctx, f)
	if err != nil {
		kind := KindAuthentication
		if errors.Is(err, pisdk.ErrUnavailable) {
			kind = KindSDKUnavailable
		}
		return o.fail(f, kind, err, nil)
	}
	f.emit(PhaseAuthenticated, map[string]any{"username": identity.User.Username})

	metadata := paymentMetadata(item, identity)
	events := make(chan event, 8)
	done := make(chan struct{})
	defer close(done)

	send := func(ev event) {
		select {
		case events <- ev:
		case <-done:
		}
	}
	callbacks := pisdk.Callbacks{
		OnReadyForServerApproval: func(paymentID string) {
			send(event{kind: evApproval, paymentID: paymentID})
		},
		OnReadyForServerCompletion: func(paymentID, txid string) {
			send(event{kind: evCompletion, paymentID: paymentID, txid: txid})
		},
		OnCancel: func(paymentID string) {
			send(event{kind: evCancel, paymentID: paymentID})
		},
		OnError: func(err error, payment *pisdk.Payment) {
			send(event{kind: evError, err: err, payment: payment})
		},
	}

	data := pisdk.PaymentData{
		Amount:   item.Price,
		Memo:     paymentMemo(item),
		Metadata: maps.Clone(metadata),
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				send(event{kind: evError, err: fmt.Errorf("sdk panic: %v", r)})
			}
		}()
		if err := o.sdk.CreatePayment(ctx, data, callbacks); err != nil {
			send(event{kind: evError, err: err})
		}
	}()

	return o.run(ctx, f, events, metadata)
}

func (o *Orchestrator) run(ctx context.Context, f *flow, events <-chan event, metadata map[string]any) PaymentResult {
	for {
		select {
		case <-ctx.Done():
			return o.fail(f, KindContext, ctx.Err(), nil)
		case ev := <-events:
			switch ev.kind {
			case evApproval:
				if res, done := o.approve(ctx, f, ev.paymentID, metadata); done {
					return res
				}
			case evCompletion:
				return o.complete(ctx, f, ev.paymentID, ev.txid, metadata)
			case evCancel:
				if ev.paymentID != "" {
					f.paymentID = ev.paymentID
				}
				_ = f.to(StateCancelled)
				f.emit(PhaseCancelled, nil)
				o.log.Info("Payment cancelled by user", zap.String("payment_id", f.paymentID))
				return PaymentResult{
					PaymentID: f.paymentID,
					Error:     ErrorCancelled,
					Kind:      KindCancelled,
					State:     f.state,
				}
			case evError:
				kind := KindSDK
				if errors.Is(ev.err, pisdk.ErrUnavailable) {
					kind = KindSDKUnavailable
				}
				if ev.payment != nil && f.paymentID == "" {
					f.paymentID = ev.payment.Identifier
				}
				return o.fail(f, kind, ev.err, ev.payment)
			}
		}
	}
}

// approve handles the approval callback. done is true when the flow has ended.
func (o *Orchestrator) approve(ctx context.Context, f *flow, paymentID string, metadata map[string]any) (PaymentResult, bool) {
	if f.paymentID != "" && f.paymentID != paymentID {
		return o.fail(f, KindProtocol, fmt.Errorf("approval requested for %s while handling %s", paymentID, f.paymentID), nil), true
	}
	f.paymentID = paymentID
	if err := f.to(StateAwaitingApproval); err != nil {
		return o.fail(f, KindProtocol, err, nil), true
	}
	f.emit(PhaseApproval, nil)

	resp, err := o.gateway.Approve(ctx, paymentID, maps.Clone(metadata))
	if err != nil {
		return o.fail(f, KindApproval, err, nil), true
	}
	if !resp.Success {
		res := o.fail(f, KindApproval, rejection(resp.Error, "payment approval rejected"), nil)
		res.Details = resp.Details
		return res, true
	}

	if err := f.to(StateApproved); err != nil {
		return o.fail(f, KindProtocol, err, nil), true
	}
	f.emit(PhaseApproved, nil)
	o.log.Info("Payment approved", zap.String("payment_id", paymentID))
	return PaymentResult{}, false
}

func (o *Orchestrator) complete(ctx context.Context, f *flow, paymentID, txid string, metadata map[string]any) PaymentResult {
	if f.state != StateApproved {
		return o.fail(f, KindProtocol, fmt.Errorf("completion requested in state %s", f.state), nil)
	}
	if paymentID != f.paymentID {
		return o.fail(f, KindProtocol, fmt.Errorf("completion requested for %s while handling %s", paymentID, f.paymentID), nil)
	}
	if err := f.to(StateAwaitingCompletion); err != nil {
		return o.fail(f, KindProtocol, err, nil)
	}
	f.emit(PhaseCompletion, map[string]any{"txid": txid})

	resp, err := o.gateway.Complete(ctx, paymentID, txid, maps.Clone(metadata))
	if err != nil {
		o.needsReconciliation(paymentID, txid, err.Error())
		res := o.fail(f, KindCompletion, err, nil)
		res.TxID = txid
		return res
	}
	if !resp.Success || !resp.Verified {
		msg := rejection(resp.Error, "payment not verified")
		o.needsReconciliation(paymentID, txid, msg.Error())
		res := o.fail(f, KindCompletion, msg, nil)
		res.TxID = txid
		res.Details = resp.Details
		return res
	}

	if err := f.to(StateCompleted); err != nil {
		return o.fail(f, KindProtocol, err, nil)
	}
	f.emit(PhaseCompleted, map[string]any{"txid": txid})
	o.log.Info("Payment completed",
		zap.String("payment_id", paymentID),
		zap.String("txid", txid),
	)
	return PaymentResult{Success: true, PaymentID: paymentID, TxID: txid, State: f.state}
}

func (o *Orchestrator) fail(f *flow, kind string, err error, payment *pisdk.Payment) PaymentResult {
	if !f.state.Terminal() {
		_ = f.to(StateErrored)
	}
	details := map[string]any{"kind": kind, "error": err.Error()}
	if payment != nil {
		details["payment"] = payment
	}
	f.emit(PhaseError, details)
	o.log.Warn("Payment failed",
		zap.String("payment_id", f.paymentID),
		zap.String("kind", kind),
		zap.Error(err),
	)
	return PaymentResult{
		PaymentID: f.paymentID,
		Error:     err.Error(),
		Kind:      kind,
		State:     f.state,
		Payment:   payment,
	}
}

func (o *Orchestrator) needsReconciliation(paymentID, txid, reason string) {
	o.log.Error("Payment has a transaction but was not verified; needs reconciliation",
		zap.String("payment_id", paymentID),
		zap.String("txid", txid),
		zap.String("reason", reason),
	)
}

// authenticate returns the active identity, establishing one first if needed.
func (o *Orchestrator) authenticate(ctx context.Context, f *flow) (pisdk.AuthResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.identity != nil {
		return *o.identity, nil
	}
	if err := f.to(StateAuthenticating); err != nil {
		return pisdk.AuthResult{}, err
	}

	// Incomplete payments are completed once the gateway session exists.
	var (
		pendingMu sync.Mutex
		pending   []pisdk.Payment
	)
	auth, err := o.sdk.Authenticate(ctx, o.scopes, func(p pisdk.Payment) {
		pendingMu.Lock()
		pending = append(pending, p)
		pendingMu.Unlock()
	})
	if err != nil {
		return pisdk.AuthResult{}, fmt.Errorf("authenticate: %w", err)
	}
	if auth.AccessToken == "" || auth.User.UID == "" {
		return pisdk.AuthResult{}, errors.New("authenticate: empty identity")
	}
	if starter, ok := o.gateway.(SessionStarter); ok {
		if err := starter.StartSession(ctx, auth.AccessToken); err != nil {
			return pisdk.AuthResult{}, fmt.Errorf("start session: %w", err)
		}
	}

	o.identity = &auth

	pendingMu.Lock()
	incomplete := pending
	pending = nil
	pendingMu.Unlock()
	for _, p := range incomplete {
		o.recoverIncomplete(ctx, p)
	}
	return auth, nil
}

// recoverIncomplete finishes a payment a previous session left signed but not completed.
// It goes through the same verified completion path as a live checkout.
func (o *Orchestrator) recoverIncomplete(ctx context.Context, p pisdk.Payment) {
	if p.Transaction == nil || p.Transaction.TxID == "" {
		o.log.Warn("Incomplete payment has no transaction yet",
			zap.String("payment_id", p.Identifier),
		)
		return
	}

	resp, err := o.gateway.Complete(ctx, p.Identifier, p.Transaction.TxID, maps.Clone(p.Metadata))
	if err != nil || !resp.Success || !resp.Verified {
		reason := resp.Error
		if err != nil {
			reason = err.Error()
		}
		o.needsReconciliation(p.Identifier, p.Transaction.TxID, reason)
		return
	}
	o.log.Info("Recovered incomplete payment",
		zap.String("payment_id", p.Identifier),
		zap.String("txid", p.Transaction.TxID),
	)
}

func paymentMetadata(item Item, identity pisdk.AuthResult) map[string]any {
	metadata := make(map[string]any, len(item.Metadata)+3)
	for k, v := range item.Metadata {
		metadata[k] = v
	}
	metadata[paymentapi.MetaItemID] = item.ID
	metadata[paymentapi.MetaItemType] = item.Type
	metadata[paymentapi.MetaPurchaser] = identity.User.UID
	return metadata
}

func paymentMemo(item Item) string {
	if item.Description != "" {
		return item.Description
	}
	return fmt.Sprintf("DropLink %s %s", item.Type, item.ID)
}

func rejection(msg, fallback string) error {
	if msg == "" {
		msg = fallback
	}
	return errors.New(msg)
}
