package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/ledger"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/outbox"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/risk"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/pisdk"
)

const appWallet = "GAPPWALLET"

type fakePi struct {
	mu       sync.Mutex
	payments map[string]*pisdk.Payment

	GetErr        error
	ApproveErr    error
	CompleteErr   error
	CancelErr     error
	IncompleteErr error

	// incomplete lists payment IDs returned by IncompleteServerPayments.
	incomplete []string

	approveCalls  int
	completeCalls int
	cancelCalls   int
}

func (f *fakePi) GetPayment(_ context.Context, id string) (*pisdk.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakePi) ApprovePayment(_ context.Context, id string) (*pisdk.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approveCalls++
	if f.ApproveErr != nil {
		return nil, f.ApproveErr
	}
	f.payments[id].Status.DeveloperApproved = true
	return f.payments[id], nil
}

func (f *fakePi) CompletePayment(_ context.Context, id, txid string) (*pisdk.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	if f.CompleteErr != nil {
		return nil, f.CompleteErr
	}
	f.payments[id].Status.DeveloperCompleted = true
	return f.payments[id], nil
}

func (f *fakePi) CancelPayment(_ context.Context, id string) (*pisdk.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	if f.CancelErr != nil {
		return nil, f.CancelErr
	}
	f.payments[id].Status.Cancelled = true
	return f.payments[id], nil
}

func (f *fakePi) IncompleteServerPayments(context.Context) ([]pisdk.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IncompleteErr != nil {
		return nil, f.IncompleteErr
	}
	var out []pisdk.Payment
	for _, id := range f.incomplete {
		out = append(out, *f.payments[id])
	}
	return out, nil
}

// sign simulates the user signing the transaction in the wallet.
func (f *fakePi) sign(id, txid string, verified bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[id].Transaction = &pisdk.Transaction{TxID: txid, Verified: verified}
	f.payments[id].Status.TransactionVerified = verified
}

type fakePayments struct {
	mu       sync.Mutex
	byID     map[string]*models.Payment
	verified map[string]*models.VerifiedTransaction
	queued   []outbox.Message
}

func newFakePayments() *fakePayments {
	return &fakePayments{byID: map[string]*models.Payment{}, verified: map[string]*models.VerifiedTransaction{}}
}

func (r *fakePayments) Create(_ context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; !ok {
		cp := *p
		r.byID[p.ID] = &cp
	}
	return nil
}

func (r *fakePayments) GetByID(_ context.Context, id string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (r *fakePayments) Transition(_ context.Context, id string, from, to models.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Status != from {
		return models.ErrInvalidTransition
	}
	p.Status = to
	return nil
}

func (r *fakePayments) Complete(_ context.Context, vt *models.VerifiedTransaction, msgs ...outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[vt.PaymentID]
	if !ok || p.Status != models.StatusApproved {
		return models.ErrInvalidTransition
	}
	p.Status = models.StatusCompleted
	p.TxID = vt.TxID
	p.LastError = ""
	r.verified[vt.PaymentID] = vt
	r.queued = append(r.queued, msgs...)
	return nil
}

func (r *fakePayments) queuedTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.queued {
		out = append(out, m.Topic)
	}
	return out
}

func (r *fakePayments) RecordError(_ context.Context, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.LastError = message
	}
	return nil
}

func (r *fakePayments) GetVerification(_ context.Context, id string) (*models.VerifiedTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vt, ok := r.verified[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return vt, nil
}

func (r *fakePayments) ListByStatus(_ context.Context, status models.PaymentStatus, limit int) ([]*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Payment
	for _, p := range r.byID {
		if p.Status == status && len(out) < limit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	items map[string]*models.CatalogItem
}

func (c *fakeCatalog) GetItem(_ context.Context, id, itemType string) (*models.CatalogItem, error) {
	item, ok := c.items[itemType+"/"+id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return item, nil
}

type fakeLedger struct {
	VerifyFunc func(exp ledger.Expectation) (*ledger.Verification, error)
	calls      int
}

func (l *fakeLedger) Verify(_ context.Context, exp ledger.Expectation) (*ledger.Verification, error) {
	l.calls++
	if l.VerifyFunc != nil {
		return l.VerifyFunc(exp)
	}
	return &ledger.Verification{
		TxID:        exp.TxID,
		Ledger:      100,
		FromAddress: exp.FromAddress,
		ToAddress:   appWallet,
		Amount:      exp.Amount,
	}, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) Lock(_ context.Context, id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[id] {
		return nil, ErrLocked
	}
	l.held[id] = true
	return func() {
		l.mu.Lock()
		delete(l.held, id)
		l.mu.Unlock()
	}, nil
}

type published struct {
	topic string
	event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic, event})
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.topic)
	}
	return out
}

type fakeRisk struct {
	resp risk.Response
	err  error
}

func (r *fakeRisk) Check(context.Context, risk.Request) (risk.Response, error) { return r.resp, r.err }

type harness struct {
	pi        *fakePi
	payments  *fakePayments
	catalog   *fakeCatalog
	ledger    *fakeLedger
	locker    *fakeLocker
	publisher *recordingPublisher
	svc       *Service
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		pi: &fakePi{payments: map[string]*pisdk.Payment{
			"pay123": {
				Identifier:  "pay123",
				UserUID:     "uid-1",
				Amount:      decimal.RequireFromString("3.14"),
				Memo:        "Sticker pack",
				Metadata:    map[string]any{"itemId": "prod-1"},
				FromAddress: "GUSER",
				ToAddress:   appWallet,
				Direction:   "user_to_app",
			},
			"tip1": {
				Identifier: "tip1",
				UserUID:    "uid-1",
				Amount:     decimal.RequireFromString("0.5"),
				Direction:  "user_to_app",
			},
		}},
		payments: newFakePayments(),
		catalog: &fakeCatalog{items: map[string]*models.CatalogItem{
			"product/prod-1": {ID: "prod-1", ItemType: "product", Price: decimal.RequireFromString("3.1400000"), SellerID: "seller-1", Active: true},
			"product/old-1":  {ID: "old-1", ItemType: "product", Price: decimal.RequireFromString("3.14"), Active: false},
			"product/cheap":  {ID: "cheap", ItemType: "product", Price: decimal.RequireFromString("1"), Active: true},
			"tip/creator-1":  {ID: "creator-1", ItemType: "tip", Active: true},
		}},
		ledger:    &fakeLedger{},
		locker:    &fakeLocker{},
		publisher: &recordingPublisher{},
	}
	h.svc = NewService(h.pi, h.payments, h.catalog, h.ledger, h.locker, h.publisher, appWallet, opts...)
	return h
}

func metadata(itemID, itemType string) map[string]any {
	return map[string]any{"itemId": itemID, "itemType": itemType, "purchaser": "uid-1"}
}
