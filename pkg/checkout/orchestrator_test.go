package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/pisdk"
)

type fakeSDK struct {
	AuthenticateFunc  func(ctx context.Context, scopes []string, onIncomplete pisdk.IncompletePaymentFunc) (pisdk.AuthResult, error)
	CreatePaymentFunc func(ctx context.Context, data pisdk.PaymentData, cb pisdk.Callbacks) error

	mu              sync.Mutex
	authCalls       int
	createCalls     int
	lastPaymentData pisdk.PaymentData
}

func (s *fakeSDK) Authenticate(ctx context.Context, scopes []string, onIncomplete pisdk.IncompletePaymentFunc) (pisdk.AuthResult, error) {
	s.mu.Lock()
	s.authCalls++
	s.mu.Unlock()
	if s.AuthenticateFunc != nil {
		return s.AuthenticateFunc(ctx, scopes, onIncomplete)
	}
	return pisdk.AuthResult{AccessToken: "access-token", User: pisdk.User{UID: "uid-alice", Username: "alice"}}, nil
}

func (s *fakeSDK) CreatePayment(ctx context.Context, data pisdk.PaymentData, cb pisdk.Callbacks) error {
	s.mu.Lock()
	s.createCalls++
	s.lastPaymentData = data
	s.mu.Unlock()
	if s.CreatePaymentFunc != nil {
		return s.CreatePaymentFunc(ctx, data, cb)
	}
	return nil
}

// happyWallet plays the wallet side of a payment that the user signs.
func happyWallet(paymentID, txid string) func(context.Context, pisdk.PaymentData, pisdk.Callbacks) error {
	return func(_ context.Context, _ pisdk.PaymentData, cb pisdk.Callbacks) error {
		cb.OnReadyForServerApproval(paymentID)
		cb.OnReadyForServerCompletion(paymentID, txid)
		return nil
	}
}

type gatewayCall struct {
	op        string
	paymentID string
	txid      string
	metadata  map[string]any
}

type fakeGateway struct {
	ApproveFunc  func(paymentID string) (paymentapi.ApproveResponse, error)
	CompleteFunc func(paymentID, txid string) (paymentapi.CompleteResponse, error)

	mu    sync.Mutex
	calls []gatewayCall
}

func (g *fakeGateway) Approve(_ context.Context, paymentID string, metadata map[string]any) (paymentapi.ApproveResponse, error) {
	g.record(gatewayCall{op: "approve", paymentID: paymentID, metadata: metadata})
	if g.ApproveFunc != nil {
		return g.ApproveFunc(paymentID)
	}
	return paymentapi.ApproveResponse{Success: true}, nil
}

func (g *fakeGateway) Complete(_ context.Context, paymentID, txid string, metadata map[string]any) (paymentapi.CompleteResponse, error) {
	g.record(gatewayCall{op: "complete", paymentID: paymentID, txid: txid, metadata: metadata})
	if g.CompleteFunc != nil {
		return g.CompleteFunc(paymentID, txid)
	}
	return paymentapi.CompleteResponse{Success: true, Verified: true}, nil
}

func (g *fakeGateway) record(c gatewayCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

func (g *fakeGateway) ops() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ops := make([]string, 0, len(g.calls))
	for _, c := range g.calls {
		ops = append(ops, c.op+":"+c.paymentID)
	}
	return ops
}

type sessionGateway struct {
	fakeGateway
	tokens []string
}

func (g *sessionGateway) StartSession(_ context.Context, accessToken string) error {
	g.tokens = append(g.tokens, accessToken)
	return nil
}

func testItem() Item {
	return Item{
		ID:          "prod-1",
		Type:        paymentapi.ItemProduct,
		Price:       decimal.NewFromInt(10),
		Description: "Sticker pack",
		Metadata:    map[string]any{"profileId": "store-9"},
	}
}

func TestOrchestrator_ProcessPayment_Success(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: happyWallet("pay123", "tx123")}
	gw := &fakeGateway{}

	var phases []string
	o := New(sdk, gw, WithProgress(func(phase string, _ map[string]any) {
		phases = append(phases, phase)
	}))

	res := o.ProcessPayment(context.Background(), testItem())

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "pay123", res.PaymentID)
	assert.Equal(t, "tx123", res.TxID)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []string{"approve:pay123", "complete:pay123"}, gw.ops())
	assert.Equal(t, []string{
		PhaseInit, PhaseAuthenticated, PhaseApproval, PhaseApproved, PhaseCompletion, PhaseCompleted,
	}, phases)

	assert.Equal(t, "tx123", gw.calls[1].txid)
	assert.Equal(t, "prod-1", gw.calls[0].metadata[paymentapi.MetaItemID])
	assert.Equal(t, "uid-alice", gw.calls[0].metadata[paymentapi.MetaPurchaser])
	assert.Equal(t, "store-9", gw.calls[1].metadata["profileId"])
	assert.Equal(t, "Sticker pack", sdk.lastPaymentData.Memo)
	assert.True(t, decimal.NewFromInt(10).Equal(sdk.lastPaymentData.Amount))
}

func TestOrchestrator_ProcessPayment_UnverifiedCompletionFails(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: happyWallet("pay123", "tx123")}
	gw := &fakeGateway{
		CompleteFunc: func(string, string) (paymentapi.CompleteResponse, error) {
			return paymentapi.CompleteResponse{Success: true, Verified: false}, nil
		},
	}

	res := New(sdk, gw).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindCompletion, res.Kind)
	assert.Equal(t, "tx123", res.TxID)
	assert.Equal(t, StateErrored, res.State)
}

func TestOrchestrator_ProcessPayment_CompletionRejected(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: happyWallet("pay123", "tx123")}
	gw := &fakeGateway{
		CompleteFunc: func(string, string) (paymentapi.CompleteResponse, error) {
			return paymentapi.CompleteResponse{Success: false, Error: "amount mismatch", Details: "want 10"}, nil
		},
	}

	res := New(sdk, gw).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, "amount mismatch", res.Error)
	assert.Equal(t, "want 10", res.Details)
}

func TestOrchestrator_ProcessPayment_CancelBeforeApproval(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: func(_ context.Context, _ pisdk.PaymentData, cb pisdk.Callbacks) error {
		cb.OnCancel("pay456")
		return nil
	}}
	gw := &fakeGateway{}

	var phases []string
	res := New(sdk, gw, WithProgress(func(phase string, _ map[string]any) {
		phases = append(phases, phase)
	})).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, ErrorCancelled, res.Error)
	assert.Equal(t, KindCancelled, res.Kind)
	assert.Equal(t, "pay456", res.PaymentID)
	assert.Equal(t, StateCancelled, res.State)
	assert.Empty(t, gw.ops())
	assert.Equal(t, PhaseCancelled, phases[len(phases)-1])
}

func TestOrchestrator_ProcessPayment_CancelAfterApproval(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: func(_ context.Context, _ pisdk.PaymentData, cb pisdk.Callbacks) error {
		cb.OnReadyForServerApproval("pay789")
		cb.OnCancel("pay789")
		return nil
	}}
	gw := &fakeGateway{}

	res := New(sdk, gw).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, ErrorCancelled, res.Error)
	assert.Equal(t, []string{"approve:pay789"}, gw.ops())
}

func TestOrchestrator_ProcessPayment_InvalidAmountNeverReachesSDK(t *testing.T) {
	sdk := &fakeSDK{}
	gw := &fakeGateway{}
	item := testItem()
	item.Price = decimal.RequireFromString("0.00000001234")

	res := New(sdk, gw).ProcessPayment(context.Background(), item)

	assert.False(t, res.Success)
	assert.Equal(t, KindValidation, res.Kind)
	assert.Zero(t, sdk.authCalls)
	assert.Zero(t, sdk.createCalls)
	assert.Empty(t, gw.ops())
}

func TestOrchestrator_ProcessPayment_ApprovalNetworkError(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: happyWallet("pay123", "tx123")}
	gw := &fakeGateway{
		ApproveFunc: func(string) (paymentapi.ApproveResponse, error) {
			return paymentapi.ApproveResponse{}, errors.New("dial tcp 10.0.0.1:443: connect: connection refused")
		},
	}

	res := New(sdk, gw).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindApproval, res.Kind)
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, []string{"approve:pay123"}, gw.ops())
}

func TestOrchestrator_ProcessPayment_ApprovalRejected(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: happyWallet("pay123", "tx123")}
	gw := &fakeGateway{
		ApproveFunc: func(string) (paymentapi.ApproveResponse, error) {
			return paymentapi.ApproveResponse{Success: false, Error: "price mismatch"}, nil
		},
	}

	res := New(sdk, gw).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, "price mismatch", res.Error)
	assert.Equal(t, []string{"approve:pay123"}, gw.ops())
}

func TestOrchestrator_ProcessPayment_CompletionBeforeApprovalIsRejected(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: func(_ context.Context, _ pisdk.PaymentData, cb pisdk.Callbacks) error {
		cb.OnReadyForServerCompletion("pay123", "tx123")
		return nil
	}}
	gw := &fakeGateway{}

	res := New(sdk, gw).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindProtocol, res.Kind)
	assert.Empty(t, gw.ops())
}

func TestOrchestrator_ProcessPayment_CompletionForOtherPaymentIsRejected(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: func(_ context.Context, _ pisdk.PaymentData, cb pisdk.Callbacks) error {
		cb.OnReadyForServerApproval("pay123")
		cb.OnReadyForServerCompletion("pay999", "tx123")
		return nil
	}}
	gw := &fakeGateway{}

	res := New(sdk, gw).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindProtocol, res.Kind)
	assert.Equal(t, []string{"approve:pay123"}, gw.ops())
}

func TestOrchestrator_ProcessPayment_SDKErrorIsSurfacedVerbatim(t *testing.T) {
	partial := &pisdk.Payment{Identifier: "pay321", Memo: "Sticker pack"}
	sdk := &fakeSDK{CreatePaymentFunc: func(_ context.Context, _ pisdk.PaymentData, cb pisdk.Callbacks) error {
		cb.OnError(errors.New("user wallet has insufficient balance"), partial)
		return nil
	}}

	res := New(sdk, &fakeGateway{}).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindSDK, res.Kind)
	assert.Equal(t, "user wallet has insufficient balance", res.Error)
	assert.Equal(t, "pay321", res.PaymentID)
	assert.Same(t, partial, res.Payment)
}

func TestOrchestrator_ProcessPayment_CreatePaymentError(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: func(context.Context, pisdk.PaymentData, pisdk.Callbacks) error {
		return pisdk.ErrUnavailable
	}}

	res := New(sdk, &fakeGateway{}).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindSDKUnavailable, res.Kind)
}

func TestOrchestrator_ProcessPayment_NoSDK(t *testing.T) {
	res := New(nil, &fakeGateway{}).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindSDKUnavailable, res.Kind)
}

func TestOrchestrator_ProcessPayment_AuthenticationFailure(t *testing.T) {
	sdk := &fakeSDK{
		AuthenticateFunc: func(context.Context, []string, pisdk.IncompletePaymentFunc) (pisdk.AuthResult, error) {
			return pisdk.AuthResult{}, errors.New("user denied scopes")
		},
	}

	res := New(sdk, &fakeGateway{}).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindAuthentication, res.Kind)
	assert.Contains(t, res.Error, "user denied scopes")
	assert.Zero(t, sdk.createCalls)
}

func TestOrchestrator_ProcessPayment_ReusesIdentityAndStartsSession(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: happyWallet("pay123", "tx123")}
	gw := &sessionGateway{}
	o := New(sdk, gw)

	require.True(t, o.ProcessPayment(context.Background(), testItem()).Success)
	require.True(t, o.ProcessPayment(context.Background(), testItem()).Success)

	assert.Equal(t, 1, sdk.authCalls)
	assert.Equal(t, []string{"access-token"}, gw.tokens)
	identity, ok := o.Identity()
	require.True(t, ok)
	assert.Equal(t, "alice", identity.User.Username)
}

func TestOrchestrator_ProcessPayment_RecoversIncompletePayment(t *testing.T) {
	sdk := &fakeSDK{
		AuthenticateFunc: func(_ context.Context, _ []string, onIncomplete pisdk.IncompletePaymentFunc) (pisdk.AuthResult, error) {
			onIncomplete(pisdk.Payment{
				Identifier:  "pay-old",
				Transaction: &pisdk.Transaction{TxID: "tx-old"},
			})
			onIncomplete(pisdk.Payment{Identifier: "pay-unsigned"})
			return pisdk.AuthResult{AccessToken: "t", User: pisdk.User{UID: "uid-alice"}}, nil
		},
		CreatePaymentFunc: happyWallet("pay123", "tx123"),
	}
	gw := &fakeGateway{}

	res := New(sdk, gw).ProcessPayment(context.Background(), testItem())

	require.True(t, res.Success)
	assert.Equal(t, []string{"complete:pay-old", "approve:pay123", "complete:pay123"}, gw.ops())
}

func TestOrchestrator_ProcessPayment_ContextDeadline(t *testing.T) {
	sdk := &fakeSDK{}
	o := New(sdk, &fakeGateway{}, WithTimeout(20*time.Millisecond))

	res := o.ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindContext, res.Kind)
	assert.Equal(t, context.DeadlineExceeded.Error(), res.Error)
}

func TestOrchestrator_ProcessPayment_PanicIsContained(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: happyWallet("pay123", "tx123")}
	gw := &fakeGateway{
		ApproveFunc: func(string) (paymentapi.ApproveResponse, error) {
			panic("boom")
		},
	}

	res := New(sdk, gw).ProcessPayment(context.Background(), testItem())

	assert.False(t, res.Success)
	assert.Equal(t, KindUnexpected, res.Kind)
	assert.Contains(t, res.Error, "boom")
}

func TestOrchestrator_ProcessPayment_LateCallbacksAreDropped(t *testing.T) {
	var saved pisdk.Callbacks
	sdk := &fakeSDK{CreatePaymentFunc: func(_ context.Context, _ pisdk.PaymentData, cb pisdk.Callbacks) error {
		saved = cb
		cb.OnCancel("pay1")
		return nil
	}}

	res := New(sdk, &fakeGateway{}).ProcessPayment(context.Background(), testItem())
	require.Equal(t, ErrorCancelled, res.Error)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			saved.OnReadyForServerCompletion("pay1", "tx")
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("late callbacks blocked")
	}
}

func TestOrchestrator_ProcessPayment_ApprovalAlwaysPrecedesCompletion(t *testing.T) {
	sdk := &fakeSDK{CreatePaymentFunc: func(_ context.Context, data pisdk.PaymentData, cb pisdk.Callbacks) error {
		id := data.Metadata["seq"].(string)
		cb.OnReadyForServerApproval(id)
		cb.OnReadyForServerCompletion(id, "tx-"+id)
		return nil
	}}
	gw := &fakeGateway{}
	o := New(sdk, gw)

	var wg sync.WaitGroup
	results := make([]PaymentResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := testItem()
			item.Metadata = map[string]any{"seq": fmt.Sprintf("pay-%d", i)}
			results[i] = o.ProcessPayment(context.Background(), item)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.Success, res.Error)
		assert.Equal(t, fmt.Sprintf("pay-%d", i), res.PaymentID)
	}

	approvedAt := map[string]int{}
	for i, c := range gw.calls {
		switch c.op {
		case "approve":
			approvedAt[c.paymentID] = i
		case "complete":
			at, ok := approvedAt[c.paymentID]
			require.True(t, ok, "complete before approve for %s", c.paymentID)
			assert.Less(t, at, i)
		}
	}
}
