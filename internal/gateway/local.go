package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/auth"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
)

// SessionResolver turns a Pi access token into a signed in user.
type SessionResolver interface {
	Login(ctx context.Context, accessToken string) (*auth.Session, error)
}

// Local runs the gateway in-process for checkout clients that live next to the server.
// It honours the same approve/complete contract as the HTTP endpoints.
type Local struct {
	approver  Approver
	completer Completer
	sessions  SessionResolver

	mu     sync.RWMutex
	caller *Caller
}

func NewLocal(approver Approver, completer Completer, sessions SessionResolver) *Local {
	return &Local{approver: approver, completer: completer, sessions: sessions}
}

func (l *Local) StartSession(ctx context.Context, accessToken string) error {
	if l.sessions == nil {
		return errors.New("local gateway has no session resolver")
	}
	session, err := l.sessions.Login(ctx, accessToken)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.caller = &Caller{ProfileID: session.Profile.ID, PiUID: session.Profile.PiUID}
	l.mu.Unlock()
	return nil
}

func (l *Local) withCaller(ctx context.Context) context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.caller == nil {
		return ctx
	}
	return WithCaller(ctx, *l.caller)
}

func (l *Local) Approve(ctx context.Context, paymentID string, metadata map[string]any) (paymentapi.ApproveResponse, error) {
	ok, err := l.approver.Approve(l.withCaller(ctx), paymentID, metadata)
	return ApproveResponse(ok, err), nil
}

func (l *Local) Complete(ctx context.Context, paymentID, txid string, metadata map[string]any) (paymentapi.CompleteResponse, error) {
	ok, err := l.completer.Complete(l.withCaller(ctx), paymentID, txid, metadata)
	return CompleteResponse(ok, err), nil
}
