// Package ledger confirms Pi payments against the blockchain through Horizon.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/money"
)

var (
	ErrUnavailable       = errors.New("horizon unavailable")
	ErrTxNotFound        = errors.New("transaction not found on ledger")
	ErrTxFailed          = errors.New("transaction was not successful")
	ErrMemoMismatch      = errors.New("transaction memo does not match payment")
	ErrNoMatchingPayment = errors.New("transaction has no matching payment to the app wallet")
)

// Horizon is the subset of horizonclient.Client the verifier needs.
type Horizon interface {
	TransactionDetail(txHash string) (hProtocol.Transaction, error)
	Operations(request horizonclient.OperationRequest) (operations.OperationsPage, error)
}

// Expectation is what the server recorded for a payment before completion.
type Expectation struct {
	PaymentID   string
	TxID        string
	Amount      decimal.Decimal
	FromAddress string
}

// Verification is the ledger evidence for a payment.
type Verification struct {
	TxID        string
	Ledger      int32
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
}

type Verifier struct {
	horizon   Horizon
	appWallet string
}

func NewVerifier(horizon Horizon, appWallet string) *Verifier {
	return &Verifier{horizon: horizon, appWallet: appWallet}
}

// Verify requires a successful transaction carrying a native payment of exactly the expected
// amount to the app wallet. Horizon only returns transactions from closed ledgers, so a
// transaction that is found is final.
func (v *Verifier) Verify(ctx context.Context, exp Expectation) (*Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := v.horizon.TransactionDetail(exp.TxID)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, exp.TxID)
		}
		return nil, fmt.Errorf("%w: transaction %s: %v", ErrUnavailable, exp.TxID, err)
	}
	if !tx.Successful {
		return nil, fmt.Errorf("%w: %s", ErrTxFailed, exp.TxID)
	}
	if tx.Memo != "" && tx.Memo != exp.PaymentID {
		return nil, fmt.Errorf("%w: memo %q, payment %s", ErrMemoMismatch, tx.Memo, exp.PaymentID)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := v.horizon.Operations(horizonclient.OperationRequest{ForTransaction: exp.TxID, Limit: 200})
	if err != nil {
		return nil, fmt.Errorf("%w: operations of %s: %v", ErrUnavailable, exp.TxID, err)
	}

	for _, record := range page.Embedded.Records {
		payment, ok := record.(operations.Payment)
		if !ok || payment.Asset.Type != "native" || payment.To != v.appWallet {
			continue
		}
		if exp.FromAddress != "" && payment.From != exp.FromAddress {
			continue
		}
		amount, err := decimal.NewFromString(payment.Amount)
		if err != nil || !money.Equal(amount, exp.Amount) {
			continue
		}
		return &Verification{
			TxID:        exp.TxID,
			Ledger:      tx.Ledger,
			FromAddress: payment.From,
			ToAddress:   payment.To,
			Amount:      amount,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s amount %s", ErrNoMatchingPayment, exp.TxID, exp.Amount)
}

func notFound(err error) bool {
	var hErr *horizonclient.Error
	if errors.As(err, &hErr) && hErr.Problem.Status == http.StatusNotFound {
		return true
	}
	return horizonclient.IsNotFoundError(err)
}

// Unavailable reports whether err means the ledger could not be asked, as opposed to the
// ledger answering that the payment is not valid.
func Unavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
