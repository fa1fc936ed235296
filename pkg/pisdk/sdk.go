// Package pisdk describes the Pi Network wallet SDK as consumed by DropLink.
//
// The SDK itself lives in the Pi Browser; this package only carries its contract so the
// checkout flow can be driven by the real bridge in production and by a fake in tests.
package pisdk

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when the wallet SDK is not present in the current environment,
// for example outside the Pi Browser.
var ErrUnavailable = errors.New("pi sdk unavailable")

// Scopes requested on authentication.
const (
	ScopeUsername      = "username"
	ScopePayments      = "payments"
	ScopeWalletAddress = "wallet_address"
)

// User is the identity returned by Authenticate.
type User struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

// AuthResult is the outcome of a successful authentication.
type AuthResult struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

// PaymentData is what the application hands to CreatePayment.
type PaymentData struct {
	Amount   decimal.Decimal `json:"amount"`
	Memo     string          `json:"memo"`
	Metadata map[string]any  `json:"metadata"`
}

// PaymentStatus mirrors the status flags of a Pi payment.
type PaymentStatus struct {
	DeveloperApproved   bool `json:"developer_approved"`
	TransactionVerified bool `json:"transaction_verified"`
	DeveloperCompleted  bool `json:"developer_completed"`
	Cancelled           bool `json:"cancelled"`
	UserCancelled       bool `json:"user_cancelled"`
}

// Transaction is the blockchain transaction attached to a payment once the user signs it.
type Transaction struct {
	TxID     string `json:"txid"`
	Verified bool   `json:"verified"`
	Link     string `json:"_link"`
}

// Payment is the payment DTO shared by the SDK and the Pi Platform API.
type Payment struct {
	Identifier  string          `json:"identifier"`
	UserUID     string          `json:"user_uid"`
	Amount      decimal.Decimal `json:"amount"`
	Memo        string          `json:"memo"`
	Metadata    map[string]any  `json:"metadata"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Direction   string          `json:"direction"`
	Network     string          `json:"network"`
	CreatedAt   string          `json:"created_at"`
	Status      PaymentStatus   `json:"status"`
	Transaction *Transaction    `json:"transaction"`
}

// Callbacks are the four handlers registered with CreatePayment. The SDK may invoke them
// from any goroutine.
type Callbacks struct {
	OnReadyForServerApproval   func(paymentID string)
	OnReadyForServerCompletion func(paymentID, txid string)
	OnCancel                   func(paymentID string)
	OnError                    func(err error, payment *Payment)
}

// IncompletePaymentFunc receives a payment left unfinished by a previous session.
type IncompletePaymentFunc func(payment Payment)

// SDK is the wallet surface used by the checkout flow.
type SDK interface {
	Authenticate(ctx context.Context, scopes []string, onIncomplete IncompletePaymentFunc) (AuthResult, error)
	CreatePayment(ctx context.Context, data PaymentData, callbacks Callbacks) error
}

// Ad types and show results reported by the SDK ads module.
const (
	AdTypeInterstitial = "interstitial"
	AdTypeRewarded     = "rewarded"

	AdRewarded          = "AD_REWARDED"
	AdClosed            = "AD_CLOSED"
	AdDisplayError      = "AD_DISPLAY_ERROR"
	AdNetworkError      = "AD_NETWORK_ERROR"
	AdNotAvailable      = "AD_NOT_AVAILABLE"
	AdsNotSupported     = "ADS_NOT_SUPPORTED"
	UserUnauthenticated = "USER_UNAUTHENTICATED"

	AdLoaded = "AD_LOADED"
)

// ShowAdResponse is returned by Ads.ShowAd. AdID is only set for rewarded ads.
type ShowAdResponse struct {
	Type   string `json:"type"`
	Result string `json:"result"`
	AdID   string `json:"adId,omitempty"`
}

// Ads is the rewarded-ad surface of the SDK.
type Ads interface {
	IsAdReady(ctx context.Context, adType string) (bool, error)
	RequestAd(ctx context.Context, adType string) (string, error)
	ShowAd(ctx context.Context, adType string) (ShowAdResponse, error)
}
