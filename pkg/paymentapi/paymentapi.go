// Package paymentapi holds the JSON wire contract between checkout clients and the
// payment gateway.
package paymentapi

import "time"

const (
	PathApprovePayment  = "/approve-payment"
	PathCompletePayment = "/complete-payment"
	PathVerifyAdReward  = "/verify-ad-reward"
	PathAuthPi          = "/auth/pi"
)

// Metadata keys every payment carries.
const (
	MetaItemID    = "itemId"
	MetaItemType  = "itemType"
	MetaPurchaser = "purchaser"
)

// Item types sold through DropLink.
const (
	ItemProduct      = "product"
	ItemSubscription = "subscription"
	ItemGift         = "gift"
	ItemTip          = "tip"
	ItemDonation     = "donation"
)

type ApproveRequest struct {
	PaymentID string         `json:"paymentId" binding:"required"`
	Metadata  map[string]any `json:"metadata"`
}

type ApproveResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

type CompleteRequest struct {
	PaymentID string         `json:"paymentId" binding:"required"`
	TxID      string         `json:"txid" binding:"required"`
	Metadata  map[string]any `json:"metadata"`
}

// CompleteResponse is only a success when both Success and Verified are true.
type CompleteResponse struct {
	Success  bool   `json:"success"`
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
	Details  string `json:"details,omitempty"`
}

type AdRewardRequest struct {
	AdID string `json:"adId" binding:"required"`
}

type AdRewardResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Reward  string `json:"reward,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

type AuthRequest struct {
	AccessToken string `json:"accessToken" binding:"required"`
}

type AuthUser struct {
	ID       string `json:"id"`
	PiUID    string `json:"piUid"`
	Username string `json:"username"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      AuthUser  `json:"user"`
}
