// Package risk runs the purchase risk check over NATS request/reply.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

const Subject = "payment.risk.check"

const (
	DecisionApprove      = "approve"
	DecisionDeny         = "deny"
	DecisionManualReview = "manual_review"
)

type Request struct {
	PaymentID string          `json:"payment_id"`
	Purchaser string          `json:"purchaser"`
	Amount    decimal.Decimal `json:"amount"`
	ItemType  string          `json:"item_type"`
}

type Response struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// Requester is satisfied by *nats.Conn.
type Requester interface {
	Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error)
}

type Client struct {
	nc      Requester
	timeout time.Duration
}

func NewClient(nc Requester, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{nc: nc, timeout: timeout}
}

// Check asks the risk service for a decision. A timeout or transport failure is returned
// as an error; the caller decides whether that blocks the payment.
func (c *Client) Check(ctx context.Context, req Request) (Response, error) {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return Response{}, context.DeadlineExceeded
	}

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	msg, err := c.nc.Request(Subject, data, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("risk check %s: %w", req.PaymentID, err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return Response{}, fmt.Errorf("risk check %s: decode reply: %w", req.PaymentID, err)
	}
	return resp, nil
}
