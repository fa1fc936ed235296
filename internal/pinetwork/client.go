// Package pinetwork is a client for the Pi Platform API used by the payment gateway.
package pinetwork

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/pisdk"
)

// APIError is a non-2xx answer from the Pi Platform API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pi api: status %d: %s", e.StatusCode, e.Message)
}

// ErrNetwork wraps failures to reach the Pi Platform API at all.
var ErrNetwork = errors.New("pi api unreachable")

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Me is the user returned by /v2/me.
type Me struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

// AdStatus is the mediator acknowledgment for a rewarded ad.
type AdStatus struct {
	Identifier        string `json:"identifier"`
	MediatorAckStatus string `json:"mediator_ack_status"`
	MediatorGrantedAt string `json:"mediator_granted_at"`
	MediatorRevokedAt string `json:"mediator_revoked_at"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*pisdk.Payment, error) {
	var payment pisdk.Payment
	if err := c.do(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(paymentID), "Key "+c.apiKey, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) ApprovePayment(ctx context.Context, paymentID string) (*pisdk.Payment, error) {
	var payment pisdk.Payment
	if err := c.do(ctx, http.MethodPost, "/v2/payments/"+url.PathEscape(paymentID)+"/approve", "Key "+c.apiKey, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) CompletePayment(ctx context.Context, paymentID, txid string) (*pisdk.Payment, error) {
	var payment pisdk.Payment
	body := map[string]string{"txid": txid}
	if err := c.do(ctx, http.MethodPost, "/v2/payments/"+url.PathEscape(paymentID)+"/complete", "Key "+c.apiKey, body, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) CancelPayment(ctx context.Context, paymentID string) (*pisdk.Payment, error) {
	var payment pisdk.Payment
	if err := c.do(ctx, http.MethodPost, "/v2/payments/"+url.PathEscape(paymentID)+"/cancel", "Key "+c.apiKey, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) IncompleteServerPayments(ctx context.Context) ([]pisdk.Payment, error) {
	var resp struct {
		IncompleteServerPayments []pisdk.Payment `json:"incomplete_server_payments"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/payments/incomplete_server_payments", "Key "+c.apiKey, nil, &resp); err != nil {
		return nil, err
	}
	return resp.IncompleteServerPayments, nil
}

// Me resolves a user access token obtained by the SDK's Authenticate.
func (c *Client) Me(ctx context.Context, accessToken string) (*Me, error) {
	var me Me
	if err := c.do(ctx, http.MethodGet, "/v2/me", "Bearer "+accessToken, nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

func (c *Client) AdStatus(ctx context.Context, adID string) (*AdStatus, error) {
	var status AdStatus
	if err := c.do(ctx, http.MethodGet, "/v2/ads_network/status/"+url.PathEscape(adID), "Key "+c.apiKey, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path, authorization string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authorization)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrNetwork, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"error_message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.ErrorMessage != "" {
			return body.ErrorMessage
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
