package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
)

// Gateway is the server side of the payment protocol as seen by the orchestrator.
type Gateway interface {
	Approve(ctx context.Context, paymentID string, metadata map[string]any) (paymentapi.ApproveResponse, error)
	Complete(ctx context.Context, paymentID, txid string, metadata map[string]any) (paymentapi.CompleteResponse, error)
}

// SessionStarter is implemented by gateways that exchange a Pi access token for their own
// session before accepting payment calls.
type SessionStarter interface {
	StartSession(ctx context.Context, accessToken string) error
}

// RewardVerifier asks the server whether a rewarded ad view was acknowledged by the mediator.
type RewardVerifier interface {
	VerifyAdReward(ctx context.Context, adID string) (paymentapi.AdRewardResponse, error)
}

const (
	ModeBackend = "backend"
	ModeDirect  = "direct"
)

var (
	ErrDirectGatewayDisabled = errors.New("direct gateway mode requires ALLOW_DIRECT_GATEWAY=true")
	ErrUnknownGatewayMode    = errors.New("unknown gateway mode")
)

// Config selects and configures the gateway used by checkout clients.
type Config struct {
	GatewayURL         string
	GatewayMode        string
	AllowDirectGateway bool
	Timeout            time.Duration
}

func LoadConfig() Config {
	cfg := Config{
		GatewayURL:         os.Getenv("CHECKOUT_GATEWAY_URL"),
		GatewayMode:        os.Getenv("CHECKOUT_GATEWAY_MODE"),
		AllowDirectGateway: os.Getenv("ALLOW_DIRECT_GATEWAY") == "true",
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = "http://localhost:8081"
	}
	if cfg.GatewayMode == "" {
		cfg.GatewayMode = ModeBackend
	}
	if d, err := time.ParseDuration(os.Getenv("CHECKOUT_TIMEOUT")); err == nil {
		cfg.Timeout = d
	}
	return cfg
}

// SelectGateway picks the backend or the in-process gateway. Both honour the same
// approve/complete contract; the direct path must be enabled explicitly.
func SelectGateway(cfg Config, backend, direct Gateway) (Gateway, error) {
	switch cfg.GatewayMode {
	case "", ModeBackend:
		if backend == nil {
			return nil, errors.New("backend gateway not configured")
		}
		return backend, nil
	case ModeDirect:
		if !cfg.AllowDirectGateway {
			return nil, ErrDirectGatewayDisabled
		}
		if direct == nil {
			return nil, errors.New("direct gateway not configured")
		}
		return direct, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGatewayMode, cfg.GatewayMode)
	}
}

// HTTPGateway talks to the payment gateway service over JSON/HTTP.
type HTTPGateway struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

func NewHTTPGateway(baseURL string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPGateway{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (g *HTTPGateway) StartSession(ctx context.Context, accessToken string) error {
	var resp paymentapi.AuthResponse
	status, err := g.post(ctx, paymentapi.PathAuthPi, paymentapi.AuthRequest{AccessToken: accessToken}, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK || resp.Token == "" {
		return fmt.Errorf("session rejected with status %d", status)
	}

	g.mu.Lock()
	g.token = resp.Token
	g.mu.Unlock()
	return nil
}

func (g *HTTPGateway) Approve(ctx context.Context, paymentID string, metadata map[string]any) (paymentapi.ApproveResponse, error) {
	var resp paymentapi.ApproveResponse
	_, err := g.post(ctx, paymentapi.PathApprovePayment, paymentapi.ApproveRequest{
		PaymentID: paymentID,
		Metadata:  metadata,
	}, &resp)
	return resp, err
}

func (g *HTTPGateway) Complete(ctx context.Context, paymentID, txid string, metadata map[string]any) (paymentapi.CompleteResponse, error) {
	var resp paymentapi.CompleteResponse
	_, err := g.post(ctx, paymentapi.PathCompletePayment, paymentapi.CompleteRequest{
		PaymentID: paymentID,
		TxID:      txid,
		Metadata:  metadata,
	}, &resp)
	return resp, err
}

func (g *HTTPGateway) VerifyAdReward(ctx context.Context, adID string) (paymentapi.AdRewardResponse, error) {
	var resp paymentapi.AdRewardResponse
	_, err := g.post(ctx, paymentapi.PathVerifyAdReward, paymentapi.AdRewardRequest{AdID: adID}, &resp)
	return resp, err
}

// post sends in as JSON and decodes the body into out whatever the status code. Gateway
// rejections arrive as wire bodies with success=false, so only transport and decoding
// failures are returned as errors.
func (g *HTTPGateway) post(ctx context.Context, path string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	g.mu.RLock()
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	g.mu.RUnlock()

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("POST %s: reading body: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("POST %s: status %d: undecodable body: %w", path, resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}
