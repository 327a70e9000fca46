package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/sirupsen/logrus"
)

// MobileMarker tells the backend the caller is not a browser
const MobileMarker = "mobile"

// HTTPClient talks to the storefront backend over HTTPS
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewHTTPClient creates a new ledger client
func NewHTTPClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// envelope is the backend's usual response wrapper. Some endpoints answer bare.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// GetBalance reads the dedicated balance endpoint
func (c *HTTPClient) GetBalance(ctx context.Context, auth string) (*BalanceResponse, error) {
	var raw models.WalletResponse
	if err := c.do(ctx, http.MethodGet, "/coins/balance", auth, nil, &raw); err != nil {
		return nil, err
	}
	return &BalanceResponse{Balance: raw.ResolvedBalance()}, nil
}

// VerifyToken checks the backend accepts token by reading the balance with it.
// A rejected token comes back as an *APIError with status 401 or 403.
func (c *HTTPClient) VerifyToken(ctx context.Context, token string) error {
	_, err := c.GetBalance(ctx, token)
	return err
}

// GetWallet reads the wallet with its transactions and merges balance aliases
func (c *HTTPClient) GetWallet(ctx context.Context, auth string) (*models.Wallet, error) {
	var raw models.WalletResponse
	if err := c.do(ctx, http.MethodGet, "/coins/wallet", auth, nil, &raw); err != nil {
		return nil, err
	}
	return raw.Merge(), nil
}

// ResolveCallback forwards the gateway return parameters to the backend's
// authenticated return endpoint, adding the mobile marker
func (c *HTTPClient) ResolveCallback(ctx context.Context, auth string, req ResolveCallbackRequest) (*ResolveCallbackResponse, error) {
	segment := "coins"
	if req.Kind == models.SessionKindOrder {
		segment = "orders"
	}

	query := url.Values{}
	for k, v := range req.Params {
		query.Set(k, v)
	}
	query.Set(MobileMarker, "true")

	path := fmt.Sprintf("/%s/%s-return?%s", segment, strings.ToLower(req.Gateway), query.Encode())

	var resp ResolveCallbackResponse
	if err := c.do(ctx, http.MethodGet, path, auth, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolvePendingTransaction asks the backend to settle a stuck deposit
func (c *HTTPClient) ResolvePendingTransaction(ctx context.Context, auth string, req ResolvePendingRequest) (*ResolvePendingResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var resp ResolvePendingResponse
	if err := c.do(ctx, http.MethodPost, "/coins/transactions/resolve-pending", auth, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder cancels an order; the backend applies any credit-back itself
func (c *HTTPClient) CancelOrder(ctx context.Context, auth string, orderID string) (*CancelOrderResponse, error) {
	var resp CancelOrderResponse
	path := fmt.Sprintf("/orders/%s/cancel", url.PathEscape(orderID))
	if err := c.do(ctx, http.MethodPost, path, auth, map[string]interface{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitiateTopUp creates a coin top-up and returns the hosted payment page
func (c *HTTPClient) InitiateTopUp(ctx context.Context, auth string, amount int64) (*InitiatePaymentResponse, error) {
	body := map[string]interface{}{
		"amount":        amount,
		"paymentMethod": models.PaymentMethodVNPay,
		MobileMarker:    true,
	}
	var resp InitiatePaymentResponse
	if err := c.do(ctx, http.MethodPost, "/coins/topup", auth, body, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentURL == "" {
		return nil, fmt.Errorf("top-up initiation failed: no payment URL returned")
	}
	return &resp, nil
}

// InitiateOrderPayment starts a gateway payment for an existing order
func (c *HTTPClient) InitiateOrderPayment(ctx context.Context, auth string, orderID string) (*InitiatePaymentResponse, error) {
	body := map[string]interface{}{
		"paymentMethod": models.PaymentMethodVNPay,
		MobileMarker:    true,
	}
	var resp InitiatePaymentResponse
	path := fmt.Sprintf("/orders/%s/pay", url.PathEscape(orderID))
	if err := c.do(ctx, http.MethodPost, path, auth, body, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentURL == "" {
		return nil, fmt.Errorf("order payment initiation failed: no payment URL returned")
	}
	return &resp, nil
}

// do performs one request and decodes the (possibly enveloped) JSON answer into out
func (c *HTTPClient) do(ctx context.Context, method, path, auth string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"path":   redactQuery(path),
		}).Warn("Ledger request failed")
		return fmt.Errorf("failed to call ledger API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        redactQuery(path),
		"status_code": resp.StatusCode,
		"latency_ms":  time.Since(start).Milliseconds(),
	}).Debug("Ledger response received")

	var env envelope
	_ = json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	payload := respBody
	if len(env.Data) > 0 && string(env.Data) != "null" && env.Data[0] == '{' {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	// Enveloped answers keep success/message outside data
	if env.Success != nil {
		applyEnvelope(out, *env.Success, env.Message)
	}
	return nil
}

func applyEnvelope(out interface{}, success bool, message string) {
	switch v := out.(type) {
	case *ResolveCallbackResponse:
		v.Success = success
		if v.Message == "" {
			v.Message = message
		}
	case *ResolvePendingResponse:
		v.Success = success
		if v.Message == "" {
			v.Message = message
		}
	case *CancelOrderResponse:
		v.Success = success
		if v.Message == "" {
			v.Message = message
		}
	}
}

// redactQuery drops query strings from logged paths; they carry gateway data
func redactQuery(path string) string {
	if idx := strings.Index(path, "?"); idx >= 0 {
		return path[:idx]
	}
	return path
}
