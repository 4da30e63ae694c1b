package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"payment-service/internal/config"
)

const defaultTimeoutMs = 10_000

// VerifyResponse is what the gateway's verification endpoint reports for a
// reference. Raw keeps the unparsed body for the audit trail.
type VerifyResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Raw       string `json:"-"`
}

// Client calls the payment gateway's verification-by-reference endpoint.
type Client struct {
	baseURL   string
	secretKey string
	client    *http.Client
	logger    *slog.Logger
}

func NewClient(cfg config.Gateway, logger *slog.Logger) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		client:    &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		logger:    logger,
	}
}

// Verify asks the gateway for the true state of a charge. Transport errors
// and non-2xx responses are returned as errors so the caller can leave the
// transaction pending for the next sweep.
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResponse, error) {
	url := fmt.Sprintf("%s/transaction/verify/%s", c.baseURL, reference)

	c.logger.InfoContext(ctx, "Verifying transaction with gateway", "reference", reference)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating verification request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling gateway")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading gateway response")
	}

	if resp.StatusCode >= 400 {
		return nil, errors.Errorf("gateway response %s: %s", resp.Status, body)
	}

	var result VerifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "decoding gateway response")
	}
	result.Raw = string(body)

	c.logger.InfoContext(ctx, "Gateway verification response", "reference", reference, "status", result.Status)

	return &result, nil
}
