package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"payment-service/internal/config"
)

const defaultTimeoutMs = 10_000

type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mailer sends transactional email through an HTTP API.
type Mailer struct {
	url    string
	apiKey string
	from   string
	client *http.Client
	logger *slog.Logger
}

func NewMailer(cfg config.Mailer, logger *slog.Logger) *Mailer {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}

	return &Mailer{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		from:   cfg.From,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		logger: logger,
	}
}

func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"from":    m.from,
		"to":      to,
		"subject": subject,
		"text":    body,
	})
	if err != nil {
		return errors.Wrap(err, "marshalling email payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewBuffer(payload))
	if err != nil {
		return errors.Wrap(err, "creating email request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending email")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.Errorf("email API response %s: %s", resp.Status, respBody)
	}

	m.logger.DebugContext(ctx, "Email sent", "to", to, "subject", subject)
	return nil
}
